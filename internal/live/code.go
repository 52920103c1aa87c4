package live

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	codePrefix   = "QZ-"
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Generator produces candidate session codes. Uniqueness is checked by the Registry.
type Generator interface {
	Generate() (string, error)
}

// CodeGenerator generates codes like QZ-7KD2MX from crypto/rand.
type CodeGenerator struct{}

func (CodeGenerator) Generate() (string, error) {
	var b strings.Builder
	b.Grow(len(codePrefix) + codeLength)
	b.WriteString(codePrefix)

	max := big.NewInt(int64(len(codeAlphabet)))
	for range codeLength {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}

	return b.String(), nil
}

// NormalizeCode returns the canonical form used as registry key.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
