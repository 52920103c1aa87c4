package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/livequiz/internal/errors"
)

// Claims are the JWT claims issued by the identity service.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role Role   `json:"role"`
}

type JWTConfig struct {
	Secret string
	Issuer string
}

// JWT resolves HS256 bearer tokens signed with a shared secret.
type JWT struct {
	secret []byte
	parser *jwt.Parser
	issuer string
}

func NewJWT(c JWTConfig) *JWT {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}

	return &JWT{
		secret: []byte(c.Secret),
		parser: jwt.NewParser(opts...),
		issuer: c.Issuer,
	}
}

func (j *JWT) Resolve(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Identity{}, errors.InvalidCredential(fmt.Errorf("empty token"))
	}

	var c Claims
	_, err := j.parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return j.secret, nil
	})
	if err != nil {
		return Identity{}, errors.InvalidCredential(err)
	}

	if c.Subject == "" {
		return Identity{}, errors.InvalidCredential(fmt.Errorf("missing subject"))
	}
	if !c.Role.Valid() {
		return Identity{}, errors.InvalidCredential(fmt.Errorf("unknown role %q", c.Role))
	}

	name := c.Name
	if name == "" {
		name = c.Subject
	}

	return Identity{
		ID:          c.Subject,
		DisplayName: name,
		Role:        c.Role,
	}, nil
}

// Issue signs a token for id valid for ttl. Used by tooling and tests; production
// tokens come from the identity service.
func (j *JWT) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: id.DisplayName,
		Role: id.Role,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(j.secret)
}
