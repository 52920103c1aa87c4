package live_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/live"
)

func TestCodeGenerator(t *testing.T) {
	gen := live.CodeGenerator{}
	seen := make(map[string]struct{})

	for range 200 {
		code, err := gen.Generate()
		require.NoError(t, err)
		assert.Regexp(t, `^QZ-[A-Z2-9]{6}$`, code)
		assert.NotContainsf(t, code[3:], "O", "code %s uses a lookalike character", code)
		assert.NotContainsf(t, code[3:], "I", "code %s uses a lookalike character", code)
		seen[code] = struct{}{}
	}

	assert.Greater(t, len(seen), 190)
}

func TestNormalizeCode(t *testing.T) {
	tests := map[string]string{
		"QZ-ABC123":     "QZ-ABC123",
		"qz-abc123":     "QZ-ABC123",
		"  Qz-aBc123\n": "QZ-ABC123",
		"":              "",
	}

	for in, want := range tests {
		assert.Equal(t, want, live.NormalizeCode(in), "input %q", in)
	}
}

func TestRegistry(t *testing.T) {
	build := func(string) *live.Session { return &live.Session{} }

	t.Run("create skips taken codes", func(t *testing.T) {
		r := live.NewRegistry(&fixedCodes{codes: []string{"qz-aaaaaa", "QZ-AAAAAA", "QZ-BBBBBB"}})

		first, err := r.Create(build)
		require.NoError(t, err)
		second, err := r.Create(build)
		require.NoError(t, err)

		got, ok := r.Get("QZ-AAAAAA")
		require.True(t, ok)
		assert.Same(t, first, got)

		got, ok = r.Get("qz-bbbbbb")
		require.True(t, ok)
		assert.Same(t, second, got)
		assert.Equal(t, 2, r.Len())
	})

	t.Run("create gives up when every code is taken", func(t *testing.T) {
		r := live.NewRegistry(&fixedCodes{codes: []string{"QZ-AAAAAA"}})
		_, err := r.Create(build)
		require.NoError(t, err)

		_, err = r.Create(build)

		assert.True(t, errors.Is(err, errors.ReasonInternal))
		assert.Equal(t, 1, r.Len())
	})

	t.Run("generator failure", func(t *testing.T) {
		r := live.NewRegistry(&fixedCodes{})

		_, err := r.Create(build)

		assert.True(t, errors.Is(err, errors.ReasonInternal))
		assert.Equal(t, 0, r.Len())
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		r := live.NewRegistry(&fixedCodes{codes: []string{"QZ-AAAAAA"}})
		_, err := r.Create(build)
		require.NoError(t, err)

		r.Delete("qz-aaaaaa")
		r.Delete("QZ-AAAAAA")

		_, ok := r.Get("QZ-AAAAAA")
		assert.False(t, ok)
		assert.Empty(t, r.List())
	})
}
