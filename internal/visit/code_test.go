package visit

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodeShape(t *testing.T) {
	gen := NewCodeGenerator()
	now := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)

	code, err := gen.NewCode(now)
	require.NoError(t, err)

	parts := strings.Split(code, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, "APT", parts[0])
	assert.Equal(t, "20260901", parts[1])
	assert.Len(t, parts[2], codeSuffixLen)

	for _, c := range parts[2] {
		assert.Contains(t, codeAlphabet, string(c))
	}
}

func TestNewCodeIsPrintableASCII(t *testing.T) {
	gen := NewCodeGenerator()
	code, err := gen.NewCode(time.Now())
	require.NoError(t, err)

	for _, c := range code {
		assert.True(t, c > 0x20 && c < 0x7f, "code %q has non-printable rune", code)
	}
}

func TestNewCodeVaries(t *testing.T) {
	gen := NewCodeGenerator()
	now := time.Now()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := gen.NewCode(now)
		require.NoError(t, err)
		seen[code] = true
	}

	// 31^5 possibilities; 200 draws colliding down to a handful would
	// mean the suffix is broken.
	assert.Greater(t, len(seen), 190)
}
