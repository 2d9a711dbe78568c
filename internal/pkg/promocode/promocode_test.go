package promocode

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureCode_InvalidLength(t *testing.T) {
	t.Parallel()

	_, err := GenerateSecureCode(0)
	assert.Error(t, err)
}

func TestGenerateSecureCode_LengthAndAlphabet(t *testing.T) {
	t.Parallel()

	code, err := GenerateSecureCode(10)
	require.NoError(t, err)
	assert.Len(t, code, 10)

	for i := 0; i < len(code); i++ {
		assert.NotEqual(t, -1, strings.IndexByte(Alphabet, code[i]), "invalid character %q", code[i])
	}
}

func TestGenerateMatchesReferralCodeFormat(t *testing.T) {
	t.Parallel()

	pattern := regexp.MustCompile(`^[A-Z0-9]{3,32}$`)
	for i := 0; i < 50; i++ {
		code, err := Generate()
		require.NoError(t, err)
		assert.Len(t, code, DefaultLength)
		assert.Regexp(t, pattern, code)
	}
}

func TestGenerateSecureCode_UniqueWithinSmallBatch(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		code, err := Generate()
		require.NoError(t, err)
		_, exists := seen[code]
		require.False(t, exists, "duplicate code generated in small batch: %s", code)
		seen[code] = struct{}{}
	}
}
