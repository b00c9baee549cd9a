package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := HashPassword("topsecret")
	require.NoError(t, err)
	assert.Contains(t, hash, ":")

	assert.True(t, VerifyPassword("topsecret", hash))
	assert.False(t, VerifyPassword("wrong", hash))
}

func TestHashesAreSalted(t *testing.T) {
	a, err := HashPassword("same")
	require.NoError(t, err)
	b, err := HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	assert.False(t, VerifyPassword("pw", ""))
	assert.False(t, VerifyPassword("pw", "no-separator"))
	assert.False(t, VerifyPassword("pw", "zz:zz"))
}

func TestGeneratePassword(t *testing.T) {
	pw, err := GeneratePassword(16)
	require.NoError(t, err)
	assert.Len(t, pw, 16)
	for _, c := range pw {
		assert.True(t, strings.ContainsRune(passwordChars, c))
	}

	other, err := GeneratePassword(16)
	require.NoError(t, err)
	assert.NotEqual(t, pw, other)
}
