package identity_test

import (
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := identity.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, "correct horse battery staple", hash)
}

func TestHashPasswordRejectsEmptyString(t *testing.T) {
	_, err := identity.HashPassword("")
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrNoEmptyString)
}

func TestComparePasswordAndHash(t *testing.T) {
	hash, err := identity.HashPassword("correct horse battery staple")
	require.NoError(t, err)

	require.NoError(t, identity.ComparePasswordAndHash("correct horse battery staple", hash))

	err = identity.ComparePasswordAndHash("wrong password", hash)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrMismatchedHashAndPassword)
}

func TestRandomPasswordHash(t *testing.T) {
	hash := identity.RandomPasswordHash()
	assert.NotEmpty(t, hash)
}
