package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
	assert.False(t, CheckPassword("not-a-hash", "hunter2"))
}

func TestTokenStore_ConsumeOnce(t *testing.T) {
	ts := NewTokenStore(time.Minute)

	token, err := ts.GenerateToken("alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.True(t, ts.ConsumeToken("alice@example.com", token))
	assert.False(t, ts.ConsumeToken("alice@example.com", token), "tokens are one-time")
}

func TestTokenStore_RejectsMismatch(t *testing.T) {
	ts := NewTokenStore(time.Minute)
	_, err := ts.GenerateToken("alice@example.com")
	require.NoError(t, err)

	assert.False(t, ts.ConsumeToken("alice@example.com", "wrong-token"))
	assert.False(t, ts.ConsumeToken("bob@example.com", "anything"))
}

func TestTokenStore_RejectsExpired(t *testing.T) {
	ts := NewTokenStore(-time.Second)
	token, err := ts.GenerateToken("alice@example.com")
	require.NoError(t, err)

	assert.False(t, ts.ConsumeToken("alice@example.com", token))
}

func TestTokenStore_NewTokenReplacesOld(t *testing.T) {
	ts := NewTokenStore(time.Minute)
	first, err := ts.GenerateToken("alice@example.com")
	require.NoError(t, err)
	second, err := ts.GenerateToken("alice@example.com")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	assert.False(t, ts.ConsumeToken("alice@example.com", first))

	// The failed attempt burned the stored token as well.
	assert.False(t, ts.ConsumeToken("alice@example.com", second))
}
