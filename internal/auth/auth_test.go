package auth

import (
	"testing"
	"time"

	"moments-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuthCfg = config.AuthConfig{
	JWTSecretKey: "test-secret",
	JWTExpiry:    time.Hour,
}

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("u1", "alice", testAuthCfg)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken(token, testAuthCfg.JWTSecretKey)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "moments-stub-server", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateTokenWrongKey(t *testing.T) {
	token, err := GenerateToken("u1", "alice", testAuthCfg)
	require.NoError(t, err)

	_, err = ValidateToken(token, "a-different-secret")
	assert.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	expiredCfg := config.AuthConfig{
		JWTSecretKey: testAuthCfg.JWTSecretKey,
		JWTExpiry:    -time.Minute,
	}
	token, err := GenerateToken("u1", "alice", expiredCfg)
	require.NoError(t, err)

	_, err = ValidateToken(token, testAuthCfg.JWTSecretKey)
	assert.Error(t, err)
}

func TestValidateTokenGarbage(t *testing.T) {
	_, err := ValidateToken("not.a.jwt", testAuthCfg.JWTSecretKey)
	assert.Error(t, err)
}

func TestNewCredential(t *testing.T) {
	_, err := NewCredential("")
	assert.ErrorIs(t, err, ErrEmptyToken)
	_, err = NewCredential("   ")
	assert.ErrorIs(t, err, ErrEmptyToken)

	cred, err := NewCredential("  some-token  ")
	require.NoError(t, err)
	assert.Equal(t, "some-token", cred.Token())
	assert.False(t, cred.IsZero())
	assert.True(t, Credential{}.IsZero())
}

func TestCredentialExpiry(t *testing.T) {
	token, err := GenerateToken("u1", "alice", testAuthCfg)
	require.NoError(t, err)
	cred, err := NewCredential(token)
	require.NoError(t, err)

	exp, err := cred.ExpiresAt()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(testAuthCfg.JWTExpiry), exp, time.Minute)

	assert.False(t, cred.Expired(time.Now()))
	assert.True(t, cred.Expired(time.Now().Add(2*time.Hour)))
}

func TestCredentialExpiredUnparsable(t *testing.T) {
	cred, err := NewCredential("opaque-token")
	require.NoError(t, err)

	// 无法解析的令牌不在本地判死，交给服务端裁决
	assert.False(t, cred.Expired(time.Now()))
	_, err = cred.ExpiresAt()
	assert.Error(t, err)
}
