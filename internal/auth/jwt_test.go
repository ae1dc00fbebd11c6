package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/auth"
)

func testConfig() auth.JWTConfig {
	return auth.JWTConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "https://id.saferoute.app",
		Audience:   "saferoute-api",
	}
}

func TestJWTService_GenerateAndValidateAccessToken(t *testing.T) {
	svc := auth.NewJWTService(testConfig())

	token, expiresAt, err := svc.GenerateAccessToken("rider-42", auth.RoleRider)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	principal, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "rider-42", principal.RiderID)
	assert.Equal(t, auth.RoleRider, principal.Role)
	assert.False(t, principal.IsOperator())
}

func TestJWTService_OperatorRole(t *testing.T) {
	svc := auth.NewJWTService(testConfig())

	token, _, err := svc.GenerateAccessToken("ops-1", auth.RoleOperator)
	require.NoError(t, err)

	principal, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.True(t, principal.IsOperator())
}

func TestJWTService_DefaultsRoleAndSubject(t *testing.T) {
	cfg := testConfig()
	svc := auth.NewJWTService(cfg)

	// A token from the identity service with only the subject set.
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   "rider-7",
		Audience:  jwt.ClaimStrings{cfg.Audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}).SignedString([]byte(cfg.SigningKey))
	require.NoError(t, err)

	principal, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "rider-7", principal.RiderID)
	assert.Equal(t, auth.RoleRider, principal.Role)
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := auth.NewJWTService(testConfig())

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestJWTService_Expired(t *testing.T) {
	cfg := testConfig()
	cfg.Expiry = -time.Minute
	svc := auth.NewJWTService(cfg)

	token, _, err := svc.GenerateAccessToken("rider-1", auth.RoleRider)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrAccessTokenExpired)
}

func TestJWTService_UnknownRole(t *testing.T) {
	svc := auth.NewJWTService(testConfig())

	token, _, err := svc.GenerateAccessToken("rider-1", auth.Role("superuser"))
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}

func TestJWTService_Mismatches(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*auth.JWTConfig)
	}{
		{"signing key", func(c *auth.JWTConfig) { c.SigningKey = "key-two" }},
		{"issuer", func(c *auth.JWTConfig) { c.Issuer = "issuer-two" }},
		{"audience", func(c *auth.JWTConfig) { c.Audience = "audience-two" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, _, err := auth.NewJWTService(testConfig()).GenerateAccessToken("rider-1", auth.RoleRider)
			require.NoError(t, err)

			cfg := testConfig()
			tt.mutate(&cfg)
			_, err = auth.NewJWTService(cfg).ValidateAccessToken(token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}
