// Package auth validates rider access tokens.
//
// Riders sign in with the identity service, which issues short-lived HS256
// access tokens carrying the rider id and a role. This service only verifies
// them; it never stores credentials. Operators use the same token format with
// the operator role to reach the admin endpoints.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenExpiry is how long issued access tokens are valid.
const AccessTokenExpiry = 1 * time.Hour

// Predefined JWT errors.
var (
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrAccessTokenExpired = errors.New("access token has expired")
)

// Role is the caller's role.
type Role string

const (
	RoleRider    Role = "rider"
	RoleOperator Role = "operator"
)

// Principal is the authenticated caller.
type Principal struct {
	RiderID string
	Role    Role
}

// IsOperator reports whether the caller may use admin endpoints.
func (p Principal) IsOperator() bool {
	return p.Role == RoleOperator
}

// JWTClaims represents the claims in access tokens.
type JWTClaims struct {
	jwt.RegisteredClaims

	// RiderID is the authenticated rider's id.
	RiderID string `json:"rid"`

	// Role defaults to rider when absent.
	Role Role `json:"role,omitempty"`
}

// JWTConfig holds configuration for the JWT service.
type JWTConfig struct {
	// SigningKey is the secret key used to sign JWTs.
	SigningKey string

	// Issuer is the issuer claim for tokens (e.g., "https://id.saferoute.app").
	Issuer string

	// Audience is the audience claim for tokens (e.g., "saferoute-api").
	Audience string

	// Expiry is the lifetime of generated tokens (default: AccessTokenExpiry).
	Expiry time.Duration
}

// JWTService handles JWT creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	expiry     time.Duration
}

// NewJWTService creates a new JWT service.
func NewJWTService(cfg JWTConfig) *JWTService {
	expiry := cfg.Expiry
	if expiry == 0 {
		expiry = AccessTokenExpiry
	}
	return &JWTService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		expiry:     expiry,
	}
}

// GenerateAccessToken creates a new access token. It is used by tests and
// local tooling; production tokens come from the identity service.
func (s *JWTService) GenerateAccessToken(riderID string, role Role) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.expiry)

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   riderID,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		RiderID: riderID,
		Role:    role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateAccessToken validates an access token and returns the caller.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidAccessToken, err.Error())
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidAccessToken
	}

	riderID := claims.RiderID
	if riderID == "" {
		riderID = claims.Subject
	}
	if riderID == "" {
		return nil, fmt.Errorf("%w: missing rider id", ErrInvalidAccessToken)
	}

	role := claims.Role
	switch role {
	case "":
		role = RoleRider
	case RoleRider, RoleOperator:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidAccessToken, role)
	}

	return &Principal{RiderID: riderID, Role: role}, nil
}

// generateTokenID generates a unique token ID.
func generateTokenID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
