package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/auth"
)

// principalKey is the context key for the authenticated caller.
type principalKey struct{}

// TokenValidator validates bearer access tokens.
type TokenValidator interface {
	ValidateAccessToken(token string) (*auth.Principal, error)
}

var errMissingToken = errors.New("missing token")

// Auth creates authentication middleware that validates JWT bearer tokens.
// WebSocket upgrades may pass the token in the access_token query parameter,
// since browsers cannot set headers on them.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, detail, err := authenticate(validator, r)
			if err != nil {
				writeUnauthorized(w, r, detail)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth authenticates the request when credentials are present and
// passes anonymous requests through. Bad credentials are still rejected.
func OptionalAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, detail, err := authenticate(validator, r)
			switch {
			case errors.Is(err, errMissingToken):
				next.ServeHTTP(w, r)
			case err != nil:
				writeUnauthorized(w, r, detail)
			default:
				ctx := context.WithValue(r.Context(), principalKey{}, principal)
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

// RequireOperator rejects callers without the operator role. It must run
// after Auth.
func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipal(r.Context())
		if !ok {
			writeUnauthorized(w, r, "authentication required")
			return
		}
		if !p.IsOperator() {
			problem := models.NewForbidden(GetRequestID(r.Context()), "operator role required")
			problem.Instance = r.URL.Path
			problem.Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authenticate(validator TokenValidator, r *http.Request) (*auth.Principal, string, error) {
	tokenString, detail, err := bearerToken(r)
	if err != nil {
		return nil, detail, err
	}

	principal, err := validator.ValidateAccessToken(tokenString)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccessTokenExpired):
			return nil, "access token has expired", err
		case errors.Is(err, auth.ErrInvalidAccessToken):
			return nil, "invalid access token", err
		default:
			return nil, "authentication failed", err
		}
	}
	return principal, "", nil
}

func bearerToken(r *http.Request) (string, string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if isWebSocketUpgrade(r) {
			if token := r.URL.Query().Get("access_token"); token != "" {
				return token, "", nil
			}
		}
		return "", "missing authorization header", errMissingToken
	}

	// Check for Bearer prefix (case-insensitive)
	const bearerPrefix = "Bearer "
	if len(authHeader) < len(bearerPrefix) ||
		!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return "", "invalid authorization header format", auth.ErrInvalidAccessToken
	}

	tokenString := authHeader[len(bearerPrefix):]
	if tokenString == "" {
		return "", "missing bearer token", auth.ErrInvalidAccessToken
	}
	return tokenString, "", nil
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// writeUnauthorized writes a 401 Unauthorized response.
// This is implemented directly here to avoid import cycle with response package.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := GetRequestID(r.Context())
	problem := models.NewUnauthorized(traceID, detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetPrincipal retrieves the authenticated caller from the context.
func GetPrincipal(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*auth.Principal)
	if !ok || p == nil {
		return auth.Principal{}, false
	}
	return *p, true
}

// GetRiderID retrieves the authenticated rider ID from the context.
// Returns an empty string if not authenticated.
func GetRiderID(ctx context.Context) string {
	p, _ := GetPrincipal(ctx)
	return p.RiderID
}
