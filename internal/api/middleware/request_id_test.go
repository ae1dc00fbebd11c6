package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saferoute/saferoute/internal/api/middleware"
)

// serveWithID runs one request through RequestID and returns the ID seen by
// the handler along with the response header value.
func serveWithID(t *testing.T, incoming string) (seen, echoed string) {
	t.Helper()
	handler := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = middleware.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	if incoming != "" {
		req.Header.Set(middleware.RequestIDHeader, incoming)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return seen, rec.Header().Get(middleware.RequestIDHeader)
}

func TestRequestID_Incoming(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"absent", "", false},
		{"plain", "existing_request_id", true},
		{"trace style", "00-4bf92f3577b34da6:00f067aa0ba902b7.01", true},
		{"whitespace", "has space", false},
		{"header injection", "abc\r\nSet-Cookie: x=1", false},
		{"unicode", "réquest", false},
		{"too long", strings.Repeat("a", 129), false},
		{"at limit", strings.Repeat("a", 128), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen, echoed := serveWithID(t, tt.incoming)

			assert.Equal(t, seen, echoed)
			if tt.keep {
				assert.Equal(t, tt.incoming, seen)
				return
			}
			assert.NotEqual(t, tt.incoming, seen)
			assert.Regexp(t, `^req_[0-9a-f]{32}$`, seen)
		})
	}
}

func TestRequestID_GeneratedIDsAreUnique(t *testing.T) {
	seen := make(map[string]struct{}, 200)
	for i := 0; i < 200; i++ {
		id, _ := serveWithID(t, "")
		_, dup := seen[id]
		assert.False(t, dup, "duplicate request ID %s", id)
		seen[id] = struct{}{}
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	assert.Empty(t, middleware.GetRequestID(req.Context()))
}
