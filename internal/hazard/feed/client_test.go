package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/hazard"
	"github.com/saferoute/saferoute/internal/hazard/feed"
)

const feedBody = `{
  "hazards": [
    {"id": "hz-1", "type": "lighting", "title": "Streetlights out on Canal Walk",
     "impact": "moderate", "routeIds": [2], "fromPercent": 40, "toPercent": 60,
     "start": "2026-03-14T18:00:00Z"},
    {"id": "hz-2", "type": "incident", "title": "Police activity near the station",
     "impact": "severe", "start": "2026-03-14T21:30:00Z", "end": "2026-03-14T23:00:00Z"},
    {"id": "hz-3", "type": "fog", "title": "Something else", "impact": "low",
     "start": "2026-03-14T21:30:00Z"}
  ]
}`

func TestClient_Reports(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hazards", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(feedBody))
	}))
	defer server.Close()

	client := feed.NewClient(feed.ClientConfig{
		APIKey:     "key",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Logger:     zerolog.Nop(),
	})

	reports, err := client.Reports(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 3)

	assert.Equal(t, hazard.KindLighting, reports[0].Kind)
	assert.Equal(t, hazard.ImpactModerate, reports[0].Impact)
	assert.Equal(t, []int{2}, reports[0].RouteIDs)
	assert.Equal(t, 60, reports[0].ToPercent)
	assert.True(t, reports[0].End.IsZero())

	assert.Equal(t, hazard.ImpactSevere, reports[1].Impact)
	assert.False(t, reports[1].End.IsZero())

	assert.Equal(t, hazard.KindUnknown, reports[2].Kind)
	assert.Equal(t, hazard.ImpactMinor, reports[2].Impact)
	assert.Equal(t, feed.ProviderName, reports[2].Provider)
}

func TestClient_Reports_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := feed.NewClient(feed.ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Logger:     zerolog.Nop(),
	})

	_, err := client.Reports(context.Background())
	assert.ErrorContains(t, err, "502")
}
