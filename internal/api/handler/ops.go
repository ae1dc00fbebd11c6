// Package handler provides HTTP handlers for the SafeRoute API.
package handler

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/events"
	"github.com/saferoute/saferoute/internal/featureflags"
	"github.com/saferoute/saferoute/internal/hazard"
	"github.com/saferoute/saferoute/internal/provider/resilience"
	"github.com/saferoute/saferoute/internal/trip"
)

// readyTimeout bounds dependency checks in the readiness probe.
const readyTimeout = 2 * time.Second

// Pinger checks connectivity to a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports registry occupancy.
type SessionCounter interface {
	Stats() trip.Stats
}

// HazardSummarizer reports the current hazard picture.
type HazardSummarizer interface {
	Summary(ctx context.Context) (*hazard.Summary, error)
}

// EventStatter reports event forwarding counters.
type EventStatter interface {
	Stats() events.ForwarderStats
}

// FlagLister lists the current feature flags.
type FlagLister interface {
	GetAllFlags(ctx context.Context) map[string]*featureflags.Flag
}

// OpsConfig holds the dependencies inspected by the ops endpoints. Every
// field except Version and BuildTime is optional.
type OpsConfig struct {
	Version   string
	BuildTime string

	Database  Pinger
	Sessions  SessionCounter
	Providers *resilience.Registry
	Hazards   HazardSummarizer
	Events    EventStatter
	Flags     FlagLister
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}

	if h.cfg.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := h.cfg.Database.Ping(ctx); err != nil {
			health.Status = models.HealthStatusFail
			health.Details = map[string]interface{}{"database": err.Error()}
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
	}

	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.cfg.Database != nil {
		pingCtx, cancel := context.WithTimeout(ctx, readyTimeout)
		err := h.cfg.Database.Ping(pingCtx)
		cancel()
		sub := models.SubsystemStatus{Name: "database", Status: models.HealthStatusOK}
		if err != nil {
			detail := err.Error()
			sub.Status = models.HealthStatusFail
			sub.Detail = &detail
		}
		status.Subsystems = append(status.Subsystems, sub)
	}

	if h.cfg.Sessions != nil {
		stats := h.cfg.Sessions.Stats()
		status.Sessions = models.SessionStats{Active: stats.Active, Terminal: stats.Terminal}
	}

	if h.cfg.Providers != nil {
		for _, ph := range h.cfg.Providers.All() {
			status.Providers = append(status.Providers, providerStatus(ph))
		}
	}

	if h.cfg.Hazards != nil {
		sub := models.SubsystemStatus{Name: "hazard-feed", Status: models.HealthStatusOK}
		summary, err := h.cfg.Hazards.Summary(ctx)
		if err != nil {
			detail := err.Error()
			sub.Status = models.HealthStatusDegraded
			sub.Detail = &detail
		} else {
			status.Hazards = hazardSummary(summary)
		}
		status.Subsystems = append(status.Subsystems, sub)
	}

	if h.cfg.Events != nil {
		stats := h.cfg.Events.Stats()
		status.Events = &models.EventStats{
			Sent:    stats.Sent,
			Failed:  stats.Failed,
			Dropped: stats.Dropped,
			Queued:  stats.Queued,
		}
	}

	if h.cfg.Flags != nil {
		status.ActiveDegradationFlags = degradationFlags(h.cfg.Flags.GetAllFlags(ctx))
	}

	status.Status = overallStatus(status)
	response.JSON(w, r, http.StatusOK, status)
}

func providerStatus(ph resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:     ph.Name,
		Status:       models.HealthStatusOK,
		CircuitState: ph.CircuitState.String(),
	}
	switch ph.Level() {
	case resilience.LevelDegraded:
		ps.Status = models.HealthStatusDegraded
	case resilience.LevelUnhealthy:
		ps.Status = models.HealthStatusFail
	}
	if ph.LastSuccessAt != nil {
		ts := models.Timestamp(*ph.LastSuccessAt)
		ps.LastSuccessAt = &ts
	}
	if ph.LastFailureAt != nil {
		ts := models.Timestamp(*ph.LastFailureAt)
		ps.LastFailureAt = &ts
	}
	if ph.LastError != "" {
		msg := ph.LastError
		ps.Message = &msg
	}
	return ps
}

func hazardSummary(s *hazard.Summary) *models.HazardSummary {
	out := &models.HazardSummary{
		Total:      s.Total,
		ByImpact:   make(map[string]int, len(s.ByImpact)),
		ByKind:     make(map[string]int, len(s.ByKind)),
		MostSevere: string(s.MostSevere),
		Provider:   s.Provider,
		FetchedAt:  models.Timestamp(s.FetchedAt),
	}
	for k, v := range s.ByImpact {
		out.ByImpact[string(k)] = v
	}
	for k, v := range s.ByKind {
		out.ByKind[string(k)] = v
	}
	return out
}

// degradationFlags lists the disable_* switches that are currently on.
func degradationFlags(flags map[string]*featureflags.Flag) []string {
	var active []string
	for key, flag := range flags {
		if strings.HasPrefix(key, "disable_") && flag.BoolValue(false) {
			active = append(active, key)
		}
	}
	sort.Strings(active)
	return active
}

// overallStatus is FAIL when a subsystem failed, DEGRADED when anything is
// short of OK, and OK otherwise.
func overallStatus(s models.SystemStatus) models.HealthStatus {
	result := models.HealthStatusOK
	for _, sub := range s.Subsystems {
		if sub.Status == models.HealthStatusFail {
			return models.HealthStatusFail
		}
		if sub.Status != models.HealthStatusOK {
			result = models.HealthStatusDegraded
		}
	}
	for _, p := range s.Providers {
		if p.Status != models.HealthStatusOK {
			result = models.HealthStatusDegraded
		}
	}
	if len(s.ActiveDegradationFlags) > 0 {
		result = models.HealthStatusDegraded
	}
	return result
}
