package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus represents the overall system status.
type SystemStatus struct {
	Status                 HealthStatus      `json:"status"`
	Time                   Timestamp         `json:"time"`
	Subsystems             []SubsystemStatus `json:"subsystems"`
	Providers              []ProviderStatus  `json:"providers"`
	Sessions               SessionStats      `json:"sessions"`
	Hazards                *HazardSummary    `json:"hazards,omitempty"`
	Events                 *EventStats       `json:"events,omitempty"`
	ActiveDegradationFlags []string          `json:"activeDegradationFlags,omitempty"`
}

// SubsystemStatus represents the status of a subsystem.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// ProviderStatus represents the status of an external provider.
type ProviderStatus struct {
	Provider      string       `json:"provider"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}

// SessionStats counts sessions held by the registry.
type SessionStats struct {
	Active   int `json:"active"`
	Terminal int `json:"terminal"`
}

// HazardSummary describes the hazards currently reported by the feed.
type HazardSummary struct {
	Total      int            `json:"total"`
	ByImpact   map[string]int `json:"byImpact"`
	ByKind     map[string]int `json:"byKind"`
	MostSevere string         `json:"mostSevere,omitempty"`
	Provider   string         `json:"provider"`
	FetchedAt  Timestamp      `json:"fetchedAt"`
}

// EventStats reports the session event forwarder counters.
type EventStats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Queued  int   `json:"queued"`
}
