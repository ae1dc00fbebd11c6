// Package safety scores candidate routes against a rider's safety preferences.
package safety

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInput indicates malformed factors, preferences or an empty route set.
var ErrInvalidInput = errors.New("invalid input")

// Recommendation is the display label attached to a scored route.
type Recommendation string

const (
	RecommendationBest     Recommendation = "best"
	RecommendationBalanced Recommendation = "balanced"
	RecommendationFastest  Recommendation = "fastest"
)

// Level buckets a safety score for display.
type Level string

const (
	LevelHigh     Level = "high"
	LevelModerate Level = "moderate"
	LevelLower    Level = "lower"
)

// LevelFor returns the display bucket for a safety score.
func LevelFor(score int) Level {
	switch {
	case score >= 80:
		return LevelHigh
	case score >= 60:
		return LevelModerate
	default:
		return LevelLower
	}
}

// Factors holds the per-route safety inputs. All values are percentages in [0,100].
type Factors struct {
	Lighting     int `json:"lighting"`
	CrowdDensity int `json:"crowdDensity"`
	RiskZones    int `json:"riskZones"`
	TimeOfDay    int `json:"timeOfDay"`
}

// RouteCandidate is a path produced by the path-finding collaborator.
type RouteCandidate struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	DistanceKm  float64 `json:"distanceKm"`
	DurationMin int     `json:"durationMin"`
	Factors     Factors `json:"factors"`
}

// Preferences describes how a rider trades safety against speed.
type Preferences struct {
	// PrioritizeSafety ranges from 0 (fastest) to 100 (safest).
	PrioritizeSafety   int  `json:"prioritizeSafety"`
	AvoidDarkAreas     bool `json:"avoidDarkAreas"`
	PreferCrowdedAreas bool `json:"preferCrowdedAreas"`
	AvoidHighRiskZones bool `json:"avoidHighRiskZones"`
}

// DefaultPreferences matches the rider settings shipped with the app.
func DefaultPreferences() Preferences {
	return Preferences{
		PrioritizeSafety:   70,
		AvoidDarkAreas:     true,
		PreferCrowdedAreas: true,
		AvoidHighRiskZones: true,
	}
}

// Breakdown explains how a safety score was derived.
type Breakdown struct {
	RawScore    float64 `json:"rawScore"`
	SpeedScore  float64 `json:"speedScore"`
	Blended     float64 `json:"blended"`
	Adjustments []Nudge `json:"adjustments,omitempty"`
}

// Nudge is a single boolean-preference adjustment.
type Nudge struct {
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

// ScoredRoute is a candidate with its derived score and label.
type ScoredRoute struct {
	RouteCandidate
	SafetyScore    int            `json:"safetyScore"`
	SafetyLevel    Level          `json:"safetyLevel"`
	Recommendation Recommendation `json:"recommendation"`
	Breakdown      Breakdown      `json:"breakdown"`
}

// FieldError describes a single invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidationError carries every field problem found in a scoring request.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return ErrInvalidInput.Error()
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return ErrInvalidInput.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
