// Package featureflags provides runtime switches for trip monitoring.
package featureflags

import (
	"errors"
	"fmt"
	"time"
)

// Well-known feature flag keys.
const (
	// FlagDisableSafetyAlerts stops alert generation for every trip.
	FlagDisableSafetyAlerts = "disable_safety_alerts"

	// FlagDisableReroute rejects reroute commands.
	FlagDisableReroute = "disable_reroute"

	// FlagDisableEmergencyDispatch records emergencies without calling the telephony service.
	FlagDisableEmergencyDispatch = "disable_emergency_dispatch"

	// FlagAlertDedupWindow is how many alert evaluations must pass before the
	// same message may alert again.
	FlagAlertDedupWindow = "alert_dedup_window"

	// FlagAlertChance is the probability, in [0, 1], that an alert evaluation
	// looks for hazards at all.
	FlagAlertChance = "alert_chance"
)

// Validation errors for flag updates.
var (
	ErrUnknownFlag      = errors.New("unknown feature flag")
	ErrInvalidFlagValue = errors.New("invalid feature flag value")
)

// Flag represents a feature flag with its current value.
type Flag struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
	// UpdatedBy is the operator subject that last changed the flag.
	UpdatedBy string `json:"updatedBy,omitempty"`
}

// FlagList represents a list of feature flags.
type FlagList struct {
	Items []Flag `json:"items"`
}

// FlagUpdate represents a single flag update request.
type FlagUpdate struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// FlagUpdateRequest represents a request to update feature flags.
type FlagUpdateRequest struct {
	Updates []FlagUpdate `json:"updates"`
	Reason  string       `json:"reason"`
}

// Validate checks the update against the known flags and their value types.
func (u FlagUpdate) Validate() error {
	switch u.Key {
	case FlagDisableSafetyAlerts, FlagDisableReroute, FlagDisableEmergencyDispatch:
		if _, ok := u.Value.(bool); !ok {
			return fmt.Errorf("%w: %s must be a boolean", ErrInvalidFlagValue, u.Key)
		}
	case FlagAlertDedupWindow:
		v, ok := u.Value.(float64)
		if !ok || v < 0 || v != float64(int(v)) {
			return fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidFlagValue, u.Key)
		}
	case FlagAlertChance:
		v, ok := u.Value.(float64)
		if !ok || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be a number between 0 and 1", ErrInvalidFlagValue, u.Key)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFlag, u.Key)
	}
	return nil
}

// BoolValue returns the flag value as a boolean.
// Returns the default value if the flag is nil, not found, or not a boolean.
func (f *Flag) BoolValue(defaultValue bool) bool {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case bool:
		return v
	case float64:
		// JSON unmarshals numbers as float64
		return v != 0
	default:
		return defaultValue
	}
}

// IntValue returns the flag value as an integer.
func (f *Flag) IntValue(defaultValue int) int {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultValue
	}
}

// Float64Value returns the flag value as a float64.
func (f *Flag) Float64Value(defaultValue float64) float64 {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return defaultValue
	}
}

// Known reports whether key names a flag this service understands.
func Known(key string) bool {
	switch key {
	case FlagDisableSafetyAlerts, FlagDisableReroute, FlagDisableEmergencyDispatch,
		FlagAlertDedupWindow, FlagAlertChance:
		return true
	}
	return false
}

// DefaultFlags returns the flags used when the repository has no value.
func DefaultFlags() map[string]*Flag {
	now := time.Now()
	return map[string]*Flag{
		FlagDisableSafetyAlerts:      {Key: FlagDisableSafetyAlerts, Value: false, UpdatedAt: now},
		FlagDisableReroute:           {Key: FlagDisableReroute, Value: false, UpdatedAt: now},
		FlagDisableEmergencyDispatch: {Key: FlagDisableEmergencyDispatch, Value: false, UpdatedAt: now},
	}
}
