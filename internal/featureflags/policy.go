package featureflags

import (
	"context"

	"github.com/saferoute/saferoute/internal/trip"
)

var _ trip.PolicySource = (*Service)(nil)

// AlertPolicy overlays the alert flags on fallback. Unset numeric flags keep
// the fallback values.
func (s *Service) AlertPolicy(ctx context.Context, fallback trip.AlertPolicy) trip.AlertPolicy {
	policy := fallback
	if s.IsEnabled(ctx, FlagDisableSafetyAlerts) {
		policy.Disabled = true
	}
	if f := s.GetFlag(ctx, FlagAlertChance); f != nil {
		if v := f.Float64Value(-1); v >= 0 && v <= 1 {
			policy.Chance = v
		}
	}
	if f := s.GetFlag(ctx, FlagAlertDedupWindow); f != nil {
		if v := f.IntValue(-1); v >= 0 {
			policy.DedupWindow = v
		}
	}
	return policy
}

// IsRerouteDisabled returns true if reroute commands are rejected.
func (s *Service) IsRerouteDisabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagDisableReroute)
}

// IsEmergencyDispatchDisabled returns true if emergencies are only recorded.
func (s *Service) IsEmergencyDispatchDisabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagDisableEmergencyDispatch)
}
