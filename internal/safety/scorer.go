package safety

import (
	"fmt"
	"math"
)

// Weights are the per-factor contributions to the raw score, in hundredths.
// They must sum to 100.
type Weights struct {
	Lighting     int
	CrowdDensity int
	RiskZones    int
	TimeOfDay    int
}

// DefaultWeights returns the standard factor weighting.
func DefaultWeights() Weights {
	return Weights{
		Lighting:     25,
		CrowdDensity: 25,
		RiskZones:    30,
		TimeOfDay:    20,
	}
}

// ScorerConfig holds tuning for the scorer.
type ScorerConfig struct {
	// Weights for the raw score (default: DefaultWeights).
	Weights *Weights

	// NudgePoints is subtracted for every triggered boolean preference (default: 5).
	NudgePoints int

	// DarkThreshold triggers avoidDarkAreas when lighting is below it (default: 50).
	DarkThreshold int

	// CrowdThreshold triggers preferCrowdedAreas when crowd density is below it (default: 50).
	CrowdThreshold int

	// RiskThreshold triggers avoidHighRiskZones when risk zones exceed it (default: 50).
	RiskThreshold int
}

// Scorer computes safety scores and recommendation labels. It is stateless and
// safe for concurrent use.
type Scorer struct {
	weights        Weights
	nudgePoints    int
	darkThreshold  int
	crowdThreshold int
	riskThreshold  int
}

// NewScorer creates a new Scorer.
func NewScorer(cfg ScorerConfig) *Scorer {
	weights := DefaultWeights()
	if cfg.Weights != nil {
		weights = *cfg.Weights
	}

	nudge := cfg.NudgePoints
	if nudge == 0 {
		nudge = 5
	}

	dark := cfg.DarkThreshold
	if dark == 0 {
		dark = 50
	}

	crowd := cfg.CrowdThreshold
	if crowd == 0 {
		crowd = 50
	}

	risk := cfg.RiskThreshold
	if risk == 0 {
		risk = 50
	}

	return &Scorer{
		weights:        weights,
		nudgePoints:    nudge,
		darkThreshold:  dark,
		crowdThreshold: crowd,
		riskThreshold:  risk,
	}
}

var defaultScorer = NewScorer(ScorerConfig{})

// Score scores routes with the default configuration.
func Score(routes []RouteCandidate, prefs Preferences) ([]ScoredRoute, error) {
	return defaultScorer.Score(routes, prefs)
}

// Score returns one ScoredRoute per candidate, in input order.
// It fails with a *ValidationError wrapping ErrInvalidInput when the input is malformed.
func (s *Scorer) Score(routes []RouteCandidate, prefs Preferences) ([]ScoredRoute, error) {
	if errs := Validate(routes, prefs); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	minDuration := routes[0].DurationMin
	for _, r := range routes[1:] {
		if r.DurationMin < minDuration {
			minDuration = r.DurationMin
		}
	}

	scored := make([]ScoredRoute, len(routes))
	for i, r := range routes {
		speed := 100.0
		if len(routes) > 1 {
			speed = speedScore(r.DurationMin, minDuration)
		}
		scored[i] = s.scoreOne(r, speed, prefs)
	}

	s.label(scored)
	return scored, nil
}

func (s *Scorer) scoreOne(r RouteCandidate, speed float64, prefs Preferences) ScoredRoute {
	f := r.Factors

	// Hundredths of a point, kept integral so the example weights blend exactly.
	raw := s.weights.Lighting*f.Lighting +
		s.weights.CrowdDensity*f.CrowdDensity +
		s.weights.RiskZones*(100-f.RiskZones) +
		s.weights.TimeOfDay*f.TimeOfDay

	p := float64(prefs.PrioritizeSafety)
	blended := (float64(raw)*p + speed*100*(100-p)) / 10000

	score := int(math.Round(blended))

	var nudges []Nudge
	if prefs.AvoidDarkAreas && f.Lighting < s.darkThreshold {
		nudges = append(nudges, Nudge{Reason: "poorly lit segments", Points: -s.nudgePoints})
	}
	if prefs.PreferCrowdedAreas && f.CrowdDensity < s.crowdThreshold {
		nudges = append(nudges, Nudge{Reason: "low crowd density", Points: -s.nudgePoints})
	}
	if prefs.AvoidHighRiskZones && f.RiskZones > s.riskThreshold {
		nudges = append(nudges, Nudge{Reason: "high-risk zones", Points: -s.nudgePoints})
	}
	for _, n := range nudges {
		score += n.Points
	}
	score = clamp(score, 0, 100)

	return ScoredRoute{
		RouteCandidate: r,
		SafetyScore:    score,
		SafetyLevel:    LevelFor(score),
		Recommendation: RecommendationBalanced,
		Breakdown: Breakdown{
			RawScore:    float64(raw) / 100,
			SpeedScore:  speed,
			Blended:     blended,
			Adjustments: nudges,
		},
	}
}

// label assigns exactly one best and at most one fastest. Ties go to the lowest id.
func (s *Scorer) label(scored []ScoredRoute) {
	best, fastest := 0, 0
	for i := 1; i < len(scored); i++ {
		r := scored[i]
		b := scored[best]
		if r.SafetyScore > b.SafetyScore || (r.SafetyScore == b.SafetyScore && r.ID < b.ID) {
			best = i
		}
		f := scored[fastest]
		if r.DurationMin < f.DurationMin || (r.DurationMin == f.DurationMin && r.ID < f.ID) {
			fastest = i
		}
	}

	scored[best].Recommendation = RecommendationBest
	if fastest != best {
		scored[fastest].Recommendation = RecommendationFastest
	}
}

// speedScore maps duration to 100 for the fastest route and proportionally less for slower ones.
func speedScore(duration, minDuration int) float64 {
	if duration == 0 {
		return 100
	}
	return 100 * float64(minDuration) / float64(duration)
}

// Validate returns every field problem in a scoring request.
func Validate(routes []RouteCandidate, prefs Preferences) []FieldError {
	var errs []FieldError

	if len(routes) == 0 {
		errs = append(errs, FieldError{
			Field:   "routes",
			Message: "at least one route is required",
			Code:    "REQUIRED",
		})
	}

	if !inRange(prefs.PrioritizeSafety) {
		errs = append(errs, FieldError{
			Field:   "preferences.prioritizeSafety",
			Message: "must be between 0 and 100",
			Code:    "OUT_OF_RANGE",
		})
	}

	seen := make(map[int]struct{}, len(routes))
	for i, r := range routes {
		prefix := fmt.Sprintf("routes[%d]", i)

		if _, dup := seen[r.ID]; dup {
			errs = append(errs, FieldError{
				Field:   prefix + ".id",
				Message: fmt.Sprintf("duplicate route id %d", r.ID),
				Code:    "DUPLICATE",
			})
		}
		seen[r.ID] = struct{}{}

		if r.DistanceKm < 0 || math.IsNaN(r.DistanceKm) || math.IsInf(r.DistanceKm, 0) {
			errs = append(errs, FieldError{
				Field:   prefix + ".distanceKm",
				Message: "must be a finite value >= 0",
				Code:    "OUT_OF_RANGE",
			})
		}
		if r.DurationMin < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".durationMin",
				Message: "must be >= 0",
				Code:    "OUT_OF_RANGE",
			})
		}

		for _, fv := range []struct {
			name  string
			value int
		}{
			{"lighting", r.Factors.Lighting},
			{"crowdDensity", r.Factors.CrowdDensity},
			{"riskZones", r.Factors.RiskZones},
			{"timeOfDay", r.Factors.TimeOfDay},
		} {
			if !inRange(fv.value) {
				errs = append(errs, FieldError{
					Field:   prefix + ".factors." + fv.name,
					Message: "must be between 0 and 100",
					Code:    "OUT_OF_RANGE",
				})
			}
		}
	}

	return errs
}

func inRange(v int) bool {
	return v >= 0 && v <= 100
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
