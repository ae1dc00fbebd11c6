package trip_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/trip"
)

type failingHazards struct{ err error }

func (f failingHazards) Hazards(context.Context, trip.Snapshot) ([]trip.Hazard, error) {
	return nil, f.err
}

type fixedPolicy struct{ policy trip.AlertPolicy }

func (f fixedPolicy) AlertPolicy(context.Context, trip.AlertPolicy) trip.AlertPolicy {
	return f.policy
}

func newGenerator(rnd trip.Rand, source trip.HazardSource) *trip.AlertGenerator {
	return trip.NewAlertGenerator(trip.AlertGeneratorConfig{
		Source: source,
		Rand:   rnd,
		Clock:  trip.NewFakeClock(epoch),
		Logger: zerolog.Nop(),
	})
}

func TestAlertGenerator_ChanceThreshold(t *testing.T) {
	s, _ := newStartedSession(t)
	gen := newGenerator(trip.NewSequenceRand(0.5, 0.7, 0.71), nil)
	ctx := context.Background()

	a, err := gen.Evaluate(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, a, "0.5 is below the emission threshold")

	a, err = gen.Evaluate(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, a, "0.7 sits exactly on the threshold")

	a, err = gen.Evaluate(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, trip.SeverityWarning, a.Severity)
	assert.Equal(t, trip.ReducedLightingMessage, a.Message)
	assert.Equal(t, "lighting", a.Source)
	assert.Equal(t, epoch, a.CreatedAt)

	snap := s.Snapshot()
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, a.ID, snap.Alerts[0].ID)
	assert.Equal(t, 3, gen.Evaluations())
}

func TestAlertGenerator_DedupWindow(t *testing.T) {
	s, _ := newStartedSession(t)
	gen := newGenerator(trip.NewSequenceRand(0.99), nil)
	ctx := context.Background()

	var emitted []bool
	for i := 0; i < 5; i++ {
		a, err := gen.Evaluate(ctx, s)
		require.NoError(t, err)
		emitted = append(emitted, a != nil)
	}

	// The same message cannot repeat on the evaluation right after it was raised.
	assert.Equal(t, []bool{true, false, true, false, true}, emitted)
}

func TestAlertGenerator_WiderDedupWindow(t *testing.T) {
	s, _ := newStartedSession(t)
	gen := trip.NewAlertGenerator(trip.AlertGeneratorConfig{
		Rand:   trip.NewSequenceRand(0.99),
		Policy: &trip.AlertPolicy{Chance: 1, DedupWindow: 3},
		Logger: zerolog.Nop(),
	})

	var emitted []bool
	for i := 0; i < 5; i++ {
		a, err := gen.Evaluate(context.Background(), s)
		require.NoError(t, err)
		emitted = append(emitted, a != nil)
	}

	assert.Equal(t, []bool{true, false, false, false, true}, emitted)
}

func TestAlertGenerator_PicksMostSevere(t *testing.T) {
	s, _ := newStartedSession(t)
	source := trip.StaticHazards{
		{Severity: trip.SeverityInfo, Message: "Busy crossing ahead", Source: "crowd"},
		{Severity: trip.SeverityDanger, Message: "Reported incident nearby", Source: "risk"},
		{Severity: trip.SeverityWarning, Message: "Poorly lit stretch", Source: "lighting"},
	}
	gen := newGenerator(trip.NewSequenceRand(0.99), source)
	ctx := context.Background()

	a, err := gen.Evaluate(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, trip.SeverityDanger, a.Severity)

	// The danger message is deduplicated, so the next most severe wins.
	a, err = gen.Evaluate(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Poorly lit stretch", a.Message)
	assert.Len(t, s.Snapshot().Alerts, 2, "one alert per evaluation")

	// Once its window has passed the danger hazard outranks the others again.
	a, err = gen.Evaluate(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, trip.SeverityDanger, a.Severity)
	assert.Len(t, s.Snapshot().Alerts, 3)
}

func TestAlertGenerator_ReplacesWeakerWhenFull(t *testing.T) {
	s, _ := newStartedSession(t)
	for _, id := range []string{"w1", "w2", "w3"} {
		_, err := s.AddAlert(trip.Alert{ID: id, Severity: trip.SeverityWarning, Message: id})
		require.NoError(t, err)
	}

	source := trip.StaticHazards{{Severity: trip.SeverityDanger, Message: "Reported incident nearby"}}
	gen := newGenerator(trip.NewSequenceRand(0.99), source)

	a, err := gen.Evaluate(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, a)

	snap := s.Snapshot()
	require.Len(t, snap.Alerts, trip.MaxAlerts)
	assert.Equal(t, a.ID, snap.Alerts[0].ID)
	assert.Equal(t, "w3", snap.Alerts[1].ID)
	assert.Equal(t, "w2", snap.Alerts[2].ID)
}

func TestAlertGenerator_SuppressedWhenNotMoreSevere(t *testing.T) {
	s, _ := newStartedSession(t)
	for _, id := range []string{"w1", "w2", "w3"} {
		_, err := s.AddAlert(trip.Alert{ID: id, Severity: trip.SeverityWarning, Message: id})
		require.NoError(t, err)
	}

	gen := newGenerator(trip.NewSequenceRand(0.99), nil)

	a, err := gen.Evaluate(context.Background(), s)
	require.NoError(t, err)
	assert.Nil(t, a)

	snap := s.Snapshot()
	assert.Equal(t, []string{"w3", "w2", "w1"}, []string{snap.Alerts[0].ID, snap.Alerts[1].ID, snap.Alerts[2].ID})
	assert.Equal(t, 3, snap.AlertsRaised)
}

func TestAlertGenerator_OnlyWhileNavigating(t *testing.T) {
	s, _ := newStartedSession(t)
	gen := newGenerator(trip.NewSequenceRand(0.99), nil)
	ctx := context.Background()

	require.NoError(t, s.Pause())
	a, err := gen.Evaluate(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, a)

	s.Cancel()
	a, err = gen.Evaluate(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Empty(t, s.Snapshot().Alerts)
}

func TestAlertGenerator_PolicyOverride(t *testing.T) {
	s, _ := newStartedSession(t)
	gen := trip.NewAlertGenerator(trip.AlertGeneratorConfig{
		Rand:      trip.NewSequenceRand(0.99),
		Overrides: fixedPolicy{policy: trip.AlertPolicy{Disabled: true}},
		Logger:    zerolog.Nop(),
	})

	a, err := gen.Evaluate(context.Background(), s)
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Equal(t, 1, gen.Evaluations())
}

func TestAlertGenerator_SourceError(t *testing.T) {
	s, _ := newStartedSession(t)
	boom := errors.New("feed unavailable")
	gen := newGenerator(trip.NewSequenceRand(0.99), failingHazards{err: boom})

	a, err := gen.Evaluate(context.Background(), s)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, trip.StateNavigating, s.State())
}

func TestAlertGenerator_SeededIsReproducible(t *testing.T) {
	run := func() []bool {
		s, _ := newStartedSession(t)
		gen := newGenerator(trip.NewRand(42), nil)
		var out []bool
		for i := 0; i < 40; i++ {
			a, err := gen.Evaluate(context.Background(), s)
			require.NoError(t, err)
			out = append(out, a != nil)
			if a != nil {
				s.DismissAlert(a.ID)
			}
		}
		return out
	}

	assert.Equal(t, run(), run())
}
