package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPurger struct {
	calls atomic.Int32
	n     int64
	err   error
}

func (p *stubPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls.Add(1)
	return p.n, p.err
}

func okProbe(name string) Probe {
	return Probe{Name: name, Check: func(context.Context) error { return nil }}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 24*time.Hour, cfg.RetentionInterval)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, cfg, Config{}.withDefaults())
}

func TestJobs_PurgeHistory(t *testing.T) {
	purger := &stubPurger{n: 4}
	jobs := NewJobs(JobsConfig{History: purger, Logger: zerolog.Nop()})

	n, err := jobs.PurgeHistory(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	m := jobs.GetMetrics()
	assert.Equal(t, int64(1), m.RetentionRuns)
	assert.Equal(t, int64(4), m.TripsPurged)
	assert.False(t, m.LastRetentionAt.IsZero())
}

func TestJobs_PurgeHistory_Error(t *testing.T) {
	purger := &stubPurger{err: errors.New("db down")}
	jobs := NewJobs(JobsConfig{History: purger, Logger: zerolog.Nop()})

	_, err := jobs.PurgeHistory(context.Background())

	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, int64(1), jobs.GetMetrics().RetentionFailed)
}

func TestJobs_PurgeHistory_NoHistory(t *testing.T) {
	jobs := NewJobs(JobsConfig{Logger: zerolog.Nop()})

	n, err := jobs.PurgeHistory(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJobs_HealthCheck(t *testing.T) {
	var seen atomic.Int32
	slow := Probe{Name: "slow", Check: func(ctx context.Context) error {
		seen.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}}
	broken := Probe{Name: "broken", Check: func(context.Context) error {
		seen.Add(1)
		return errors.New("connection refused")
	}}

	jobs := NewJobs(JobsConfig{
		Config: Config{Concurrency: 2, ProbeTimeout: 20 * time.Millisecond},
		Probes: []Probe{okProbe("a"), slow, broken, okProbe("b")},
		Logger: zerolog.Nop(),
	})

	result := jobs.HealthCheck(context.Background())

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 2, result.Healthy)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, int32(2), seen.Load())
	assert.ElementsMatch(t, []string{"slow", "broken"}, []string{result.Errors[0].Probe, result.Errors[1].Probe})
	assert.Equal(t, int64(1), jobs.GetMetrics().HealthCheckFails)
}

func TestJobs_Handle(t *testing.T) {
	purger := &stubPurger{n: 1}
	jobs := NewJobs(JobsConfig{
		History: purger,
		Probes:  []Probe{okProbe("db")},
		Logger:  zerolog.Nop(),
	})
	ctx := context.Background()

	require.NoError(t, jobs.Handle(ctx, JobMessage{JobType: JobHistoryRetention}))
	assert.Equal(t, int32(1), purger.calls.Load())

	require.NoError(t, jobs.Handle(ctx, JobMessage{JobType: JobHealthCheck}))

	err := jobs.Handle(ctx, JobMessage{JobType: "provider_refresh"})
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestProcess_AckDecisions(t *testing.T) {
	failing := NewJobs(JobsConfig{History: &stubPurger{err: errors.New("boom")}, Logger: zerolog.Nop()})
	healthy := NewJobs(JobsConfig{History: &stubPurger{}, Logger: zerolog.Nop()})
	ctx := context.Background()

	tests := []struct {
		name string
		jobs *Jobs
		data string
		ack  bool
	}{
		{"malformed", healthy, `{not json`, true},
		{"unknown job", healthy, `{"job_type":"nope"}`, true},
		{"success", healthy, `{"job_type":"history_retention"}`, true},
		{"failure is retried", failing, `{"job_type":"history_retention"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ack, process(ctx, tt.jobs, []byte(tt.data), zerolog.Nop()))
		})
	}
}

func TestJobs_RunSchedule(t *testing.T) {
	purger := &stubPurger{}
	jobs := NewJobs(JobsConfig{
		Config:  Config{RetentionInterval: 5 * time.Millisecond},
		History: purger,
		Logger:  zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		jobs.RunSchedule(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return purger.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSchedule did not return after cancel")
	}
}
