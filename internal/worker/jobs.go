package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownJob is returned for job messages with an unrecognised type.
var ErrUnknownJob = errors.New("unknown job type")

// HistoryPurger removes trips past retention.
type HistoryPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Probe is one dependency checked by the health check job.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// JobMessage is the payload of a Pub/Sub job message.
type JobMessage struct {
	JobType string `json:"job_type"`
}

// JobsConfig holds configuration for creating Jobs.
type JobsConfig struct {
	Config  Config
	History HistoryPurger
	Probes  []Probe
	Logger  zerolog.Logger
}

// Jobs runs the worker's background jobs.
type Jobs struct {
	config  Config
	history HistoryPurger
	probes  []Probe
	logger  zerolog.Logger

	mu      sync.RWMutex
	metrics JobMetrics
}

// JobMetrics tracks job statistics.
type JobMetrics struct {
	RetentionRuns    int64
	RetentionFailed  int64
	TripsPurged      int64
	LastRetentionAt  time.Time
	HealthChecks     int64
	HealthCheckFails int64
	LastHealthAt     time.Time
}

// NewJobs creates a new job runner.
func NewJobs(cfg JobsConfig) *Jobs {
	return &Jobs{
		config:  cfg.Config.withDefaults(),
		history: cfg.History,
		probes:  cfg.Probes,
		logger:  cfg.Logger,
	}
}

// Handle runs the job named by msg.
func (j *Jobs) Handle(ctx context.Context, msg JobMessage) error {
	switch msg.JobType {
	case JobHistoryRetention:
		_, err := j.PurgeHistory(ctx)
		return err
	case JobHealthCheck:
		result := j.HealthCheck(ctx)
		if result.Failed > 0 {
			return fmt.Errorf("health check failed: %d of %d probes", result.Failed, result.Total)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

// PurgeHistory removes trips older than the retention window.
func (j *Jobs) PurgeHistory(ctx context.Context) (int64, error) {
	if j.history == nil {
		return 0, nil
	}

	start := time.Now()
	n, err := j.history.PurgeExpired(ctx)

	j.mu.Lock()
	j.metrics.RetentionRuns++
	j.metrics.LastRetentionAt = time.Now()
	if err != nil {
		j.metrics.RetentionFailed++
	} else {
		j.metrics.TripsPurged += n
	}
	j.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("purging trip history: %w", err)
	}

	j.logger.Info().
		Int64("purged", n).
		Dur("duration", time.Since(start)).
		Msg("trip history retention completed")
	return n, nil
}

// HealthCheckResult contains the result of a health check run.
type HealthCheckResult struct {
	Duration time.Duration
	Total    int
	Healthy  int
	Failed   int
	Errors   []ProbeError
}

// ProbeError is a failed probe.
type ProbeError struct {
	Probe string
	Error string
}

// HealthCheck runs every probe with bounded concurrency.
func (j *Jobs) HealthCheck(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{Total: len(j.probes)}

	probes := make(chan Probe, len(j.probes))
	results := make(chan *ProbeError, len(j.probes))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range probes {
				results <- j.runProbe(ctx, p)
			}
		}()
	}

	for _, p := range j.probes {
		probes <- p
	}
	close(probes)

	go func() {
		wg.Wait()
		close(results)
	}()

	for perr := range results {
		if perr == nil {
			result.Healthy++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, *perr)
	}
	result.Duration = time.Since(start)

	j.mu.Lock()
	j.metrics.HealthChecks++
	if result.Failed > 0 {
		j.metrics.HealthCheckFails++
	}
	j.metrics.LastHealthAt = time.Now()
	j.mu.Unlock()

	event := j.logger.Info()
	if result.Failed > 0 {
		event = j.logger.Warn()
	}
	event.
		Int("healthy", result.Healthy).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("health check completed")

	return result
}

func (j *Jobs) runProbe(ctx context.Context, p Probe) *ProbeError {
	probeCtx, cancel := context.WithTimeout(ctx, j.config.ProbeTimeout)
	defer cancel()

	if err := p.Check(probeCtx); err != nil {
		j.logger.Warn().Err(err).Str("probe", p.Name).Msg("probe failed")
		return &ProbeError{Probe: p.Name, Error: err.Error()}
	}
	return nil
}

// RunSchedule runs the retention job immediately and then every
// RetentionInterval until ctx is cancelled.
func (j *Jobs) RunSchedule(ctx context.Context) {
	ticker := time.NewTicker(j.config.RetentionInterval)
	defer ticker.Stop()

	for {
		if _, err := j.PurgeHistory(ctx); err != nil {
			j.logger.Error().Err(err).Msg("scheduled retention failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// GetMetrics returns a copy of the current metrics.
func (j *Jobs) GetMetrics() JobMetrics {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.metrics
}
