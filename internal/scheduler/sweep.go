package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"github.com/watzon/vine/internal/events"
	"github.com/watzon/vine/internal/executions"
	"github.com/watzon/vine/internal/metrics"
)

// StaleMessage is the error message written on runs closed by the sweep.
const StaleMessage = "stale"

// DefaultStaleThreshold is the age after which a STARTED run is considered abandoned.
const DefaultStaleThreshold = 2 * time.Hour

// Sweep marks every STARTED run older than threshold as FAILED. It does not
// touch the watermark since abandoned runs never set a window end.
func (o *Orchestrator) Sweep(ctx context.Context, threshold time.Duration) ([]*executions.Record, error) {
	if threshold <= 0 {
		return nil, invalidf("threshold must be positive, got %s", threshold)
	}

	now := o.now()
	swept, err := o.history.MarkAbandoned(ctx, now.Add(-threshold), executions.StatusFailed, StaleMessage, now)
	if err != nil {
		return nil, errors.Wrap(err, "sweeping stale runs")
	}

	metrics.RecordSwept(string(executions.StatusFailed), len(swept))
	for _, rec := range swept {
		o.publish(ctx, events.EventTypeExecution, events.ActionSwept, rec)
		log.Warn().
			Int64("execution_id", rec.ID).
			Time("start_time", rec.StartTime).
			Msg("Marked stale run as failed")
	}

	return swept, nil
}

// Sweeper runs Sweep on a fixed interval.
type Sweeper struct {
	orchestrator *Orchestrator
	interval     time.Duration
	threshold    time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewSweeper creates a sweeper. A non-positive threshold uses DefaultStaleThreshold.
func NewSweeper(o *Orchestrator, interval, threshold time.Duration) *Sweeper {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		orchestrator: o,
		interval:     interval,
		threshold:    threshold,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins background sweeping. A non-positive interval disables it.
func (s *Sweeper) Start() {
	if s.interval <= 0 {
		log.Info().Msg("Stale-run sweeper disabled")
		return
	}

	s.wg.Add(1)
	go s.loop()

	log.Info().
		Dur("interval", s.interval).
		Dur("threshold", s.threshold).
		Msg("Stale-run sweeper started")
}

// Stop halts the sweeper and waits for an in-progress sweep.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.orchestrator.Sweep(s.ctx, s.threshold); err != nil {
				log.Error().Err(err).Msg("Failed to sweep stale runs")
			}
		}
	}
}
