package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"github.com/watzon/vine/internal/events"
	"github.com/watzon/vine/internal/executions"
	"github.com/watzon/vine/internal/metrics"
)

// OnRun is invoked by the engine on every fire, scheduled or manual. It
// records the attempt, processes the window starting at the watermark and
// records the outcome. History and config write failures are logged and never
// abort the run. A processor failure is returned marked ErrProcessorFailure.
func (o *Orchestrator) OnRun(ctx context.Context, triggerName, triggerGroup string) error {
	startTime := o.now()

	id, err := o.history.Create(ctx, &executions.Record{
		JobName:      JobName,
		JobGroup:     JobGroup,
		TriggerName:  triggerName,
		TriggerGroup: triggerGroup,
		StartTime:    startTime,
		Status:       executions.StatusStarted,
	})
	if err != nil {
		log.Error().Err(err).Str("trigger_name", triggerName).Msg("Failed to record job start")
		id = 0
	}

	from := o.watermark(ctx)
	to := o.now()

	logger := log.With().
		Int64("execution_id", id).
		Str("trigger_name", triggerName).
		Time("process_from_time", from).
		Time("process_to_time", to).
		Logger()
	logger.Info().Msg("Processing bookings")

	count, procErr := o.process(ctx, from, to)
	endTime := o.now()
	duration := endTime.Sub(startTime)

	if procErr != nil {
		if _, err := o.history.Update(ctx, id, func(r *executions.Record) {
			r.Status = executions.StatusFailed
			r.EndTime = &endTime
			r.ErrorMessage = procErr.Error()
			r.ProcessFromTime = &from
		}); err != nil {
			logger.Error().Err(err).Msg("Failed to record job failure")
		}

		metrics.RecordRun(string(executions.StatusFailed), duration, 0)
		o.publish(ctx, events.EventTypeExecution, events.ActionFailed, map[string]any{
			"executionId":  id,
			"triggerName":  triggerName,
			"errorMessage": procErr.Error(),
		})
		logger.Error().Err(procErr).Dur("duration", duration).Msg("Booking processing failed")

		return errors.Mark(errors.Wrap(procErr, "processing bookings"), ErrProcessorFailure)
	}

	if _, err := o.history.Update(ctx, id, func(r *executions.Record) {
		r.Status = executions.StatusCompleted
		r.EndTime = &endTime
		r.RecordsProcessed = &count
		r.ProcessFromTime = &from
		r.ProcessToTime = &to
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to record job completion")
	}

	if _, err := o.configs.Update(ctx, ConfigName, func(c *Config) error {
		c.LastRunTime = &endTime
		return nil
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to update last run time")
	}

	metrics.RecordRun(string(executions.StatusCompleted), duration, count)
	o.publish(ctx, events.EventTypeExecution, events.ActionCompleted, map[string]any{
		"executionId":      id,
		"triggerName":      triggerName,
		"recordsProcessed": count,
		"processFromTime":  from,
		"processToTime":    to,
	})
	logger.Info().
		Int64("records_processed", count).
		Dur("duration", duration).
		Msg("Booking processing completed")

	return nil
}

func (o *Orchestrator) process(ctx context.Context, from, to time.Time) (count int64, err error) {
	if o.processor == nil {
		return 0, errors.New("no processor configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("processor panicked: %s", fmt.Sprint(r))
		}
	}()
	return o.processor.Process(ctx, from, to)
}

// watermark returns the start of the next processing window.
func (o *Orchestrator) watermark(ctx context.Context) time.Time {
	cfg, err := o.configs.Get(ctx, ConfigName)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read scheduler config for watermark")
		cfg = nil
	}
	return o.watermarkFrom(ctx, cfg)
}

// watermarkFrom derives the watermark: the end of the last completed window,
// else the configured start time, else now minus the initial lookback. An
// administrative override wins over the last completed window unless that
// run started after the override was recorded.
func (o *Orchestrator) watermarkFrom(ctx context.Context, cfg *Config) time.Time {
	last, err := o.history.LastCompleted(ctx, JobName, JobGroup)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read last completed run for watermark")
		last = nil
	}

	var configured *time.Time
	var setAt *time.Time
	if cfg != nil {
		configured, setAt = cfg.StartFromTime, cfg.StartFromSetAt
	}

	if last != nil && last.ProcessToTime != nil {
		overridden := configured != nil && setAt != nil && !setAt.Before(last.StartTime)
		if !overridden {
			return *last.ProcessToTime
		}
	}
	if configured != nil {
		return *configured
	}
	return o.now().Add(-o.opts.InitialLookback)
}
