package scheduler

import (
	"github.com/cockroachdb/errors"

	"github.com/watzon/vine/internal/engine"
)

var (
	// ErrInvalidArgument is returned before any mutation when an input is out of range.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConfigNotFound means the configuration row is missing, which only
	// happens when Initialize was skipped.
	ErrConfigNotFound = errors.New("scheduler configuration not found")
	// ErrConfigExists is returned by ConfigStore.Create for a duplicate name.
	ErrConfigExists = errors.New("scheduler configuration already exists")
	// ErrEngineUnavailable means the scheduling engine is absent or not started.
	ErrEngineUnavailable = errors.New("scheduling engine unavailable")
	// ErrNotRegistered means the job has no durable definition in the engine.
	ErrNotRegistered = errors.New("job not registered")
	// ErrProcessorFailure marks a failed processing run.
	ErrProcessorFailure = errors.New("processor failure")
)

func invalidf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidArgument)
}

// mapEngineError translates engine sentinels into orchestrator error kinds.
func mapEngineError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrNotStarted):
		return errors.Mark(err, ErrEngineUnavailable)
	case errors.Is(err, engine.ErrJobNotRegistered), errors.Is(err, engine.ErrNoHandler):
		return errors.Mark(err, ErrNotRegistered)
	default:
		return err
	}
}
