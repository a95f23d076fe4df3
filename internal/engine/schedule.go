package engine

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// MinInterval is the smallest repeat interval a trigger accepts.
const MinInterval = time.Second

// startNowSchedule fires at the moment it is armed and then every interval.
// cron only calls Next from its run loop, so no locking is needed.
type startNowSchedule struct {
	every cron.ConstantDelaySchedule
	armed bool
}

func newStartNowSchedule(interval time.Duration) *startNowSchedule {
	return &startNowSchedule{every: cron.Every(interval)}
}

func (s *startNowSchedule) Next(t time.Time) time.Time {
	if !s.armed {
		s.armed = true
		return t
	}
	return s.every.Next(t)
}

func validateInterval(d time.Duration) error {
	if d < MinInterval {
		return errors.Newf("interval must be at least %s, got %s", MinInterval, d)
	}
	return nil
}
