package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/watzon/vine/internal/database"
	"github.com/watzon/vine/internal/metrics"
)

const defaultWorkers = 10

// Engine runs repeating triggers on robfig/cron and persists job and
// trigger definitions in a Registry.
type Engine struct {
	cron     *cron.Cron
	logger   cronLogger
	registry *Registry
	sem      *semaphore.Weighted
	now      func() time.Time

	mu       sync.Mutex
	started  bool
	runCtx   context.Context
	handlers map[JobKey]JobFunc
	triggers map[TriggerKey]*trigger
	guards   map[TriggerKey]*runGuard

	manual sync.WaitGroup
}

type trigger struct {
	id       cron.EntryID
	job      JobKey
	interval time.Duration
	guard    *runGuard
}

// runGuard outlives the triggers armed under one key, so a replacement
// trigger never fires while the trigger it replaced is still running.
type runGuard struct {
	running atomic.Bool
}

// New creates an engine backed by db. It does nothing until Start.
func New(db *database.DB, opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	logger := newCronLogger()
	return &Engine{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		logger:   logger,
		registry: NewRegistry(db),
		sem:      semaphore.NewWeighted(int64(workers)),
		now:      now,
		runCtx:   context.Background(),
		handlers: make(map[JobKey]JobFunc),
		triggers: make(map[TriggerKey]*trigger),
		guards:   make(map[TriggerKey]*runGuard),
	}
}

// Start begins firing triggers. Calling Start on a started engine is a no-op.
// Triggers persisted by an earlier process are reported but not re-armed.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	leftovers, err := e.registry.ListTriggers(ctx)
	if err != nil {
		return errors.Wrap(err, "loading persisted triggers")
	}
	for _, rec := range leftovers {
		if _, armed := e.triggers[rec.Key]; armed {
			continue
		}
		log.Warn().
			Str("trigger_name", rec.Key.Name).
			Str("trigger_group", rec.Key.Group).
			Str("job_name", rec.Job.Name).
			Msg("Found trigger from previous process, not re-arming")
	}

	e.runCtx = context.WithoutCancel(ctx)
	e.cron.Start()
	e.started = true

	log.Info().Msg("Scheduling engine started")
	return nil
}

// Stop halts firing and waits for running jobs, or until ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cronDone := e.cron.Stop()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		e.manual.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Scheduling engine stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for running jobs")
	}
}

// IsStarted reports whether Start has been called without a later Stop.
func (e *Engine) IsStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Handle binds fn to job. Binding is in memory and replaces any earlier one.
func (e *Engine) Handle(job JobKey, fn JobFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[job] = fn
}

// EnsureJobRegistered stores a durable definition for job. It is idempotent.
func (e *Engine) EnsureJobRegistered(ctx context.Context, job JobKey, description string) error {
	if !e.IsStarted() {
		return ErrNotStarted
	}
	if err := e.registry.UpsertJob(ctx, job, description); err != nil {
		return err
	}
	log.Debug().Str("job_name", job.Name).Str("job_group", job.Group).Msg("Job registered")
	return nil
}

// ScheduleRepeating arms a trigger that fires job immediately and then every
// interval. An existing trigger with the same key is replaced. It returns the
// next fire time reported by the engine.
func (e *Engine) ScheduleRepeating(ctx context.Context, key TriggerKey, job JobKey, interval time.Duration) (time.Time, error) {
	if !e.IsStarted() {
		return time.Time{}, ErrNotStarted
	}
	if err := validateInterval(interval); err != nil {
		return time.Time{}, err
	}
	if err := e.checkJob(ctx, job); err != nil {
		return time.Time{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.triggers[key]; ok {
		e.cron.Remove(old.id)
		delete(e.triggers, key)
	}

	now := e.now().UTC()
	if err := e.registry.SaveTrigger(ctx, &TriggerRecord{
		Key:        key,
		Job:        job,
		Interval:   interval,
		NextFireAt: &now,
	}); err != nil {
		e.publishTriggerCount()
		return time.Time{}, err
	}

	guard, ok := e.guards[key]
	if !ok {
		guard = &runGuard{}
		e.guards[key] = guard
	}
	t := &trigger{job: job, interval: interval, guard: guard}
	t.id = e.cron.Schedule(newStartNowSchedule(interval), cron.FuncJob(func() {
		e.fire(t, key)
	}))
	e.triggers[key] = t
	e.publishTriggerCount()

	next := e.cron.Entry(t.id).Next

	log.Info().
		Str("trigger_name", key.Name).
		Str("job_name", job.Name).
		Dur("interval", interval).
		Time("next_fire_time", next).
		Msg("Trigger scheduled")

	return next, nil
}

// Unschedule removes a trigger. It reports whether anything was removed and
// is a no-op when the trigger does not exist.
func (e *Engine) Unschedule(ctx context.Context, key TriggerKey) (bool, error) {
	if !e.IsStarted() {
		return false, ErrNotStarted
	}

	e.mu.Lock()
	t, armed := e.triggers[key]
	if armed {
		e.cron.Remove(t.id)
		delete(e.triggers, key)
	}
	e.publishTriggerCount()
	e.mu.Unlock()

	stored, err := e.registry.DeleteTrigger(ctx, key)
	if err != nil {
		return armed, err
	}

	if armed || stored {
		log.Info().Str("trigger_name", key.Name).Str("trigger_group", key.Group).Msg("Trigger removed")
	}
	return armed || stored, nil
}

// TriggerNow fires job once on a worker, independently of its triggers.
func (e *Engine) TriggerNow(ctx context.Context, job JobKey) (TriggerKey, error) {
	if !e.IsStarted() {
		return TriggerKey{}, ErrNotStarted
	}
	if err := e.checkJob(ctx, job); err != nil {
		return TriggerKey{}, err
	}

	key := TriggerKey{Name: "manual-" + uuid.New().String(), Group: ManualTriggerGroup}

	e.manual.Add(1)
	go func() {
		defer e.manual.Done()
		e.execute(job, key, true)
	}()

	log.Info().Str("job_name", job.Name).Str("trigger_name", key.Name).Msg("Job triggered manually")
	return key, nil
}

// TriggerStatus reports the state of a trigger. A missing trigger yields
// Exists=false and state NONE.
func (e *Engine) TriggerStatus(ctx context.Context, key TriggerKey) (TriggerInfo, error) {
	if !e.IsStarted() {
		return TriggerInfo{}, ErrNotStarted
	}

	e.mu.Lock()
	t, ok := e.triggers[key]
	e.mu.Unlock()
	if !ok {
		return TriggerInfo{State: TriggerStateNone}, nil
	}

	entry := e.cron.Entry(t.id)
	if !entry.Valid() {
		return TriggerInfo{State: TriggerStateNone}, nil
	}

	info := TriggerInfo{
		Exists:   true,
		State:    TriggerStateNormal,
		Interval: t.interval,
	}
	if t.guard.running.Load() {
		info.State = TriggerStateBlocked
	}
	if !entry.Next.IsZero() {
		next := entry.Next
		info.NextFireTime = &next
	}

	rec, err := e.registry.GetTrigger(ctx, key)
	if err != nil {
		return info, err
	}
	if rec != nil {
		info.LastFireTime = rec.LastFireAt
		info.FireCount = rec.FireCount
	}

	return info, nil
}

func (e *Engine) checkJob(ctx context.Context, job JobKey) error {
	exists, err := e.registry.JobExists(ctx, job)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrapf(ErrJobNotRegistered, "job %s", job)
	}

	e.mu.Lock()
	_, bound := e.handlers[job]
	e.mu.Unlock()
	if !bound {
		return errors.Wrapf(ErrNoHandler, "job %s", job)
	}
	return nil
}

func (e *Engine) fire(t *trigger, key TriggerKey) {
	if !t.guard.running.CompareAndSwap(false, true) {
		log.Debug().Str("trigger_name", key.Name).Msg("Skipping fire, previous fire still running")
		return
	}
	defer t.guard.running.Store(false)

	firedAt, err := e.execute(t.job, key, false)
	if firedAt.IsZero() {
		return
	}

	var next *time.Time
	if entry := e.cron.Entry(t.id); entry.Valid() && !entry.Next.IsZero() {
		n := entry.Next
		next = &n
	}
	if recErr := e.registry.RecordFire(e.context(), key, firedAt, next, err != nil); recErr != nil {
		log.Error().Err(recErr).Str("trigger_name", key.Name).Msg("Failed to record trigger fire")
	}
}

// execute runs the job's handler on a worker slot. It returns the fire time
// (zero when the job never ran) and the handler's error.
func (e *Engine) execute(job JobKey, key TriggerKey, manual bool) (time.Time, error) {
	ctx := e.context()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		log.Error().Err(err).Str("job_name", job.Name).Msg("Failed to acquire worker")
		return time.Time{}, err
	}
	defer e.sem.Release(1)

	e.mu.Lock()
	fn := e.handlers[job]
	e.mu.Unlock()
	if fn == nil {
		log.Error().Str("job_name", job.Name).Msg("Job fired without a handler")
		return time.Time{}, ErrNoHandler
	}

	fire := Fire{Job: job, Trigger: key, FiredAt: e.now().UTC(), Manual: manual}
	started := time.Now()
	err := invoke(ctx, fn, fire)

	kind := "scheduled"
	if manual {
		kind = "manual"
	}
	metrics.RecordEngineFire(job.Name, kind, err != nil)

	if err != nil {
		log.Error().
			Err(err).
			Str("job_name", job.Name).
			Str("trigger_name", key.Name).
			Dur("duration", time.Since(started)).
			Msg("Job failed")
	} else {
		log.Debug().
			Str("job_name", job.Name).
			Str("trigger_name", key.Name).
			Dur("duration", time.Since(started)).
			Msg("Job finished")
	}

	return fire.FiredAt, err
}

func (e *Engine) context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCtx
}

// publishTriggerCount must be called with e.mu held.
func (e *Engine) publishTriggerCount() {
	metrics.SetActiveTriggers(len(e.triggers))
}

func invoke(ctx context.Context, fn JobFunc, fire Fire) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job panicked: %s", fmt.Sprint(r))
		}
	}()
	return fn(ctx, fire)
}
