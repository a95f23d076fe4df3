package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"github.com/watzon/vine/internal/config"
	"github.com/watzon/vine/internal/engine"
	"github.com/watzon/vine/internal/events"
	"github.com/watzon/vine/internal/executions"
	"github.com/watzon/vine/internal/metrics"
	"github.com/watzon/vine/internal/requestctx"
)

const (
	defaultIntervalMinutes = 30
	maxIntervalMinutes     = 1440
	defaultLookback        = 30 * 24 * time.Hour

	maxHistorySize = 100
	maxLatestLimit = 50

	restartMessage = "interrupted by process restart"
	jobDescription = "Exports bookings changed since the last watermark"
)

// Options configures an Orchestrator.
type Options struct {
	DefaultIntervalMinutes int
	MaxIntervalMinutes     int
	InitialLookback        time.Duration
	// ResumeOnStartup re-arms a schedule that was enabled before a restart.
	// When false Initialize always leaves the schedule stopped.
	ResumeOnStartup bool
	Now             func() time.Time
}

// OptionsFromConfig maps the scheduler section of the config file.
func OptionsFromConfig(cfg *config.SchedulerConfig) Options {
	return Options{
		DefaultIntervalMinutes: cfg.DefaultIntervalMinutes,
		MaxIntervalMinutes:     cfg.MaxIntervalMinutes,
		InitialLookback:        cfg.InitialLookback,
		ResumeOnStartup:        cfg.ResumeOnStartup,
	}
}

// Orchestrator owns the lifecycle of the recurring booking job.
type Orchestrator struct {
	configs   *ConfigStore
	history   HistoryStore
	engine    Engine
	processor Processor
	bus       *events.EventBus
	opts      Options
	now       func() time.Time

	job     engine.JobKey
	trigger engine.TriggerKey

	// lifecycle serializes Start, Stop and Reconfigure. Status never takes it.
	lifecycle   sync.Mutex
	initialized atomic.Bool
}

// New wires an orchestrator. eng and bus may be nil; calls that need the
// engine then fail with ErrEngineUnavailable.
func New(configs *ConfigStore, history HistoryStore, eng Engine, proc Processor, bus *events.EventBus, opts Options) *Orchestrator {
	if opts.DefaultIntervalMinutes <= 0 {
		opts.DefaultIntervalMinutes = defaultIntervalMinutes
	}
	if opts.MaxIntervalMinutes <= 0 {
		opts.MaxIntervalMinutes = maxIntervalMinutes
	}
	if opts.InitialLookback <= 0 {
		opts.InitialLookback = defaultLookback
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		configs:   configs,
		history:   history,
		engine:    eng,
		processor: proc,
		bus:       bus,
		opts:      opts,
		now:       func() time.Time { return now().UTC() },
		job:       engine.JobKey{Name: JobName, Group: JobGroup},
		trigger:   engine.TriggerKey{Name: TriggerName, Group: TriggerGroup},
	}
}

// Initialize prepares the schedule at process start. It creates the
// configuration if needed, forces it to stopped, starts the engine, removes
// any trigger left by a previous process, registers the job and closes runs
// the previous process left in STARTED.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.lifecycle.Lock()

	bootTime := o.now()

	cfg, err := o.ensureConfig(ctx, bootTime)
	if err != nil {
		o.lifecycle.Unlock()
		return err
	}
	wasEnabled, previousInterval := cfg.Enabled, cfg.IntervalMinutes

	if _, err := o.configs.Update(ctx, ConfigName, func(c *Config) error {
		c.Enabled = false
		c.NextRunTime = nil
		return nil
	}); err != nil {
		o.lifecycle.Unlock()
		return errors.Wrap(err, "resetting scheduler config")
	}
	metrics.SetSchedulerEnabled(false)

	if err := o.registerJob(ctx); err != nil {
		o.lifecycle.Unlock()
		return err
	}

	o.closeInterrupted(ctx, bootTime)
	o.initialized.Store(true)
	o.lifecycle.Unlock()

	log.Info().
		Bool("was_enabled", wasEnabled).
		Int("interval_minutes", previousInterval).
		Bool("resume_on_startup", o.opts.ResumeOnStartup).
		Msg("Scheduler initialized")

	if o.opts.ResumeOnStartup && wasEnabled {
		if _, err := o.Start(ctx, previousInterval); err != nil {
			return errors.Wrap(err, "resuming schedule")
		}
	}

	return nil
}

func (o *Orchestrator) ensureConfig(ctx context.Context, now time.Time) (*Config, error) {
	cfg, err := o.configs.Get(ctx, ConfigName)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, ErrConfigNotFound) {
		return nil, err
	}

	watermark := now.Add(-o.opts.InitialLookback)
	cfg = &Config{
		Name:            ConfigName,
		Enabled:         false,
		IntervalMinutes: o.opts.DefaultIntervalMinutes,
		StartFromTime:   &watermark,
	}
	if err := o.configs.Create(ctx, cfg); err != nil {
		if errors.Is(err, ErrConfigExists) {
			return o.configs.Get(ctx, ConfigName)
		}
		return nil, errors.Wrap(err, "creating scheduler config")
	}

	log.Info().
		Int("interval_minutes", cfg.IntervalMinutes).
		Time("start_from_time", watermark).
		Msg("Created scheduler config")

	return cfg, nil
}

func (o *Orchestrator) registerJob(ctx context.Context) error {
	if o.engine == nil {
		return errors.WithStack(ErrEngineUnavailable)
	}
	if err := o.engine.Start(ctx); err != nil {
		return errors.Mark(errors.Wrap(err, "starting scheduling engine"), ErrEngineUnavailable)
	}
	if _, err := o.engine.Unschedule(ctx, o.trigger); err != nil {
		return errors.Wrap(mapEngineError(err), "removing stale trigger")
	}

	o.engine.Handle(o.job, func(ctx context.Context, fire engine.Fire) error {
		return o.OnRun(ctx, fire.Trigger.Name, fire.Trigger.Group)
	})
	if err := o.engine.EnsureJobRegistered(ctx, o.job, jobDescription); err != nil {
		return errors.Wrap(mapEngineError(err), "registering job")
	}
	return nil
}

func (o *Orchestrator) closeInterrupted(ctx context.Context, bootTime time.Time) {
	closed, err := o.history.MarkAbandoned(ctx, bootTime, executions.StatusInterrupted, restartMessage, o.now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to close runs interrupted by restart")
		return
	}
	if len(closed) == 0 {
		return
	}

	metrics.RecordSwept(string(executions.StatusInterrupted), len(closed))
	for _, rec := range closed {
		o.publish(ctx, events.EventTypeExecution, events.ActionInterrupted, rec)
	}
	log.Warn().Int("count", len(closed)).Msg("Marked runs interrupted by restart")
}

// Start arms the repeating trigger. Starting a running schedule with the
// same interval is a no-op; a different interval replaces the trigger.
func (o *Orchestrator) Start(ctx context.Context, intervalMinutes int) (*StatusView, error) {
	if err := o.validateInterval(intervalMinutes); err != nil {
		return nil, err
	}

	o.lifecycle.Lock()
	err := o.start(ctx, intervalMinutes)
	o.lifecycle.Unlock()
	if err != nil {
		return nil, err
	}

	return o.Status(ctx)
}

// start must be called with o.lifecycle held.
func (o *Orchestrator) start(ctx context.Context, intervalMinutes int) error {
	if o.engine == nil {
		return errors.WithStack(ErrEngineUnavailable)
	}

	interval := time.Duration(intervalMinutes) * time.Minute

	info, err := o.engine.TriggerStatus(ctx, o.trigger)
	if err != nil {
		return errors.Wrap(mapEngineError(err), "checking trigger")
	}
	cfg, err := o.configs.Get(ctx, ConfigName)
	if err != nil {
		return err
	}
	if info.Exists && cfg.Enabled && info.Interval == interval {
		log.Debug().Int("interval_minutes", intervalMinutes).Msg("Scheduler already running")
		return nil
	}

	if err := o.engine.EnsureJobRegistered(ctx, o.job, jobDescription); err != nil {
		return errors.Wrap(mapEngineError(err), "registering job")
	}
	next, err := o.engine.ScheduleRepeating(ctx, o.trigger, o.job, interval)
	if err != nil {
		return errors.Wrap(mapEngineError(err), "scheduling trigger")
	}

	now := o.now()
	if _, err := o.configs.Update(ctx, ConfigName, func(c *Config) error {
		c.Enabled = true
		c.IntervalMinutes = intervalMinutes
		c.LastStartTime = &now
		c.LastStopTime = nil
		c.NextRunTime = &next
		return nil
	}); err != nil {
		if _, unErr := o.engine.Unschedule(ctx, o.trigger); unErr != nil {
			log.Error().Err(unErr).Msg("Failed to remove trigger after config write failed")
		}
		return errors.Wrap(err, "saving scheduler config")
	}

	metrics.SetSchedulerEnabled(true)
	o.publish(ctx, events.EventTypeScheduler, events.ActionStarted, map[string]any{
		"intervalMinutes": intervalMinutes,
		"nextRunTime":     next,
	})
	requestctx.Logger(ctx).Info().
		Int("interval_minutes", intervalMinutes).
		Time("next_run_time", next).
		Msg("Scheduler started")

	return nil
}

// Stop removes the repeating trigger. Stopping a stopped schedule is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) (*StatusView, error) {
	o.lifecycle.Lock()
	err := o.stop(ctx)
	o.lifecycle.Unlock()
	if err != nil {
		return nil, err
	}

	return o.Status(ctx)
}

// stop must be called with o.lifecycle held.
func (o *Orchestrator) stop(ctx context.Context) error {
	if o.engine == nil {
		return errors.WithStack(ErrEngineUnavailable)
	}

	removed, err := o.engine.Unschedule(ctx, o.trigger)
	if err != nil {
		return errors.Wrap(mapEngineError(err), "removing trigger")
	}

	cfg, err := o.configs.Get(ctx, ConfigName)
	if err != nil {
		return err
	}
	if !removed && !cfg.Enabled && cfg.NextRunTime == nil {
		log.Debug().Msg("Scheduler already stopped")
		return nil
	}

	now := o.now()
	if _, err := o.configs.Update(ctx, ConfigName, func(c *Config) error {
		c.Enabled = false
		c.LastStopTime = &now
		c.NextRunTime = nil
		return nil
	}); err != nil {
		return errors.Wrap(err, "saving scheduler config")
	}

	metrics.SetSchedulerEnabled(false)
	o.publish(ctx, events.EventTypeScheduler, events.ActionStopped, nil)
	requestctx.Logger(ctx).Info().Msg("Scheduler stopped")

	return nil
}

// Reconfigure stores a new interval and optional watermark override, then
// starts or stops the schedule according to req.Enabled.
func (o *Orchestrator) Reconfigure(ctx context.Context, req ReconfigureRequest) (*StatusView, error) {
	if err := o.validateInterval(req.IntervalMinutes); err != nil {
		return nil, err
	}

	o.lifecycle.Lock()
	err := o.reconfigure(ctx, req)
	o.lifecycle.Unlock()
	if err != nil {
		return nil, err
	}

	return o.Status(ctx)
}

func (o *Orchestrator) reconfigure(ctx context.Context, req ReconfigureRequest) error {
	now := o.now()
	if _, err := o.configs.Update(ctx, ConfigName, func(c *Config) error {
		c.IntervalMinutes = req.IntervalMinutes
		if req.StartFromTime != nil {
			watermark := req.StartFromTime.UTC()
			c.StartFromTime = &watermark
			c.StartFromSetAt = &now
		}
		return nil
	}); err != nil {
		return errors.Wrap(err, "saving scheduler config")
	}

	if req.StartFromTime != nil {
		requestctx.Logger(ctx).Info().Time("start_from_time", *req.StartFromTime).Msg("Watermark overridden")
	}

	var err error
	if req.Enabled {
		err = o.start(ctx, req.IntervalMinutes)
	} else {
		err = o.stop(ctx)
	}
	if err != nil {
		return err
	}

	o.publish(ctx, events.EventTypeScheduler, events.ActionReconfigured, map[string]any{
		"enabled":         req.Enabled,
		"intervalMinutes": req.IntervalMinutes,
		"startFromTime":   req.StartFromTime,
	})
	return nil
}

// Status reports the reconciled state. Engine and history failures degrade
// single fields instead of failing the call.
func (o *Orchestrator) Status(ctx context.Context) (*StatusView, error) {
	cfg, err := o.configs.Get(ctx, ConfigName)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		JobName:         JobName,
		JobGroup:        JobGroup,
		Enabled:         cfg.Enabled,
		IntervalMinutes: cfg.IntervalMinutes,
		LastStartTime:   cfg.LastStartTime,
		LastStopTime:    cfg.LastStopTime,
		LastRunTime:     cfg.LastRunTime,
		NextRunTime:     cfg.NextRunTime,
		StartFromTime:   cfg.StartFromTime,
	}

	engineErr := o.inspectTrigger(ctx, view)

	switch {
	case engineErr != nil:
		view.Status = StateError
	case view.Running && cfg.Enabled:
		view.Status = StateRunning
	case !view.Running && !cfg.Enabled:
		view.Status = StateStopped
	default:
		view.Status = StateInconsistent
	}

	if stats, err := o.history.Stats(ctx, JobName, JobGroup); err != nil {
		log.Warn().Err(err).Msg("Failed to load execution stats")
	} else {
		view.TotalExecutions = stats.Total
		view.SuccessfulExecutions = stats.Successful
		view.FailedExecutions = stats.Failed
		view.RunningExecutions = stats.Running
		view.LastSuccessfulRun = stats.LastSuccessfulRun
		view.LastErrorMessage = stats.LastErrorMessage
	}

	window := o.watermarkFrom(ctx, cfg)
	view.NextWindowStart = &window

	return view, nil
}

func (o *Orchestrator) inspectTrigger(ctx context.Context, view *StatusView) error {
	if o.engine == nil {
		view.TriggerState = string(StateError)
		return ErrEngineUnavailable
	}

	info, err := o.engine.TriggerStatus(ctx, o.trigger)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to query trigger state")
		view.TriggerState = string(StateError)
		return err
	}

	view.Running = info.Exists
	view.TriggerState = string(info.State)
	view.NextFireTime = info.NextFireTime
	if info.Exists && info.NextFireTime != nil {
		view.NextRunTime = info.NextFireTime
	}
	return nil
}

// TriggerNow fires the job once, whether or not the schedule is running.
func (o *Orchestrator) TriggerNow(ctx context.Context) error {
	if !o.initialized.Load() {
		return errors.Wrap(ErrNotRegistered, "scheduler not initialized")
	}
	if o.engine == nil {
		return errors.WithStack(ErrEngineUnavailable)
	}

	if err := o.engine.EnsureJobRegistered(ctx, o.job, jobDescription); err != nil {
		return errors.Wrap(mapEngineError(err), "registering job")
	}
	key, err := o.engine.TriggerNow(ctx, o.job)
	if err != nil {
		return errors.Wrap(mapEngineError(err), "triggering job")
	}

	o.publish(ctx, events.EventTypeScheduler, events.ActionTriggered, map[string]any{
		"triggerName":  key.Name,
		"triggerGroup": key.Group,
	})
	return nil
}

// History returns one page of executions. days, when set, limits the page to
// runs started within the last days days.
func (o *Orchestrator) History(ctx context.Context, page, size int, days *int) (*HistoryPage, error) {
	if page < 0 {
		return nil, invalidf("page must be >= 0, got %d", page)
	}
	if size < 1 || size > maxHistorySize {
		return nil, invalidf("size must be between 1 and %d, got %d", maxHistorySize, size)
	}

	filter := executions.Filter{
		JobName:  JobName,
		JobGroup: JobGroup,
		Limit:    size,
		Offset:   page * size,
	}
	if days != nil {
		if *days < 1 {
			return nil, invalidf("days must be >= 1, got %d", *days)
		}
		since := o.now().AddDate(0, 0, -*days)
		filter.Since = &since
	}

	records, total, err := o.history.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "listing execution history")
	}
	if records == nil {
		records = []*executions.Record{}
	}

	return &HistoryPage{
		Executions: records,
		TotalCount: total,
		Page:       page,
		Size:       size,
	}, nil
}

// Latest returns the most recent limit executions as a single page.
func (o *Orchestrator) Latest(ctx context.Context, limit int) (*HistoryPage, error) {
	if limit < 1 || limit > maxLatestLimit {
		return nil, invalidf("limit must be between 1 and %d, got %d", maxLatestLimit, limit)
	}

	records, total, err := o.history.List(ctx, executions.Filter{
		JobName:  JobName,
		JobGroup: JobGroup,
		Limit:    limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing latest executions")
	}
	if records == nil {
		records = []*executions.Record{}
	}
	return &HistoryPage{
		Executions: records,
		TotalCount: total,
		Page:       0,
		Size:       limit,
	}, nil
}

// MaxIntervalMinutes is the largest accepted interval.
func (o *Orchestrator) MaxIntervalMinutes() int {
	return o.opts.MaxIntervalMinutes
}

func (o *Orchestrator) validateInterval(minutes int) error {
	if minutes < 1 || minutes > o.opts.MaxIntervalMinutes {
		return invalidf("intervalMinutes must be between 1 and %d, got %d", o.opts.MaxIntervalMinutes, minutes)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, typ events.EventType, action string, payload any) {
	if o.bus == nil {
		return
	}
	source := ConfigName
	if typ == events.EventTypeExecution {
		source = JobName
	}
	if err := o.bus.Publish(ctx, &events.Event{
		Type:    typ,
		Source:  source,
		Action:  action,
		Payload: payload,
	}); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("Event handler failed")
	}
}
