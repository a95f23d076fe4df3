package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/watzon/vine/internal/config"
	"github.com/watzon/vine/internal/database"
	"github.com/watzon/vine/internal/engine"
	"github.com/watzon/vine/internal/events"
	"github.com/watzon/vine/internal/executions"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeEngine runs manual fires synchronously and never fires triggers.
type fakeEngine struct {
	mu            sync.Mutex
	clock         *testClock
	started       bool
	startErr      error
	statusErr     error
	scheduleErr   error
	jobs          map[engine.JobKey]bool
	handlers      map[engine.JobKey]engine.JobFunc
	triggers      map[engine.TriggerKey]time.Duration
	scheduleCalls int
	manualFires   int
}

func newFakeEngine(clock *testClock) *fakeEngine {
	return &fakeEngine{
		clock:    clock,
		jobs:     make(map[engine.JobKey]bool),
		handlers: make(map[engine.JobKey]engine.JobFunc),
		triggers: make(map[engine.TriggerKey]time.Duration),
	}
}

func (f *fakeEngine) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeEngine) Handle(job engine.JobKey, fn engine.JobFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[job] = fn
}

func (f *fakeEngine) EnsureJobRegistered(_ context.Context, job engine.JobKey, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return engine.ErrNotStarted
	}
	f.jobs[job] = true
	return nil
}

func (f *fakeEngine) ScheduleRepeating(_ context.Context, key engine.TriggerKey, job engine.JobKey, interval time.Duration) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return time.Time{}, engine.ErrNotStarted
	}
	if f.scheduleErr != nil {
		return time.Time{}, f.scheduleErr
	}
	if !f.jobs[job] {
		return time.Time{}, engine.ErrJobNotRegistered
	}
	f.scheduleCalls++
	f.triggers[key] = interval
	return f.clock.Now(), nil
}

func (f *fakeEngine) Unschedule(_ context.Context, key engine.TriggerKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return false, engine.ErrNotStarted
	}
	_, ok := f.triggers[key]
	delete(f.triggers, key)
	return ok, nil
}

func (f *fakeEngine) TriggerNow(ctx context.Context, job engine.JobKey) (engine.TriggerKey, error) {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return engine.TriggerKey{}, engine.ErrNotStarted
	}
	fn, bound := f.handlers[job]
	if !f.jobs[job] || !bound {
		f.mu.Unlock()
		return engine.TriggerKey{}, engine.ErrJobNotRegistered
	}
	f.manualFires++
	f.mu.Unlock()

	key := engine.TriggerKey{Name: "manual-test", Group: engine.ManualTriggerGroup}
	_ = fn(ctx, engine.Fire{Job: job, Trigger: key, FiredAt: f.clock.Now(), Manual: true})
	return key, nil
}

func (f *fakeEngine) TriggerStatus(_ context.Context, key engine.TriggerKey) (engine.TriggerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return engine.TriggerInfo{}, f.statusErr
	}
	if !f.started {
		return engine.TriggerInfo{}, engine.ErrNotStarted
	}
	interval, ok := f.triggers[key]
	if !ok {
		return engine.TriggerInfo{State: engine.TriggerStateNone}, nil
	}
	next := f.clock.Now().Add(interval)
	return engine.TriggerInfo{
		Exists:       true,
		State:        engine.TriggerStateNormal,
		Interval:     interval,
		NextFireTime: &next,
	}, nil
}

func (f *fakeEngine) triggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}

type window struct {
	from, to time.Time
}

// fakeProcessor records every window it is asked to process.
type fakeProcessor struct {
	mu      sync.Mutex
	windows []window
	count   int64
	err     error
	panics  bool
	advance time.Duration
	clock   *testClock
	// during runs once, inside the next Process call.
	during func()
}

func (p *fakeProcessor) Process(_ context.Context, from, to time.Time) (int64, error) {
	p.mu.Lock()
	during := p.during
	p.during = nil
	p.mu.Unlock()
	if during != nil {
		during()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.windows = append(p.windows, window{from: from, to: to})
	if p.advance > 0 && p.clock != nil {
		p.clock.Advance(p.advance)
	}
	if p.panics {
		panic("processor exploded")
	}
	return p.count, p.err
}

func (p *fakeProcessor) calls() []window {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]window(nil), p.windows...)
}

// failingHistory wraps a real store and fails selected operations.
type failingHistory struct {
	HistoryStore
	failCreate bool
	failStats  bool
}

var errHistoryDown = errors.New("history store unavailable")

func (h *failingHistory) Create(ctx context.Context, rec *executions.Record) (int64, error) {
	if h.failCreate {
		return 0, errHistoryDown
	}
	return h.HistoryStore.Create(ctx, rec)
}

func (h *failingHistory) Stats(ctx context.Context, job, group string) (*executions.Stats, error) {
	if h.failStats {
		return nil, errHistoryDown
	}
	return h.HistoryStore.Stats(ctx, job, group)
}

type harness struct {
	db        *database.DB
	clock     *testClock
	engine    *fakeEngine
	processor *fakeProcessor
	configs   *ConfigStore
	history   *executions.Store
	bus       *events.EventBus
	orch      *Orchestrator
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	db := testDB(t)
	clock := newTestClock()
	h := &harness{
		db:        db,
		clock:     clock,
		engine:    newFakeEngine(clock),
		processor: &fakeProcessor{clock: clock},
		configs:   NewConfigStore(db),
		history:   executions.NewStore(db),
		bus:       events.NewEventBus(16),
	}
	opts.Now = clock.Now
	h.orch = New(h.configs, h.history, h.engine, h.processor, h.bus, opts)
	return h
}

func (h *harness) initialize(t *testing.T) {
	t.Helper()
	require.NoError(t, h.orch.Initialize(context.Background()))
}

func (h *harness) config(t *testing.T) *Config {
	t.Helper()
	cfg, err := h.configs.Get(context.Background(), ConfigName)
	require.NoError(t, err)
	return cfg
}

func (h *harness) records(t *testing.T) []*executions.Record {
	t.Helper()
	recs, _, err := h.history.List(context.Background(), executions.Filter{JobName: JobName, JobGroup: JobGroup})
	require.NoError(t, err)
	return recs
}
