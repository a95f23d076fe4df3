package engine

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/vine/internal/config"
	"github.com/watzon/vine/internal/database"
)

var (
	testJob     = JobKey{Name: "exportJob", Group: "test-group"}
	testTrigger = TriggerKey{Name: "exportTrigger", Group: "test-group"}
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout:  5 * time.Second,
		ForeignKeys:  true,
		MaxOpenConns: 1,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func startedEngine(t *testing.T, db *database.DB) *Engine {
	t.Helper()

	e := New(db, Options{Workers: 2})
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
	return e
}

func waitFire(t *testing.T, ch <-chan Fire) Fire {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fire")
		return Fire{}
	}
}

func TestEngine_CallsBeforeStartFail(t *testing.T) {
	e := New(testDB(t), Options{})
	ctx := context.Background()

	err := e.EnsureJobRegistered(ctx, testJob, "")
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = e.ScheduleRepeating(ctx, testTrigger, testJob, time.Minute)
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = e.Unschedule(ctx, testTrigger)
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = e.TriggerNow(ctx, testJob)
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = e.TriggerStatus(ctx, testTrigger)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	e := startedEngine(t, testDB(t))
	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.IsStarted())
}

func TestEngine_ScheduleRequiresRegisteredJob(t *testing.T) {
	e := startedEngine(t, testDB(t))
	ctx := context.Background()

	e.Handle(testJob, func(context.Context, Fire) error { return nil })

	_, err := e.ScheduleRepeating(ctx, testTrigger, testJob, time.Hour)
	assert.ErrorIs(t, err, ErrJobNotRegistered)

	_, err = e.TriggerNow(ctx, testJob)
	assert.ErrorIs(t, err, ErrJobNotRegistered)
}

func TestEngine_ScheduleRequiresHandler(t *testing.T) {
	e := startedEngine(t, testDB(t))
	ctx := context.Background()

	require.NoError(t, e.EnsureJobRegistered(ctx, testJob, "export"))

	_, err := e.ScheduleRepeating(ctx, testTrigger, testJob, time.Hour)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestEngine_ScheduleRejectsSubSecondInterval(t *testing.T) {
	e := startedEngine(t, testDB(t))
	ctx := context.Background()

	e.Handle(testJob, func(context.Context, Fire) error { return nil })
	require.NoError(t, e.EnsureJobRegistered(ctx, testJob, "export"))

	_, err := e.ScheduleRepeating(ctx, testTrigger, testJob, 500*time.Millisecond)
	assert.Error(t, err)
}

func TestEngine_ScheduleRepeatingFiresImmediately(t *testing.T) {
	db := testDB(t)
	e := startedEngine(t, db)
	ctx := context.Background()

	fires := make(chan Fire, 4)
	e.Handle(testJob, func(_ context.Context, f Fire) error {
		fires <- f
		return nil
	})
	require.NoError(t, e.EnsureJobRegistered(ctx, testJob, "export"))

	before := time.Now()
	next, err := e.ScheduleRepeating(ctx, testTrigger, testJob, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, before, next, 2*time.Second)

	f := waitFire(t, fires)
	assert.Equal(t, testJob, f.Job)
	assert.Equal(t, testTrigger, f.Trigger)
	assert.False(t, f.Manual)

	require.Eventually(t, func() bool {
		rec, err := e.registry.GetTrigger(ctx, testTrigger)
		return err == nil && rec != nil && rec.FireCount == 1
	}, 5*time.Second, 20*time.Millisecond)

	info, err := e.TriggerStatus(ctx, testTrigger)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, TriggerStateNormal, info.State)
	assert.Equal(t, time.Hour, info.Interval)
	require.NotNil(t, info.NextFireTime)
	assert.True(t, info.NextFireTime.After(before.Add(50*time.Minute)))
	assert.Equal(t, int64(1), info.FireCount)
	assert.NotNil(t, info.LastFireTime)
}

func TestEngine_ScheduleReplacesExistingTrigger(t *testing.T) {
	e := startedEngine(t, testDB(t))
	ctx := context.Background()

	e.Handle(testJob, func(context.Context, Fire) error { return nil })
	require.NoError(t, e.EnsureJobRegistered(ctx, testJob, "export"))

	_, err := e.ScheduleRepeating(ctx, testTrigger, testJob, time.Hour)
	require.NoError(t, err)
	_, err = e.ScheduleRepeating(ctx, testTrigger, testJob, 15*time.Minute)
	require.NoError(t, err)

	assert.Len(t, e.cron.Entries(), 1)

	recs, err := e.registry.ListTriggers(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 15*time.Minute, recs[0].Interval)

	info, err := e.TriggerStatus(ctx, testTrigger)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, info.Interval)
}

func TestEngine_ReplacedTriggerDoesNotOverlapRunningFire(t *testing.T) {
	e := startedEngine(t, testDB(t))
	ctx := context.Background()

	var active, maxActive, fires atomic.Int32
	release := make(chan struct{})
	running := make(chan struct{}, 4)
	e.Handle(testJob, func(context.Context, Fire) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		fires.Add(1)
		running <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, e.EnsureJobRegistered(ctx, testJob, "export"))

	_, err := e.ScheduleRepeating(ctx, testTrigger, testJob, time.Hour)
	require.NoError(t, err)
	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	_, err = e.ScheduleRepeating(ctx, testTrigger, testJob, 2*time.Hour)
	require.NoError(t, err)

	assert.Never(t, func() bool { return maxActive.Load() > 1 }, 300*time.Millisecond, 10*time.Millisecond)

	info, err := e.TriggerStatus(ctx, testTrigger)
	require.NoError(t, err)
	assert.Equal(t, TriggerStateBlocked, info.State)
	assert.Equal(t, 2*time.Hour, info.Interval)

	close(release)

	require.Eventually(t, func() bool {
		info, err := e.TriggerStatus(ctx, testTrigger)
		return err == nil && info.State == TriggerStateNormal
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), fires.Load())
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestEngine_Unschedule(t *testing.T) {
	e := startedEngine(t, testDB(t))
	ctx := context.Background()

	e.Handle(testJob, func(context.Context, Fire) error { return nil })
	require.NoError(t, e.EnsureJobRegistered(ctx, testJob, "export"))
	_, err := e.ScheduleRepeating(ctx, testTrigger, testJob, time.Hour)
	require.NoError(t, err)

	removed, err := e.Unschedule(ctx, testTrigger)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = e.Unschedule(ctx, testTrigger)
	require.NoError(t, err)
	assert.False(t, removed)

	info, err := e.TriggerStatus(ctx, testTrigger)
	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.Equal(t, TriggerStateNone, info.State)
	assert.Empty(t, e.cron.Entries())

	// The job definition survives without a trigger.
	exists, err := e.registry.JobExists(ctx, testJob)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEngine_TriggerNow(t *testing.T) {
	e := startedEngine(t, testDB(t))
	ctx := context.Background()

	fires := make(chan Fire, 1)
	e.Handle(testJob, func(_ context.Context, f Fire) error {
		fires <- f
		return nil
	})
	require.NoError(t, e.EnsureJobRegistered(ctx, testJob, "export"))

	key, err := e.TriggerNow(ctx, testJob)
	require.NoError(t, err)
	assert.Equal(t, ManualTriggerGroup, key.Group)
	assert.Contains(t, key.Name, "manual-")

	f := waitFire(t, fires)
	assert.True(t, f.Manual)
	assert.Equal(t, key, f.Trigger)
}

func TestEngine_TriggerStatusBlockedWhileExecuting(t *testing.T) {
	e := startedEngine(t, testDB(t))
	ctx := context.Background()

	release := make(chan struct{})
	running := make(chan struct{}, 1)
	e.Handle(testJob, func(context.Context, Fire) error {
		running <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, e.EnsureJobRegistered(ctx, testJob, "export"))
	_, err := e.ScheduleRepeating(ctx, testTrigger, testJob, time.Hour)
	require.NoError(t, err)

	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	info, err := e.TriggerStatus(ctx, testTrigger)
	require.NoError(t, err)
	assert.Equal(t, TriggerStateBlocked, info.State)

	close(release)

	require.Eventually(t, func() bool {
		info, err := e.TriggerStatus(ctx, testTrigger)
		return err == nil && info.State == TriggerStateNormal
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEngine_FailuresAndPanicsAreCounted(t *testing.T) {
	e := startedEngine(t, testDB(t))
	ctx := context.Background()

	var calls atomic.Int32
	e.Handle(testJob, func(context.Context, Fire) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return errors.New("processing failed")
	})
	require.NoError(t, e.EnsureJobRegistered(ctx, testJob, "export"))
	_, err := e.ScheduleRepeating(ctx, testTrigger, testJob, time.Hour)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := e.registry.GetTrigger(ctx, testTrigger)
		return err == nil && rec != nil && rec.FailureCount == 1
	}, 5*time.Second, 20*time.Millisecond)

	// The engine keeps working after a panic.
	_, err = e.TriggerNow(ctx, testJob)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 5*time.Second, 20*time.Millisecond)
}

func TestEngine_StartDoesNotRearmPersistedTriggers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	reg := NewRegistry(db)
	require.NoError(t, reg.UpsertJob(ctx, testJob, "export"))
	require.NoError(t, reg.SaveTrigger(ctx, &TriggerRecord{Key: testTrigger, Job: testJob, Interval: time.Minute}))

	e := startedEngine(t, db)

	info, err := e.TriggerStatus(ctx, testTrigger)
	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.Empty(t, e.cron.Entries())

	removed, err := e.Unschedule(ctx, testTrigger)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestEngine_StopWaitsForManualFires(t *testing.T) {
	e := New(testDB(t), Options{})
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	var finished atomic.Bool
	e.Handle(testJob, func(context.Context, Fire) error {
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	require.NoError(t, e.EnsureJobRegistered(ctx, testJob, "export"))
	_, err := e.TriggerNow(ctx, testJob)
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(stopCtx))
	assert.True(t, finished.Load())
	assert.False(t, e.IsStarted())
}

func TestStartNowSchedule(t *testing.T) {
	s := newStartNowSchedule(time.Minute)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, at, s.Next(at))
	assert.Equal(t, at.Add(time.Minute), s.Next(at))
}
