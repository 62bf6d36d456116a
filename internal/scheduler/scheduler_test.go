package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTask struct {
	name    string
	runs    atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
	hold    time.Duration
	panics  bool
}

func (c *countingTask) Name() string { return c.name }

func (c *countingTask) Run(ctx context.Context) {
	if c.active.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.active.Add(-1)
	c.runs.Add(1)
	if c.hold > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(c.hold):
		}
	}
	if c.panics {
		panic("boom")
	}
}

func TestFixedDelayRunsRepeatedlyWithoutOverlap(t *testing.T) {
	s := New(zerolog.Nop())
	task := &countingTask{name: "dispatch", hold: 5 * time.Millisecond}
	s.Add(task, FixedDelay(2*time.Millisecond), 0)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return task.runs.Load() >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Stop())

	assert.False(t, task.overlap.Load())
	assert.Zero(t, task.active.Load())
}

func TestInitialDelayPostponesFirstRun(t *testing.T) {
	s := New(zerolog.Nop())
	task := &countingTask{name: "dispatch"}
	s.Add(task, FixedDelay(time.Millisecond), time.Hour)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop())
	assert.Zero(t, task.runs.Load())
}

func TestPanickingTaskKeepsSchedulerAlive(t *testing.T) {
	s := New(zerolog.Nop())
	bad := &countingTask{name: "bad", panics: true}
	good := &countingTask{name: "good"}
	s.Add(bad, FixedDelay(time.Millisecond), 0)
	s.Add(good, FixedDelay(time.Millisecond), 0)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return bad.runs.Load() >= 2 && good.runs.Load() >= 2
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	s := New(zerolog.Nop())
	task := &countingTask{name: "slow", hold: time.Minute}
	s.Add(task, FixedDelay(time.Hour), 0)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return task.active.Load() == 1 }, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Stop())
	}()
	wg.Wait()
	assert.Zero(t, task.active.Load())
	assert.Equal(t, int32(1), task.runs.Load())
}

func TestStartTwiceFails(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestParentContextCancelStopsLoops(t *testing.T) {
	s := New(zerolog.Nop())
	task := &countingTask{name: "dispatch"}
	s.Add(task, FixedDelay(time.Millisecond), 0)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool { return task.runs.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, s.Stop())
	n := task.runs.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, task.runs.Load())
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 24h")
	require.NoError(t, err)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(24*time.Hour), s.Next(from))

	s, err = ParseSchedule("0 3 * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC), s.Next(from))

	_, err = ParseSchedule("every day")
	assert.Error(t, err)
}

func TestFixedDelayNext(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(time.Minute), FixedDelay(time.Minute).Next(from))
}
