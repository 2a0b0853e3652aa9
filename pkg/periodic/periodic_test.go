package periodic_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/estatecrm/pkg/logger"
	"github.com/dmitrymomot/estatecrm/pkg/periodic"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	grant    bool
	released int
}

func (l *fakeLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.grant || l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.released++
		return nil
	}, true, nil
}

func TestRunner_Add(t *testing.T) {
	t.Parallel()

	r := periodic.New(periodic.WithLogger(logger.Nop()))
	noop := func(context.Context) error { return nil }

	require.NoError(t, r.Add("sweep", time.Minute, noop))
	assert.ErrorIs(t, r.Add("sweep", time.Minute, noop), periodic.ErrJobAlreadyRegistered)
	assert.ErrorIs(t, r.Add("bad", 0, noop), periodic.ErrInvalidInterval)
	assert.ErrorIs(t, r.Add("", time.Minute, noop), periodic.ErrInvalidJob)
	assert.ErrorIs(t, r.Add("nil", time.Minute, nil), periodic.ErrInvalidJob)
}

func TestRunner_RunWithoutJobs(t *testing.T) {
	t.Parallel()

	r := periodic.New(periodic.WithLogger(logger.Nop()))
	assert.ErrorIs(t, r.Run(context.Background()), periodic.ErrNoJobs)
}

func TestRunner_RunsImmediatelyAndRepeats(t *testing.T) {
	t.Parallel()

	var (
		fast atomic.Int32
		slow atomic.Int32
	)
	r := periodic.New(periodic.WithLogger(logger.Nop()))
	require.NoError(t, r.Add("fast", 10*time.Millisecond, func(context.Context) error {
		fast.Add(1)
		return errors.New("endpoint down")
	}))
	require.NoError(t, r.Add("slow", time.Hour, func(context.Context) error {
		slow.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return fast.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), slow.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_RecoversPanics(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := periodic.New(periodic.WithLogger(logger.Nop()))
	require.NoError(t, r.Add("panicky", 10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		panic("boom")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestRunner_TimeoutReachesJob(t *testing.T) {
	t.Parallel()

	deadlines := make(chan time.Duration, 1)
	r := periodic.New(periodic.WithLogger(logger.Nop()))
	require.NoError(t, r.Add("bounded", time.Hour, func(ctx context.Context) error {
		dl, ok := ctx.Deadline()
		if ok {
			select {
			case deadlines <- time.Until(dl):
			default:
			}
		}
		return nil
	}, periodic.WithTimeout(30*time.Second)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	select {
	case left := <-deadlines:
		assert.LessOrEqual(t, left, 30*time.Second)
		assert.Greater(t, left, 20*time.Second)
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
}

func TestRunner_WithLock(t *testing.T) {
	t.Parallel()

	t.Run("skips tick when lease is held elsewhere", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		locker := &fakeLocker{grant: false}
		r := periodic.New(periodic.WithLogger(logger.Nop()))
		require.NoError(t, r.Add("payouts", 5*time.Millisecond, func(context.Context) error {
			calls.Add(1)
			return nil
		}, periodic.WithLock(locker, time.Minute)))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		require.NoError(t, r.Run(ctx))
		assert.Zero(t, calls.Load())
	})

	t.Run("releases lease after each run", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		locker := &fakeLocker{grant: true}
		r := periodic.New(periodic.WithLogger(logger.Nop()))
		require.NoError(t, r.Add("webhooks", 5*time.Millisecond, func(context.Context) error {
			calls.Add(1)
			return nil
		}, periodic.WithLock(locker, time.Minute)))

		ctx, cancel := context.WithCancel(context.Background())
		go func() { _ = r.Run(ctx) }()
		require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
		cancel()

		require.Eventually(t, func() bool {
			locker.mu.Lock()
			defer locker.mu.Unlock()
			return !locker.held && locker.released >= 2
		}, time.Second, 5*time.Millisecond)
	})
}
