package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_RunsTask(t *testing.T) {
	t.Parallel()

	s := New()
	t.Cleanup(s.Close)

	done := make(chan struct{})
	id, ok := s.Schedule(context.Background(), "friends:u1", func(context.Context) error {
		close(done)
		return nil
	})
	require.True(t, ok)
	require.NotEmpty(t, id)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	s.Wait()
	assert.Equal(t, 0, s.Pending())
}

// A second Schedule for a key with a pending task is coalesced.
func TestSchedule_CoalescesPerKey(t *testing.T) {
	t.Parallel()

	s := New()
	t.Cleanup(s.Close)

	release := make(chan struct{})
	var runs atomic.Int32
	task := func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}

	id1, ok1 := s.Schedule(context.Background(), "k", task)
	id2, ok2 := s.Schedule(context.Background(), "k", task)
	require.True(t, ok1)
	assert.False(t, ok2)
	assert.Equal(t, id1, id2)
	assert.True(t, s.IsPending("k"))

	close(release)
	s.Wait()
	assert.EqualValues(t, 1, runs.Load())

	// Once finished the key can be scheduled again.
	_, ok := s.Schedule(context.Background(), "k", func(context.Context) error { return nil })
	assert.True(t, ok)
	s.Wait()
}

// The caller's cancellation does not reach the task; its values do.
func TestSchedule_DetachedFromCaller(t *testing.T) {
	t.Parallel()

	s := New()
	t.Cleanup(s.Close)

	type ctxKey struct{}
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	got := make(chan string, 1)
	errc := make(chan error, 1)
	release := make(chan struct{})

	s.Schedule(ctx, "k", func(tctx context.Context) error {
		<-release
		v, _ := tctx.Value(ctxKey{}).(string)
		got <- v
		errc <- tctx.Err()
		return nil
	})
	cancel()
	close(release)

	assert.Equal(t, "v", <-got)
	assert.NoError(t, <-errc)
	s.Wait()
}

func TestCancelScope(t *testing.T) {
	t.Parallel()

	s := New(WithMaxConcurrent(8))
	t.Cleanup(s.Close)

	screen := WithScope(context.Background(), "friends-screen")
	assert.Equal(t, "friends-screen", ScopeFrom(screen))
	assert.Equal(t, SessionScope, ScopeFrom(context.Background()))

	var cancelled atomic.Int32
	var wg sync.WaitGroup
	started := make(chan struct{}, 3)
	block := func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		cancelled.Add(1)
		return ctx.Err()
	}
	for _, k := range []string{"a", "b"} {
		_, ok := s.Schedule(screen, k, block)
		require.True(t, ok)
	}
	release := make(chan struct{})
	wg.Add(1)
	s.Schedule(context.Background(), "session-task", func(ctx context.Context) error {
		defer wg.Done()
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	for i := 0; i < 3; i++ {
		<-started
	}

	assert.Equal(t, 2, s.CancelScope("friends-screen"))
	assert.Equal(t, 0, s.CancelScope("friends-screen"))
	assert.False(t, s.IsPending("a"))
	assert.True(t, s.IsPending("session-task"))

	require.Eventually(t, func() bool { return cancelled.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	s.Wait()
}

func TestCancelAll_AndClose(t *testing.T) {
	t.Parallel()

	s := New()
	started := make(chan struct{}, 2)
	for _, k := range []string{"a", "b"} {
		s.Schedule(context.Background(), k, func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		})
	}
	<-started
	<-started
	assert.Equal(t, 2, s.CancelAll())
	s.Wait()

	s.Close()
	_, ok := s.Schedule(context.Background(), "c", func(context.Context) error { return nil })
	assert.False(t, ok, "closed scheduler must refuse tasks")
}

// A task's context is already done when the cancelling call returns, so
// a task that checks ctx before committing never commits afterwards.
func TestCancel_IsSynchronous(t *testing.T) {
	t.Parallel()

	s := New()
	t.Cleanup(s.Close)

	ctxs := make(chan context.Context, 2)
	hold := make(chan struct{})
	body := func(ctx context.Context) error {
		ctxs <- ctx
		<-hold
		return nil
	}
	s.Schedule(WithScope(context.Background(), "screen"), "a", body)
	s.Schedule(context.Background(), "b", body)
	first, second := <-ctxs, <-ctxs
	if ScopeFrom(first) != "screen" {
		first, second = second, first
	}

	require.Equal(t, 1, s.CancelScope("screen"))
	assert.ErrorIs(t, first.Err(), context.Canceled)
	assert.NoError(t, second.Err())

	require.Equal(t, 1, s.CancelAll())
	assert.ErrorIs(t, second.Err(), context.Canceled)

	close(hold)
	s.Wait()
}

// Concurrency is bounded by the semaphore.
func TestMaxConcurrent(t *testing.T) {
	t.Parallel()

	s := New(WithMaxConcurrent(2))
	t.Cleanup(s.Close)

	var running, peak atomic.Int32
	release := make(chan struct{})
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		s.Schedule(context.Background(), k, func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		})
	}
	require.Eventually(t, func() bool { return running.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	s.Wait()
	assert.EqualValues(t, 2, peak.Load())
}

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var gotKey string
	var gotErr error
	s := New(WithErrorHandler(func(key string, err error) {
		mu.Lock()
		gotKey, gotErr = key, err
		mu.Unlock()
	}))
	t.Cleanup(s.Close)

	boom := errors.New("boom")
	s.Schedule(context.Background(), "k", func(context.Context) error { return boom })
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "k", gotKey)
	assert.ErrorIs(t, gotErr, boom)
}

// Reschedule on a busy key runs the newest body once more afterwards;
// several calls collapse into one rerun.
func TestReschedule_RerunsOnce(t *testing.T) {
	t.Parallel()

	s := New()
	t.Cleanup(s.Close)

	release := make(chan struct{})
	started := make(chan struct{})
	var first, second atomic.Int32

	_, ok := s.Reschedule(context.Background(), "k", func(context.Context) error {
		first.Add(1)
		close(started)
		<-release
		return nil
	})
	require.True(t, ok)
	<-started

	for i := 0; i < 3; i++ {
		_, ok := s.Reschedule(context.Background(), "k", func(context.Context) error {
			second.Add(1)
			return nil
		})
		assert.False(t, ok)
	}
	// Plain Schedule on a busy key never queues a rerun by itself.
	s.Schedule(context.Background(), "k", func(context.Context) error {
		t.Error("coalesced Schedule must not run")
		return nil
	})

	close(release)
	s.Wait()
	assert.EqualValues(t, 1, first.Load())
	assert.EqualValues(t, 1, second.Load())
}
