// Package refresh runs fire-and-forget background tasks grouped into
// cancellable scopes. A scope is usually one UI context (a screen) or the
// whole session; tearing the scope down cancels every task it started.
package refresh

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// SessionScope is the scope of tasks scheduled without WithScope.
const SessionScope = "session"

// DefaultMaxConcurrent bounds running tasks when WithMaxConcurrent is not given.
const DefaultMaxConcurrent = 4

// Task is the unit of background work. ctx is cancelled when the task's
// scope or the scheduler is torn down.
type Task func(ctx context.Context) error

type scopeKey struct{}

// WithScope tags ctx so tasks scheduled with it belong to scope.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFrom returns the scope carried by ctx, or SessionScope.
func ScopeFrom(ctx context.Context) string {
	if s, ok := ctx.Value(scopeKey{}).(string); ok && s != "" {
		return s
	}
	return SessionScope
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxConcurrent bounds the number of tasks running at once.
func WithMaxConcurrent(n int64) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithErrorHandler is called with every task error not caused by
// cancellation. It runs on the task goroutine.
func WithErrorHandler(fn func(key string, err error)) Option {
	return func(s *Scheduler) { s.onError = fn }
}

type scope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

type task struct {
	id     string
	key    string
	scope  string
	cancel context.CancelFunc

	// guarded by Scheduler.mu
	fn    Task
	rerun bool
}

// Scheduler coalesces tasks per key and runs them on their own goroutines.
type Scheduler struct {
	maxConcurrent int64
	sem           *semaphore.Weighted
	logger        *zap.Logger
	onError       func(key string, err error)

	mu      sync.Mutex
	scopes  map[string]*scope
	pending map[string]*task
	closed  bool

	wg sync.WaitGroup
}

// New constructs a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		maxConcurrent: DefaultMaxConcurrent,
		logger:        zap.NewNop(),
		scopes:        make(map[string]*scope),
		pending:       make(map[string]*task),
	}
	for _, o := range opts {
		o(s)
	}
	s.sem = semaphore.NewWeighted(s.maxConcurrent)
	s.logger = s.logger.Named("refresh")
	return s
}

// Schedule starts fn for key in the scope carried by ctx and returns
// immediately. The task context keeps ctx's values but not its
// cancellation. If key already has a pending or running task, nothing is
// scheduled and that task's id is returned with ok=false.
func (s *Scheduler) Schedule(ctx context.Context, key string, fn Task) (id string, ok bool) {
	return s.schedule(ctx, key, fn, false)
}

// Reschedule is Schedule for work that must observe a change made after a
// running task started: if key is busy, fn replaces the task body and runs
// once more after the current run returns. Several Reschedule calls during
// one run collapse into a single rerun.
func (s *Scheduler) Reschedule(ctx context.Context, key string, fn Task) (id string, ok bool) {
	return s.schedule(ctx, key, fn, true)
}

func (s *Scheduler) schedule(ctx context.Context, key string, fn Task, rerun bool) (string, bool) {
	name := ScopeFrom(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", false
	}
	if t, busy := s.pending[key]; busy {
		if rerun {
			t.fn = fn
			t.rerun = true
		}
		s.mu.Unlock()
		return t.id, false
	}
	sc, exists := s.scopes[name]
	if !exists {
		sctx, cancel := context.WithCancel(context.Background())
		sc = &scope{ctx: sctx, cancel: cancel}
		s.scopes[name] = sc
	}
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(sc.ctx, cancel)
	t := &task{id: uuid.NewString(), key: key, scope: name, cancel: cancel, fn: fn}
	s.pending[key] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(tctx, t, stop)
	return t.id, true
}

func (s *Scheduler) run(ctx context.Context, t *task, stop func() bool) {
	defer s.wg.Done()
	defer func() {
		stop()
		t.cancel()
		s.mu.Lock()
		if s.pending[t.key] == t {
			delete(s.pending, t.key)
		}
		s.mu.Unlock()
	}()

	log := s.logger.With(zap.String("task", t.id), zap.String("key", t.key), zap.String("scope", t.scope))
	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Debug("task cancelled before start")
		return
	}
	defer s.sem.Release(1)

	s.mu.Lock()
	fn := t.fn
	s.mu.Unlock()
	for {
		err := fn(ctx)
		switch {
		case err == nil:
			log.Debug("task done")
		case ctx.Err() != nil:
			log.Debug("task cancelled", zap.Error(err))
		default:
			log.Warn("task failed", zap.Error(err))
			if s.onError != nil {
				s.onError(t.key, err)
			}
		}

		s.mu.Lock()
		if !t.rerun || ctx.Err() != nil || s.pending[t.key] != t {
			s.mu.Unlock()
			return
		}
		t.rerun = false
		fn = t.fn
		s.mu.Unlock()
		log.Debug("task rerun")
	}
}

// CancelScope cancels every task of scope. Task contexts are done by the
// time it returns, and keys of cancelled tasks can be scheduled again
// immediately. Returns the number of tasks cancelled.
func (s *Scheduler) CancelScope(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scopes[name]
	if !ok {
		return 0
	}
	sc.cancel()
	delete(s.scopes, name)

	n := 0
	for k, t := range s.pending {
		if t.scope == name {
			t.cancel()
			delete(s.pending, k)
			n++
		}
	}
	if n > 0 {
		s.logger.Info("scope cancelled", zap.String("scope", name), zap.Int("tasks", n))
	}
	return n
}

// CancelAll cancels every task in every scope.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, sc := range s.scopes {
		sc.cancel()
		delete(s.scopes, name)
	}
	n := len(s.pending)
	for _, t := range s.pending {
		t.cancel()
	}
	clear(s.pending)
	return n
}

// Pending returns the number of tasks not yet finished (or cancelled).
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// IsPending reports whether key has a task queued or running.
func (s *Scheduler) IsPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Wait blocks until every started task has returned. It must not race with
// Schedule from another goroutine; tests call it after the scheduling side
// has settled.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Close cancels everything, waits for running tasks and rejects new ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.CancelAll()
	s.wg.Wait()
}
