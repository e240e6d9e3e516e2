package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/syncache/bus"
	"github.com/IvanBrykalov/syncache/failure"
	"github.com/IvanBrykalov/syncache/model"
	"github.com/IvanBrykalov/syncache/persist"
)

// maxRefetchAttempts bounds how often an invalidation refetch retries when
// it keeps joining fetches that started before the invalidation.
const maxRefetchAttempts = 3

// fetched is the shared result of one deduplicated fetch.
type fetched struct {
	value   any
	started time.Time
	land    *landing
}

// landing records the single commit of a shared fetch result.
type landing struct {
	mu     sync.Mutex
	done   bool
	landed bool
}

// load fetches key through the deduplicator and commits the result,
// last-writer-wins within session generation gen, on behalf of the first
// caller whose ctx is still live. Later callers see that commit instead of
// repeating it. A caller whose ctx ended gets Cancelled and commits
// nothing. Every caller gets its own copy of the value.
func (s *Service) load(ctx context.Context, gen uint64, key model.Key, reason bus.Reason) (fetched, bool, error) {
	route := s.routes[key.Kind]

	f, shared, err := s.group.Do(ctx, key, func(cctx context.Context) (fetched, error) {
		started := s.store.Now()
		t0 := time.Now()
		v, err := route.fetch(cctx, s.tr, route.endpoint(key))
		s.metrics.Fetch(key.Kind, time.Since(t0), err)
		if err != nil {
			return fetched{}, err
		}
		if cctx.Err() != nil {
			return fetched{}, failure.New(failure.Cancelled, "fetch", key.String(), cctx.Err())
		}
		return fetched{value: v, started: started, land: &landing{}}, nil
	})
	if shared {
		s.metrics.Deduplicated(key.Kind)
	}
	if err != nil {
		return fetched{}, false, failure.Wrap("fetch", key.String(), err)
	}

	var landed bool
	ok := s.commit(gen, func() bool {
		if ctx.Err() != nil {
			return false
		}
		l := f.land
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.done {
			l.done = true
			if _, l.landed = s.store.SetAt(key, f.value, f.started); l.landed {
				s.publish(key, reason, "")
				s.save(ctx, key, f.value, f.started)
			}
		}
		landed = l.landed
		return true
	})
	if !ok {
		return fetched{}, false, failure.New(failure.Cancelled, "fetch", key.String(), failure.ErrCancelled)
	}
	f.value = model.Clone(f.value)
	return f, landed, nil
}

// ReadAny is Read without the type assertion.
func (s *Service) ReadAny(ctx context.Context, key model.Key, p Policy) Result[any] {
	if err := key.Validate(); err != nil {
		return fail[any](failure.New(failure.Unknown, "read", key.String(), err))
	}
	r := s.read(ctx, key, p)
	s.metrics.Read(key.Kind, p.String(), r.Source, failure.KindOf(r.Err))
	return r
}

func (s *Service) read(ctx context.Context, key model.Key, p Policy) Result[any] {
	log := s.logger.With(zap.Stringer("key", key), zap.Stringer("policy", p))
	gen := s.generation()

	if p.mode != modeAPIOnly {
		if e, ok := s.store.Get(key); ok {
			if p.mode == modeCacheFirst && p.background && s.stale(e) {
				s.scheduleRefresh(ctx, gen, key)
			}
			log.Debug("served from cache")
			return Result[any]{Value: e.Value, Source: SourceCache, StoredAt: e.StoredAt}
		}
		if p.mode == modeCacheOnly {
			return fail[any](failure.New(failure.NotCached, "read", key.String(), failure.ErrNotCached))
		}
	}

	f, landed, err := s.load(ctx, gen, key, bus.ReasonFetched)
	if err != nil {
		log.Debug("fetch failed", zap.Error(err))
		return fail[any](err)
	}
	log.Debug("served from network", zap.Bool("stored", landed))
	return Result[any]{Value: f.value, Source: SourceNetwork, StoredAt: f.started}
}

// Read returns the collection under key according to p. A cached value of
// a different type than T is reported as an invalid response.
func Read[T any](ctx context.Context, s *Service, key model.Key, p Policy) Result[T] {
	r := s.ReadAny(ctx, key, p)
	if r.Err != nil {
		return fail[T](r.Err)
	}
	v, ok := r.Value.(T)
	if !ok {
		var want T
		err := fmt.Errorf("cached %T, want %T", r.Value, want)
		return fail[T](failure.New(failure.InvalidResponse, "read", key.String(), err))
	}
	return Result[T]{Value: v, Source: r.Source, StoredAt: r.StoredAt}
}

// Peek returns the cached value without metrics or network.
func (s *Service) Peek(key model.Key) (any, bool) {
	e, ok := s.store.Peek(key)
	return e.Value, ok
}

// ForceRefresh evicts key and fetches it again, blocking.
func (s *Service) ForceRefresh(ctx context.Context, key model.Key) Result[any] {
	if err := key.Validate(); err != nil {
		return fail[any](failure.New(failure.Unknown, "refresh", key.String(), err))
	}
	gen := s.generation()
	s.commit(gen, func() bool {
		if s.store.Remove(key) {
			s.forget(key)
		}
		return true
	})
	return s.ReadAny(ctx, key, APIOnly())
}

// Invalidate marks keys stale using the service's invalidation mode.
func (s *Service) Invalidate(ctx context.Context, keys ...model.Key) {
	s.invalidate(ctx, s.generation(), s.invalidation, "", keys)
}

// invalidate must not be called under the session gate.
func (s *Service) invalidate(ctx context.Context, gen uint64, mode Invalidation, opID string, keys []model.Key) {
	if mode == InvalidateDefault {
		mode = s.invalidation
	}
	after := s.store.Now()
	for _, key := range keys {
		if key.Validate() != nil {
			continue
		}
		switch mode {
		case InvalidateEvict:
			s.commit(gen, func() bool {
				if s.store.Remove(key) {
					s.forget(key)
				}
				s.publish(key, bus.ReasonInvalidated, opID)
				return true
			})
		default:
			s.commit(gen, func() bool {
				s.publish(key, bus.ReasonInvalidated, opID)
				s.scheduleRefetch(ctx, gen, key, after)
				return true
			})
		}
	}
}

// scheduleRefresh starts a background refetch unless one is pending.
func (s *Service) scheduleRefresh(ctx context.Context, gen uint64, key model.Key) {
	s.sched.Schedule(ctx, key.String(), func(tctx context.Context) error {
		return s.refetch(tctx, gen, key, time.Time{})
	})
}

// scheduleRefetch makes sure a fetch started no earlier than after lands
// for key, rerunning a pending task if needed.
func (s *Service) scheduleRefetch(ctx context.Context, gen uint64, key model.Key, after time.Time) {
	s.sched.Reschedule(ctx, key.String(), func(tctx context.Context) error {
		return s.refetch(tctx, gen, key, after)
	})
}

// refetch is the body of background refresh tasks. Failures go to the
// diagnostic topic and leave the cache untouched. Once ctx is cancelled
// nothing is committed or published.
func (s *Service) refetch(ctx context.Context, gen uint64, key model.Key, after time.Time) error {
	for attempt := 0; attempt < maxRefetchAttempts; attempt++ {
		f, _, err := s.load(ctx, gen, key, bus.ReasonRefreshed)
		if err != nil {
			if failure.KindOf(err) != failure.Cancelled {
				s.commit(gen, func() bool {
					if ctx.Err() != nil {
						return false
					}
					s.metrics.RefreshFailed(key.Kind)
					s.bus.Publish(bus.Event{
						Topic:  model.TopicRefreshFailed,
						Key:    key,
						Reason: bus.ReasonFailed,
						Err:    err,
					})
					return true
				})
			}
			return err
		}
		if !f.started.Before(after) {
			return nil
		}
	}
	return nil
}

// save writes v through to the backing store. Caller holds the session
// gate, so nothing is saved for a session that already ended.
func (s *Service) save(ctx context.Context, key model.Key, v any, at time.Time) {
	if _, off := s.persist.(persist.None); off {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("persist encode failed", zap.Stringer("key", key), zap.Error(err))
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	rec := persist.Record{Key: key.String(), UserID: key.UserID, Payload: payload, StoredAt: at}
	if err := s.persist.Save(pctx, rec); err != nil {
		s.logger.Warn("persist save failed", zap.Stringer("key", key), zap.Error(err))
	}
}

// forget drops key from the backing store.
func (s *Service) forget(key model.Key) {
	if _, off := s.persist.(persist.None); off {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	if err := s.persist.Delete(ctx, key.UserID, key.String()); err != nil {
		s.logger.Warn("persist delete failed", zap.Stringer("key", key), zap.Error(err))
	}
}
