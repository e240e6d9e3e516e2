// Package service is the orchestrator of the sync engine. It composes the
// session cache, the transport, the in-flight deduplicator, the
// notification bus and the refresh scheduler behind two operations: Read
// with a Policy and Write with a WriteOperation.
package service

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/syncache/bus"
	"github.com/IvanBrykalov/syncache/cache"
	"github.com/IvanBrykalov/syncache/internal/inflight"
	"github.com/IvanBrykalov/syncache/model"
	"github.com/IvanBrykalov/syncache/persist"
	"github.com/IvanBrykalov/syncache/refresh"
	"github.com/IvanBrykalov/syncache/transport"
)

// Store is the session cache the service works on.
type Store = cache.Store[model.Key, any]

// NewStore builds a session cache that deep-copies values in and out.
func NewStore(opt cache.Options[model.Key, any]) *Store {
	if opt.Clone == nil {
		opt.Clone = model.Clone
	}
	return cache.New(opt)
}

// Invalidation selects what a confirmed write does to the keys it names.
type Invalidation uint8

const (
	// InvalidateDefault defers to the service setting.
	InvalidateDefault Invalidation = iota
	// InvalidateRefetch keeps the optimistic value visible and refetches
	// in the background until server truth lands.
	InvalidateRefetch
	// InvalidateEvict removes the keys so the next cache-first read
	// fetches.
	InvalidateEvict
)

func (i Invalidation) String() string {
	switch i {
	case InvalidateRefetch:
		return "refetch"
	case InvalidateEvict:
		return "evict"
	default:
		return "default"
	}
}

// Option configures a Service.
type Option func(*Service)

// WithStore injects the session cache. The caller keeps ownership.
func WithStore(st *Store) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
			s.ownStore = false
		}
	}
}

// WithBus injects the notification bus. The caller keeps ownership.
func WithBus(b *bus.Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
			s.ownBus = false
		}
	}
}

// WithScheduler injects the refresh scheduler. The caller keeps ownership.
func WithScheduler(r *refresh.Scheduler) Option {
	return func(s *Service) {
		if r != nil {
			s.sched = r
			s.ownSched = false
		}
	}
}

// WithLogger sets the logger; nil keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink, for example a metrics/prom adapter.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRoutes overrides routes per kind; kinds not in rs keep the default.
func WithRoutes(rs Routes) Option {
	return func(s *Service) {
		for k, r := range rs {
			s.routes[k] = r
		}
	}
}

// WithPersistence writes network results through to p and warms the
// cache from it at sign-in. The caller keeps ownership of p.
func WithPersistence(p persist.Store) Option {
	return func(s *Service) {
		if p != nil {
			s.persist = p
		}
	}
}

// WithInvalidation sets the default invalidation mode of confirmed writes.
func WithInvalidation(mode Invalidation) Option {
	return func(s *Service) {
		if mode != InvalidateDefault {
			s.invalidation = mode
		}
	}
}

// WithStaleAfter makes cache-first background refresh skip entries younger
// than d. Zero refreshes on every hit.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.staleAfter = d
		}
	}
}

// WithClock sets the clock of the store the service creates. It has no
// effect together with WithStore.
func WithClock(c cache.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithPersistTimeout bounds each write-through call.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// Service is the data service. Construct with New.
type Service struct {
	tr      transport.Transport
	store   *Store
	bus     *bus.Bus
	sched   *refresh.Scheduler
	group   inflight.Group[model.Key, fetched]
	routes  Routes
	persist persist.Store
	logger  *zap.Logger
	metrics Metrics
	clock   cache.Clock

	invalidation   Invalidation
	persistTimeout time.Duration

	ownStore, ownBus, ownSched bool

	// mu guards staleAfter, which config reloads may change.
	mu         sync.RWMutex
	staleAfter time.Duration

	sess session

	closeOnce sync.Once
}

// New builds a Service over tr.
func New(tr transport.Transport, opts ...Option) (*Service, error) {
	if tr == nil {
		return nil, errors.New("service: nil transport")
	}
	s := &Service{
		tr:             tr,
		routes:         DefaultRoutes(),
		persist:        persist.None{},
		logger:         zap.NewNop(),
		metrics:        NoopMetrics{},
		invalidation:   InvalidateRefetch,
		persistTimeout: 2 * time.Second,
		ownStore:       true,
		ownBus:         true,
		ownSched:       true,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.routes.validate(); err != nil {
		return nil, err
	}
	s.logger = s.logger.Named("service")
	if s.store == nil {
		s.store = NewStore(cache.Options[model.Key, any]{Clock: s.clock})
	}
	if s.bus == nil {
		s.bus = bus.New(bus.WithLogger(s.logger))
	}
	if s.sched == nil {
		s.sched = refresh.New(refresh.WithLogger(s.logger))
	}
	return s, nil
}

// Store exposes the session cache.
func (s *Service) Store() *Store { return s.store }

// Bus exposes the notification bus for subscribers.
func (s *Service) Bus() *bus.Bus { return s.bus }

// Scheduler exposes the refresh scheduler.
func (s *Service) Scheduler() *refresh.Scheduler { return s.sched }

// Subscribe is a shortcut for Bus().Subscribe.
func (s *Service) Subscribe(topics ...model.Topic) *bus.Subscription {
	return s.bus.Subscribe(topics...)
}

// SetStaleAfter changes the background refresh threshold at runtime.
func (s *Service) SetStaleAfter(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	s.staleAfter = d
	s.mu.Unlock()
}

func (s *Service) stale(e cache.Entry[any]) bool {
	s.mu.RLock()
	d := s.staleAfter
	s.mu.RUnlock()
	return d == 0 || s.store.Now().Sub(e.StoredAt) >= d
}

// Close stops background work and releases the components the service
// created. Injected components are left to their owners.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.sess.mu.Lock()
		s.sess.gen++
		s.sess.mu.Unlock()

		if s.ownSched {
			s.sched.Close()
		} else {
			s.sched.CancelAll()
		}
		s.group.Reset()
		if s.ownStore {
			s.store.Close()
		}
		if s.ownBus {
			s.bus.Close()
		}
		s.logger.Info("service closed")
	})
}

func (s *Service) publish(key model.Key, reason bus.Reason, opID string) {
	s.bus.Publish(bus.Event{Topic: key.Topic(), Key: key, Reason: reason, OpID: opID})
}
