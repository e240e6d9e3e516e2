package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/syncache/bus"
	"github.com/IvanBrykalov/syncache/cache"
	"github.com/IvanBrykalov/syncache/failure"
	"github.com/IvanBrykalov/syncache/model"
	"github.com/IvanBrykalov/syncache/transport"
)

// Method is the transport verb of a write.
type Method uint8

const (
	MethodCreate Method = iota + 1
	MethodUpdate
	MethodDelete
)

func (m Method) String() string {
	switch m {
	case MethodCreate:
		return "create"
	case MethodUpdate:
		return "update"
	case MethodDelete:
		return "delete"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// WriteOutcome labels how a write ended.
type WriteOutcome string

const (
	OutcomeConfirmed  WriteOutcome = "confirmed"
	OutcomeRolledBack WriteOutcome = "rolled-back"
	OutcomeInvalid    WriteOutcome = "invalid"
	OutcomeCancelled  WriteOutcome = "cancelled"
)

// Mutation is the local change a write implies for one key. Apply runs
// under the key's shard lock: it sees a private copy of the current value
// and returns the next one, or keep=false to drop the entry.
type Mutation struct {
	Key   model.Key
	Apply func(cur any, ok bool) (next any, keep bool)
}

// Mutate edits the cached T under key. Absent keys and values of another
// type are left alone.
func Mutate[T any](key model.Key, fn func(cur T) T) Mutation {
	return Mutation{Key: key, Apply: func(cur any, ok bool) (any, bool) {
		if !ok {
			return nil, false
		}
		v, typed := cur.(T)
		if !typed {
			return cur, true
		}
		return fn(v), true
	}}
}

// Seed is Mutate that also creates the entry when key is absent.
func Seed[T any](key model.Key, fn func(cur T, ok bool) T) Mutation {
	return Mutation{Key: key, Apply: func(cur any, ok bool) (any, bool) {
		v, typed := cur.(T)
		if ok && !typed {
			return cur, true
		}
		return fn(v, ok), true
	}}
}

// Drop removes key optimistically.
func Drop(key model.Key) Mutation {
	return Mutation{Key: key, Apply: func(any, bool) (any, bool) { return nil, false }}
}

// WriteOperation describes one write: what to send, which collections it
// changes locally right away and which it makes stale.
type WriteOperation struct {
	// ID correlates events and errors; generated when empty.
	ID       string
	Method   Method
	Endpoint transport.Endpoint
	Body     any
	// Invalidates lists the collections the server changes. They are
	// snapshotted for rollback and invalidated on success.
	Invalidates []model.Key
	// Mutations are applied in order before the request is sent.
	Mutations []Mutation
	// Invalidation overrides the service default for this write.
	Invalidation Invalidation
}

func (op WriteOperation) validate() error {
	switch op.Method {
	case MethodCreate, MethodUpdate, MethodDelete:
	default:
		return fmt.Errorf("service: unknown write method %v", op.Method)
	}
	if op.Endpoint.Path == "" {
		return errors.New("service: write has no endpoint")
	}
	for _, k := range op.Invalidates {
		if err := k.Validate(); err != nil {
			return err
		}
	}
	for _, m := range op.Mutations {
		if m.Apply == nil {
			return fmt.Errorf("service: mutation of %v has no Apply", m.Key)
		}
		if err := m.Key.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// keys returns Invalidates followed by mutation keys, without duplicates.
func (op WriteOperation) keys() []model.Key {
	out := make([]model.Key, 0, len(op.Invalidates)+len(op.Mutations))
	for _, k := range op.Invalidates {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	for _, m := range op.Mutations {
		if !slices.Contains(out, m.Key) {
			out = append(out, m.Key)
		}
	}
	return out
}

// Pending is a write whose optimistic mutation is already visible and
// whose confirmation is still outstanding.
type Pending[T any] struct {
	id   string
	done chan struct{}
	res  Result[T]
}

// ID is the write operation id.
func (p *Pending[T]) ID() string { return p.id }

// Done is closed once the write is confirmed or rolled back.
func (p *Pending[T]) Done() <-chan struct{} { return p.done }

// Wait blocks until the write settles. The dispatch honors the context
// given to Submit, so cancelling it bounds the wait.
func (p *Pending[T]) Wait() Result[T] {
	<-p.done
	return p.res
}

func (p *Pending[T]) settle(r Result[T]) {
	p.res = r
	close(p.done)
}

// applied is what a write left behind for one key.
type applied struct {
	version uint64
	present bool
}

// write tracks one optimistic write between apply and settle.
type write struct {
	op      WriteOperation
	gen     uint64
	snap    cache.Snapshot[model.Key, any]
	touched []model.Key
	applied map[model.Key]applied
}

// Submit applies op's mutations, publishes them and returns before the
// transport answers. The request runs on its own goroutine under ctx.
func Submit[T any](ctx context.Context, s *Service, op WriteOperation) *Pending[T] {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	p := &Pending[T]{id: op.ID, done: make(chan struct{})}
	if err := op.validate(); err != nil {
		s.metrics.Write(op.Method, OutcomeInvalid)
		p.settle(fail[T](failure.New(failure.Unknown, "write", op.ID, err)))
		return p
	}

	w, ok := s.begin(op)
	if !ok {
		s.metrics.Write(op.Method, OutcomeCancelled)
		p.settle(fail[T](failure.New(failure.Cancelled, "write", op.ID, failure.ErrCancelled)))
		return p
	}
	go func() {
		var out T
		err := s.dispatch(ctx, op, &out)
		if err = s.settle(ctx, w, err); err != nil {
			p.settle(fail[T](err))
			return
		}
		p.settle(Result[T]{Value: out, Source: SourceNetwork})
	}()
	return p
}

// Write is Submit followed by Wait.
func Write[T any](ctx context.Context, s *Service, op WriteOperation) Result[T] {
	return Submit[T](ctx, s, op).Wait()
}

// WriteWithoutResponse is Write for requests whose body is ignored.
func (s *Service) WriteWithoutResponse(ctx context.Context, op WriteOperation) Result[model.Empty] {
	return Write[model.Empty](ctx, s, op)
}

// begin snapshots every affected key and applies the mutations. It
// reports false when the session ended before anything was applied.
func (s *Service) begin(op WriteOperation) (*write, bool) {
	w := &write{op: op, gen: s.generation(), applied: make(map[model.Key]applied)}
	ok := s.commit(w.gen, func() bool {
		w.snap = s.store.Snapshot(op.keys()...)
		for _, m := range op.Mutations {
			var touched bool
			e, present := s.store.Update(m.Key, func(cur any, ok bool) (any, bool) {
				next, keep := m.Apply(cur, ok)
				touched = ok || keep
				return next, keep
			})
			if !touched {
				continue
			}
			if !slices.Contains(w.touched, m.Key) {
				w.touched = append(w.touched, m.Key)
			}
			w.applied[m.Key] = applied{version: e.Version, present: present}
		}
		for _, k := range w.touched {
			s.publish(k, bus.ReasonOptimistic, op.ID)
		}
		return true
	})
	if !ok {
		return nil, false
	}
	s.logger.Debug("write applied",
		zap.String("op", op.ID),
		zap.Stringer("method", op.Method),
		zap.Int("mutated", len(w.touched)),
	)
	return w, true
}

// persistConfirmed writes the confirmed optimistic state through: keys
// the write removed are forgotten, keys still holding its version are
// saved. Caller holds the session gate.
func (s *Service) persistConfirmed(ctx context.Context, w *write) {
	for _, k := range w.touched {
		e, present := s.store.Peek(k)
		switch {
		case !present:
			s.forget(k)
		case w.applied[k].present && e.Version == w.applied[k].version:
			s.save(ctx, k, e.Value, e.StoredAt)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, op WriteOperation, out any) error {
	if _, empty := out.(*model.Empty); empty {
		out = nil
	}
	switch op.Method {
	case MethodCreate:
		return s.tr.Send(ctx, op.Endpoint, op.Body, out)
	case MethodUpdate:
		return s.tr.Update(ctx, op.Endpoint, op.Body, out)
	default:
		return s.tr.Delete(ctx, op.Endpoint)
	}
}

// settle confirms or rolls back w depending on the transport error and
// returns the classified error.
func (s *Service) settle(ctx context.Context, w *write, err error) error {
	op := w.op
	if err == nil {
		s.commit(w.gen, func() bool {
			s.persistConfirmed(ctx, w)
			for _, k := range w.op.keys() {
				s.publish(k, bus.ReasonConfirmed, op.ID)
			}
			return true
		})
		s.invalidate(ctx, w.gen, op.Invalidation, op.ID, op.Invalidates)
		s.metrics.Write(op.Method, OutcomeConfirmed)
		s.logger.Debug("write confirmed", zap.String("op", op.ID))
		return nil
	}

	var restored []model.Key
	s.commit(w.gen, func() bool {
		restored = s.store.Restore(w.snap, func(k model.Key, cur cache.Entry[any], present bool) bool {
			a, ok := w.applied[k]
			if !ok {
				return false
			}
			if a.present {
				return present && cur.Version == a.version
			}
			return !present
		})
		for _, k := range restored {
			s.publish(k, bus.ReasonRolledBack, op.ID)
		}
		return true
	})

	// Keys a later write already changed again are not restored; refetch
	// them so they converge on server state.
	var superseded []model.Key
	for _, k := range w.touched {
		if !slices.Contains(restored, k) {
			superseded = append(superseded, k)
		}
	}
	if len(superseded) > 0 {
		s.invalidate(ctx, w.gen, InvalidateRefetch, op.ID, superseded)
	}

	err = failure.Wrap("write", op.ID, err)
	s.metrics.Write(op.Method, OutcomeRolledBack)
	s.logger.Info("write rolled back",
		zap.String("op", op.ID),
		zap.Stringer("method", op.Method),
		zap.String("endpoint", op.Endpoint.Path),
		zap.Int("restored", len(restored)),
		zap.Int("superseded", len(superseded)),
		zap.Error(err),
	)
	return err
}
