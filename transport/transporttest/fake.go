// Package transporttest provides in-memory transports for tests: a
// programmable Fake and a testify Mock.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IvanBrykalov/syncache/failure"
	"github.com/IvanBrykalov/syncache/transport"
)

// Method names the Transport method a call came through.
type Method string

const (
	MethodFetch  Method = "FETCH"
	MethodSend   Method = "SEND"
	MethodUpdate Method = "UPDATE"
	MethodDelete Method = "DELETE"
)

// Call is one recorded request.
type Call struct {
	Method   Method
	Endpoint transport.Endpoint
	Body     any
}

// Handler produces the response for a call. The returned value is
// JSON-encoded and decoded into the caller's out, like a real wire.
type Handler func(ctx context.Context, c Call) (any, error)

// ErrNoHandler is returned for calls nobody registered.
var ErrNoHandler = errors.New("transporttest: no handler")

type route struct {
	m    Method
	path string
}

// Fake is a programmable Transport. Routes match on method and the
// unresolved Endpoint.Path.
type Fake struct {
	mu       sync.Mutex
	handlers map[route]Handler
	gates    map[route]chan struct{}
	counts   map[route]int
	history  []Call
}

var _ transport.Transport = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		handlers: make(map[route]Handler),
		gates:    make(map[route]chan struct{}),
		counts:   make(map[route]int),
	}
}

// Handle installs h for method and path.
func (f *Fake) Handle(m Method, path string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[route{m, path}] = h
}

// Respond makes method/path return v.
func (f *Fake) Respond(m Method, path string, v any) {
	f.Handle(m, path, func(context.Context, Call) (any, error) { return v, nil })
}

// Fail makes method/path return err.
func (f *Fake) Fail(m Method, path string, err error) {
	f.Handle(m, path, func(context.Context, Call) (any, error) { return nil, err })
}

// Gate holds every call to method/path until release is called or the
// call's context ends. release is idempotent.
func (f *Fake) Gate(m Method, path string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[route{m, path}] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gates[route{m, path}] == ch {
				delete(f.gates, route{m, path})
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Calls counts calls seen for method/path, including ones still gated.
func (f *Fake) Calls(m Method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[route{m, path}]
}

// History returns every call in arrival order.
func (f *Fake) History() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.history...)
}

func (f *Fake) Fetch(ctx context.Context, ep transport.Endpoint, out any) error {
	return f.do(ctx, MethodFetch, ep, nil, out)
}

func (f *Fake) Send(ctx context.Context, ep transport.Endpoint, body, out any) error {
	return f.do(ctx, MethodSend, ep, body, out)
}

func (f *Fake) Update(ctx context.Context, ep transport.Endpoint, body, out any) error {
	return f.do(ctx, MethodUpdate, ep, body, out)
}

func (f *Fake) Delete(ctx context.Context, ep transport.Endpoint) error {
	return f.do(ctx, MethodDelete, ep, nil, nil)
}

func (f *Fake) do(ctx context.Context, m Method, ep transport.Endpoint, body, out any) error {
	r := route{m, ep.Path}
	c := Call{Method: m, Endpoint: ep, Body: body}

	f.mu.Lock()
	f.counts[r]++
	f.history = append(f.history, c)
	gate := f.gates[r]
	h := f.handlers[r]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if h == nil {
		return failure.New(failure.TransportFailure, string(m), ep.Path, ErrNoHandler)
	}
	v, err := h(ctx, c)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if out == nil || v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return failure.New(failure.InvalidResponse, string(m), ep.Path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return failure.New(failure.InvalidResponse, string(m), ep.Path, fmt.Errorf("decode: %w", err))
	}
	return nil
}
