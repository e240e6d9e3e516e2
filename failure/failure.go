// Package failure defines the error taxonomy shared by the transport
// boundary and the data service.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// Unknown is the zero value. KindOf returns it for nil and for caller
	// mistakes such as malformed keys, which are not data failures.
	Unknown Kind = iota
	// NotCached: a cache-only read found nothing.
	NotCached
	// TransportFailure: network or connectivity problem.
	TransportFailure
	// InvalidResponse: payload could not be decoded or had the wrong shape.
	InvalidResponse
	// ServerRejected: the backend refused the request (4xx-equivalent).
	ServerRejected
	// Cancelled: the task was cancelled before completion.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case NotCached:
		return "not_cached"
	case TransportFailure:
		return "transport_failure"
	case InvalidResponse:
		return "invalid_response"
	case ServerRejected:
		return "server_rejected"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrNotCached       = errors.New("not cached")
	ErrTransport       = errors.New("transport failure")
	ErrInvalidResponse = errors.New("invalid response")
	ErrServerRejected  = errors.New("server rejected")
	ErrCancelled       = errors.New("cancelled")
)

func (k Kind) sentinel() error {
	switch k {
	case NotCached:
		return ErrNotCached
	case TransportFailure:
		return ErrTransport
	case InvalidResponse:
		return ErrInvalidResponse
	case ServerRejected:
		return ErrServerRejected
	case Cancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// Error is a classified failure. Op names the engine operation
// ("read", "write", "refresh"), Key the collection or operation id.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

// New builds a classified error.
func New(kind Kind, op, key string, err error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Key != "" {
		msg += " (" + e.Key + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel so errors.Is(err, ErrServerRejected) works
// without unwrapping to the concrete type.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf classifies err. Context errors map to Cancelled, an *Error found in
// the chain keeps its kind, sentinels map to their kind, and anything else
// is treated as a transport failure.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrCancelled):
		return Cancelled
	case errors.Is(err, ErrNotCached):
		return NotCached
	case errors.Is(err, ErrInvalidResponse):
		return InvalidResponse
	case errors.Is(err, ErrServerRejected):
		return ServerRejected
	}
	return TransportFailure
}

// Wrap classifies err with KindOf and attaches op/key. A nil err stays nil.
// An *Error is not wrapped twice: one without op/key gets them filled in,
// one that already has them is returned unchanged.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*Error); ok {
		if fe.Op != "" || fe.Key != "" {
			return fe
		}
		c := *fe
		c.Op, c.Key = op, key
		return &c
	}
	return New(KindOf(err), op, key, err)
}

// Rejected is a convenience for transports reporting an application-level
// refusal with a status code.
func Rejected(status int, msg string) *Error {
	return New(ServerRejected, "", "", fmt.Errorf("status %d: %s", status, msg))
}

// Retryable reports whether showing a retry affordance makes sense.
func Retryable(err error) bool {
	switch KindOf(err) {
	case TransportFailure, Cancelled:
		return true
	default:
		return false
	}
}
