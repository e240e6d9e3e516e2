package transporttest

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/IvanBrykalov/syncache/transport"
)

// Mock is a testify mock of transport.Transport. Use Fill inside Run to
// populate out.
type Mock struct {
	mock.Mock
}

var _ transport.Transport = (*Mock)(nil)

func (m *Mock) Fetch(ctx context.Context, ep transport.Endpoint, out any) error {
	args := m.Called(ctx, ep, out)
	return args.Error(0)
}

func (m *Mock) Send(ctx context.Context, ep transport.Endpoint, body, out any) error {
	args := m.Called(ctx, ep, body, out)
	return args.Error(0)
}

func (m *Mock) Update(ctx context.Context, ep transport.Endpoint, body, out any) error {
	args := m.Called(ctx, ep, body, out)
	return args.Error(0)
}

func (m *Mock) Delete(ctx context.Context, ep transport.Endpoint) error {
	args := m.Called(ctx, ep)
	return args.Error(0)
}

// Fill copies v into out through JSON. It panics on encoding errors,
// which in a test means the fixture is wrong.
func Fill(out, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		panic(err)
	}
}
