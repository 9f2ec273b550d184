package backend

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"informdav/internal/upstream"
)

// mockClient is a testify mock of the upstream client.
type mockClient struct {
	mock.Mock
}

var _ upstream.Client = (*mockClient)(nil)

func (m *mockClient) ListOccurrences(ctx context.Context, ownerKey string, start, end time.Time, limit int) ([]upstream.Event, error) {
	args := m.Called(ctx, ownerKey, start, end, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]upstream.Event), args.Error(1)
}

func (m *mockClient) GetEvent(ctx context.Context, key string) (*upstream.Event, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*upstream.Event), args.Error(1)
}

func (m *mockClient) CreateEvent(ctx context.Context, fields upstream.Patch) (*upstream.Event, error) {
	args := m.Called(ctx, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*upstream.Event), args.Error(1)
}

func (m *mockClient) UpdateEvent(ctx context.Context, key string, fields upstream.Patch) (*upstream.Event, error) {
	args := m.Called(ctx, key, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*upstream.Event), args.Error(1)
}

func (m *mockClient) DeleteEvent(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
