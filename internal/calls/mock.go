package calls

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sweeney/homer-callflow/internal/capture"
	"github.com/sweeney/homer-callflow/internal/homer"
)

// MockBackend is a Backend for tests.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Search(ctx context.Context, f homer.Filters, fromMS, toMS int64) ([]capture.Record, time.Duration, error) {
	args := m.Called(ctx, f, fromMS, toMS)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]capture.Record), args.Get(1).(time.Duration), args.Error(2)
}

func (m *MockBackend) Transaction(ctx context.Context, callID string, anchorID, centerMS, windowMS int64) (capture.Transaction, time.Duration, error) {
	args := m.Called(ctx, callID, anchorID, centerMS, windowMS)
	return args.Get(0).(capture.Transaction), args.Get(1).(time.Duration), args.Error(2)
}
