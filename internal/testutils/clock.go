package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/jzx17/reconnect/pkg/types"
	"github.com/stretchr/testify/require"
)

// NewMockClock creates a mock clock for testing together with its types.Clock view
func NewMockClock(t testing.TB) (*quartz.Mock, types.Clock) {
	mock := quartz.NewMock(t)
	return mock, types.FromQuartz(mock)
}

// WithMockClock creates a context with mock clock
func WithMockClock(ctx context.Context, mock *quartz.Mock) context.Context {
	return types.WithClock(ctx, types.FromQuartz(mock))
}

// AdvanceToNextTimer waits until a timer is registered on the mock, then
// advances the clock exactly to it and waits for its callback to return.
// It returns the duration that was advanced.
func AdvanceToNextTimer(ctx context.Context, t testing.TB, mock *quartz.Mock) time.Duration {
	t.Helper()

	require.Eventually(t, func() bool {
		_, ok := mock.Peek()
		return ok
	}, 5*time.Second, time.Millisecond, "no timer was scheduled")

	d, w := mock.AdvanceNext()
	w.MustWait(ctx)
	return d
}
