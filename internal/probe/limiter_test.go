package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/lanprobe/internal/errors"
)

func TestLimiterAcquireRelease(t *testing.T) {
	l := NewLimiter(2)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, 2, l.InUse())

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Acquire(blocked), context.DeadlineExceeded)

	l.Release()
	assert.Equal(t, 1, l.InUse())
	require.NoError(t, l.Acquire(ctx))

	l.Release()
	l.Release()
	l.Release() // extra release is a no-op
	assert.Equal(t, 0, l.InUse())
}

func TestLimiterCanceledContextNeverAcquires(t *testing.T) {
	l := NewLimiter(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Acquire(ctx), context.Canceled)
	assert.Equal(t, 0, l.InUse())
}

func TestLimiterClosed(t *testing.T) {
	l := NewLimiter(1)
	require.NoError(t, l.Close())

	err := l.Acquire(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeResourceExhausted))
	assert.True(t, l.Stats().Closed)
}

func TestNilLimiter(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Acquire(context.Background()))
	l.Release()
	assert.Equal(t, 0, l.InUse())
	assert.Equal(t, 0, l.Capacity())
	assert.NoError(t, l.Close())
	assert.Equal(t, LimiterStats{}, l.Stats())
}

func TestLimiterStats(t *testing.T) {
	l := NewLimiter(3)
	require.NoError(t, l.Acquire(context.Background()))

	assert.Equal(t, LimiterStats{Capacity: 3, InUse: 1, Available: 2}, l.Stats())
	l.Release()
	assert.Equal(t, 3, l.Stats().Available)
}

func TestNewLimiterMinimumCapacity(t *testing.T) {
	assert.Equal(t, 1, NewLimiter(0).Capacity())
	assert.Equal(t, 1, NewLimiter(-3).Capacity())
}
