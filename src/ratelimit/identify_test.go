package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifyLimiter_SameBucketWaits(t *testing.T) {
	l := NewIdentifyLimiter(2, 80*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, 0))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, 2)) // 2 % 2 == 0
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestIdentifyLimiter_DifferentBucketsIndependent(t *testing.T) {
	l := NewIdentifyLimiter(2, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Wait(ctx, 0))
	require.NoError(t, l.Wait(ctx, 1))
}

func TestIdentifyLimiter_ContextCancelled(t *testing.T) {
	l := NewIdentifyLimiter(1, time.Hour)
	require.NoError(t, l.Wait(context.Background(), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, 3))
}

func TestNewIdentifyLimiter_Defaults(t *testing.T) {
	l := NewIdentifyLimiter(0, 0)
	assert.Equal(t, 1, l.maxConcurrency)
	assert.Equal(t, IdentifyInterval, l.interval)
}
