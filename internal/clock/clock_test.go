package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffCapsAtMax(t *testing.T) {
	d := Backoff(time.Second, 2.0, 10, 30*time.Second)
	assert.Equal(t, 30*time.Second, d)
}

func TestBackoffDoubles(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(time.Second, 2.0, 1, time.Minute))
	assert.Equal(t, 2*time.Second, Backoff(time.Second, 2.0, 2, time.Minute))
	assert.Equal(t, 4*time.Second, Backoff(time.Second, 2.0, 3, time.Minute))
}

func TestFakeSleepAdvancesAndRespectsCancellation(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	start := c.Now()
	require.NoError(t, c.Sleep(context.Background(), 5*time.Second))
	assert.Equal(t, start.Add(5*time.Second), c.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJitterWithinBounds(t *testing.T) {
	base := 10 * time.Millisecond
	jitterMax := 5 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := Jitter(base, jitterMax)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+jitterMax)
	}
}
