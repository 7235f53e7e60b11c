package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/archivist/internal/clock"
	"github.com/pdiddy/archivist/pkg/types"
)

func TestBreaker_ClosedAllowsAndResetsOnSuccess(t *testing.T) {
	c := clock.NewFake(time.Now())
	b := New(c, "ia", 2, time.Second)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	b.RecordSuccess()

	st := b.State()
	assert.Equal(t, types.BreakerClosed, st.Mode)
	assert.Equal(t, 0, st.ConsecutiveFailures)
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	c := clock.NewFake(time.Now())
	b := New(c, "annas", 2, time.Second)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.NoError(t, b.Allow())
	b.RecordFailure()

	err := b.Allow()
	require.Error(t, err)
	var co *types.CircuitOpen
	require.ErrorAs(t, err, &co)
	assert.Equal(t, types.BreakerOpen, b.State().Mode)
}

func TestBreaker_HalfOpenAdmitsOnlyOneProbe(t *testing.T) {
	c := clock.NewFake(time.Now())
	b := New(c, "x", 2, time.Second)
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, types.BreakerOpen, b.State().Mode)

	c.Advance(time.Second)

	require.NoError(t, b.Allow())
	assert.Equal(t, types.BreakerHalfOpen, b.State().Mode)

	err := b.Allow()
	require.Error(t, err)
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	c := clock.NewFake(time.Now())
	b := New(c, "x", 2, time.Second)
	b.RecordFailure()
	b.RecordFailure()
	c.Advance(time.Second)
	require.NoError(t, b.Allow())

	b.RecordSuccess()

	st := b.State()
	assert.Equal(t, types.BreakerClosed, st.Mode)
	assert.Equal(t, 0, st.ConsecutiveFailures)

	require.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	c := clock.NewFake(time.Now())
	b := New(c, "x", 2, time.Second)
	b.RecordFailure()
	b.RecordFailure()
	c.Advance(time.Second)
	require.NoError(t, b.Allow())

	b.RecordFailure()

	assert.Equal(t, types.BreakerOpen, b.State().Mode)
	require.Error(t, b.Allow())
}

func TestBreaker_StaysOpenBeforeCooldown(t *testing.T) {
	c := clock.NewFake(time.Now())
	b := New(c, "x", 1, 5*time.Second)
	b.RecordFailure()

	c.Advance(2 * time.Second)
	err := b.Allow()
	require.Error(t, err)
	assert.Equal(t, types.BreakerOpen, b.State().Mode)
}

func TestRegistry_LazilyCreatesPerProviderBreakers(t *testing.T) {
	c := clock.NewFake(time.Now())
	r := NewRegistry(c, func(key string) types.NetworkConfig {
		return types.NetworkConfig{CircuitBreakerThreshold: 3, CircuitBreakerCooldownS: 1}
	})

	b1 := r.For("ia")
	b2 := r.For("ia")
	b3 := r.For("bnf")
	assert.Same(t, b1, b2)
	assert.NotSame(t, b1, b3)
}

func TestRegistry_AllOpen(t *testing.T) {
	c := clock.NewFake(time.Now())
	r := NewRegistry(c, func(key string) types.NetworkConfig {
		return types.NetworkConfig{CircuitBreakerThreshold: 1, CircuitBreakerCooldownS: 60}
	})

	assert.False(t, r.AllOpen())

	b1 := r.For("ia")
	b1.RecordFailure()
	assert.True(t, r.AllOpen())

	b2 := r.For("bnf")
	assert.False(t, r.AllOpen())
	b2.RecordFailure()
	assert.True(t, r.AllOpen())
}
