// Package breaker implements the per-provider three-state circuit breaker:
// CLOSED admits requests, OPEN fails them immediately until a cooldown
// elapses, HALF_OPEN admits exactly one probe.
package breaker

import (
	"sync"
	"time"

	"github.com/pdiddy/archivist/internal/clock"
	"github.com/pdiddy/archivist/pkg/types"
)

// Breaker guards one provider_key. Not exported state is protected by mu;
// Allow/RecordSuccess/RecordFailure are the only entry points, so every
// transition is serialized.
type Breaker struct {
	mu sync.Mutex

	clock clock.Clock

	providerKey         string
	mode                types.BreakerMode
	consecutiveFailures int
	openedAt            time.Time
	threshold           int
	cooldown            time.Duration

	// probing is set while HALF_OPEN has admitted its one probe and is
	// awaiting its outcome, so concurrent callers don't both get admitted.
	probing bool
}

// New returns a Breaker starting CLOSED.
func New(c clock.Clock, providerKey string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		clock:       c,
		providerKey: providerKey,
		mode:        types.BreakerClosed,
		threshold:   threshold,
		cooldown:    cooldown,
	}
}

// Allow reports whether a request may proceed. When OPEN and the cooldown
// has elapsed, it transitions to HALF_OPEN and admits this caller as the
// probe; subsequent concurrent callers are refused until the probe resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.mode {
	case types.BreakerClosed:
		return nil
	case types.BreakerOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.cooldown {
			b.mode = types.BreakerHalfOpen
			b.probing = true
			return nil
		}
		return &types.CircuitOpen{ProviderKey: b.providerKey, OpenedAt: b.openedAt.Format(time.RFC3339)}
	case types.BreakerHalfOpen:
		if b.probing {
			return &types.CircuitOpen{ProviderKey: b.providerKey, OpenedAt: b.openedAt.Format(time.RFC3339)}
		}
		b.probing = true
		return nil
	}
	return nil
}

// RecordSuccess reports a non-trip success: CLOSED resets the failure
// counter; HALF_OPEN's successful probe closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.mode {
	case types.BreakerClosed:
		b.consecutiveFailures = 0
	case types.BreakerHalfOpen:
		b.mode = types.BreakerClosed
		b.consecutiveFailures = 0
		b.probing = false
	}
}

// RecordFailure reports a breaker-trip error (HTTP 429, or 5xx after the
// final retry). CLOSED increments the failure counter and opens once it
// reaches threshold; HALF_OPEN's failed probe reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.mode {
	case types.BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.mode = types.BreakerOpen
			b.openedAt = b.clock.Now()
		}
	case types.BreakerHalfOpen:
		b.mode = types.BreakerOpen
		b.openedAt = b.clock.Now()
		b.probing = false
	}
}

// State returns a snapshot for reporting.
func (b *Breaker) State() types.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.BreakerState{
		ProviderKey:         b.providerKey,
		Mode:                b.mode,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		CooldownSeconds:     b.cooldown.Seconds(),
		Threshold:           b.threshold,
	}
}

// Registry is a keyed set of per-provider breakers, constructed once at the
// composition root and shared by the HTTP executor and scheduler.
type Registry struct {
	mu       sync.Mutex
	clock    clock.Clock
	breakers map[string]*Breaker
	cfg      func(providerKey string) types.NetworkConfig
}

// NewRegistry returns a Registry that lazily constructs a Breaker per
// provider_key the first time it's requested, sized from cfg.
func NewRegistry(c clock.Clock, cfg func(providerKey string) types.NetworkConfig) *Registry {
	return &Registry{clock: c, breakers: make(map[string]*Breaker), cfg: cfg}
}

// For returns (creating if necessary) the Breaker for providerKey.
func (r *Registry) For(providerKey string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[providerKey]; ok {
		return b
	}
	nc := r.cfg(providerKey)
	threshold := nc.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	cooldown := time.Duration(nc.CircuitBreakerCooldownS * float64(time.Second))
	b := New(r.clock, providerKey, threshold, cooldown)
	r.breakers[providerKey] = b
	return b
}

// AllOpen reports whether every known provider's breaker is currently OPEN,
// used to raise the all-providers-unavailable failure reason.
func (r *Registry) AllOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.breakers) == 0 {
		return false
	}
	for _, b := range r.breakers {
		if b.State().Mode != types.BreakerOpen {
			return false
		}
	}
	return true
}

// Snapshot returns every tracked provider's breaker state, for reporting.
func (r *Registry) Snapshot() []types.BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.BreakerState, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.State())
	}
	return out
}
