// Package ratelimit enforces minimum inter-request spacing per provider,
// with strict FIFO admission among concurrent waiters.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pdiddy/archivist/internal/clock"
)

// Limiter gates requests for one provider_key so consecutive admissions are
// separated by at least delay_ms, plus uniform_random(0, jitter_ms).
//
// The original's RateLimiter tracks a single _last_request_ts under a lock;
// each waiter sleeps, then rechecks the lock. Under concurrent Go callers
// that admits waiters in whatever order the runtime happens to wake them,
// not necessarily the order they arrived. This is a ticket turnstile
// instead: each caller is handed a sequence number and a channel; it waits
// for the previous sequence number's channel to close before checking
// spacing, then closes its own channel on the way out (success or
// cancellation) so the next waiter is never stuck behind a caller that
// bailed out.
type Limiter struct {
	clock  clock.Clock
	delay  time.Duration
	jitter time.Duration

	mu        sync.Mutex
	nextSeq   int64
	turnChans map[int64]chan struct{}
	lastTime  time.Time
	hasLast   bool
}

// New returns a Limiter pacing at delayMS + uniform_random(0, jitterMS).
func New(c clock.Clock, delayMS, jitterMS int) *Limiter {
	return &Limiter{
		clock:     c,
		delay:     time.Duration(delayMS) * time.Millisecond,
		jitter:    time.Duration(jitterMS) * time.Millisecond,
		turnChans: make(map[int64]chan struct{}),
	}
}

// Wait blocks until every earlier-arriving caller for this provider has been
// admitted and the configured spacing since the last admission has elapsed,
// or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	mySeq := l.nextSeq
	l.nextSeq++
	myChan := make(chan struct{})
	l.turnChans[mySeq] = myChan
	prevChan, hasPrev := l.turnChans[mySeq-1]
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		close(myChan)
		l.mu.Unlock()
	}()

	if hasPrev {
		select {
		case <-prevChan:
			l.mu.Lock()
			delete(l.turnChans, mySeq-1)
			l.mu.Unlock()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.mu.Lock()
	var wait time.Duration
	if l.hasLast {
		elapsed := l.clock.Now().Sub(l.lastTime)
		spacing := clock.Jitter(l.delay, l.jitter)
		if elapsed < spacing {
			wait = spacing - elapsed
		}
	}
	l.mu.Unlock()

	if wait > 0 {
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.lastTime = l.clock.Now()
	l.hasLast = true
	l.mu.Unlock()
	return nil
}
