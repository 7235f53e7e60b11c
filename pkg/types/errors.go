package types

import (
	"errors"
	"fmt"
)

// ErrNoMatch is returned by the selector when no candidate clears min_title_score.
var ErrNoMatch = errors.New("no acceptable candidate")

// NoMatchError is the selector's actual no-match return value: it carries
// every scored-but-rejected candidate so a caller can still persist them to
// work.json (§7: "Metadata (candidate list, scores) is persisted even when
// the final status is failed or no_match"). It unwraps to ErrNoMatch so
// existing errors.Is(err, ErrNoMatch) checks keep working.
type NoMatchError struct {
	Rejected []RejectedCandidate
}

func (e *NoMatchError) Error() string { return ErrNoMatch.Error() }
func (e *NoMatchError) Unwrap() error { return ErrNoMatch }

// ClientError represents a non-retryable 4xx response (other than 429).
type ClientError struct {
	StatusCode int
	URL        string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error: %d fetching %s", e.StatusCode, e.URL)
}

// RateLimited indicates a 429 response whose Retry-After has been exhausted
// across max_attempts; it is distinct from the transparent in-executor sleep
// that happens before max_attempts is reached.
type RateLimited struct {
	ProviderKey string
	RetryAfter  string
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("%s: rate limited, retry-after %s", e.ProviderKey, e.RetryAfter)
}

// Transient wraps a 5xx or network-level error that survived all retries.
type Transient struct {
	Err error
}

func (e *Transient) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *Transient) Unwrap() error { return e.Err }

// CircuitOpen is returned immediately when a provider's breaker is OPEN.
type CircuitOpen struct {
	ProviderKey string
	OpenedAt    string
}

func (e *CircuitOpen) Error() string {
	return fmt.Sprintf("%s: circuit open since %s", e.ProviderKey, e.OpenedAt)
}

// QuotaExhausted indicates a provider's daily quota has been used up.
type QuotaExhausted struct {
	ProviderKey string
	ResetAt     string
}

func (e *QuotaExhausted) Error() string {
	return fmt.Sprintf("%s: quota exhausted, resets at %s", e.ProviderKey, e.ResetAt)
}

// BudgetExceeded indicates a budget limit was hit, either pre-flight or mid-stream.
type BudgetExceeded struct {
	Scope string
	Class string
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf("budget exceeded: scope=%s class=%s", e.Scope, e.Class)
}

// Timeout indicates a worker_timeout_s deadline elapsed on a download task.
type Timeout struct {
	WorkID string
}

func (e *Timeout) Error() string { return fmt.Sprintf("timeout: work %s", e.WorkID) }

// IOError wraps a filesystem failure (journal write, CSV append, temp-rename).
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("io error during %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// IsBreakerTrip reports whether err should count against a provider's
// consecutive_failures per the breaker-trip definition: HTTP 429, or HTTP 5xx
// after the final retry.
func IsBreakerTrip(err error) bool {
	var rl *RateLimited
	if errors.As(err, &rl) {
		return true
	}
	var tr *Transient
	return errors.As(err, &tr)
}
