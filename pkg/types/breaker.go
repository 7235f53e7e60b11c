package types

import "time"

// BreakerMode is the circuit breaker's current state.
type BreakerMode string

const (
	BreakerClosed   BreakerMode = "CLOSED"
	BreakerOpen     BreakerMode = "OPEN"
	BreakerHalfOpen BreakerMode = "HALF_OPEN"
)

// BreakerState is the per-provider breaker snapshot, exposed for
// quota-status style reporting.
type BreakerState struct {
	ProviderKey        string        `json:"provider_key"`
	Mode               BreakerMode   `json:"mode"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt           time.Time     `json:"opened_at,omitempty"`
	CooldownSeconds    float64       `json:"cooldown_s"`
	Threshold          int           `json:"threshold"`
}
