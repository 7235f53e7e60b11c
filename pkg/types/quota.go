package types

import "time"

// QuotaState is the per-provider daily counter persisted in the ledger.
type QuotaState struct {
	ProviderKey      string    `json:"provider_key"`
	DailyLimit       int       `json:"daily_limit"`
	UsedToday        int       `json:"used_today"`
	WindowStartWall  time.Time `json:"window_start_wall"`
	ResetHours       float64   `json:"reset_hours"`
	WaitOnExhaustion bool      `json:"wait_on_exhaustion"`
}

// Exhausted reports whether the provider has used its full daily allowance
// for the current window. DailyLimit of 0 means unlimited.
func (q QuotaState) Exhausted() bool {
	return q.DailyLimit > 0 && q.UsedToday >= q.DailyLimit
}

// NextReset returns the wall time at which this provider's window advances.
func (q QuotaState) NextReset() time.Time {
	return q.WindowStartWall.Add(time.Duration(q.ResetHours * float64(time.Hour)))
}
