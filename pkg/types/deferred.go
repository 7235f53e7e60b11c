package types

import "time"

// DeferReason is why a task landed in the deferred queue instead of
// retrying immediately.
type DeferReason string

const (
	DeferQuota     DeferReason = "quota"
	DeferRate      DeferReason = "rate"
	DeferTransient DeferReason = "transient"
)

// DeferredItem is a persisted, re-enqueueable download task.
type DeferredItem struct {
	ID           string      `json:"id"`
	WorkID       string      `json:"work_id"`
	Candidate    ScoredCandidate `json:"candidate"`
	Reason       DeferReason `json:"reason"`
	ReadyAt      time.Time   `json:"ready_at"`
	AttemptIndex int         `json:"attempt_index"`
	CreatedAt    time.Time   `json:"created_at"`
	Status       WorkStatus  `json:"status"`
}

// ReadyForRetry reports whether now has reached this item's ready_at.
func (d DeferredItem) ReadyForRetry(now time.Time) bool {
	return !now.Before(d.ReadyAt)
}

// Terminal reports whether this item has reached a terminal lifecycle
// status and is therefore eligible for the 7-day compaction sweep.
func (d DeferredItem) Terminal() bool {
	switch d.Status {
	case StatusCompleted, StatusFailed, StatusNoMatch:
		return true
	default:
		return false
	}
}
