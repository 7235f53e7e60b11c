package types

import "time"

// WorkStatus is the work lifecycle state machine's current state.
// Per the state machine: pending -> {completed | failed | deferred | no_match}.
type WorkStatus string

const (
	StatusPending   WorkStatus = "pending"
	StatusCompleted WorkStatus = "completed"
	StatusFailed    WorkStatus = "failed"
	StatusDeferred  WorkStatus = "deferred"
	StatusNoMatch   WorkStatus = "no_match"
)

// HistoryEntry records one status transition for work.json's history list.
type HistoryEntry struct {
	From      WorkStatus `json:"from"`
	To        WorkStatus `json:"to"`
	Reason    string     `json:"reason,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Work is the persisted record for one input record: its directory, the
// candidates the selector found, the selection made, and its lifecycle
// status. Serialized as work.json inside WorkDir.
type Work struct {
	WorkID    string            `json:"work_id"`
	Input     InputRecord       `json:"input"`
	WorkDir   string            `json:"work_dir"`
	Candidates []ScoredCandidate `json:"candidates"`
	Selected  *Selection        `json:"selected,omitempty"`
	Status    WorkStatus        `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	History   []HistoryEntry    `json:"history"`
}

// Transition appends a history entry and updates Status/UpdatedAt. now is
// passed in rather than read from the wall clock so callers route it through
// a single injected Clock.
func (w *Work) Transition(to WorkStatus, reason string, now time.Time) {
	w.History = append(w.History, HistoryEntry{
		From:      w.Status,
		To:        to,
		Reason:    reason,
		Timestamp: now,
	})
	w.Status = to
	w.UpdatedAt = now
}

// DownloadTask is created by the pipeline driver and consumed by the
// scheduler. WorkRef is a pointer into the owning Work so the scheduler can
// finalize status once the task reaches a terminal outcome.
type DownloadTask struct {
	WorkRef      *Work
	Candidate    ScoredCandidate
	AttemptIndex int
	Deadline     time.Time
}

// IndexRow is one row of index.csv, in column order.
type IndexRow struct {
	WorkID               string
	EntryID              string
	WorkDir              string
	Title                string
	Creator              string
	SelectedProvider     string
	SelectedProviderKey  string
	SelectedSourceID     string
	SelectedDir          string
	WorkJSON             string
	ItemURL              string
	Status               string
}
