package types

// ContentClass partitions budget accounting by artifact kind.
type ContentClass string

const (
	ClassPDF      ContentClass = "pdf"
	ClassImage    ContentClass = "image"
	ClassMetadata ContentClass = "metadata"
)

// BudgetScope distinguishes the process-total counters from the
// current-work counters.
type BudgetScope string

const (
	ScopeTotal   BudgetScope = "total"
	ScopePerWork BudgetScope = "per_work"
)

// ExceedPolicy controls what happens when a budget limit is hit.
type ExceedPolicy string

const (
	PolicySkip ExceedPolicy = "skip"
	PolicyStop ExceedPolicy = "stop"
)

// Counter is one (scope, class) cell in the BudgetCounters map.
type Counter struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// ClassLimit is the configured ceiling for one content class at one scope.
// A zero value for either field means unlimited for that dimension.
type ClassLimit struct {
	Bytes int64 `json:"bytes"`
	Files int   `json:"files"`
}
