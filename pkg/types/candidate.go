package types

// Candidate is produced by a provider adapter's search call. source_id must
// uniquely identify the item within ProviderKey.
type Candidate struct {
	ProviderKey        string         `json:"provider_key"`
	ProviderDisplay    string         `json:"provider_display_name"`
	Title              string         `json:"title"`
	Creators           []string       `json:"creators,omitempty"`
	Date               string         `json:"date,omitempty"`
	SourceID           string         `json:"source_id"`
	ItemURL            string         `json:"item_url,omitempty"`
	IIIFManifestURL    string         `json:"iiif_manifest_url,omitempty"`
	// DownloadHint is opaque to the selector; only the owning adapter
	// interprets it during download.
	DownloadHint any            `json:"download_hint,omitempty"`
	RawMetadata  map[string]any `json:"raw_metadata,omitempty"`
}

// Scores holds the individual components behind a ScoredCandidate.Total, kept
// as its own struct so work.json can serialize "scores" as a nested object.
type Scores struct {
	TitleScore   float64 `json:"title_score"`
	CreatorScore float64 `json:"creator_score"`
	QualityBonus float64 `json:"quality_bonus"`
	Total        float64 `json:"total"`
}

// ScoredCandidate is a Candidate annotated with the ranking components from
// the candidate selector's scoring step.
type ScoredCandidate struct {
	Candidate
	Scores `json:"scores"`
}

// Selection is the candidate selector's output for one work: a primary pick,
// an ordered fallback list consumed by the scheduler on failure, and the
// candidates rejected below min_title_score (kept for diagnostics).
type Selection struct {
	Primary        ScoredCandidate   `json:"primary"`
	Fallbacks      []ScoredCandidate `json:"fallbacks"`
	RejectedReason []RejectedCandidate `json:"rejected_with_reason,omitempty"`
}

// RejectedCandidate records why a candidate did not clear min_title_score.
type RejectedCandidate struct {
	ScoredCandidate
	Reason string `json:"reason"`
}
