// Package provider defines the adapter contract every digital-library
// provider implements (search + download) and a keyed registry resolving
// provider_key to its adapter.
package provider

import (
	"context"

	"github.com/pdiddy/archivist/pkg/types"
)

// Options bundles the download-time policy knobs an adapter must respect.
type Options struct {
	PreferPDFOverImages        bool
	DownloadManifestRenderings bool
	MaxRenderingsPerManifest   int
	RenderingMimeWhitelist     []string
	MaxPages                   int
	AllowedExtensions          []string
	IncludeMetadata            bool
	OverwriteExisting          bool
}

// Outcome is what one download call produced.
type Outcome struct {
	FilesWritten  []string
	BytesWritten  int64
	SkippedReason string
}

// Adapter is the capability set every provider implements. Adapters must
// not hold cross-call state beyond the provider-keyed limiter/breaker/quota
// objects they obtain from the core by key; ProviderKey/DisplayName are
// fixed at construction.
type Adapter interface {
	ProviderKey() string
	DisplayName() string
	Search(ctx context.Context, title, creator string, maxResults int) ([]types.Candidate, error)
	Download(ctx context.Context, candidate types.ScoredCandidate, workDir string, opts Options) (Outcome, error)
}

// Registry resolves provider_key to its Adapter.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds adapter, keyed by its own ProviderKey().
func (r *Registry) Register(a Adapter) {
	key := a.ProviderKey()
	if _, exists := r.adapters[key]; !exists {
		r.order = append(r.order, key)
	}
	r.adapters[key] = a
}

// Get returns the adapter for providerKey, or ok=false if unregistered.
func (r *Registry) Get(providerKey string) (Adapter, bool) {
	a, ok := r.adapters[providerKey]
	return a, ok
}

// Enabled returns the registered provider keys that are set true in cfg, in
// registration order, so fan-out order is deterministic across runs.
func (r *Registry) Enabled(cfg types.ProvidersConfig) []string {
	var out []string
	for _, key := range r.order {
		if cfg[key] {
			out = append(out, key)
		}
	}
	return out
}
