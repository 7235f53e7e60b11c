package selector

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pdiddy/archivist/internal/provider"
	"github.com/pdiddy/archivist/pkg/types"
)

// Selector runs one of the two candidate-selection strategies described in
// §4.5 against a registry of provider adapters.
type Selector struct {
	registry *provider.Registry
	cfg      types.SelectionConfig
}

// New returns a Selector bound to registry and cfg.
func New(registry *provider.Registry, cfg types.SelectionConfig) *Selector {
	return &Selector{registry: registry, cfg: cfg}
}

// Select runs the configured strategy for one input record against the set
// of enabled provider keys and returns the resulting Selection, or a
// *types.NoMatchError (which unwraps to types.ErrNoMatch) if nothing
// cleared min_title_score.
func (s *Selector) Select(ctx context.Context, record types.InputRecord, enabledProviders []string) (*types.Selection, error) {
	switch s.cfg.Strategy {
	case "sequential_first_hit":
		return s.sequentialFirstHit(ctx, record, enabledProviders)
	default:
		return s.collectAndSelect(ctx, record, enabledProviders)
	}
}

// collectAndSelect fans out one search per enabled provider, bounded by
// max_parallel_searches, scores every candidate, drops those below
// min_title_score, and ranks the remainder. Grounded on
// `internal/search/search.go::Search`'s channel fan-out, rewritten onto
// errgroup+semaphore per the domain-stack wiring goal.
func (s *Selector) collectAndSelect(ctx context.Context, record types.InputRecord, providers []string) (*types.Selection, error) {
	maxParallel := s.cfg.MaxParallelSearches
	if maxParallel <= 0 {
		maxParallel = len(providers)
		if maxParallel == 0 {
			maxParallel = 1
		}
	}
	sem := semaphore.NewWeighted(int64(maxParallel))

	results := make([][]types.Candidate, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range providers {
		i, key := i, key
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			adapter, ok := s.registry.Get(key)
			if !ok {
				return nil
			}
			maxResults := s.cfg.MaxCandidatesPerProvider
			if maxResults <= 0 {
				maxResults = 10
			}
			candidates, err := adapter.Search(gctx, record.Title, record.Creator, maxResults)
			if err != nil {
				return nil
			}
			if len(candidates) > maxResults {
				candidates = candidates[:maxResults]
			}
			results[i] = candidates
			return nil
		})
	}
	_ = g.Wait()

	var all []types.Candidate
	for _, r := range results {
		all = append(all, r...)
	}
	return s.scoreAndRank(record, all)
}

// sequentialFirstHit iterates provider_hierarchy, stopping at the first
// provider whose search yields a candidate clearing min_title_score.
func (s *Selector) sequentialFirstHit(ctx context.Context, record types.InputRecord, enabledProviders []string) (*types.Selection, error) {
	enabled := map[string]bool{}
	for _, p := range enabledProviders {
		enabled[p] = true
	}
	maxResults := s.cfg.MaxCandidatesPerProvider
	if maxResults <= 0 {
		maxResults = 10
	}

	var rejected []types.RejectedCandidate
	for _, key := range s.cfg.ProviderHierarchy {
		if !enabled[key] {
			continue
		}
		adapter, ok := s.registry.Get(key)
		if !ok {
			continue
		}
		candidates, err := adapter.Search(ctx, record.Title, record.Creator, maxResults)
		if err != nil {
			continue
		}
		var scored []types.ScoredCandidate
		for _, c := range candidates {
			sc := types.ScoredCandidate{Candidate: c, Scores: Score(record.Title, record.Creator, c, s.cfg.CreatorWeight)}
			if sc.TitleScore < s.cfg.MinTitleScore {
				rejected = append(rejected, types.RejectedCandidate{ScoredCandidate: sc, Reason: "below-min-title-score"})
				continue
			}
			scored = append(scored, sc)
		}
		if len(scored) == 0 {
			continue
		}
		rank(scored, s.cfg.ProviderHierarchy)
		return &types.Selection{Primary: scored[0], Fallbacks: scored[1:], RejectedReason: rejected}, nil
	}
	return nil, &types.NoMatchError{Rejected: rejected}
}

// scoreAndRank scores every candidate, partitions by min_title_score, ranks
// the acceptable ones, and builds the Selection. Returns a
// *types.NoMatchError (unwrapping to types.ErrNoMatch) if none clear the
// threshold.
func (s *Selector) scoreAndRank(record types.InputRecord, candidates []types.Candidate) (*types.Selection, error) {
	var accepted []types.ScoredCandidate
	var rejected []types.RejectedCandidate
	for _, c := range candidates {
		sc := types.ScoredCandidate{Candidate: c, Scores: Score(record.Title, record.Creator, c, s.cfg.CreatorWeight)}
		if sc.TitleScore < s.cfg.MinTitleScore {
			rejected = append(rejected, types.RejectedCandidate{ScoredCandidate: sc, Reason: "below-min-title-score"})
			continue
		}
		accepted = append(accepted, sc)
	}
	if len(accepted) == 0 {
		sort.SliceStable(rejected, func(i, j int) bool { return rejected[i].SourceID < rejected[j].SourceID })
		return nil, &types.NoMatchError{Rejected: rejected}
	}
	rank(accepted, s.cfg.ProviderHierarchy)
	sort.SliceStable(rejected, func(i, j int) bool { return rejected[i].SourceID < rejected[j].SourceID })
	return &types.Selection{Primary: accepted[0], Fallbacks: accepted[1:], RejectedReason: rejected}, nil
}
