package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pdiddy/archivist/pkg/types"
)

func TestTitleScore_ExactMatch(t *testing.T) {
	assert.Equal(t, 100.0, TitleScore("The Raven", "The Raven"))
}

func TestTitleScore_CaseAndPunctuationInsensitive(t *testing.T) {
	assert.Equal(t, 100.0, TitleScore("the raven", "THE, RAVEN!"))
}

func TestTitleScore_DiacriticsFolded(t *testing.T) {
	assert.Equal(t, 100.0, TitleScore("cafe", "café"))
}

func TestTitleScore_TokenOrderIgnored(t *testing.T) {
	assert.Equal(t, 100.0, TitleScore("Raven The", "The Raven"))
}

func TestTitleScore_CompletelyDifferentIsLow(t *testing.T) {
	assert.Less(t, TitleScore("The Raven", "ZZZZ unknown"), 50.0)
}

func TestCreatorScore_AbsentQueryCreatorScores100(t *testing.T) {
	assert.Equal(t, 100.0, CreatorScore("", []string{"Someone Else"}))
}

func TestCreatorScore_NoCandidateCreatorsScoresZero(t *testing.T) {
	assert.Equal(t, 0.0, CreatorScore("Poe", nil))
}

func TestCreatorScore_BestAmongMultipleCandidates(t *testing.T) {
	score := CreatorScore("Edgar Allan Poe", []string{"Someone Else", "Poe, Edgar Allan"})
	assert.Greater(t, score, 50.0)
}

func TestQualityBonus(t *testing.T) {
	assert.Equal(t, 0.0, QualityBonus(types.Candidate{}))
	assert.Equal(t, 3.0, QualityBonus(types.Candidate{IIIFManifestURL: "https://x"}))
	assert.Equal(t, 0.5, QualityBonus(types.Candidate{ItemURL: "https://x"}))
	assert.Equal(t, 3.5, QualityBonus(types.Candidate{IIIFManifestURL: "https://x", ItemURL: "https://y"}))
}

func TestScore_CombinesWeightedComponents(t *testing.T) {
	c := types.Candidate{Title: "The Raven", Creators: []string{"Poe"}, ItemURL: "https://x"}
	s := Score("The Raven", "Poe", c, 0.3)
	assert.InDelta(t, 100.0, s.TitleScore, 0.01)
	assert.InDelta(t, 100.0, s.CreatorScore, 0.01)
	assert.InDelta(t, 0.5, s.QualityBonus, 0.01)
	assert.InDelta(t, 100.5, s.Total, 0.01)
}

func TestRank_OrdersByTotalDescending(t *testing.T) {
	candidates := []types.ScoredCandidate{
		{Candidate: types.Candidate{ProviderKey: "a", SourceID: "1"}, Scores: types.Scores{Total: 80}},
		{Candidate: types.Candidate{ProviderKey: "b", SourceID: "2"}, Scores: types.Scores{Total: 95}},
	}
	rank(candidates, nil)
	assert.Equal(t, "b", candidates[0].ProviderKey)
}

func TestRank_TiesBrokenByProviderHierarchy(t *testing.T) {
	candidates := []types.ScoredCandidate{
		{Candidate: types.Candidate{ProviderKey: "bnf", SourceID: "1"}, Scores: types.Scores{Total: 90}},
		{Candidate: types.Candidate{ProviderKey: "ia", SourceID: "2"}, Scores: types.Scores{Total: 90}},
	}
	rank(candidates, []string{"ia", "bnf"})
	assert.Equal(t, "ia", candidates[0].ProviderKey)
}

func TestRank_FinalTieBrokenBySourceID(t *testing.T) {
	candidates := []types.ScoredCandidate{
		{Candidate: types.Candidate{ProviderKey: "ia", SourceID: "b"}, Scores: types.Scores{Total: 90}},
		{Candidate: types.Candidate{ProviderKey: "ia", SourceID: "a"}, Scores: types.Scores{Total: 90}},
	}
	rank(candidates, []string{"ia"})
	assert.Equal(t, "a", candidates[0].SourceID)
}
