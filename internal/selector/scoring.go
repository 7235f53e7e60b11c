// Package selector fans out provider searches, scores and ranks the
// resulting candidates, and produces the ordered Selection the scheduler
// consumes.
package selector

import (
	"sort"
	"strings"
	"unicode"

	"github.com/pdiddy/archivist/pkg/types"
)

// normalize approximates Unicode NFKC + lowercase + diacritic folding +
// punctuation-to-whitespace + whitespace-collapse, per §4.5's title/creator
// normalization rule. No sequence-matching or normalization library appears
// anywhere in the retrieval pack (the closest relative, Python's
// `unicodedata` + `difflib`, has no pack-provided Go analogue), so both the
// folding and the ratio below are hand-rolled over stdlib `unicode`/`strings`.
func normalize(s string) string {
	folded := foldDiacritics(strings.ToLower(s))
	var b strings.Builder
	lastSpace := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

var diacriticFold = strings.NewReplacer(
	"à", "a", "á", "a", "â", "a", "ã", "a", "ä", "a", "å", "a",
	"è", "e", "é", "e", "ê", "e", "ë", "e",
	"ì", "i", "í", "i", "î", "i", "ï", "i",
	"ò", "o", "ó", "o", "ô", "o", "õ", "o", "ö", "o", "ø", "o",
	"ù", "u", "ú", "u", "û", "u", "ü", "u",
	"ñ", "n", "ç", "c", "ý", "y", "ÿ", "y",
	"æ", "ae", "œ", "oe", "ß", "ss",
)

func foldDiacritics(s string) string { return diacriticFold.Replace(s) }

// tokenSet returns the sorted, deduplicated whitespace-separated tokens of
// an already-normalized string.
func tokenSet(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.Fields(s)
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// tokenSetRatio is a token-set similarity ratio in [0, 100]: both strings are
// tokenized, deduped and sorted, then compared as the intersection plus each
// side's sorted remainder, taking the best pairwise sequenceRatio among the
// three resulting strings — the same shape as Python's
// `fuzzywuzzy`/`thefuzz` token_set_ratio, which the original (`api/matching.py`)
// builds on difflib's SequenceMatcher.
func tokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(normalize(a)), tokenSet(normalize(b))
	if len(ta) == 0 && len(tb) == 0 {
		return 100
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(ta))
	for _, t := range ta {
		setA[t] = true
	}
	var inter, onlyA, onlyB []string
	for _, t := range tb {
		if setA[t] {
			inter = append(inter, t)
		} else {
			onlyB = append(onlyB, t)
		}
	}
	setB := make(map[string]bool, len(tb))
	for _, t := range tb {
		setB[t] = true
	}
	for _, t := range ta {
		if !setB[t] {
			onlyA = append(onlyA, t)
		}
	}

	interStr := strings.Join(inter, " ")
	sortedA := strings.TrimSpace(interStr + " " + strings.Join(onlyA, " "))
	sortedB := strings.TrimSpace(interStr + " " + strings.Join(onlyB, " "))

	best := sequenceRatio(interStr, sortedA)
	if r := sequenceRatio(interStr, sortedB); r > best {
		best = r
	}
	if r := sequenceRatio(sortedA, sortedB); r > best {
		best = r
	}
	return best
}

// sequenceRatio is difflib's SequenceMatcher.ratio(): 2*M / T, where M is the
// total length of matching blocks found by a longest-common-substring-style
// greedy recursive matcher, and T is the combined length of both strings.
func sequenceRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 100
	}
	matches := matchingBlockLength(a, b)
	total := len(a) + len(b)
	if total == 0 {
		return 100
	}
	return 200 * float64(matches) / float64(total)
}

// matchingBlockLength recursively finds the longest common substring and
// sums its length with the recursive result on the left and right remainders,
// mirroring SequenceMatcher's get_matching_blocks algorithm closely enough
// for scoring purposes (exact junk-elision heuristics are not replicated).
func matchingBlockLength(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, length := longestCommonSubstring(a, b)
	if length == 0 {
		return 0
	}
	left := matchingBlockLength(a[:ai], b[:bi])
	right := matchingBlockLength(a[ai+length:], b[bi+length:])
	return length + left + right
}

// longestCommonSubstring returns the start indices in a and b, and the
// length, of their longest common substring (dynamic programming, O(len(a)*len(b))).
func longestCommonSubstring(a, b string) (int, int, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	bestLen, bestAI, bestBI := 0, 0, 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > bestLen {
					bestLen = curr[j]
					bestAI = i - curr[j]
					bestBI = j - curr[j]
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return bestAI, bestBI, bestLen
}

// TitleScore is the token-set ratio between the query and candidate titles.
func TitleScore(queryTitle, candidateTitle string) float64 {
	return tokenSetRatio(queryTitle, candidateTitle)
}

// CreatorScore is the token-set ratio between query and candidate creators,
// except an absent query creator scores 100 (spec.md §4.5 — a deliberate
// divergence from the Python original's matching.py, which returns 0 in that
// case; spec.md is authoritative here).
func CreatorScore(queryCreator string, candidateCreators []string) float64 {
	if strings.TrimSpace(queryCreator) == "" {
		return 100
	}
	if len(candidateCreators) == 0 {
		return 0
	}
	best := 0.0
	for _, c := range candidateCreators {
		if r := tokenSetRatio(queryCreator, c); r > best {
			best = r
		}
	}
	return best
}

// QualityBonus adds +3 for a present IIIF manifest and +0.5 for a present
// item URL.
func QualityBonus(c types.Candidate) float64 {
	bonus := 0.0
	if c.IIIFManifestURL != "" {
		bonus += 3
	}
	if c.ItemURL != "" {
		bonus += 0.5
	}
	return bonus
}

// Score computes the full Scores record for one candidate against one
// query, per §4.5's combined_match_score weighting.
func Score(queryTitle, queryCreator string, c types.Candidate, creatorWeight float64) types.Scores {
	title := TitleScore(queryTitle, c.Title)
	creator := CreatorScore(queryCreator, c.Creators)
	bonus := QualityBonus(c)
	total := title*(1-creatorWeight) + creator*creatorWeight + bonus
	return types.Scores{TitleScore: title, CreatorScore: creator, QualityBonus: bonus, Total: total}
}

// rankIndex returns providerKey's position in hierarchy, or len(hierarchy)
// (i.e. "last") when absent, for the tie-break rule in §4.5.
func rankIndex(hierarchy []string, providerKey string) int {
	for i, p := range hierarchy {
		if p == providerKey {
			return i
		}
	}
	return len(hierarchy)
}

// rank sorts candidates descending by Total, breaking ties by provider
// hierarchy position (earlier wins) and then by source_id lexicographic
// order, per §4.5.
func rank(candidates []types.ScoredCandidate, hierarchy []string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		ra, rb := rankIndex(hierarchy, a.ProviderKey), rankIndex(hierarchy, b.ProviderKey)
		if ra != rb {
			return ra < rb
		}
		return a.SourceID < b.SourceID
	})
}
