package clinic

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/linnemanlabs/medroute/internal/textnorm"
)

const (
	// ExactNameSimilarity is reported for a normalized canonical-name match.
	ExactNameSimilarity = 1.0

	// ExactVariantSimilarity is reported for a normalized variant match.
	ExactVariantSimilarity = 0.95

	// MinSimilarity is the score below which a candidate resolves to the fallback.
	MinSimilarity = 0.3

	// MinEditSimilarity is the edit-distance score that must be exceeded before
	// it replaces a weak token score.
	MinEditSimilarity = 0.6
)

// Match is the outcome of resolving a candidate name.
type Match struct {
	Name       string
	Matched    bool
	Similarity float64
}

// Resolve maps candidate onto a canonical name. Stages run in priority order
// and the first that succeeds wins: exact normalized match, token Jaccard,
// edit distance for weak Jaccard scores, then the fallback entry. A candidate
// made only of generic words such as "clinic" skips the fuzzy stages.
func (t *Table) Resolve(candidate string) Match {
	norm := textnorm.Normalize(candidate)
	if norm == "" {
		return t.fallbackMatch(0)
	}

	if idx, ok := t.byNorm[norm]; ok {
		return Match{Name: t.entries[idx].Name, Matched: true, Similarity: ExactNameSimilarity}
	}
	for _, e := range t.entries {
		for _, v := range e.variants {
			if v.norm == norm {
				return Match{Name: e.Name, Matched: true, Similarity: ExactVariantSimilarity}
			}
		}
	}

	cand := newForm(candidate)
	if cand.generic {
		return t.fallbackMatch(0)
	}
	best, bestScore := -1, 0.0
	for i, e := range t.entries {
		score := jaccard(cand.tokens, e.name.tokens)
		for _, v := range e.variants {
			if s := jaccard(cand.tokens, v.tokens); s > score {
				score = s
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	if bestScore < MinSimilarity {
		editBest, editScore := -1, 0.0
		for i, e := range t.entries {
			score := editSimilarity(norm, e.name.norm)
			for _, v := range e.variants {
				if s := editSimilarity(norm, v.norm); s > score {
					score = s
				}
			}
			if score > editScore {
				editBest, editScore = i, score
			}
		}
		if editScore > MinEditSimilarity && editScore > bestScore {
			best, bestScore = editBest, editScore
		}
	}

	if best < 0 || bestScore < MinSimilarity {
		return t.fallbackMatch(bestScore)
	}
	return Match{Name: t.entries[best].Name, Matched: true, Similarity: bestScore}
}

func (t *Table) fallbackMatch(score float64) Match {
	return Match{Name: t.entries[t.fallback].Name, Matched: false, Similarity: score}
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter, shared := 0, 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
			if _, g := genericTokens[tok]; !g {
				shared++
			}
		}
	}
	if shared == 0 {
		return 0
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// editSimilarity is 1 - levenshtein(a, b) / max(len(a), len(b)) over runes.
func editSimilarity(a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
