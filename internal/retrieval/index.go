// Package retrieval finds historical cases similar to a complaint using TF-IDF
// over a static corpus.
package retrieval

import (
	"math"
	"sort"

	"github.com/linnemanlabs/medroute/internal/textnorm"
)

// Example is one historical case: a complaint and the clinic it was routed to.
type Example struct {
	Complaint string `json:"complaint" yaml:"complaint"`
	Clinic    string `json:"clinic" yaml:"clinic"`
}

// Hit is a scored corpus example.
type Hit struct {
	Complaint string  `json:"complaint"`
	Clinic    string  `json:"clinic"`
	Score     float64 `json:"score"`
}

var stopWords = map[string]struct{}{
	// english
	"the": {}, "and": {}, "with": {}, "for": {}, "have": {}, "has": {}, "had": {},
	"since": {}, "from": {}, "that": {}, "this": {}, "are": {}, "was": {}, "not": {},
	"but": {}, "very": {}, "when": {}, "after": {}, "been": {}, "feel": {},
	// turkish, folded
	"bir": {}, "ile": {}, "cok": {}, "gibi": {}, "icin": {}, "var": {}, "ama": {},
	"daha": {}, "olan": {}, "oldu": {}, "beri": {}, "sonra": {}, "kadar": {}, "bana": {},
}

// Terms tokenizes text for indexing: normalized tokens minus stop words and
// tokens of two runes or fewer.
func Terms(text string) []string {
	toks := textnorm.Tokenize(text)
	out := toks[:0]
	for _, t := range toks {
		if len([]rune(t)) <= 2 {
			continue
		}
		if _, stop := stopWords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

type document struct {
	example Example
	tf      map[string]float64
}

// Index is an immutable TF-IDF index. Build one per corpus snapshot.
type Index struct {
	docs  []document
	idf   map[string]float64
	vocab map[string]int // term -> document frequency
}

// Build indexes the corpus. Examples with no indexable terms are kept so hit
// ordering stays tied to corpus order, but they never score.
func Build(corpus []Example) *Index {
	idx := &Index{
		docs:  make([]document, 0, len(corpus)),
		idf:   make(map[string]float64),
		vocab: make(map[string]int),
	}

	for _, ex := range corpus {
		terms := Terms(ex.Complaint)
		counts := make(map[string]int, len(terms))
		for _, t := range terms {
			counts[t]++
		}

		tf := make(map[string]float64, len(counts))
		for t, c := range counts {
			tf[t] = float64(c) / float64(len(terms))
			idx.vocab[t]++
		}
		idx.docs = append(idx.docs, document{example: ex, tf: tf})
	}

	n := float64(len(idx.docs))
	for t, df := range idx.vocab {
		idx.idf[t] = math.Log(n / float64(df))
	}

	return idx
}

// Len returns the number of indexed examples.
func (x *Index) Len() int { return len(x.docs) }

// VocabularySize returns the number of distinct indexed terms.
func (x *Index) VocabularySize() int { return len(x.vocab) }

// Search scores every document against query and returns the top k with a
// positive score, highest first. Equal scores keep corpus order.
func (x *Index) Search(query string, k int) []Hit {
	if k <= 0 || len(x.docs) == 0 {
		return []Hit{}
	}

	seen := make(map[string]struct{})
	var terms []string
	for _, t := range Terms(query) {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	if len(terms) == 0 {
		return []Hit{}
	}

	hits := make([]Hit, 0)
	for _, d := range x.docs {
		score := 0.0
		for _, t := range terms {
			if tf, ok := d.tf[t]; ok {
				score += tf * x.idf[t]
			}
		}
		if score > 0 {
			hits = append(hits, Hit{Complaint: d.example.Complaint, Clinic: d.example.Clinic, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
