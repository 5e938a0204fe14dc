// Package redflag classifies complaints that describe a medical emergency and
// must bypass normal specialty routing.
package redflag

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/linnemanlabs/medroute/internal/textnorm"
)

const (
	// KeywordFactor scales a category's confidence when it fires on keyword
	// co-occurrence instead of a pattern.
	KeywordFactor = 0.8

	// MinKeywords is the number of distinct category keywords that must appear
	// together for a keyword match.
	MinKeywords = 2

	// CombinedConfidence is the confidence of the headache + vomiting rule.
	CombinedConfidence = 0.85

	// CombinedLabel labels the headache + vomiting rule.
	CombinedLabel = "headache_with_vomiting"
)

// Result is the outcome of red-flag detection. The zero value means no emergency.
type Result struct {
	Urgent     bool    `json:"urgent"`
	Label      string  `json:"label"`
	Reason     string  `json:"reason"`
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
}

// Category describes one class of emergency. Patterns are matched against
// normalized text, so they must be written lowercase without diacritics.
type Category struct {
	Label      string
	Message    string
	Confidence float64
	Patterns   []string
	Keywords   []string
}

type compiledCategory struct {
	label      string
	message    string
	confidence float64
	patterns   []*regexp.Regexp
	keywords   []string
}

// Detector evaluates categories in declaration order. It holds no mutable
// state and is safe for concurrent use.
type Detector struct {
	categories    []compiledCategory
	headacheTerms []string
	nauseaTerms   []string
	combinedMsg   string
}

// New compiles the given categories. It fails on an invalid pattern or a
// confidence outside [0,1].
func New(categories []Category) (*Detector, error) {
	d := &Detector{
		headacheTerms: normalizeAll(headacheTerms),
		nauseaTerms:   normalizeAll(nauseaTerms),
		combinedMsg:   combinedMessage,
	}

	for _, c := range categories {
		if c.Label == "" {
			return nil, fmt.Errorf("redflag: category with empty label")
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			return nil, fmt.Errorf("redflag: category %q confidence %v out of range", c.Label, c.Confidence)
		}
		cc := compiledCategory{
			label:      c.Label,
			message:    c.Message,
			confidence: c.Confidence,
			keywords:   normalizeAll(c.Keywords),
		}
		for _, p := range c.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("redflag: category %q pattern %q: %w", c.Label, p, err)
			}
			cc.patterns = append(cc.patterns, re)
		}
		d.categories = append(d.categories, cc)
	}

	return d, nil
}

// Default returns a Detector over DefaultCategories.
func Default() *Detector {
	d, err := New(DefaultCategories())
	if err != nil {
		panic(err) // built-in table is covered by tests
	}
	return d
}

// Detect classifies a complaint. The first category that matches wins; the
// combined headache/vomiting rule is checked after the table.
func (d *Detector) Detect(complaint string) Result {
	text := textnorm.Normalize(complaint)
	if text == "" {
		return Result{}
	}

	for _, c := range d.categories {
		for _, re := range c.patterns {
			if re.MatchString(text) {
				return Result{
					Urgent:     true,
					Label:      c.label,
					Reason:     fmt.Sprintf("matched pattern %q", re.String()),
					Message:    c.message,
					Confidence: c.confidence,
				}
			}
		}

		if hits := matchedTerms(text, c.keywords); len(hits) >= MinKeywords {
			return Result{
				Urgent:     true,
				Label:      c.label,
				Reason:     "co-occurring keywords: " + strings.Join(hits, ", "),
				Message:    c.message,
				Confidence: c.confidence * KeywordFactor,
			}
		}
	}

	headache := firstTerm(text, d.headacheTerms)
	nausea := firstTerm(text, d.nauseaTerms)
	if headache != "" && nausea != "" {
		return Result{
			Urgent:     true,
			Label:      CombinedLabel,
			Reason:     fmt.Sprintf("headache (%s) with nausea/vomiting (%s)", headache, nausea),
			Message:    d.combinedMsg,
			Confidence: CombinedConfidence,
		}
	}

	return Result{}
}

func matchedTerms(text string, terms []string) []string {
	var hits []string
	for _, t := range terms {
		if t != "" && strings.Contains(text, t) {
			hits = append(hits, t)
		}
	}
	return hits
}

func firstTerm(text string, terms []string) string {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return t
		}
	}
	return ""
}

func normalizeAll(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		n := textnorm.Normalize(s)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
