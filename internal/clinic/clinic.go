// Package clinic holds the canonical specialty vocabulary and resolves free-form
// clinic names, typically produced by a language model, onto it.
package clinic

import (
	"errors"
	"fmt"

	"github.com/linnemanlabs/medroute/internal/textnorm"
)

// Entry is one canonical specialty.
type Entry struct {
	Name         string   `json:"name" yaml:"name"`
	Variants     []string `json:"variants,omitempty" yaml:"variants,omitempty"`
	Parent       string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	GateRequired bool     `json:"gate_required,omitempty" yaml:"gate_required,omitempty"`
}

type form struct {
	norm   string
	tokens map[string]struct{}
	// generic is set when every token is a genericTokens word.
	generic bool
}

// genericTokens name a kind of facility rather than a specialty. An overlap
// made only of these words scores zero.
var genericTokens = map[string]struct{}{
	"clinic": {}, "clinics": {}, "polyclinic": {}, "outpatient": {},
	"department": {}, "dept": {}, "unit": {}, "service": {}, "services": {},
	"center": {}, "centre": {}, "disease": {}, "diseases": {}, "medicine": {},
	"klinik": {}, "klinigi": {}, "poliklinik": {}, "poliklinigi": {},
	"bolum": {}, "bolumu": {}, "servis": {}, "servisi": {}, "birimi": {},
	"merkezi": {}, "hastaliklari": {},
}

type compiledEntry struct {
	Entry
	name     form
	variants []form
}

// Table is an immutable, validated canonical clinic table. It is safe for
// concurrent use.
type Table struct {
	entries  []compiledEntry
	byNorm   map[string]int
	fallback int
}

// NewTable validates entries and precomputes their normalized forms. fallback
// names the general/primary-care entry returned when nothing matches.
func NewTable(entries []Entry, fallback string) (*Table, error) {
	if len(entries) == 0 {
		return nil, errors.New("clinic: empty table")
	}

	t := &Table{
		entries:  make([]compiledEntry, 0, len(entries)),
		byNorm:   make(map[string]int, len(entries)),
		fallback: -1,
	}

	var errs []error
	for i, e := range entries {
		n := textnorm.Normalize(e.Name)
		if n == "" {
			errs = append(errs, fmt.Errorf("clinic: entry %d has an empty name", i))
			continue
		}
		if _, dup := t.byNorm[n]; dup {
			errs = append(errs, fmt.Errorf("clinic: duplicate entry %q", e.Name))
			continue
		}

		ce := compiledEntry{
			Entry: Entry{
				Name:         e.Name,
				Variants:     append([]string(nil), e.Variants...),
				Parent:       e.Parent,
				GateRequired: e.GateRequired,
			},
			name: newForm(e.Name),
		}
		for _, v := range e.Variants {
			if f := newForm(v); f.norm != "" {
				ce.variants = append(ce.variants, f)
			}
		}

		t.byNorm[n] = len(t.entries)
		t.entries = append(t.entries, ce)
	}

	for _, e := range t.entries {
		if e.Parent != "" {
			if _, ok := t.byNorm[textnorm.Normalize(e.Parent)]; !ok {
				errs = append(errs, fmt.Errorf("clinic: %q has unknown parent %q", e.Name, e.Parent))
			}
		}
		if e.GateRequired && e.Parent == "" {
			errs = append(errs, fmt.Errorf("clinic: %q requires a gate but has no parent", e.Name))
		}
	}

	if idx, ok := t.byNorm[textnorm.Normalize(fallback)]; ok {
		t.fallback = idx
	} else {
		errs = append(errs, fmt.Errorf("clinic: fallback %q is not in the table", fallback))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

func newForm(s string) form {
	f := form{norm: textnorm.Normalize(s), tokens: make(map[string]struct{})}
	specific := 0
	for _, tok := range textnorm.Tokenize(s) {
		f.tokens[tok] = struct{}{}
		if _, ok := genericTokens[tok]; !ok {
			specific++
		}
	}
	f.generic = len(f.tokens) > 0 && specific == 0
	return f
}

// Fallback returns the general/primary-care entry.
func (t *Table) Fallback() Entry {
	return t.entries[t.fallback].Entry
}

// Lookup finds an entry by canonical name, ignoring case and diacritics.
func (t *Table) Lookup(name string) (Entry, bool) {
	idx, ok := t.byNorm[textnorm.Normalize(name)]
	if !ok {
		return Entry{}, false
	}
	return t.entries[idx].Entry, true
}

// Entries returns a copy of the table in declaration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Entry
		out[i].Variants = append([]string(nil), e.Variants...)
	}
	return out
}

// Len returns the number of canonical entries.
func (t *Table) Len() int { return len(t.entries) }
