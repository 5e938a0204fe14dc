// Package referral implements gatekeeping: sub-specialties that may only be
// booked after a visit to one of their parent specialties.
package referral

import (
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/medroute/internal/clinic"
	"github.com/linnemanlabs/medroute/internal/textnorm"
)

// Rule is an explicit gate definition. PriorList is ordered by preference.
type Rule struct {
	Clinic    string   `json:"clinic" yaml:"clinic"`
	PriorList []string `json:"prior_list" yaml:"prior_list"`
	Note      string   `json:"note,omitempty" yaml:"note,omitempty"`
	Reason    string   `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// AppliedGate is the gate that applies to one clinic.
type AppliedGate struct {
	RequiresPrior bool     `json:"requires_prior"`
	PriorList     []string `json:"prior_list"`
	GateNote      string   `json:"gate_note"`
	Reason        string   `json:"reason"`
}

type gate struct {
	priorList []string
	priorNorm map[string]struct{}
	note      string
	reason    string
}

// Engine answers gate lookups in O(1). It is immutable after construction.
type Engine struct {
	gates map[string]gate // normalized canonical name -> gate
}

// NewEngine derives gates from the table's gate-required entries and then
// applies explicit rules, which replace a derived gate for the same clinic.
// Every clinic and prior named must be canonical.
func NewEngine(table *clinic.Table, rules []Rule) (*Engine, error) {
	e := &Engine{gates: make(map[string]gate)}

	for _, entry := range table.Entries() {
		if !entry.GateRequired {
			continue
		}
		parent, _ := table.Lookup(entry.Parent)
		e.gates[textnorm.Normalize(entry.Name)] = newGate(
			[]string{parent.Name},
			fmt.Sprintf("%s requires a referral from %s before it can be booked directly.", entry.Name, parent.Name),
			fmt.Sprintf("%s is a sub-specialty of %s", entry.Name, parent.Name),
		)
	}

	var errs []error
	for _, r := range rules {
		target, ok := table.Lookup(r.Clinic)
		if !ok {
			errs = append(errs, fmt.Errorf("referral: rule for unknown clinic %q", r.Clinic))
			continue
		}
		if len(r.PriorList) == 0 {
			errs = append(errs, fmt.Errorf("referral: rule for %q has an empty prior list", r.Clinic))
			continue
		}

		priors := make([]string, 0, len(r.PriorList))
		for _, p := range r.PriorList {
			pe, ok := table.Lookup(p)
			if !ok {
				errs = append(errs, fmt.Errorf("referral: rule for %q names unknown prior %q", r.Clinic, p))
				continue
			}
			priors = append(priors, pe.Name)
		}

		note := r.Note
		if note == "" {
			note = fmt.Sprintf("%s requires a prior visit to %s.", target.Name, strings.Join(priors, " or "))
		}
		reason := r.Reason
		if reason == "" {
			reason = "referral rule"
		}
		e.gates[textnorm.Normalize(target.Name)] = newGate(priors, note, reason)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return e, nil
}

func newGate(priors []string, note, reason string) gate {
	g := gate{
		priorList: priors,
		priorNorm: make(map[string]struct{}, len(priors)),
		note:      note,
		reason:    reason,
	}
	for _, p := range priors {
		g.priorNorm[textnorm.Normalize(p)] = struct{}{}
	}
	return g
}

// Apply returns the gate for a canonical clinic name. Unknown or ungated
// names get RequiresPrior=false and an empty, non-nil PriorList.
func (e *Engine) Apply(name string) AppliedGate {
	g, ok := e.gates[textnorm.Normalize(name)]
	if !ok {
		return AppliedGate{PriorList: []string{}}
	}
	return AppliedGate{
		RequiresPrior: true,
		PriorList:     append([]string(nil), g.priorList...),
		GateNote:      g.note,
		Reason:        g.reason,
	}
}

// IsAccessible reports whether name can be booked given the specialties the
// patient has already visited.
func (e *Engine) IsAccessible(name string, visited []string) (bool, string) {
	g, ok := e.gates[textnorm.Normalize(name)]
	if !ok {
		return true, fmt.Sprintf("%s can be booked directly.", name)
	}
	for _, v := range visited {
		if _, ok := g.priorNorm[textnorm.Normalize(v)]; ok {
			return true, fmt.Sprintf("%s can be booked: prior visit to %s on record.", name, v)
		}
	}
	return false, g.note
}
