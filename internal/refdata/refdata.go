// Package refdata loads the reference data the triage engine is built from:
// the canonical clinic table, referral gate rules and the labelled case corpus.
package refdata

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/medroute/internal/clinic"
	"github.com/linnemanlabs/medroute/internal/referral"
	"github.com/linnemanlabs/medroute/internal/retrieval"
)

//go:embed default.yaml
var defaultYAML []byte

// Dataset is one reference-data document.
type Dataset struct {
	Fallback string              `yaml:"fallback"`
	Clinics  []clinic.Entry      `yaml:"clinics"`
	Gates    []referral.Rule     `yaml:"gates"`
	Cases    []retrieval.Example `yaml:"cases"`
}

// Built holds the immutable values an engine is constructed from.
type Built struct {
	Table  *clinic.Table
	Gates  *referral.Engine
	Corpus []retrieval.Example
}

// Default returns the embedded dataset.
func Default() (*Dataset, error) {
	d, err := Parse(defaultYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded reference data: %w", err)
	}
	return d, nil
}

// LoadFile reads a dataset from a YAML file.
func LoadFile(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference data %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse reference data %s: %w", path, err)
	}
	return d, nil
}

// Parse decodes a YAML dataset. Unknown keys are rejected.
func Parse(data []byte) (*Dataset, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var d Dataset
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return &d, nil
}

// Build validates the dataset and compiles it. Case labels are mapped onto
// canonical names; a label that is not in the table is an error.
func (d *Dataset) Build() (*Built, error) {
	fallback := d.Fallback
	if strings.TrimSpace(fallback) == "" && len(d.Clinics) > 0 {
		fallback = d.Clinics[0].Name
	}

	table, err := clinic.NewTable(d.Clinics, fallback)
	if err != nil {
		return nil, err
	}

	gates, err := referral.NewEngine(table, d.Gates)
	if err != nil {
		return nil, err
	}

	var errs []error
	corpus := make([]retrieval.Example, 0, len(d.Cases))
	for i, c := range d.Cases {
		if strings.TrimSpace(c.Complaint) == "" {
			errs = append(errs, fmt.Errorf("refdata: case %d has an empty complaint", i))
			continue
		}
		e, ok := table.Lookup(c.Clinic)
		if !ok {
			errs = append(errs, fmt.Errorf("refdata: case %d labelled with unknown clinic %q", i, c.Clinic))
			continue
		}
		corpus = append(corpus, retrieval.Example{Complaint: c.Complaint, Clinic: e.Name})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Built{Table: table, Gates: gates, Corpus: corpus}, nil
}
