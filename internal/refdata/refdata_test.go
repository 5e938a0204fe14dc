package refdata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault_Builds(t *testing.T) {
	t.Parallel()

	d, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	b, err := d.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if b.Table.Fallback().Name != "Family Medicine" {
		t.Errorf("fallback = %q", b.Table.Fallback().Name)
	}
	if len(b.Corpus) != len(d.Cases) {
		t.Errorf("corpus = %d examples, want %d", len(b.Corpus), len(d.Cases))
	}

	// every gate-required clinic is gated on its parent
	for _, e := range b.Table.Entries() {
		g := b.Gates.Apply(e.Name)
		if e.GateRequired && (!g.RequiresPrior || g.PriorList[0] != e.Parent) {
			t.Errorf("%s: gate = %+v, want prior %q", e.Name, g, e.Parent)
		}
	}

	ns := b.Gates.Apply("Neurosurgery")
	if !ns.RequiresPrior || len(ns.PriorList) != 2 {
		t.Errorf("Neurosurgery gate = %+v", ns)
	}

	if m := b.Table.Resolve("Kulak Burun Boğaz"); !m.Matched || m.Name != "Otolaryngology" {
		t.Errorf("Resolve(KBB) = %+v", m)
	}

	for _, generic := range []string{"Clinic", "Clinics", "Department", "Poliklinik", "Hastalıkları"} {
		if m := b.Table.Resolve(generic); m.Matched || m.Name != "Family Medicine" {
			t.Errorf("Resolve(%q) = %+v, want unmatched fallback", generic, m)
		}
	}
}

func TestDefault_EveryClinicHasCases(t *testing.T) {
	t.Parallel()

	d, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	counts := make(map[string]int)
	for _, c := range d.Cases {
		counts[c.Clinic]++
	}
	for _, c := range d.Clinics {
		if counts[c.Name] == 0 {
			t.Errorf("clinic %q has no example cases", c.Name)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			doc:     "clinics: [",
			wantErr: "invalid YAML",
		},
		{
			name:    "unknown key",
			doc:     "fallback: A\nclinicz: []\n",
			wantErr: "invalid YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "no clinics",
			doc:     "fallback: A\n",
			wantErr: "empty table",
		},
		{
			name: "unknown case label",
			doc: `
fallback: A
clinics:
  - name: A
cases:
  - complaint: headache
    clinic: B
`,
			wantErr: `unknown clinic "B"`,
		},
		{
			name: "empty complaint",
			doc: `
clinics:
  - name: A
cases:
  - complaint: "  "
    clinic: A
`,
			wantErr: "empty complaint",
		},
		{
			name: "gate on unknown clinic",
			doc: `
clinics:
  - name: A
gates:
  - clinic: Z
    prior_list: [A]
`,
			wantErr: `unknown clinic "Z"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := Parse([]byte(tt.doc))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			_, err = d.Build()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Build err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuild_CanonicalizesLabels(t *testing.T) {
	t.Parallel()

	d, err := Parse([]byte(`
clinics:
  - name: Nöroloji
cases:
  - complaint: numb fingers
    clinic: noroloji
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := d.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if b.Corpus[0].Clinic != "Nöroloji" {
		t.Errorf("label = %q, want canonical spelling", b.Corpus[0].Clinic)
	}
	if b.Table.Fallback().Name != "Nöroloji" {
		t.Errorf("missing fallback should default to the first clinic, got %q", b.Table.Fallback().Name)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "ref.yaml")
	if err := os.WriteFile(path, []byte("fallback: A\nclinics:\n  - name: A\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(d.Clinics) != 1 {
		t.Errorf("clinics = %d, want 1", len(d.Clinics))
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
