package triage

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// fakeNotifier records escalations.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []*Escalation
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, esc *Escalation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, esc)
	return f.err
}

func (f *fakeNotifier) escalations() []*Escalation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Escalation(nil), f.sent...)
}

func newTestService(t *testing.T, n Notifier, hooks ServiceHooks) *Service {
	t.Helper()
	return NewService(newTestEngine(t, nil, Config{}, EngineHooks{}), n, log.Nop(), hooks)
}

func waitService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestServiceAnalyze_EscalatesRedFlag(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{}
	svc := newTestService(t, n, ServiceHooks{})

	// a canceled request must not abort the escalation
	ctx, cancel := context.WithCancel(context.Background())
	a, err := svc.Analyze(ctx, "crushing chest pain and a cold sweat")
	cancel()
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	waitService(t, svc)

	if a.RedFlag != "cardiac_emergency" {
		t.Errorf("RedFlag = %q, want cardiac_emergency", a.RedFlag)
	}
	sent := n.escalations()
	if len(sent) != 1 {
		t.Fatalf("escalations = %d, want 1", len(sent))
	}
	esc := sent[0]
	if esc.AnalysisID != a.ID {
		t.Errorf("AnalysisID = %q, want %q", esc.AnalysisID, a.ID)
	}
	if esc.Clinic != DefaultEmergencyClinic || esc.Label != "cardiac_emergency" {
		t.Errorf("escalation = %+v", esc)
	}
	if esc.Message == "" || esc.Confidence <= 0 {
		t.Errorf("escalation missing detail: %+v", esc)
	}
}

func TestServiceAnalyze_NoEscalationForRoutineComplaint(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{}
	svc := newTestService(t, n, ServiceHooks{})

	a, err := svc.Analyze(context.Background(), "itchy rash on my arms")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	waitService(t, svc)

	if a.RedFlag != "" {
		t.Errorf("RedFlag = %q, want none", a.RedFlag)
	}
	if a.PrimaryClinic.Name != "Dermatology" {
		t.Errorf("primary = %q, want Dermatology", a.PrimaryClinic.Name)
	}
	if got := n.escalations(); len(got) != 0 {
		t.Errorf("unexpected escalations: %+v", got)
	}
}

func TestServiceAnalyze_EscalationHook(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("webhook down")
	var (
		mu   sync.Mutex
		errs []error
	)
	hooks := ServiceHooks{OnEscalation: func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}}

	svc := newTestService(t, &fakeNotifier{err: wantErr}, hooks)
	if _, err := svc.Analyze(context.Background(), "severe headache with nausea and vomiting"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	waitService(t, svc)

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 || !errors.Is(errs[0], wantErr) {
		t.Errorf("hook errors = %v, want [%v]", errs, wantErr)
	}
}

func TestServiceAnalyze_NilNotifier(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, ServiceHooks{})
	a, err := svc.Analyze(context.Background(), "crushing chest pain and a cold sweat")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.Strategy != StrategyRedFlag {
		t.Errorf("strategy = %q, want redflag", a.Strategy)
	}
	waitService(t, svc)
}

func TestServiceAnalyze_Errors(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, ServiceHooks{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Analyze(ctx, "knee pain"); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled ctx: err = %v, want context.Canceled", err)
	}

	long := strings.Repeat("ğ", MaxComplaintRunes+1)
	if _, err := svc.Analyze(context.Background(), long); !errors.Is(err, ErrComplaintTooLong) {
		t.Errorf("long complaint: err = %v, want ErrComplaintTooLong", err)
	}

	// exactly at the limit is accepted even though it is more bytes
	atLimit := strings.Repeat("ğ", MaxComplaintRunes)
	if _, err := svc.Analyze(context.Background(), atLimit); err != nil {
		t.Errorf("complaint at limit: %v", err)
	}
}

func TestServiceAnalyze_Identity(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, ServiceHooks{})

	a1, err := svc.Analyze(context.Background(), "knee swelling")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	a2, err := svc.Analyze(context.Background(), "knee swelling")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	for _, a := range []*Analysis{a1, a2} {
		if _, err := ulid.Parse(a.ID); err != nil {
			t.Errorf("ID %q is not a ULID: %v", a.ID, err)
		}
		if a.CreatedAt.IsZero() || a.CreatedAt.Location() != time.UTC {
			t.Errorf("CreatedAt = %v, want UTC", a.CreatedAt)
		}
	}
	if a1.ID == a2.ID {
		t.Error("IDs must be unique")
	}
	if a1.PrimaryClinic != a2.PrimaryClinic {
		t.Errorf("same complaint routed differently: %+v vs %+v", a1.PrimaryClinic, a2.PrimaryClinic)
	}
}

func TestAnalysis_JSONIsFlat(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, ServiceHooks{})
	a, err := svc.Analyze(context.Background(), "palpitations when climbing stairs")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	raw, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	for _, k := range []string{"id", "created_at", "primary_clinic", "secondary_clinics", "strategy", "model_version", "latency_ms", "requires_prior", "prior_list", "gate_note"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing top-level key %q in %s", k, raw)
		}
	}
	if _, ok := m["red_flag"]; ok {
		t.Error("red_flag must be omitted when empty")
	}
	if _, ok := m["Result"]; ok {
		t.Error("result must be embedded, not nested")
	}
}

func TestServiceCheckAccess(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, ServiceHooks{})

	tests := []struct {
		name           string
		clinic         string
		visited        []string
		wantClinic     string
		wantKnown      bool
		wantAccessible bool
		wantPriors     []string
	}{
		{"gated without visit", "kardiyoloji", nil, "Cardiology", true, false, []string{"Internal Medicine"}},
		{"gated after parent variant", "kardiyoloji", []string{"dahiliye"}, "Cardiology", true, true, []string{"Internal Medicine"}},
		{"gated after unrelated visit", "Cardiology", []string{"Dermatology"}, "Cardiology", true, false, []string{"Internal Medicine"}},
		{"open clinic", "Cildiye", nil, "Dermatology", true, true, []string{}},
		{"unknown clinic", "Xyzzy", nil, "Xyzzy", false, true, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := svc.CheckAccess(tt.clinic, tt.visited)
			if got.Clinic != tt.wantClinic || got.Known != tt.wantKnown || got.Accessible != tt.wantAccessible {
				t.Errorf("CheckAccess = %+v", got)
			}
			if !reflect.DeepEqual(got.PriorList, tt.wantPriors) {
				t.Errorf("PriorList = %v, want %v", got.PriorList, tt.wantPriors)
			}
			if got.Message == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestServiceClinics(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, ServiceHooks{})
	got := svc.Clinics()

	if len(got) != len(testClinics()) {
		t.Fatalf("len = %d, want %d", len(got), len(testClinics()))
	}
	for i, c := range got {
		if c.Name != testClinics()[i].Name {
			t.Errorf("clinic %d = %q, want declaration order", i, c.Name)
		}
		if c.Variants == nil || c.PriorList == nil {
			t.Errorf("clinic %q has nil slices", c.Name)
		}
	}

	cardio := got[2]
	if !cardio.RequiresPrior || cardio.Parent != "Internal Medicine" || !reflect.DeepEqual(cardio.PriorList, []string{"Internal Medicine"}) {
		t.Errorf("Cardiology = %+v", cardio)
	}
	if got[3].RequiresPrior {
		t.Errorf("Neurology should be open: %+v", got[3])
	}
}
