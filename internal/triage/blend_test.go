package triage

import (
	"math"
	"testing"
)

func TestBlender_Blend(t *testing.T) {
	t.Parallel()

	b := DefaultBlender()

	tests := []struct {
		name      string
		model     float64
		retrieval float64
		gated     bool
		hasHits   bool
		want      float64
	}{
		{"gated", 0.9, 0.5, true, true, 0.5*0.9 + 0.3*0.5 + 0.2*0.8},
		{"open", 0.9, 0.5, false, true, 0.5*0.9 + 0.3*0.5 + 0.2*0.9},
		{"no hits passes through", 0.37, 0.9, true, false, 0.37},
		{"all zero", 0, 0, false, true, 0.18},
		{"all one", 1, 1, false, true, 0.98},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := b.Blend(tt.model, tt.retrieval, tt.gated, tt.hasHits)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Blend = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBlender_Clamps(t *testing.T) {
	t.Parallel()

	b := Blender{ModelWeight: 2, RetrievalWeight: 2, RuleWeight: 2, GatedRuleConfidence: 1, OpenRuleConfidence: 1}
	if got := b.Blend(1, 1, true, true); got != 1 {
		t.Errorf("Blend = %v, want 1", got)
	}
	if got := b.Blend(math.NaN(), 0, true, true); got != 0 {
		t.Errorf("Blend(NaN) = %v, want 0", got)
	}
}

func TestBlender_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		b       Blender
		wantErr bool
	}{
		{"default", DefaultBlender(), false},
		{"zero", Blender{}, false},
		{"negative weight", Blender{ModelWeight: -0.1}, true},
		{"gated above one", Blender{GatedRuleConfidence: 1.2}, true},
		{"open below zero", Blender{OpenRuleConfidence: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.b.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClamp01(t *testing.T) {
	t.Parallel()

	for in, want := range map[float64]float64{-1: 0, 0: 0, 0.4: 0.4, 1: 1, 7: 1, math.Inf(1): 1, math.Inf(-1): 0} {
		if got := clamp01(in); got != want {
			t.Errorf("clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}
