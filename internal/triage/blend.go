package triage

import (
	"errors"
	"math"
)

// Blender fuses model, retrieval and rule confidence into the primary
// confidence. Rule confidence is GatedRuleConfidence when a referral gate
// applies to the primary clinic and OpenRuleConfidence otherwise.
type Blender struct {
	ModelWeight         float64
	RetrievalWeight     float64
	RuleWeight          float64
	GatedRuleConfidence float64
	OpenRuleConfidence  float64
}

// DefaultBlender returns the stock weights.
func DefaultBlender() Blender {
	return Blender{
		ModelWeight:         0.5,
		RetrievalWeight:     0.3,
		RuleWeight:          0.2,
		GatedRuleConfidence: 0.8,
		OpenRuleConfidence:  0.9,
	}
}

// Validate rejects negative weights and rule confidences outside [0,1].
func (b Blender) Validate() error {
	var errs []error
	if b.ModelWeight < 0 || b.RetrievalWeight < 0 || b.RuleWeight < 0 {
		errs = append(errs, errors.New("blend weights must be non-negative"))
	}
	if b.GatedRuleConfidence < 0 || b.GatedRuleConfidence > 1 {
		errs = append(errs, errors.New("gated rule confidence must be within [0,1]"))
	}
	if b.OpenRuleConfidence < 0 || b.OpenRuleConfidence > 1 {
		errs = append(errs, errors.New("open rule confidence must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// RuleConfidence returns the static rule signal for a clinic.
func (b Blender) RuleConfidence(gated bool) float64 {
	if gated {
		return b.GatedRuleConfidence
	}
	return b.OpenRuleConfidence
}

// Blend recomputes the primary confidence. Without retrieval hits the model
// confidence passes through unchanged.
func (b Blender) Blend(model, retrieval float64, gated, hasHits bool) float64 {
	if !hasHits {
		return model
	}
	return clamp01(b.ModelWeight*model + b.RetrievalWeight*retrieval + b.RuleWeight*b.RuleConfidence(gated))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
