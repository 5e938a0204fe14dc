package triage

// Strategy records which path produced a Result.
type Strategy string

const (
	// StrategyRedFlag means an emergency pattern pre-empted the pipeline
	StrategyRedFlag Strategy = "redflag"

	// StrategyLLM means the model answered with a clean payload
	StrategyLLM Strategy = "llm"

	// StrategyLLMRepaired means the model answered but the payload needed repair
	StrategyLLMRepaired Strategy = "llm_repaired"

	// StrategyFallback means no usable model answer; built from similar cases or defaults
	StrategyFallback Strategy = "fallback"
)

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRedFlag, StrategyLLM, StrategyLLMRepaired, StrategyFallback:
		return true
	}
	return false
}

// Recommendation is one recommended clinic.
type Recommendation struct {
	Name       string  `json:"name"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of one triage analysis. A Result returned by the
// engine always has a non-empty primary clinic, confidences in [0,1] and
// non-nil slices; RequiresPrior implies a non-empty PriorList.
type Result struct {
	PrimaryClinic    Recommendation   `json:"primary_clinic"`
	SecondaryClinics []Recommendation `json:"secondary_clinics"`
	Strategy         Strategy         `json:"strategy"`
	ModelVersion     string           `json:"model_version"`
	LatencyMS        int64            `json:"latency_ms"`
	RequiresPrior    bool             `json:"requires_prior"`
	PriorList        []string         `json:"prior_list"`
	GateNote         string           `json:"gate_note"`
}
