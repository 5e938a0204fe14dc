package cfg

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/linnemanlabs/medroute/internal/retrieval"
	"github.com/linnemanlabs/medroute/internal/triage"
)

// Config adds medroute-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	ClaudeAPIKey       string
	ClaudeModel        string
	ModelTimeoutSecs   int
	ModelMaxTokens     int
	ModelTemperature   float64
	RefDataPath        string
	DatabaseURL        string
	SlackWebhookURL    string
	EmergencyClinic    string
	FallbackConfidence float64

	RetrievalK            int
	RetrievalCacheSize    int
	RetrievalScoreDivisor float64
	RetrievalHitBonus     float64
	RetrievalHitBonusCap  float64

	BlendModelWeight     float64
	BlendRetrievalWeight float64
	BlendRuleWeight      float64
	GatedRuleConfidence  float64
	OpenRuleConfidence   float64
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	sc := retrieval.DefaultScorer()
	bl := triage.DefaultBlender()

	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token(s) for the API, comma-separated to allow rotation")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude model (empty = similar-case fallback only)")
	fs.StringVar(&c.ClaudeModel, "claude-model", triage.DefaultModel, "Claude model to use")
	fs.IntVar(&c.ModelTimeoutSecs, "model-timeout-seconds", int(triage.DefaultTimeout/time.Second), "seconds to wait for a model answer (1..300)")
	fs.IntVar(&c.ModelMaxTokens, "model-max-tokens", triage.DefaultMaxTokens, "max output tokens per model call (1..8192)")
	fs.Float64Var(&c.ModelTemperature, "model-temperature", 0, "model sampling temperature (0..1)")
	fs.StringVar(&c.RefDataPath, "refdata-path", "", "YAML reference data file (empty = built-in data)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for reference data (overrides refdata-path)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for emergency escalations")
	fs.StringVar(&c.EmergencyClinic, "emergency-clinic", triage.DefaultEmergencyClinic, "clinic reported for red-flag results")
	fs.Float64Var(&c.FallbackConfidence, "fallback-confidence", triage.DefaultFallbackConfidence, "confidence of the static default recommendation (0..1]")

	fs.IntVar(&c.RetrievalK, "retrieval-k", triage.DefaultRetrievalK, "similar cases retrieved per complaint (1..50)")
	fs.IntVar(&c.RetrievalCacheSize, "retrieval-cache-size", retrieval.DefaultCacheSize, "retrieval result cache entries (1..1000000)")
	fs.Float64Var(&c.RetrievalScoreDivisor, "retrieval-score-divisor", sc.ScoreDivisor, "top similarity score that maps to full retrieval confidence (>0)")
	fs.Float64Var(&c.RetrievalHitBonus, "retrieval-hit-bonus", sc.HitBonusStep, "confidence bonus per retrieved case (>=0)")
	fs.Float64Var(&c.RetrievalHitBonusCap, "retrieval-hit-bonus-cap", sc.HitBonusCap, "maximum total hit bonus (>=0)")

	fs.Float64Var(&c.BlendModelWeight, "blend-model-weight", bl.ModelWeight, "weight of the model confidence when blending")
	fs.Float64Var(&c.BlendRetrievalWeight, "blend-retrieval-weight", bl.RetrievalWeight, "weight of the retrieval confidence when blending")
	fs.Float64Var(&c.BlendRuleWeight, "blend-rule-weight", bl.RuleWeight, "weight of the referral rule confidence when blending")
	fs.Float64Var(&c.GatedRuleConfidence, "gated-rule-confidence", bl.GatedRuleConfidence, "rule confidence for clinics behind a referral gate (0..1)")
	fs.Float64Var(&c.OpenRuleConfidence, "open-rule-confidence", bl.OpenRuleConfidence, "rule confidence for directly bookable clinics (0..1)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if len(c.Tokens()) == 0 {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	if strings.TrimSpace(c.ClaudeModel) == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}
	if c.ModelTimeoutSecs <= 0 || c.ModelTimeoutSecs > 300 {
		errs = append(errs, fmt.Errorf("invalid MODEL_TIMEOUT_SECONDS %d (must be 1..300)", c.ModelTimeoutSecs))
	}
	if c.ModelMaxTokens <= 0 || c.ModelMaxTokens > 8192 {
		errs = append(errs, fmt.Errorf("invalid MODEL_MAX_TOKENS %d (must be 1..8192)", c.ModelMaxTokens))
	}
	if !unit(c.ModelTemperature) {
		errs = append(errs, fmt.Errorf("invalid MODEL_TEMPERATURE %v (must be 0..1)", c.ModelTemperature))
	}
	if strings.TrimSpace(c.EmergencyClinic) == "" {
		errs = append(errs, errors.New("EMERGENCY_CLINIC is required"))
	}
	if !unit(c.FallbackConfidence) || c.FallbackConfidence == 0 {
		errs = append(errs, fmt.Errorf("invalid FALLBACK_CONFIDENCE %v (must be in (0,1])", c.FallbackConfidence))
	}

	// Retrieval
	if c.RetrievalK <= 0 || c.RetrievalK > 50 {
		errs = append(errs, fmt.Errorf("invalid RETRIEVAL_K %d (must be 1..50)", c.RetrievalK))
	}
	if c.RetrievalCacheSize <= 0 || c.RetrievalCacheSize > 1_000_000 {
		errs = append(errs, fmt.Errorf("invalid RETRIEVAL_CACHE_SIZE %d (must be 1..1000000)", c.RetrievalCacheSize))
	}
	if !(c.RetrievalScoreDivisor > 0) || math.IsInf(c.RetrievalScoreDivisor, 0) {
		errs = append(errs, fmt.Errorf("invalid RETRIEVAL_SCORE_DIVISOR %v (must be > 0)", c.RetrievalScoreDivisor))
	}
	if !nonNegative(c.RetrievalHitBonus) || !nonNegative(c.RetrievalHitBonusCap) {
		errs = append(errs, errors.New("RETRIEVAL_HIT_BONUS and RETRIEVAL_HIT_BONUS_CAP must be >= 0"))
	}

	// Blending
	if !nonNegative(c.BlendModelWeight) || !nonNegative(c.BlendRetrievalWeight) || !nonNegative(c.BlendRuleWeight) {
		errs = append(errs, errors.New("BLEND_*_WEIGHT values must be >= 0"))
	} else if c.BlendModelWeight+c.BlendRetrievalWeight+c.BlendRuleWeight == 0 {
		errs = append(errs, errors.New("at least one BLEND_*_WEIGHT must be > 0"))
	}
	if !unit(c.GatedRuleConfidence) {
		errs = append(errs, fmt.Errorf("invalid GATED_RULE_CONFIDENCE %v (must be 0..1)", c.GatedRuleConfidence))
	}
	if !unit(c.OpenRuleConfidence) {
		errs = append(errs, fmt.Errorf("invalid OPEN_RULE_CONFIDENCE %v (must be 0..1)", c.OpenRuleConfidence))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Tokens splits APIToken into the accepted bearer tokens.
func (c *Config) Tokens() []string {
	var out []string
	for _, t := range strings.Split(c.APIToken, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// EngineConfig projects the pipeline settings onto triage.Config.
func (c *Config) EngineConfig() triage.Config {
	return triage.Config{
		Model:       c.ClaudeModel,
		Timeout:     time.Duration(c.ModelTimeoutSecs) * time.Second,
		MaxTokens:   c.ModelMaxTokens,
		Temperature: c.ModelTemperature,
		RetrievalK:  c.RetrievalK,
		Scorer: retrieval.Scorer{
			ScoreDivisor: c.RetrievalScoreDivisor,
			HitBonusStep: c.RetrievalHitBonus,
			HitBonusCap:  c.RetrievalHitBonusCap,
		},
		Blender: triage.Blender{
			ModelWeight:         c.BlendModelWeight,
			RetrievalWeight:     c.BlendRetrievalWeight,
			RuleWeight:          c.BlendRuleWeight,
			GatedRuleConfidence: c.GatedRuleConfidence,
			OpenRuleConfidence:  c.OpenRuleConfidence,
		},
		EmergencyClinic:    c.EmergencyClinic,
		FallbackConfidence: c.FallbackConfidence,
	}
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

func nonNegative(v float64) bool { return v >= 0 && !math.IsInf(v, 1) }
