package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medroute/internal/clinic"
	"github.com/linnemanlabs/medroute/internal/redflag"
	"github.com/linnemanlabs/medroute/internal/referral"
	"github.com/linnemanlabs/medroute/internal/retrieval"
	"github.com/linnemanlabs/medroute/internal/textnorm"
)

const tracerName = "github.com/linnemanlabs/medroute/internal/triage"

const (
	DefaultModel              = "claude-sonnet-4-20250514"
	DefaultTimeout            = 20 * time.Second
	DefaultMaxTokens          = 1024
	DefaultRetrievalK         = 5
	DefaultEmergencyClinic    = "Emergency Department"
	DefaultFallbackConfidence = 0.3
)

// Config parameterizes the pipeline. Zero fields take the package defaults.
type Config struct {
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64

	RetrievalK int
	Scorer     retrieval.Scorer
	Blender    Blender

	// EmergencyClinic is the primary clinic of every red-flag result.
	EmergencyClinic string

	// FallbackConfidence is reported when neither the model nor retrieval
	// produced anything.
	FallbackConfidence float64
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		Model:              DefaultModel,
		Timeout:            DefaultTimeout,
		MaxTokens:          DefaultMaxTokens,
		RetrievalK:         DefaultRetrievalK,
		Scorer:             retrieval.DefaultScorer(),
		Blender:            DefaultBlender(),
		EmergencyClinic:    DefaultEmergencyClinic,
		FallbackConfidence: DefaultFallbackConfidence,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.RetrievalK <= 0 {
		c.RetrievalK = d.RetrievalK
	}
	if c.Scorer == (retrieval.Scorer{}) {
		c.Scorer = d.Scorer
	}
	if c.Blender == (Blender{}) {
		c.Blender = d.Blender
	}
	if strings.TrimSpace(c.EmergencyClinic) == "" {
		c.EmergencyClinic = d.EmergencyClinic
	}
	if c.FallbackConfidence <= 0 {
		c.FallbackConfidence = d.FallbackConfidence
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if err := c.Blender.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		errs = append(errs, fmt.Errorf("temperature %v must be within [0,1]", c.Temperature))
	}
	if c.FallbackConfidence > 1 {
		errs = append(errs, fmt.Errorf("fallback confidence %v must be within [0,1]", c.FallbackConfidence))
	}
	if c.Scorer.HitBonusStep < 0 || c.Scorer.HitBonusCap < 0 {
		errs = append(errs, errors.New("retrieval hit bonus must be non-negative"))
	}
	return errors.Join(errs...)
}

// Retriever looks up similar historical cases.
type Retriever interface {
	Retrieve(query string, k int) ([]retrieval.Hit, error)
}

// Deps are the collaborators an Engine runs over. Table is required. A nil
// Detector uses redflag.Default, nil Gates are derived from the table, a nil
// Retriever yields no similar cases and a nil Provider disables the model.
type Deps struct {
	Detector  *redflag.Detector
	Table     *clinic.Table
	Gates     *referral.Engine
	Retriever Retriever
	Provider  Provider
}

// LLMOutcome classifies a model call.
type LLMOutcome string

const (
	OutcomeOK       LLMOutcome = "ok"
	OutcomeDisabled LLMOutcome = "disabled"
	OutcomeTimeout  LLMOutcome = "timeout"
	OutcomeCanceled LLMOutcome = "canceled"
	OutcomeError    LLMOutcome = "error"
	OutcomePanic    LLMOutcome = "panic"
	OutcomeEmpty    LLMOutcome = "empty"
	OutcomeUnusable LLMOutcome = "unusable"
)

// EngineHooks are optional callbacks for observability. Nil fields are skipped.
type EngineHooks struct {
	OnRedFlag   func(label string)
	OnRetrieval func(hits int, err error)
	OnLLMCall   func(outcome LLMOutcome, inputTokens, outputTokens int, duration float64)
	OnResolve   func(matched bool, similarity float64)
	OnComplete  func(e *CompleteEvent)
}

// CompleteEvent summarizes one finished analysis.
type CompleteEvent struct {
	Strategy      Strategy
	Duration      float64
	Confidence    float64
	RequiresPrior bool
	Hits          int
	Model         string
}

// Report is a Result plus what the engine saw on the way.
type Report struct {
	Result     *Result
	RedFlag    redflag.Result
	Hits       []retrieval.Hit
	LLMOutcome LLMOutcome
	Repair     *RepairReport
}

// Engine is the triage pipeline. It holds only immutable reference data and
// is safe for concurrent use.
type Engine struct {
	detector  *redflag.Detector
	table     *clinic.Table
	gates     *referral.Engine
	retriever Retriever
	provider  Provider

	cfg    Config
	system string
	logger log.Logger
	hooks  EngineHooks
}

// NewEngine validates cfg and wires the pipeline.
func NewEngine(deps Deps, cfg Config, logger log.Logger, hooks EngineHooks) (*Engine, error) {
	if deps.Table == nil {
		return nil, errors.New("triage: clinic table is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("triage: %w", err)
	}

	if deps.Detector == nil {
		deps.Detector = redflag.Default()
	}
	if deps.Gates == nil {
		g, err := referral.NewEngine(deps.Table, nil)
		if err != nil {
			return nil, fmt.Errorf("triage: derive gates: %w", err)
		}
		deps.Gates = g
	}

	names := make([]string, 0, deps.Table.Len())
	for _, e := range deps.Table.Entries() {
		names = append(names, e.Name)
	}

	return &Engine{
		detector:  deps.Detector,
		table:     deps.Table,
		gates:     deps.Gates,
		retriever: deps.Retriever,
		provider:  deps.Provider,
		cfg:       cfg,
		system:    buildSystemPrompt(names),
		logger:    logger,
		hooks:     hooks,
	}, nil
}

// Table returns the canonical clinic table.
func (e *Engine) Table() *clinic.Table { return e.table }

// Gates returns the referral gate engine.
func (e *Engine) Gates() *referral.Engine { return e.gates }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Analyze routes one complaint. It never fails and never panics; degraded
// paths are visible only through Strategy and confidence.
func (e *Engine) Analyze(ctx context.Context, complaint string) *Result {
	return e.Run(ctx, complaint).Result
}

// Run is Analyze with the intermediate signals attached.
func (e *Engine) Run(ctx context.Context, complaint string) (rep *Report) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "triage.analyze")
	defer span.End()

	rep = &Report{}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("triage pipeline panic: %v", r)
			e.logger.Error(ctx, err, "triage pipeline panicked, returning default")
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			rep.Result = e.staticDefault(0, "triage could not be completed; start with primary care")
		}
		e.finish(ctx, span, rep, start)
	}()

	e.analyze(ctx, span, complaint, rep)
	return rep
}

func (e *Engine) analyze(ctx context.Context, span trace.Span, complaint string, rep *Report) {
	if strings.TrimSpace(complaint) == "" {
		rep.Result = e.staticDefault(0, "empty complaint")
		return
	}

	rep.RedFlag = e.detector.Detect(complaint)
	if rep.RedFlag.Urgent {
		span.SetAttributes(attribute.String("medroute.redflag.label", rep.RedFlag.Label))
		if e.hooks.OnRedFlag != nil {
			e.hooks.OnRedFlag(rep.RedFlag.Label)
		}
		e.logger.Warn(ctx, "red flag detected",
			"label", rep.RedFlag.Label,
			"confidence", rep.RedFlag.Confidence,
		)
		rep.Result = e.emergency(rep.RedFlag)
		return
	}

	rep.Hits = e.retrieve(ctx, complaint)

	llmStart := time.Now()
	resp, outcome := e.callModel(ctx, complaint, rep.Hits)
	llmDuration := time.Since(llmStart).Seconds()

	var res *Result
	if resp != nil {
		repaired, report := Repair(resp.Text, e.defaults(StrategyLLM))
		rep.Repair = &report
		if report.Usable {
			res = &repaired
			res.Strategy = StrategyLLM
			if report.Repaired() {
				res.Strategy = StrategyLLMRepaired
				e.logger.Warn(ctx, "model output repaired", "fixes", strings.Join(report.Fixes, "; "))
			}
			res.ModelVersion = resp.Model
			if res.ModelVersion == "" {
				res.ModelVersion = e.cfg.Model
			}
		} else {
			outcome = OutcomeUnusable
			e.logger.Warn(ctx, "model output unusable, falling back", "fixes", strings.Join(report.Fixes, "; "))
		}
	}
	rep.LLMOutcome = outcome
	if outcome != OutcomeDisabled && e.hooks.OnLLMCall != nil {
		var in, out int
		if resp != nil {
			in, out = resp.Usage.InputTokens, resp.Usage.OutputTokens
		}
		e.hooks.OnLLMCall(outcome, in, out, llmDuration)
	}

	if res == nil {
		res = e.synthesize(rep.Hits)
	}

	e.resolve(ctx, res)

	gate := e.gates.Apply(res.PrimaryClinic.Name)
	res.RequiresPrior = gate.RequiresPrior
	res.PriorList = gate.PriorList
	res.GateNote = gate.GateNote

	if len(rep.Hits) > 0 {
		res.PrimaryClinic.Confidence = e.cfg.Blender.Blend(
			res.PrimaryClinic.Confidence,
			e.cfg.Scorer.Confidence(rep.Hits),
			gate.RequiresPrior,
			true,
		)
	}

	rep.Result = res
}

func (e *Engine) finish(ctx context.Context, span trace.Span, rep *Report, start time.Time) {
	if rep.Result == nil {
		rep.Result = e.staticDefault(0, "triage could not be completed; start with primary care")
	}
	res := Validate(*rep.Result, e.defaults(rep.Result.Strategy))
	res.LatencyMS = time.Since(start).Milliseconds()
	rep.Result = &res

	span.SetAttributes(
		attribute.String("medroute.triage.strategy", string(res.Strategy)),
		attribute.String("medroute.triage.primary_clinic", res.PrimaryClinic.Name),
		attribute.Float64("medroute.triage.confidence", res.PrimaryClinic.Confidence),
		attribute.Bool("medroute.triage.requires_prior", res.RequiresPrior),
		attribute.Int("medroute.retrieval.hits", len(rep.Hits)),
	)

	duration := time.Since(start).Seconds()
	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(&CompleteEvent{
			Strategy:      res.Strategy,
			Duration:      duration,
			Confidence:    res.PrimaryClinic.Confidence,
			RequiresPrior: res.RequiresPrior,
			Hits:          len(rep.Hits),
			Model:         res.ModelVersion,
		})
	}

	e.logger.Info(ctx, "triage complete",
		"strategy", res.Strategy,
		"primary_clinic", res.PrimaryClinic.Name,
		"confidence", res.PrimaryClinic.Confidence,
		"requires_prior", res.RequiresPrior,
		"hits", len(rep.Hits),
		"latency_ms", res.LatencyMS,
	)
}

func (e *Engine) retrieve(ctx context.Context, complaint string) []retrieval.Hit {
	if e.retriever == nil {
		return nil
	}
	hits, err := e.retriever.Retrieve(complaint, e.cfg.RetrievalK)
	if err != nil {
		e.logger.Warn(ctx, "retrieval failed, continuing without similar cases", "err", err)
		hits = nil
	}
	if e.hooks.OnRetrieval != nil {
		e.hooks.OnRetrieval(len(hits), err)
	}
	return hits
}

// callModel returns a response only when the model produced non-blank text.
func (e *Engine) callModel(ctx context.Context, complaint string, hits []retrieval.Hit) (resp *LLMResponse, outcome LLMOutcome) {
	if e.provider == nil {
		return nil, OutcomeDisabled
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "llm.call")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("model provider panic: %v", r)
			e.logger.Error(ctx, err, "model provider panicked")
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			resp, outcome = nil, OutcomePanic
		}
	}()

	span.SetAttributes(
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.String("gen_ai.request.model", e.cfg.Model),
		attribute.Int("gen_ai.request.max_tokens", e.cfg.MaxTokens),
		attribute.Int("medroute.prompt.examples", min(len(hits), MaxPromptExamples)),
	)

	out, err := e.provider.Send(ctx, &LLMRequest{
		Model:       e.cfg.Model,
		System:      e.system,
		Prompt:      buildPrompt(complaint, hits),
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		outcome = OutcomeError
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			outcome = OutcomeTimeout
		case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			outcome = OutcomeCanceled
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
		e.logger.Warn(ctx, "model call failed, falling back", "outcome", outcome, "err", err)
		return nil, outcome
	}
	if out == nil || strings.TrimSpace(out.Text) == "" {
		e.logger.Warn(ctx, "model returned no text, falling back")
		return nil, OutcomeEmpty
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", out.Model),
		attribute.String("gen_ai.response.finish_reason", string(out.StopReason)),
		attribute.Int("gen_ai.usage.input_tokens", out.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", out.Usage.OutputTokens),
	)
	return out, OutcomeOK
}

// synthesize builds a fallback result from a score-weighted vote over the
// hits' clinics, or the static default when there are none.
func (e *Engine) synthesize(hits []retrieval.Hit) *Result {
	if len(hits) == 0 {
		return e.staticDefault(e.cfg.FallbackConfidence, "no model answer or similar cases; start with primary care")
	}

	type tally struct {
		name  string
		score float64
		count int
	}
	var order []*tally
	byName := make(map[string]*tally)
	total := 0.0
	for _, h := range hits {
		key := textnorm.Normalize(h.Clinic)
		t, ok := byName[key]
		if !ok {
			t = &tally{name: h.Clinic}
			byName[key] = t
			order = append(order, t)
		}
		t.score += h.Score
		t.count++
		total += h.Score
	}

	best := 0
	for i, t := range order {
		if t.score > order[best].score {
			best = i
		}
	}

	res := &Result{
		PrimaryClinic: Recommendation{
			Name:       order[best].name,
			Reason:     fmt.Sprintf("%d of %d similar past cases were routed here", order[best].count, len(hits)),
			Confidence: e.cfg.Scorer.Confidence(hits),
		},
		SecondaryClinics: make([]Recommendation, 0, len(order)-1),
		Strategy:         StrategyFallback,
		ModelVersion:     e.cfg.Model,
		PriorList:        []string{},
	}
	for i, t := range order {
		if i == best {
			continue
		}
		res.SecondaryClinics = append(res.SecondaryClinics, Recommendation{
			Name:       t.name,
			Reason:     fmt.Sprintf("%d of %d similar past cases were routed here", t.count, len(hits)),
			Confidence: clamp01(t.score / total),
		})
	}
	return res
}

// resolve canonicalizes the primary and secondary names in place. Names that
// do not resolve are kept as given; secondaries repeating an earlier clinic
// are dropped.
func (e *Engine) resolve(ctx context.Context, res *Result) {
	m := e.table.Resolve(res.PrimaryClinic.Name)
	if e.hooks.OnResolve != nil {
		e.hooks.OnResolve(m.Matched, m.Similarity)
	}
	if m.Matched {
		res.PrimaryClinic.Name = m.Name
	} else {
		e.logger.Warn(ctx, "primary clinic not in canonical table",
			"candidate", res.PrimaryClinic.Name,
			"similarity", m.Similarity,
		)
	}

	seen := map[string]struct{}{textnorm.Normalize(res.PrimaryClinic.Name): {}}
	out := make([]Recommendation, 0, len(res.SecondaryClinics))
	for _, s := range res.SecondaryClinics {
		if sm := e.table.Resolve(s.Name); sm.Matched {
			s.Name = sm.Name
		}
		key := textnorm.Normalize(s.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	res.SecondaryClinics = out
}

func (e *Engine) emergency(rf redflag.Result) *Result {
	return &Result{
		PrimaryClinic: Recommendation{
			Name:       e.cfg.EmergencyClinic,
			Reason:     rf.Reason,
			Confidence: rf.Confidence,
		},
		SecondaryClinics: []Recommendation{},
		Strategy:         StrategyRedFlag,
		ModelVersion:     e.cfg.Model,
		PriorList:        []string{},
		GateNote:         rf.Message,
	}
}

func (e *Engine) staticDefault(confidence float64, reason string) *Result {
	return &Result{
		PrimaryClinic: Recommendation{
			Name:       e.table.Fallback().Name,
			Reason:     reason,
			Confidence: confidence,
		},
		SecondaryClinics: []Recommendation{},
		Strategy:         StrategyFallback,
		ModelVersion:     e.cfg.Model,
		PriorList:        []string{},
	}
}

func (e *Engine) defaults(s Strategy) Defaults {
	return Defaults{
		Clinic:       e.table.Fallback().Name,
		Confidence:   DefaultRepairConfidence,
		ModelVersion: e.cfg.Model,
		Strategy:     s,
	}
}
