package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	AnalysesTotal     *prometheus.CounterVec
	AnalysisDuration  *prometheus.HistogramVec
	Confidence        *prometheus.HistogramVec
	GatedTotal        prometheus.Counter
	RedFlagsTotal     *prometheus.CounterVec
	RetrievalHits     prometheus.Histogram
	RetrievalErrors   prometheus.Counter
	ResolutionsTotal  *prometheus.CounterVec
	ResolveSimilarity prometheus.Histogram
	LLMCallsTotal     *prometheus.CounterVec
	LLMTokensIn       prometheus.Counter
	LLMTokensOut      prometheus.Counter
	LLMDuration       prometheus.Histogram
	EscalationsTotal  *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medroute_analyses_total",
			Help: "Total triage analyses by strategy.",
		}, []string{"strategy"}),
		AnalysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medroute_analysis_duration_seconds",
			Help:    "Duration of triage analyses in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 9), // 1ms .. ~65s
		}, []string{"strategy"}),
		Confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medroute_primary_confidence",
			Help:    "Primary clinic confidence per analysis.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10), // 0.1 .. 1.0
		}, []string{"strategy"}),
		GatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medroute_gated_total",
			Help: "Analyses whose primary clinic requires a prior visit.",
		}),
		RedFlagsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medroute_red_flags_total",
			Help: "Red-flag escalations by label.",
		}, []string{"label"}),
		RetrievalHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medroute_retrieval_hits",
			Help:    "Similar cases retrieved per analysis.",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 .. 10
		}),
		RetrievalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medroute_retrieval_errors_total",
			Help: "Retrieval failures treated as zero hits.",
		}),
		ResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medroute_resolutions_total",
			Help: "Primary clinic name resolutions by result.",
		}, []string{"result"}),
		ResolveSimilarity: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medroute_resolve_similarity",
			Help:    "Similarity of the best canonical match for the primary clinic.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medroute_llm_calls_total",
			Help: "Model calls by outcome.",
		}, []string{"outcome"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medroute_llm_tokens_input_total",
			Help: "Total model input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medroute_llm_tokens_output_total",
			Help: "Total model output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medroute_llm_call_duration_seconds",
			Help:    "Duration of individual model calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. 32s
		}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medroute_escalation_notifications_total",
			Help: "Red-flag escalation notifications by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.AnalysesTotal,
		m.AnalysisDuration,
		m.Confidence,
		m.GatedTotal,
		m.RedFlagsTotal,
		m.RetrievalHits,
		m.RetrievalErrors,
		m.ResolutionsTotal,
		m.ResolveSimilarity,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.EscalationsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that feeds the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnRedFlag: func(label string) {
			m.RedFlagsTotal.WithLabelValues(label).Inc()
		},
		OnRetrieval: func(hits int, err error) {
			if err != nil {
				m.RetrievalErrors.Inc()
			}
			m.RetrievalHits.Observe(float64(hits))
		},
		OnLLMCall: func(outcome LLMOutcome, inputTokens, outputTokens int, duration float64) {
			m.LLMCallsTotal.WithLabelValues(string(outcome)).Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.Observe(duration)
		},
		OnResolve: func(matched bool, similarity float64) {
			result := "matched"
			if !matched {
				result = "unmatched"
			}
			m.ResolutionsTotal.WithLabelValues(result).Inc()
			m.ResolveSimilarity.Observe(similarity)
		},
		OnComplete: func(e *CompleteEvent) {
			m.AnalysesTotal.WithLabelValues(string(e.Strategy)).Inc()
			m.AnalysisDuration.WithLabelValues(string(e.Strategy)).Observe(e.Duration)
			m.Confidence.WithLabelValues(string(e.Strategy)).Observe(e.Confidence)
			if e.RequiresPrior {
				m.GatedTotal.Inc()
			}
		},
	}
}

// CacheStats is implemented by retrieval.Retriever.
type CacheStats interface {
	CacheStats() (hits, misses uint64)
	CacheLen() int
	CorpusSize() int
}

// RegisterCacheMetrics exposes retrieval cache and corpus gauges that are
// read at scrape time.
func RegisterCacheMetrics(reg prometheus.Registerer, c CacheStats) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "medroute_retrieval_cache_hits_total",
			Help: "Retrieval cache hits.",
		}, func() float64 {
			h, _ := c.CacheStats()
			return float64(h)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "medroute_retrieval_cache_misses_total",
			Help: "Retrieval cache misses.",
		}, func() float64 {
			_, miss := c.CacheStats()
			return float64(miss)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "medroute_retrieval_cache_entries",
			Help: "Results currently held in the retrieval cache.",
		}, func() float64 { return float64(c.CacheLen()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "medroute_retrieval_corpus_size",
			Help: "Examples in the current retrieval corpus.",
		}, func() float64 { return float64(c.CorpusSize()) }),
	)
}

// ServiceHooks returns a ServiceHooks that counts escalation notifications.
func (m *Metrics) ServiceHooks() ServiceHooks {
	return ServiceHooks{
		OnEscalation: func(err error) {
			result := "sent"
			if err != nil {
				result = "error"
			}
			m.EscalationsTotal.WithLabelValues(result).Inc()
		},
	}
}
