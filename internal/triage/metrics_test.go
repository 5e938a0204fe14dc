package triage

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Hooks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := m.Hooks()

	h.OnRedFlag("stroke")
	h.OnRedFlag("stroke")
	h.OnRetrieval(3, nil)
	h.OnRetrieval(0, errors.New("no index"))
	h.OnLLMCall(OutcomeOK, 120, 40, 0.8)
	h.OnLLMCall(OutcomeTimeout, 0, 0, 20)
	h.OnResolve(true, 0.95)
	h.OnResolve(false, 0.1)
	h.OnComplete(&CompleteEvent{Strategy: StrategyLLM, Duration: 0.9, Confidence: 0.7, RequiresPrior: true})
	h.OnComplete(&CompleteEvent{Strategy: StrategyFallback, Duration: 0.01, Confidence: 0.3})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"red flags", testutil.ToFloat64(m.RedFlagsTotal.WithLabelValues("stroke")), 2},
		{"retrieval errors", testutil.ToFloat64(m.RetrievalErrors), 1},
		{"llm ok", testutil.ToFloat64(m.LLMCallsTotal.WithLabelValues("ok")), 1},
		{"llm timeout", testutil.ToFloat64(m.LLMCallsTotal.WithLabelValues("timeout")), 1},
		{"tokens in", testutil.ToFloat64(m.LLMTokensIn), 120},
		{"tokens out", testutil.ToFloat64(m.LLMTokensOut), 40},
		{"resolved", testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues("matched")), 1},
		{"unresolved", testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues("unmatched")), 1},
		{"analyses llm", testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("llm")), 1},
		{"analyses fallback", testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("fallback")), 1},
		{"gated", testutil.ToFloat64(m.GatedTotal), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	if n := testutil.CollectAndCount(m.AnalysisDuration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestMetrics_ServiceHooks(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	h := m.ServiceHooks()

	h.OnEscalation(nil)
	h.OnEscalation(nil)
	h.OnEscalation(errors.New("webhook down"))

	if got := testutil.ToFloat64(m.EscalationsTotal.WithLabelValues("sent")); got != 2 {
		t.Errorf("sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EscalationsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}
}

func TestNewMetrics_DoubleRegisterPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("registering metrics twice on one registry did not panic")
		}
	}()
	NewMetrics(reg)
}

type fakeCache struct{}

func (fakeCache) CacheStats() (hits, misses uint64) { return 7, 3 }
func (fakeCache) CacheLen() int                     { return 4 }
func (fakeCache) CorpusSize() int                   { return 41 }

func TestRegisterCacheMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	RegisterCacheMetrics(reg, fakeCache{})

	want := `
# HELP medroute_retrieval_cache_entries Results currently held in the retrieval cache.
# TYPE medroute_retrieval_cache_entries gauge
medroute_retrieval_cache_entries 4
# HELP medroute_retrieval_cache_hits_total Retrieval cache hits.
# TYPE medroute_retrieval_cache_hits_total counter
medroute_retrieval_cache_hits_total 7
# HELP medroute_retrieval_cache_misses_total Retrieval cache misses.
# TYPE medroute_retrieval_cache_misses_total counter
medroute_retrieval_cache_misses_total 3
# HELP medroute_retrieval_corpus_size Examples in the current retrieval corpus.
# TYPE medroute_retrieval_corpus_size gauge
medroute_retrieval_corpus_size 41
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want)); err != nil {
		t.Error(err)
	}
}
