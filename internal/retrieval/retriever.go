package retrieval

import (
	"errors"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the query cache independent of corpus size.
const DefaultCacheSize = 256

// ErrNoIndex is returned when Retrieve is called before a corpus was built.
var ErrNoIndex = errors.New("retrieval: no index built")

type cacheKey struct {
	generation uint64
	query      string
	k          int
}

type snapshot struct {
	index      *Index
	generation uint64
}

// Retriever serves top-k queries over the current index snapshot. Results are
// cached per (query, k) in a strict LRU; rebuilding the corpus invalidates
// the cache. Safe for concurrent use.
type Retriever struct {
	current atomic.Pointer[snapshot]
	cache   *lru.Cache[cacheKey, []Hit]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRetriever indexes corpus and sets up a cache holding at most cacheSize
// results. cacheSize <= 0 uses DefaultCacheSize.
func NewRetriever(corpus []Example, cacheSize int) (*Retriever, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	c, err := lru.New[cacheKey, []Hit](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("retrieval: cache: %w", err)
	}

	r := &Retriever{cache: c}
	if corpus != nil {
		r.Rebuild(corpus)
	}
	return r, nil
}

// Rebuild indexes a new corpus snapshot and drops every cached result.
func (r *Retriever) Rebuild(corpus []Example) {
	var gen uint64 = 1
	if prev := r.current.Load(); prev != nil {
		gen = prev.generation + 1
	}
	r.current.Store(&snapshot{index: Build(corpus), generation: gen})
	r.cache.Purge()
}

// Retrieve returns the top k examples for query. The returned slice is owned
// by the caller.
func (r *Retriever) Retrieve(query string, k int) ([]Hit, error) {
	snap := r.current.Load()
	if snap == nil {
		return nil, ErrNoIndex
	}

	key := cacheKey{generation: snap.generation, query: query, k: k}
	if cached, ok := r.cache.Get(key); ok {
		r.hits.Add(1)
		return cloneHits(cached), nil
	}
	r.misses.Add(1)

	hits := snap.index.Search(query, k)
	r.cache.Add(key, cloneHits(hits))
	return hits, nil
}

func cloneHits(h []Hit) []Hit {
	out := make([]Hit, len(h))
	copy(out, h)
	return out
}

// CorpusSize returns the number of examples in the current snapshot.
func (r *Retriever) CorpusSize() int {
	if snap := r.current.Load(); snap != nil {
		return snap.index.Len()
	}
	return 0
}

// CacheLen returns the number of cached results.
func (r *Retriever) CacheLen() int { return r.cache.Len() }

// CacheStats returns cumulative cache hits and misses.
func (r *Retriever) CacheStats() (hits, misses uint64) {
	return r.hits.Load(), r.misses.Load()
}
