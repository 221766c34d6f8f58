// Package retrieval is the chat graph's adaptive two-stage retrieval step
// (§4.5.3): vector search, cosine rerank, confidence-gated escalation to a
// wider second stage, and a short-lived result cache. Modeled on
// internal/memory's small-pure-function style (window.go's BuildWindow).
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/kestrel-run/kestrel/internal/vectorstore"
)

// Stage tags which pass produced a set of results (§4.5.3).
type Stage string

const (
	StageOne Stage = "stage1"
	StageTwo Stage = "stage2"
)

// Config holds the tunable knobs §4.5.3 names.
type Config struct {
	Stage1TopK          int
	RerankerStage1TopN  int
	ConfidenceThreshold float64
	Stage2TopK          int
	RerankerStage2TopN  int
	CacheTTL            time.Duration
	SearchTimeout       time.Duration
	TwoStageEnabled     bool
}

// Embedder produces an embedding vector for a query string — injected so
// retrieval doesn't depend on a specific provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is one ranked chunk returned to the chat graph.
type Result struct {
	ChunkID    string
	DocumentID string
	Content    string
	Score      float64
}

// Response is Retrieve's full output, tagged with which stage produced it.
type Response struct {
	Results []Result
	Stage   Stage
}

// Retriever runs adaptive two-stage search against a vectorstore.Store.
type Retriever struct {
	store    *vectorstore.Store
	embedder Embedder
	cfg      Config

	cache *resultCache
}

// New builds a Retriever. cfg zero-values are replaced with spec defaults.
func New(store *vectorstore.Store, embedder Embedder, cfg Config) *Retriever {
	if cfg.Stage1TopK == 0 {
		cfg.Stage1TopK = 8
	}
	if cfg.RerankerStage1TopN == 0 {
		cfg.RerankerStage1TopN = 5
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.8
	}
	if cfg.Stage2TopK == 0 {
		cfg.Stage2TopK = 20
	}
	if cfg.RerankerStage2TopN == 0 {
		cfg.RerankerStage2TopN = 8
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.SearchTimeout == 0 {
		cfg.SearchTimeout = 5 * time.Second
	}
	return &Retriever{store: store, embedder: embedder, cfg: cfg, cache: newResultCache()}
}

// Retrieve runs the adaptive two-stage search for a query against a bot's
// collection. On timeout or any search failure, it degrades to an empty
// result set rather than propagating the error (§4.5.3 "degrade, do not
// fail").
func (r *Retriever) Retrieve(ctx context.Context, botID, query string) Response {
	cacheKey := makeCacheKey(botID, query, r.cfg.Stage1TopK)
	if cached, ok := r.cache.get(cacheKey); ok {
		return cached
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.SearchTimeout)
	defer cancel()

	resp, err := r.retrieve(ctx, botID, query)
	if err != nil {
		return Response{}
	}

	if len(resp.Results) > 0 {
		r.cache.put(cacheKey, resp, r.cfg.CacheTTL)
	}
	return resp
}

func (r *Retriever) retrieve(ctx context.Context, botID, query string) (Response, error) {
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return Response{}, fmt.Errorf("embed query: %w", err)
	}

	stage1Hits, err := r.store.Search(ctx, botID, embedding, r.cfg.Stage1TopK)
	if err != nil {
		return Response{}, fmt.Errorf("stage1 search: %w", err)
	}
	stage1 := rerank(stage1Hits, r.cfg.RerankerStage1TopN)

	if !r.cfg.TwoStageEnabled || meanScore(stage1) >= r.cfg.ConfidenceThreshold {
		return Response{Results: stage1, Stage: StageOne}, nil
	}

	stage2Hits, err := r.store.Search(ctx, botID, embedding, r.cfg.Stage2TopK)
	if err != nil {
		return Response{}, fmt.Errorf("stage2 search: %w", err)
	}
	stage2 := rerank(stage2Hits, r.cfg.RerankerStage2TopN)
	return Response{Results: stage2, Stage: StageTwo}, nil
}

// rerank is a pure cosine-similarity-based reranker: vectorstore already
// ranks by cosine distance, so reranking here means converting distance to
// a [0,1] similarity score and truncating to topN. No cross-encoder
// reranker ships in the example pack (see DESIGN.md).
func rerank(hits []vectorstore.SearchResult, topN int) []Result {
	out := make([]Result, 0, min(len(hits), topN))
	for i, h := range hits {
		if i >= topN {
			break
		}
		out = append(out, Result{
			ChunkID:    h.ID,
			DocumentID: h.DocumentID,
			Content:    h.Content,
			Score:      1 - h.Distance,
		})
	}
	return out
}

func meanScore(results []Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

func makeCacheKey(botID, query string, topK int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", botID, query, topK)))
	return hex.EncodeToString(h[:])
}

type cacheEntry struct {
	resp    Response
	expires time.Time
}

// resultCache is the 5-minute in-process result cache keyed on
// (collection, query, top_k, filter) — here collapsed to
// (bot_id, query, top_k) since the chat graph's retrieve node doesn't filter.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]cacheEntry)}
}

func (c *resultCache) get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		if ok {
			delete(c.entries, key)
		}
		return Response{}, false
	}
	return entry.resp, true
}

func (c *resultCache) put(key string, resp Response, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{resp: resp, expires: time.Now().Add(ttl)}

	for k, e := range c.entries {
		if time.Now().After(e.expires) {
			delete(c.entries, k)
		}
	}
}
