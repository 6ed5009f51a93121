// Package embeddings provides a cached client for the embedding service.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/codequery-ai/orchestrator/internal/circuitbreaker"
	ometrics "github.com/codequery-ai/orchestrator/internal/metrics"
	"github.com/codequery-ai/orchestrator/internal/tracing"
)

// Config controls the embedding client behavior.
type Config struct {
	// BaseURL points to the service providing POST /embeddings/
	BaseURL string
	// DefaultModel is used when callers pass an empty model
	DefaultModel string
	// Timeout for outbound HTTP calls
	Timeout time.Duration
	// CacheTTL sets TTL for shared cache entries
	CacheTTL time.Duration
	// MaxLRU controls the in-process LRU size
	MaxLRU int
}

// Service generates embeddings with a two-level cache: in-process LRU
// first, then an optional shared cache (Redis).
type Service struct {
	cfg    Config
	http   *circuitbreaker.HTTPWrapper
	shared Cache
	lru    *localLRU
	logger *zap.Logger
}

// NewService creates an embedding service client. shared may be nil.
func NewService(cfg Config, shared Cache, logger *zap.Logger) *Service {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "text-embedding-3-small"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:    cfg,
		http:   circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "embeddings-http", "embedding-service", logger),
		shared: shared,
		lru:    newLocalLRU(cfg.MaxLRU),
		logger: logger,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Embed returns the vector for a single text.
func (s *Service) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	m := model
	if m == "" {
		m = s.cfg.DefaultModel
	}
	key := MakeKey(m, text)

	if v, ok := s.lru.Get(ctx, key); ok {
		ometrics.RecordEmbeddingMetrics(m, "lru_hit", 0)
		return v, nil
	}
	if s.shared != nil {
		if v, ok := s.shared.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, 30*time.Minute)
			ometrics.RecordEmbeddingMetrics(m, "cache_hit", 0)
			return v, nil
		}
	}

	vecs, err := s.fetch(ctx, []string{text}, m)
	if err != nil {
		return nil, err
	}
	out := vecs[0]

	s.lru.Set(ctx, key, out, 30*time.Minute)
	if s.shared != nil {
		s.shared.Set(ctx, key, out, s.cfg.CacheTTL)
	}
	return out, nil
}

// EmbedBatch returns vectors for multiple texts in one request, serving
// cached entries locally and fetching only the misses.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	m := model
	if m == "" {
		m = s.cfg.DefaultModel
	}

	results := make([][]float32, len(texts))
	var missTexts []string
	var missIndices []int

	for i, text := range texts {
		key := MakeKey(m, text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			ometrics.RecordEmbeddingMetrics(m, "lru_hit", 0)
			continue
		}
		if s.shared != nil {
			if v, ok := s.shared.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, 30*time.Minute)
				ometrics.RecordEmbeddingMetrics(m, "cache_hit", 0)
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIndices = append(missIndices, i)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := s.fetch(ctx, missTexts, m)
	if err != nil {
		return nil, err
	}
	for i, vec := range vecs {
		results[missIndices[i]] = vec
		key := MakeKey(m, missTexts[i])
		s.lru.Set(ctx, key, vec, 30*time.Minute)
		if s.shared != nil {
			s.shared.Set(ctx, key, vec, s.cfg.CacheTTL)
		}
	}
	return results, nil
}

func (s *Service) fetch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	start := time.Now()

	url := fmt.Sprintf("%s/embeddings/", s.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, _ := json.Marshal(embedRequest{Texts: texts, Model: model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		ometrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ometrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		ometrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, err
	}
	if len(er.Embeddings) != len(texts) {
		ometrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embedding service returned %d embeddings for %d texts", len(er.Embeddings), len(texts))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, emb := range er.Embeddings {
		vec := make([]float32, len(emb))
		for j, f := range emb {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	ometrics.RecordEmbeddingMetrics(model, "ok", time.Since(start).Seconds())
	return out, nil
}
