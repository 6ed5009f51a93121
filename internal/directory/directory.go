// Package directory maps task descriptions to worker agents. Agents are
// declared as card files on disk; resolution runs embedding similarity
// over the card descriptions.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	ometrics "github.com/codequery-ai/orchestrator/internal/metrics"
)

// AgentCard describes one worker agent.
type AgentCard struct {
	Name        string   `json:"name" yaml:"name"`
	AgentType   string   `json:"agent_type" yaml:"agent_type"`
	Description string   `json:"description" yaml:"description"`
	URL         string   `json:"url" yaml:"url"`
	Skills      []string `json:"skills,omitempty" yaml:"skills,omitempty"`
}

// ResolutionError reports that the directory could not produce a usable
// endpoint: no entries, no match, malformed card, or embedder failure.
type ResolutionError struct {
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent resolution failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("agent resolution failed: %s", e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Embedder generates embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string, model string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Config controls the directory.
type Config struct {
	CardsDir   string
	PlannerKey string
}

type cardEntry struct {
	card AgentCard
	vec  []float32
}

// Directory holds the loaded agent cards and their description embeddings.
type Directory struct {
	cfg      Config
	embedder Embedder
	logger   *zap.Logger

	mu      sync.RWMutex
	entries []cardEntry

	watcher *cardWatcher
}

// New creates a directory. Call LoadCards before resolving.
func New(cfg Config, embedder Embedder, logger *zap.Logger) *Directory {
	if cfg.PlannerKey == "" {
		cfg.PlannerKey = "planner"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{cfg: cfg, embedder: embedder, logger: logger}
}

// LoadCards reads all card files from the cards directory and embeds their
// descriptions. It replaces the previous card set atomically.
func (d *Directory) LoadCards(ctx context.Context) error {
	files, err := os.ReadDir(d.cfg.CardsDir)
	if err != nil {
		return fmt.Errorf("read cards dir %s: %w", d.cfg.CardsDir, err)
	}

	var cards []AgentCard
	for _, f := range files {
		if f.IsDir() || !isCardFile(f.Name()) {
			continue
		}
		path := filepath.Join(d.cfg.CardsDir, f.Name())
		loaded, err := loadCardFile(path)
		if err != nil {
			d.logger.Warn("Skipping malformed agent card",
				zap.String("file", f.Name()),
				zap.Error(err),
			)
			continue
		}
		cards = append(cards, loaded...)
	}

	texts := make([]string, len(cards))
	for i, c := range cards {
		texts[i] = c.Description
	}
	var vecs [][]float32
	if len(texts) > 0 {
		vecs, err = d.embedder.EmbedBatch(ctx, texts, "")
		if err != nil {
			return fmt.Errorf("embed agent cards: %w", err)
		}
	}

	entries := make([]cardEntry, len(cards))
	for i := range cards {
		entries[i] = cardEntry{card: cards[i], vec: vecs[i]}
	}

	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()

	ometrics.AgentCardsLoaded.Set(float64(len(entries)))
	d.logger.Info("Agent cards loaded",
		zap.String("dir", d.cfg.CardsDir),
		zap.Int("cards", len(entries)),
	)
	return nil
}

// Resolve returns the card whose description best matches the task. A
// non-empty agentType biases the query toward a matching worker type.
func (d *Directory) Resolve(ctx context.Context, task, agentType string) (AgentCard, error) {
	d.mu.RLock()
	entries := d.entries
	d.mu.RUnlock()

	if len(entries) == 0 {
		ometrics.AgentResolutions.WithLabelValues("similarity", "error").Inc()
		return AgentCard{}, &ResolutionError{Reason: "no agent cards loaded"}
	}

	query := task
	if agentType != "" {
		query = fmt.Sprintf("Agent type: %s. Task: %s", agentType, task)
	}
	qv, err := d.embedder.Embed(ctx, query, "")
	if err != nil {
		ometrics.AgentResolutions.WithLabelValues("similarity", "error").Inc()
		return AgentCard{}, &ResolutionError{Reason: "embedding query failed", Err: err}
	}

	best := -1
	bestScore := float32(0)
	for i, e := range entries {
		score := dot(qv, e.vec)
		if best == -1 || score > bestScore {
			best = i
			bestScore = score
		}
	}

	card := entries[best].card
	if card.URL == "" {
		ometrics.AgentResolutions.WithLabelValues("similarity", "error").Inc()
		return AgentCard{}, &ResolutionError{Reason: fmt.Sprintf("card %q has no address", card.Name)}
	}

	ometrics.AgentResolutions.WithLabelValues("similarity", "ok").Inc()
	d.logger.Debug("Resolved agent",
		zap.String("agent", card.Name),
		zap.Float32("score", bestScore),
	)
	return card, nil
}

// ResolvePlanner returns the planning agent by its fixed well-known key,
// matched against card agent_type then name.
func (d *Directory) ResolvePlanner() (AgentCard, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range d.entries {
		if e.card.AgentType == d.cfg.PlannerKey || e.card.Name == d.cfg.PlannerKey {
			if e.card.URL == "" {
				ometrics.AgentResolutions.WithLabelValues("planner", "error").Inc()
				return AgentCard{}, &ResolutionError{Reason: fmt.Sprintf("planner card %q has no address", e.card.Name)}
			}
			ometrics.AgentResolutions.WithLabelValues("planner", "ok").Inc()
			return e.card, nil
		}
	}
	ometrics.AgentResolutions.WithLabelValues("planner", "error").Inc()
	return AgentCard{}, &ResolutionError{Reason: fmt.Sprintf("no card for planner key %q", d.cfg.PlannerKey)}
}

// Cards returns a snapshot of the loaded cards.
func (d *Directory) Cards() []AgentCard {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]AgentCard, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.card
	}
	return out
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func isCardFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// loadCardFile parses a card file holding either a single card or a list.
func loadCardFile(path string) ([]AgentCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cards []AgentCard
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &cards); err != nil {
			var one AgentCard
			if err2 := json.Unmarshal(data, &one); err2 != nil {
				return nil, err
			}
			cards = []AgentCard{one}
		}
	} else {
		if err := yaml.Unmarshal(data, &cards); err != nil {
			var one AgentCard
			if err2 := yaml.Unmarshal(data, &one); err2 != nil {
				return nil, err
			}
			cards = []AgentCard{one}
		}
	}

	for _, c := range cards {
		if c.Name == "" || c.Description == "" {
			return nil, fmt.Errorf("card in %s missing name or description", filepath.Base(path))
		}
	}
	return cards, nil
}
