// Package llm is the client for the collaborator LLM service used for
// query classification, pause question answering, and final summaries.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codequery-ai/orchestrator/internal/circuitbreaker"
	ometrics "github.com/codequery-ai/orchestrator/internal/metrics"
	"github.com/codequery-ai/orchestrator/internal/tracing"
)

// CollaboratorError reports an outright failure of an LLM call
// (network, quota, bad status). Callers substitute safe defaults rather
// than propagating it to the end user.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Complexity is the fast-path classifier verdict.
type Complexity string

const (
	ComplexitySimple  Complexity = "SIMPLE"
	ComplexityComplex Complexity = "COMPLEX"
)

// Judgment is the structured result of a pause-question answering call.
type Judgment struct {
	CanAnswer bool
	Answer    string
}

// Config controls the LLM client.
type Config struct {
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// Client calls the collaborator LLM service.
type Client struct {
	cfg    Config
	http   *circuitbreaker.HTTPWrapper
	logger *zap.Logger
}

// NewClient creates an LLM client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "llm-http", "llm-service", logger),
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type completionResponse struct {
	Content string `json:"content"`
}

// Classify decides whether the query is a simple repository-level fact
// question or needs the full workflow. Temperature is pinned to zero.
func (c *Client) Classify(ctx context.Context, query string) (Complexity, error) {
	out, err := c.complete(ctx, "classify", []chatMessage{
		{Role: "system", Content: classifyPrompt},
		{Role: "user", Content: query},
	}, 0)
	if err != nil {
		return ComplexitySimple, err
	}
	if strings.Contains(strings.ToUpper(out), string(ComplexityComplex)) {
		return ComplexityComplex, nil
	}
	return ComplexitySimple, nil
}

// AnswerQuestion judges whether a worker's pause question can be
// answered from the accumulated session context. An unparseable
// judgment means "cannot answer"; it is not an error.
func (c *Client) AnswerQuestion(ctx context.Context, question, searchContext string, history []string) (Judgment, error) {
	prompt := fmt.Sprintf(answerPromptFmt, searchContext, strings.Join(history, "\n"), question)
	out, err := c.complete(ctx, "answer", []chatMessage{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: prompt},
	}, 0)
	if err != nil {
		return Judgment{}, err
	}
	return ParseJudgment(out), nil
}

// Summarize produces the final natural-language synthesis over the
// artifacts collected during a workflow run.
func (c *Client) Summarize(ctx context.Context, query string, results []string) (string, error) {
	prompt := fmt.Sprintf(summaryPromptFmt, query, strings.Join(results, "\n---\n"))
	out, err := c.complete(ctx, "summarize", []chatMessage{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: prompt},
	}, 0.2)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) complete(ctx context.Context, op string, messages []chatMessage, temperature float64) (string, error) {
	url := fmt.Sprintf("%s/v1/completions", c.cfg.BaseURL)
	body, _ := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		ometrics.CollaboratorCalls.WithLabelValues(op, "error").Inc()
		return "", &CollaboratorError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		ometrics.CollaboratorCalls.WithLabelValues(op, "error").Inc()
		return "", &CollaboratorError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ometrics.CollaboratorCalls.WithLabelValues(op, "error").Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &CollaboratorError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(msg))}
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		ometrics.CollaboratorCalls.WithLabelValues(op, "error").Inc()
		return "", &CollaboratorError{Op: op, Err: err}
	}

	ometrics.CollaboratorCalls.WithLabelValues(op, "ok").Inc()
	return cr.Content, nil
}

// ParseJudgment extracts a {can_answer, answer} judgment from LLM
// output. can_answer arrives as a bool or a "yes"/"no" string; anything
// unparseable yields CanAnswer=false.
func ParseJudgment(raw string) Judgment {
	text := strings.TrimSpace(raw)
	// Models wrap JSON in code fences often enough to strip them here.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var wire struct {
		CanAnswer json.RawMessage `json:"can_answer"`
		Answer    string          `json:"answer"`
	}
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return Judgment{}
	}

	can := false
	if len(wire.CanAnswer) > 0 {
		var b bool
		if err := json.Unmarshal(wire.CanAnswer, &b); err == nil {
			can = b
		} else {
			var s string
			if err := json.Unmarshal(wire.CanAnswer, &s); err == nil {
				can = strings.EqualFold(strings.TrimSpace(s), "yes")
			}
		}
	}
	if can && strings.TrimSpace(wire.Answer) == "" {
		return Judgment{}
	}
	return Judgment{CanAnswer: can, Answer: wire.Answer}
}
