// Package taskclient streams task execution events from remote worker
// agents over SSE.
package taskclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/codequery-ai/orchestrator/internal/circuitbreaker"
	"github.com/codequery-ai/orchestrator/internal/protocol"
	"github.com/codequery-ai/orchestrator/internal/tracing"
)

const streamPath = "/v1/tasks/stream"

// TransportError reports a failure reaching or reading from a worker
// agent. It is fatal to the node that triggered the call.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("task transport %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client opens streaming task calls against worker agents.
type Client struct {
	http   *circuitbreaker.HTTPWrapper
	logger *zap.Logger
}

// New creates a task client. The HTTP client carries no overall timeout;
// streams are bounded by the caller's context.
func New(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   circuitbreaker.NewHTTPWrapper(&http.Client{}, "agent-http", "worker-agents", logger),
		logger: logger,
	}
}

// OpenStream sends the task message to the agent at baseURL and returns
// the event stream. The returned stream must be closed by the caller.
func (c *Client) OpenStream(ctx context.Context, baseURL string, msg protocol.TaskMessage) (*Stream, error) {
	url := strings.TrimRight(baseURL, "/") + streamPath

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, &TransportError{Op: "encode", URL: url, Err: err}
	}

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "request", URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "connect", URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &TransportError{Op: "connect", URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	c.logger.Debug("Task stream opened",
		zap.String("url", url),
		zap.String("task_id", msg.TaskID),
	)
	return &Stream{url: url, body: resp.Body, scanner: bufio.NewReaderSize(resp.Body, 64*1024)}, nil
}

// Stream is an open SSE event stream from a worker agent.
type Stream struct {
	url     string
	body    io.ReadCloser
	scanner *bufio.Reader
}

// Recv blocks until the next event arrives. It returns io.EOF when the
// agent closes the stream cleanly, and a TransportError on read or
// decode failures.
func (s *Stream) Recv() (protocol.StreamEvent, error) {
	var data []byte
	for {
		line, err := s.scanner.ReadString('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(data)) == 0 {
				return protocol.StreamEvent{}, io.EOF
			}
			return protocol.StreamEvent{}, &TransportError{Op: "read", URL: s.url, Err: err}
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			// blank line terminates one SSE event
			if len(data) == 0 {
				continue
			}
			ev, err := protocol.DecodeEvent(data)
			if err != nil {
				return protocol.StreamEvent{}, &TransportError{Op: "decode", URL: s.url, Err: err}
			}
			return ev, nil
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, strings.TrimPrefix(payload, " ")...)
		}
		// id:/event:/retry:/comment lines are ignored
	}
}

// Close terminates the stream and releases the connection.
func (s *Stream) Close() error {
	return s.body.Close()
}
