// Package protocol defines the wire contract between the orchestrator and
// remote task workers: the message sent to open a task and the event stream
// received back. All payloads are plain JSON documents.
package protocol

import (
	"encoding/json"
	"fmt"
)

// TaskState is the lifecycle state reported by a worker in a status update.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input_required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
)

// TaskMessage is the request payload that opens a streaming task call.
type TaskMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	MessageID string `json:"message_id"`
	TaskID    string `json:"task_id"`
	ContextID string `json:"context_id"`
}

// StatusUpdate reports a task lifecycle transition. Message carries the
// worker's question when State is input_required.
type StatusUpdate struct {
	State     TaskState `json:"state"`
	Message   string    `json:"message,omitempty"`
	ContextID string    `json:"context_id,omitempty"`
	Final     bool      `json:"final,omitempty"`
}

// ArtifactUpdate carries a named result payload produced by a worker.
type ArtifactUpdate struct {
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	ContextID string          `json:"context_id,omitempty"`
}

// StreamEvent is the tagged variant received from a worker stream.
// Exactly one of Status or Artifact is set.
type StreamEvent struct {
	Status   *StatusUpdate
	Artifact *ArtifactUpdate
}

// IsStatus reports whether the event is a status update.
func (e StreamEvent) IsStatus() bool { return e.Status != nil }

// IsArtifact reports whether the event is an artifact update.
func (e StreamEvent) IsArtifact() bool { return e.Artifact != nil }

// envelope is the on-wire shape of a stream event.
type envelope struct {
	Kind     string          `json:"kind"`
	Status   *StatusUpdate   `json:"status,omitempty"`
	Artifact *ArtifactUpdate `json:"artifact,omitempty"`
}

const (
	kindStatus   = "status"
	kindArtifact = "artifact"
)

// DecodeEvent parses one wire event into the tagged variant. Shape probing
// stays here at the boundary; callers only ever see the two cases.
func DecodeEvent(data []byte) (StreamEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return StreamEvent{}, fmt.Errorf("decode stream event: %w", err)
	}
	switch env.Kind {
	case kindStatus:
		if env.Status == nil {
			return StreamEvent{}, fmt.Errorf("decode stream event: status event without status body")
		}
		if env.Status.State == "" {
			return StreamEvent{}, fmt.Errorf("decode stream event: status event without state")
		}
		return StreamEvent{Status: env.Status}, nil
	case kindArtifact:
		if env.Artifact == nil || env.Artifact.Name == "" {
			return StreamEvent{}, fmt.Errorf("decode stream event: artifact event without name")
		}
		return StreamEvent{Artifact: env.Artifact}, nil
	default:
		return StreamEvent{}, fmt.Errorf("decode stream event: unknown kind %q", env.Kind)
	}
}

// EncodeEvent renders the tagged variant back to its wire shape. Used by
// tests and by fake workers; round-trips DecodeEvent losslessly.
func EncodeEvent(e StreamEvent) ([]byte, error) {
	switch {
	case e.Status != nil:
		return json.Marshal(envelope{Kind: kindStatus, Status: e.Status})
	case e.Artifact != nil:
		return json.Marshal(envelope{Kind: kindArtifact, Artifact: e.Artifact})
	default:
		return nil, fmt.Errorf("encode stream event: empty variant")
	}
}
