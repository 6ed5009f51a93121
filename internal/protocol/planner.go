package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlannerArtifactSuffix marks artifacts whose payload carries a task list
// rather than a terminal result.
const PlannerArtifactSuffix = "-result"

// InterpretationError reports a structured payload that could not be parsed
// into its expected shape.
type InterpretationError struct {
	What string
	Err  error
}

func (e *InterpretationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("interpret %s: %v", e.What, e.Err)
	}
	return fmt.Sprintf("interpret %s: malformed payload", e.What)
}

func (e *InterpretationError) Unwrap() error { return e.Err }

// PlannedTask is one sub-task produced by the planner.
type PlannedTask struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	AgentType   string `json:"agent_type,omitempty"`
	Status      string `json:"status,omitempty"`
}

// PlannerPayload is the planner -> orchestrator contract. SearchInfo is
// retained verbatim so it survives a JSON round trip.
type PlannerPayload struct {
	SearchInfo map[string]interface{} `json:"search_info,omitempty"`
	Tasks      []PlannedTask          `json:"tasks"`
}

// plannerWire accepts both the current search_info key and the legacy
// code_search_info key emitted by older planner workers.
type plannerWire struct {
	SearchInfo     map[string]interface{} `json:"search_info"`
	CodeSearchInfo map[string]interface{} `json:"code_search_info"`
	Tasks          []PlannedTask          `json:"tasks"`
}

// IsPlannerArtifact reports whether the artifact is a planner result by name
// convention.
func IsPlannerArtifact(a *ArtifactUpdate) bool {
	return a != nil && strings.HasSuffix(a.Name, PlannerArtifactSuffix)
}

// ParsePlannerArtifact decodes a planner artifact payload. A planner must
// always produce a non-empty task list to make progress; anything else is an
// InterpretationError.
func ParsePlannerArtifact(a *ArtifactUpdate) (*PlannerPayload, error) {
	if a == nil || len(a.Payload) == 0 {
		return nil, &InterpretationError{What: "planner artifact"}
	}
	var wire plannerWire
	if err := json.Unmarshal(a.Payload, &wire); err != nil {
		return nil, &InterpretationError{What: "planner artifact", Err: err}
	}
	if len(wire.Tasks) == 0 {
		return nil, &InterpretationError{What: "planner artifact", Err: fmt.Errorf("no tasks in payload")}
	}
	for i, t := range wire.Tasks {
		if strings.TrimSpace(t.Description) == "" {
			return nil, &InterpretationError{What: "planner artifact", Err: fmt.Errorf("task %d has empty description", i)}
		}
	}
	info := wire.SearchInfo
	if info == nil {
		info = wire.CodeSearchInfo
	}
	return &PlannerPayload{SearchInfo: info, Tasks: wire.Tasks}, nil
}
