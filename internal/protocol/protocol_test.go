package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStatusEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"kind": "status", "status": {"state": "working", "message": "analyzing"}}`))
	require.NoError(t, err)
	require.True(t, ev.IsStatus())
	assert.False(t, ev.IsArtifact())
	assert.Equal(t, TaskStateWorking, ev.Status.State)
	assert.Equal(t, "analyzing", ev.Status.Message)
}

func TestDecodeArtifactEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"kind": "artifact", "artifact": {"name": "search-result", "payload": {"hits": 3}}}`))
	require.NoError(t, err)
	require.True(t, ev.IsArtifact())
	assert.Equal(t, "search-result", ev.Artifact.Name)
	assert.JSONEq(t, `{"hits": 3}`, string(ev.Artifact.Payload))
}

func TestDecodeRejectsMalformedEvents(t *testing.T) {
	cases := map[string]string{
		"unknown kind":          `{"kind": "telemetry"}`,
		"status without body":   `{"kind": "status"}`,
		"status without state":  `{"kind": "status", "status": {"message": "hi"}}`,
		"artifact without name": `{"kind": "artifact", "artifact": {"payload": {}}}`,
		"not json":              `nope`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := StreamEvent{Status: &StatusUpdate{State: TaskStateInputRequired, Message: "which repo?"}}
	data, err := EncodeEvent(orig)
	require.NoError(t, err)

	got, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, orig.Status, got.Status)

	_, err = EncodeEvent(StreamEvent{})
	assert.Error(t, err)
}

func TestIsPlannerArtifact(t *testing.T) {
	assert.True(t, IsPlannerArtifact(&ArtifactUpdate{Name: "plan-result"}))
	assert.False(t, IsPlannerArtifact(&ArtifactUpdate{Name: "progress"}))
	assert.False(t, IsPlannerArtifact(nil))
}

func TestParsePlannerArtifact(t *testing.T) {
	art := &ArtifactUpdate{
		Name: "plan-result",
		Payload: json.RawMessage(`{
			"search_info": {"repo": "demo"},
			"tasks": [
				{"id": 1, "description": "find entry points", "agent_type": "code_search"},
				{"id": 2, "description": "summarize findings"}
			]
		}`),
	}
	payload, err := ParsePlannerArtifact(art)
	require.NoError(t, err)
	assert.Equal(t, "demo", payload.SearchInfo["repo"])
	require.Len(t, payload.Tasks, 2)
	assert.Equal(t, "code_search", payload.Tasks[0].AgentType)
	assert.Equal(t, "summarize findings", payload.Tasks[1].Description)
}

func TestParsePlannerArtifactLegacySearchInfoKey(t *testing.T) {
	art := &ArtifactUpdate{
		Name:    "plan-result",
		Payload: json.RawMessage(`{"code_search_info": {"lang": "go"}, "tasks": [{"id": 1, "description": "x"}]}`),
	}
	payload, err := ParsePlannerArtifact(art)
	require.NoError(t, err)
	assert.Equal(t, "go", payload.SearchInfo["lang"])
}

func TestParsePlannerArtifactRejectsUnusablePayloads(t *testing.T) {
	var ierr *InterpretationError

	_, err := ParsePlannerArtifact(nil)
	require.ErrorAs(t, err, &ierr)

	_, err = ParsePlannerArtifact(&ArtifactUpdate{Name: "plan-result", Payload: json.RawMessage(`{"tasks": []}`)})
	require.ErrorAs(t, err, &ierr)

	_, err = ParsePlannerArtifact(&ArtifactUpdate{Name: "plan-result", Payload: json.RawMessage(`{"tasks": [{"id": 1, "description": "  "}]}`)})
	require.ErrorAs(t, err, &ierr)

	_, err = ParsePlannerArtifact(&ArtifactUpdate{Name: "plan-result", Payload: json.RawMessage(`not json`)})
	require.ErrorAs(t, err, &ierr)
}
