package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codequery-ai/orchestrator/internal/protocol"
)

type fakeResolver struct {
	err error
}

func (f *fakeResolver) Resolve(_ context.Context, task, agentType string) (Endpoint, error) {
	if f.err != nil {
		return Endpoint{}, f.err
	}
	return Endpoint{Name: "worker-" + agentType, URL: "http://worker"}, nil
}

func (f *fakeResolver) ResolvePlanner() (Endpoint, error) {
	if f.err != nil {
		return Endpoint{}, f.err
	}
	return Endpoint{Name: "planner", URL: "http://planner"}, nil
}

type scriptedStream struct {
	events []protocol.StreamEvent
	pos    int
	closed bool
}

func (s *scriptedStream) Recv() (protocol.StreamEvent, error) {
	if s.pos >= len(s.events) {
		return protocol.StreamEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

// fakeStreamer scripts worker responses by task content and records the
// order tasks were opened in.
type fakeStreamer struct {
	scripts map[string][]protocol.StreamEvent
	opened  []string
	err     error
}

func (f *fakeStreamer) OpenStream(_ context.Context, _ string, msg protocol.TaskMessage) (TaskStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.opened = append(f.opened, msg.Content)
	return &scriptedStream{events: f.scripts[msg.Content]}, nil
}

func working(msg string) protocol.StreamEvent {
	return protocol.StreamEvent{Status: &protocol.StatusUpdate{State: protocol.TaskStateWorking, Message: msg}}
}

func completed() protocol.StreamEvent {
	return protocol.StreamEvent{Status: &protocol.StatusUpdate{State: protocol.TaskStateCompleted, Final: true}}
}

func inputRequired(question string) protocol.StreamEvent {
	return protocol.StreamEvent{Status: &protocol.StatusUpdate{State: protocol.TaskStateInputRequired, Message: question}}
}

func artifact(name, payload string) protocol.StreamEvent {
	return protocol.StreamEvent{Artifact: &protocol.ArtifactUpdate{Name: name, Payload: json.RawMessage(payload)}}
}

func collect(events *[]protocol.StreamEvent) EventSink {
	return func(_ string, ev protocol.StreamEvent) error {
		*events = append(*events, ev)
		return nil
	}
}

func simpleScript(tasks ...string) map[string][]protocol.StreamEvent {
	out := make(map[string][]protocol.StreamEvent, len(tasks))
	for _, task := range tasks {
		out[task] = []protocol.StreamEvent{working("on it"), completed()}
	}
	return out
}

func TestAddEdgeInvalidReference(t *testing.T) {
	g := NewGraph(&fakeResolver{}, &fakeStreamer{}, zap.NewNop())
	a := g.AddNode("a", "")

	err := g.AddEdge(a, "nope")
	require.ErrorIs(t, err, ErrInvalidNodeReference)
	err = g.AddEdge("nope", a)
	require.ErrorIs(t, err, ErrInvalidNodeReference)
}

func TestGraphStateTransitions(t *testing.T) {
	g := NewGraph(&fakeResolver{}, &fakeStreamer{scripts: simpleScript("a")}, zap.NewNop())
	assert.Equal(t, StatusInitialized, g.State())

	id := g.AddNode("a", "")
	assert.Equal(t, StatusReady, g.State())
	assert.Equal(t, StatusReady, g.Node(id).State())

	require.NoError(t, g.Run(context.Background(), "", func(string, protocol.StreamEvent) error { return nil }))
	assert.Equal(t, StatusCompleted, g.State())
	assert.Equal(t, StatusCompleted, g.Node(id).State())
}

func TestTopologicalOrderChainEqualsInsertionOrder(t *testing.T) {
	g := NewGraph(&fakeResolver{}, &fakeStreamer{}, zap.NewNop())
	a := g.AddNode("a", "")
	b := g.AddNode("b", "")
	c := g.AddNode("c", "")
	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(b, c))

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{a, b, c}, order)
}

func TestTopologicalOrderStableForIncomparableNodes(t *testing.T) {
	g := NewGraph(&fakeResolver{}, &fakeStreamer{}, zap.NewNop())
	a := g.AddNode("a", "")
	b := g.AddNode("b", "")
	c := g.AddNode("c", "")
	d := g.AddNode("d", "")
	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(a, c))
	require.NoError(t, g.AddEdge(b, d))
	require.NoError(t, g.AddEdge(c, d))

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{a, b, c, d}, order)
}

func TestTopologicalOrderDetectsCycle(t *testing.T) {
	g := NewGraph(&fakeResolver{}, &fakeStreamer{}, zap.NewNop())
	a := g.AddNode("a", "")
	b := g.AddNode("b", "")
	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(b, a))

	_, err := g.TopologicalOrder()
	require.Error(t, err)
	require.Error(t, g.Run(context.Background(), "", func(string, protocol.StreamEvent) error { return nil }))
}

func TestRunFrontierVisitsOnlyDescendants(t *testing.T) {
	streamer := &fakeStreamer{scripts: simpleScript("a", "b", "c", "d")}
	g := NewGraph(&fakeResolver{}, streamer, zap.NewNop())
	a := g.AddNode("a", "")
	b := g.AddNode("b", "")
	c := g.AddNode("c", "")
	d := g.AddNode("d", "")
	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(b, c))
	require.NoError(t, g.AddEdge(c, d))

	require.NoError(t, g.Run(context.Background(), b, func(string, protocol.StreamEvent) error { return nil }))

	// b's frontier excludes its ancestor a.
	assert.Equal(t, []string{"b", "c", "d"}, streamer.opened)
	assert.Equal(t, StatusReady, g.Node(a).State())
	assert.Equal(t, StatusCompleted, g.Node(d).State())
}

func TestRunWithoutStartRunsEverything(t *testing.T) {
	streamer := &fakeStreamer{scripts: simpleScript("a", "b")}
	g := NewGraph(&fakeResolver{}, streamer, zap.NewNop())
	a := g.AddNode("a", "")
	b := g.AddNode("b", "")
	require.NoError(t, g.AddEdge(a, b))

	require.NoError(t, g.Run(context.Background(), "", func(string, protocol.StreamEvent) error { return nil }))
	assert.Equal(t, []string{"a", "b"}, streamer.opened)
	assert.Equal(t, StatusCompleted, g.State())
}

func TestRunPausesOnInputRequired(t *testing.T) {
	streamer := &fakeStreamer{scripts: map[string][]protocol.StreamEvent{
		"first": {
			working("starting"),
			inputRequired("which branch should I analyze?"),
			// Trailing events are drained but never forwarded.
			working("after pause"),
			artifact("partial", `{"x":1}`),
		},
		"second": {working("never runs"), completed()},
	}}
	g := NewGraph(&fakeResolver{}, streamer, zap.NewNop())
	first := g.AddNode("first", "")
	second := g.AddNode("second", "")
	require.NoError(t, g.AddEdge(first, second))

	var forwarded []protocol.StreamEvent
	require.NoError(t, g.Run(context.Background(), "", collect(&forwarded)))

	assert.Equal(t, StatusPaused, g.State())
	assert.Equal(t, first, g.PausedNodeID())
	assert.Equal(t, "which branch should I analyze?", g.PausedQuestion())
	assert.Equal(t, StatusPaused, g.Node(first).State())

	// Only the pre-pause event reached the sink; no later node started.
	require.Len(t, forwarded, 1)
	assert.Equal(t, "starting", forwarded[0].Status.Message)
	assert.Equal(t, []string{"first"}, streamer.opened)
	assert.Equal(t, StatusReady, g.Node(second).State())
}

func TestRunResumeFromPausedNode(t *testing.T) {
	streamer := &fakeStreamer{scripts: map[string][]protocol.StreamEvent{
		"first":       {inputRequired("need input")},
		"main branch": {working("resumed"), completed()},
	}}
	g := NewGraph(&fakeResolver{}, streamer, zap.NewNop())
	first := g.AddNode("first", "")

	require.NoError(t, g.Run(context.Background(), "", func(string, protocol.StreamEvent) error { return nil }))
	require.Equal(t, StatusPaused, g.State())

	// The answer re-enters the node through its task attribute.
	require.NoError(t, g.SetNodeAttribute(first, AttrTask, "main branch"))

	var forwarded []protocol.StreamEvent
	require.NoError(t, g.Run(context.Background(), first, collect(&forwarded)))

	assert.Equal(t, StatusCompleted, g.State())
	assert.Equal(t, StatusCompleted, g.Node(first).State())
	assert.Empty(t, g.PausedNodeID())
	assert.Empty(t, g.PausedQuestion())
	require.Len(t, forwarded, 2)
	assert.Equal(t, "resumed", forwarded[0].Status.Message)
}

func TestRunRecordsArtifactAsNodeResult(t *testing.T) {
	streamer := &fakeStreamer{scripts: map[string][]protocol.StreamEvent{
		"search": {artifact("search-result", `{"hits":2}`), completed()},
	}}
	g := NewGraph(&fakeResolver{}, streamer, zap.NewNop())
	id := g.AddNode("search", "")

	var forwarded []protocol.StreamEvent
	require.NoError(t, g.Run(context.Background(), "", collect(&forwarded)))

	require.NotNil(t, g.Node(id).Result())
	assert.Equal(t, "search-result", g.Node(id).Result().Name)
	// The artifact is forwarded to the caller too.
	require.Len(t, forwarded, 2)
	assert.True(t, forwarded[0].IsArtifact())
}

func TestRunPlannerNodeUsesFixedResolution(t *testing.T) {
	resolver := &fakeResolver{}
	streamer := &fakeStreamer{scripts: simpleScript("plan this")}
	g := NewGraph(resolver, streamer, zap.NewNop())
	id := g.AddNode("plan this", KeyPlanner)

	require.NoError(t, g.SetNodeAttributes(id, map[string]string{AttrTaskID: "t1", AttrContextID: "c1"}))
	require.NoError(t, g.Run(context.Background(), "", func(string, protocol.StreamEvent) error { return nil }))
	assert.True(t, g.Node(id).IsPlanner())
}

func TestRunResolutionFailurePropagates(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("directory down")}
	g := NewGraph(resolver, &fakeStreamer{}, zap.NewNop())
	g.AddNode("a", "")

	err := g.Run(context.Background(), "", func(string, protocol.StreamEvent) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, resolver.err)
	// The graph is left in its partial state, not rolled back.
	assert.Equal(t, StatusRunning, g.State())
}

func TestRunTransportFailurePropagates(t *testing.T) {
	streamer := &fakeStreamer{err: errors.New("connection refused")}
	g := NewGraph(&fakeResolver{}, streamer, zap.NewNop())
	g.AddNode("a", "")

	err := g.Run(context.Background(), "", func(string, protocol.StreamEvent) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, streamer.err)
}

func TestSetNodeAttributes(t *testing.T) {
	g := NewGraph(&fakeResolver{}, &fakeStreamer{}, zap.NewNop())
	id := g.AddNode("task text", "")

	require.NoError(t, g.SetNodeAttributes(id, map[string]string{
		AttrTaskID:    "t9",
		AttrContextID: "c9",
		AttrAgentType: "code_search",
	}))
	require.Error(t, g.SetNodeAttribute("missing", AttrTask, "x"))

	n := g.Node(id)
	v, _ := n.Attribute(AttrTaskID)
	assert.Equal(t, "t9", v)
	assert.Equal(t, "task text", n.Task())

	require.NoError(t, g.SetNodeAttribute(id, AttrTask, "rewritten"))
	assert.Equal(t, "rewritten", n.Task())
}

func TestLatestNodeTracksAppends(t *testing.T) {
	g := NewGraph(&fakeResolver{}, &fakeStreamer{}, zap.NewNop())
	g.AddNode("a", "")
	b := g.AddNode("b", "")
	assert.Equal(t, b, g.LatestNodeID())
}
