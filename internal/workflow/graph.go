// Package workflow implements the dynamic DAG of task nodes driven by
// the orchestrator: chain-shaped in practice, general DAG by contract,
// with pause/resume around workers that ask for more input.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ometrics "github.com/codequery-ai/orchestrator/internal/metrics"
	"github.com/codequery-ai/orchestrator/internal/protocol"
)

// Status is the shared lifecycle enum for graphs and nodes.
type Status string

const (
	StatusInitialized Status = "INITIALIZED"
	StatusReady       Status = "READY"
	StatusRunning     Status = "RUNNING"
	StatusCompleted   Status = "COMPLETED"
	StatusPaused      Status = "PAUSED"
)

// ErrInvalidNodeReference is returned when an edge names an unknown node.
var ErrInvalidNodeReference = errors.New("invalid node reference")

// Endpoint is a resolved worker address.
type Endpoint struct {
	Name string
	URL  string
}

// Resolver maps task descriptions to worker endpoints.
type Resolver interface {
	Resolve(ctx context.Context, task, agentType string) (Endpoint, error)
	ResolvePlanner() (Endpoint, error)
}

// TaskStream yields the events of one remote task call.
type TaskStream interface {
	Recv() (protocol.StreamEvent, error)
	Close() error
}

// TaskStreamer opens streaming task calls against worker endpoints.
type TaskStreamer interface {
	OpenStream(ctx context.Context, url string, msg protocol.TaskMessage) (TaskStream, error)
}

// EventSink receives the events a graph run forwards to its caller, in
// stream order, tagged with the originating node.
type EventSink func(nodeID string, ev protocol.StreamEvent) error

// Graph is a DAG of workflow nodes with must-execute-before edges.
// It is exclusively owned by one orchestrator session and is not safe
// for concurrent use.
type Graph struct {
	resolver Resolver
	streamer TaskStreamer
	logger   *zap.Logger

	state Status

	// pausedNodeID and pausedQuestion record the pause the graph
	// swallowed, so the orchestrator can decide how to surface it.
	pausedNodeID   string
	pausedQuestion string

	latestNodeID string

	nodes map[string]*Node
	order []string            // insertion order, tie-break for the topological sort
	edges map[string][]string // from -> to

	nodeTimeout time.Duration
}

// Option configures a graph.
type Option func(*Graph)

// WithNodeTimeout bounds each node's remote call. Zero means no limit.
func WithNodeTimeout(d time.Duration) Option {
	return func(g *Graph) { g.nodeTimeout = d }
}

// NewGraph creates an empty graph in INITIALIZED state.
func NewGraph(resolver Resolver, streamer TaskStreamer, logger *zap.Logger, opts ...Option) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Graph{
		resolver: resolver,
		streamer: streamer,
		logger:   logger,
		state:    StatusInitialized,
		nodes:    make(map[string]*Node),
		edges:    make(map[string][]string),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the graph's lifecycle state.
func (g *Graph) State() Status { return g.state }

// PausedNodeID returns the node awaiting external input, or empty.
func (g *Graph) PausedNodeID() string { return g.pausedNodeID }

// PausedQuestion returns the question text from the swallowed
// input-required event, or empty when the graph is not paused.
func (g *Graph) PausedQuestion() string { return g.pausedQuestion }

// LatestNodeID returns the most recently added node, for appending.
func (g *Graph) LatestNodeID() string { return g.latestNodeID }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// AddNode creates a READY node carrying the task and returns its id.
func (g *Graph) AddNode(task, key string) string {
	n := newNode(task, key)
	g.nodes[n.id] = n
	g.order = append(g.order, n.id)
	g.latestNodeID = n.id
	if g.state == StatusInitialized {
		g.state = StatusReady
	}
	return n.id
}

// AddEdge records that from must execute before to. Both endpoints must
// already exist.
func (g *Graph) AddEdge(from, to string) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidNodeReference, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidNodeReference, to)
	}
	g.edges[from] = append(g.edges[from], to)
	return nil
}

// SetNodeAttribute writes one entry to the node's attribute bag.
func (g *Graph) SetNodeAttribute(id, key, value string) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidNodeReference, id)
	}
	n.attrs[key] = value
	return nil
}

// SetNodeAttributes writes multiple entries to the node's attribute bag.
func (g *Graph) SetNodeAttributes(id string, attrs map[string]string) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidNodeReference, id)
	}
	for k, v := range attrs {
		n.attrs[k] = v
	}
	return nil
}

// TopologicalOrder returns all node ids so that every node appears after
// its predecessors. Insertion order breaks ties among incomparable nodes.
func (g *Graph) TopologicalOrder() ([]string, error) {
	indeg := make(map[string]int, len(g.nodes))
	for _, tos := range g.edges {
		for _, to := range tos {
			indeg[to]++
		}
	}

	emitted := make(map[string]bool, len(g.nodes))
	out := make([]string, 0, len(g.nodes))
	for len(out) < len(g.nodes) {
		progressed := false
		for _, id := range g.order {
			if emitted[id] || indeg[id] > 0 {
				continue
			}
			emitted[id] = true
			out = append(out, id)
			for _, to := range g.edges[id] {
				indeg[to]--
			}
			progressed = true
		}
		if !progressed {
			return nil, errors.New("workflow graph contains a cycle")
		}
	}
	return out, nil
}

// Descendants returns the set of nodes reachable from id, inclusive.
func (g *Graph) Descendants(id string) map[string]bool {
	seen := map[string]bool{id: true}
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, to := range g.edges[cur] {
			if !seen[to] {
				seen[to] = true
				stack = append(stack, to)
			}
		}
	}
	return seen
}

// sequence computes the node-execution order for a run: the global
// topological order filtered to the frontier of startNodeID (or every
// node when startNodeID is empty or unknown).
func (g *Graph) sequence(startNodeID string) ([]string, error) {
	topo, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	if startNodeID == "" {
		return topo, nil
	}
	if _, ok := g.nodes[startNodeID]; !ok {
		return topo, nil
	}
	frontier := g.Descendants(startNodeID)
	out := make([]string, 0, len(frontier))
	for _, id := range topo {
		if frontier[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// Run executes the frontier of startNodeID in topological order,
// forwarding worker events to sink. When a worker asks for input the
// graph pauses: the triggering event is swallowed, the rest of that
// node's stream is drained unforwarded, and no later node starts.
func (g *Graph) Run(ctx context.Context, startNodeID string, sink EventSink) error {
	seq, err := g.sequence(startNodeID)
	if err != nil {
		return err
	}

	g.state = StatusRunning
	g.pausedNodeID = ""
	g.pausedQuestion = ""

	for _, id := range seq {
		n := g.nodes[id]
		n.state = StatusRunning

		if err := g.runNode(ctx, n, sink); err != nil {
			ometrics.NodesExecuted.WithLabelValues(nodeKeyLabel(n), "error").Inc()
			return err
		}

		if g.state == StatusPaused {
			ometrics.NodesExecuted.WithLabelValues(nodeKeyLabel(n), "paused").Inc()
			return nil
		}
		if n.state == StatusRunning {
			n.state = StatusCompleted
		}
		ometrics.NodesExecuted.WithLabelValues(nodeKeyLabel(n), "completed").Inc()
	}

	g.state = StatusCompleted
	return nil
}

func (g *Graph) runNode(ctx context.Context, n *Node, sink EventSink) error {
	start := time.Now()
	defer func() {
		ometrics.NodeDuration.Observe(time.Since(start).Seconds())
	}()

	if g.nodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.nodeTimeout)
		defer cancel()
	}

	var (
		ep  Endpoint
		err error
	)
	if n.IsPlanner() {
		ep, err = g.resolver.ResolvePlanner()
	} else {
		agentType, _ := n.Attribute(AttrAgentType)
		ep, err = g.resolver.Resolve(ctx, n.Task(), agentType)
	}
	if err != nil {
		return fmt.Errorf("node %s: %w", n.id, err)
	}

	taskID, _ := n.Attribute(AttrTaskID)
	contextID, _ := n.Attribute(AttrContextID)
	msg := protocol.TaskMessage{
		Role:      "user",
		Content:   n.Task(),
		MessageID: uuid.NewString(),
		TaskID:    taskID,
		ContextID: contextID,
	}

	g.logger.Debug("Executing workflow node",
		zap.String("node_id", n.id),
		zap.String("node_key", n.key),
		zap.String("agent", ep.Name),
	)

	stream, err := g.streamer.OpenStream(ctx, ep.URL, msg)
	if err != nil {
		return fmt.Errorf("node %s: %w", n.id, err)
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("node %s: %w", n.id, err)
		}

		if ev.IsArtifact() {
			n.result = ev.Artifact
		}

		if ev.IsStatus() && ev.Status.State == protocol.TaskStateInputRequired && g.state != StatusPaused {
			n.state = StatusPaused
			g.state = StatusPaused
			g.pausedNodeID = n.id
			g.pausedQuestion = ev.Status.Message
			ometrics.WorkflowPauses.Inc()
			g.logger.Info("Workflow paused on input request",
				zap.String("node_id", n.id),
				zap.String("question", ev.Status.Message),
			)
			// Drain the rest of the stream without forwarding.
			continue
		}
		if g.state == StatusPaused {
			continue
		}

		if err := sink(n.id, ev); err != nil {
			return fmt.Errorf("node %s: forward event: %w", n.id, err)
		}
	}
}

func nodeKeyLabel(n *Node) string {
	if n.key == "" {
		return "task"
	}
	return n.key
}
