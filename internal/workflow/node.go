package workflow

import (
	"github.com/google/uuid"

	"github.com/codequery-ai/orchestrator/internal/protocol"
)

// Well-known node attribute keys. The attribute bag is the canonical
// mutable store for a node; task text updates go through it.
const (
	AttrTask      = "task"
	AttrTaskID    = "task_id"
	AttrContextID = "context_id"
	AttrAgentType = "agent_type"
)

// KeyPlanner tags the distinguished planning node of a graph.
const KeyPlanner = "planner"

// Node is one unit of work in a workflow graph. Nodes are owned by
// exactly one graph; only the graph mutates state and attributes.
type Node struct {
	id    string
	key   string
	state Status

	// result holds the last artifact produced by the node's worker.
	result *protocol.ArtifactUpdate

	attrs map[string]string
}

func newNode(task, key string) *Node {
	return &Node{
		id:    uuid.NewString(),
		key:   key,
		state: StatusReady,
		attrs: map[string]string{AttrTask: task},
	}
}

// ID returns the node's process-unique identifier.
func (n *Node) ID() string { return n.id }

// Key returns the node's classification tag, e.g. "planner".
func (n *Node) Key() string { return n.key }

// State returns the node's lifecycle state.
func (n *Node) State() Status { return n.state }

// Task returns the node's current task description.
func (n *Node) Task() string { return n.attrs[AttrTask] }

// Attribute reads one entry from the node's attribute bag.
func (n *Node) Attribute(key string) (string, bool) {
	v, ok := n.attrs[key]
	return v, ok
}

// Result returns the last artifact the node produced, or nil.
func (n *Node) Result() *protocol.ArtifactUpdate { return n.result }

// IsPlanner reports whether the node is the distinguished planning node.
func (n *Node) IsPlanner() bool { return n.key == KeyPlanner }
