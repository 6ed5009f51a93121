// Package orchestrator drives multi-agent workflows: it classifies
// incoming queries, builds and grows the workflow graph from planner
// output, auto-answers worker questions when it can, and synthesizes the
// final summary. It is the single boundary converting internal errors
// into caller-facing terminal events.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codequery-ai/orchestrator/internal/llm"
	ometrics "github.com/codequery-ai/orchestrator/internal/metrics"
	"github.com/codequery-ai/orchestrator/internal/protocol"
	"github.com/codequery-ai/orchestrator/internal/session"
	"github.com/codequery-ai/orchestrator/internal/streaming"
	"github.com/codequery-ai/orchestrator/internal/workflow"
)

// Collaborator is the LLM-backed helper used for classification, pause
// question answering, and summaries.
type Collaborator interface {
	Classify(ctx context.Context, query string) (llm.Complexity, error)
	AnswerQuestion(ctx context.Context, question, searchContext string, history []string) (llm.Judgment, error)
	Summarize(ctx context.Context, query string, results []string) (string, error)
}

// Config controls the orchestrator.
type Config struct {
	// NodeTimeout bounds each node's remote call. Zero means no limit.
	NodeTimeout time.Duration
	// ResponseBuffer is the caller-facing channel buffer size.
	ResponseBuffer int
}

// sessionState is the per-context orchestration state. It is owned
// exclusively by the orchestrator and invalidated as a unit.
type sessionState struct {
	graph         *workflow.Graph
	results       []string
	searchContext map[string]interface{}
	queryHistory  []string
}

// Orchestrator is the system's entry point. One instance serves all
// sessions; per-context state is kept in an explicit map and runs
// against the same context are serialized.
type Orchestrator struct {
	cfg      Config
	resolver workflow.Resolver
	streamer workflow.TaskStreamer
	collab   Collaborator
	sessions *session.Manager
	events   *streaming.Manager
	logger   *zap.Logger

	mu     sync.Mutex
	states map[string]*sessionState
	locks  map[string]*sync.Mutex
}

// New creates an orchestrator.
func New(cfg Config, resolver workflow.Resolver, streamer workflow.TaskStreamer, collab Collaborator, sessions *session.Manager, events *streaming.Manager, logger *zap.Logger) *Orchestrator {
	if cfg.ResponseBuffer <= 0 {
		cfg.ResponseBuffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		resolver: resolver,
		streamer: streamer,
		collab:   collab,
		sessions: sessions,
		events:   events,
		logger:   logger,
		states:   make(map[string]*sessionState),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Stream processes one query and returns the ordered response stream.
// Malformed input fails immediately with a ValidationError; every other
// failure arrives through the stream as a terminal error event.
func (o *Orchestrator) Stream(ctx context.Context, query, contextID, taskID string) (<-chan Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Reason: "empty query"}
	}
	if contextID == "" {
		contextID = uuid.NewString()
	}
	if taskID == "" {
		taskID = uuid.NewString()
	}

	out := make(chan Response, o.cfg.ResponseBuffer)
	go o.run(ctx, query, contextID, taskID, out)
	return out, nil
}

// ClearContext discards all orchestration and session state bound to the
// context. Idempotent.
func (o *Orchestrator) ClearContext(contextID string) {
	o.mu.Lock()
	delete(o.states, contextID)
	delete(o.locks, contextID)
	o.mu.Unlock()
	if o.sessions != nil {
		o.sessions.Delete(contextID)
	}
	o.logger.Info("Context cleared", zap.String("context_id", contextID))
}

// contextLock returns the mutex serializing runs against one context.
func (o *Orchestrator) contextLock(contextID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[contextID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[contextID] = l
	}
	return l
}

// state returns the session state for the context, creating it if absent.
func (o *Orchestrator) state(contextID string) *sessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[contextID]
	if !ok {
		st = &sessionState{}
		o.states[contextID] = st
	}
	return st
}

// clearState drops the context's orchestration state after completion.
func (o *Orchestrator) clearState(contextID string) {
	o.mu.Lock()
	delete(o.states, contextID)
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, query, contextID, taskID string, out chan<- Response) {
	defer close(out)

	lock := o.contextLock(contextID)
	lock.Lock()
	defer lock.Unlock()

	emit := func(r Response) bool {
		select {
		case out <- r:
			o.publish(taskID, contextID, r)
			return true
		case <-ctx.Done():
			return false
		}
	}

	st := o.state(contextID)
	st.queryHistory = append(st.queryHistory, query)
	if o.sessions != nil {
		o.sessions.AddMessage(contextID, session.Message{Role: "user", Content: query})
	}

	o.logger.Info("Query received",
		zap.String("context_id", contextID),
		zap.String("task_id", taskID),
	)

	// Fast path: simple repository questions go straight to one worker.
	if st.graph == nil || st.graph.State() != workflow.StatusPaused {
		handled, err := o.tryFastPath(ctx, query, contextID, taskID, emit)
		if handled {
			ometrics.WorkflowsCompleted.WithLabelValues("fast", "ok").Inc()
			return
		}
		if err != nil {
			ometrics.FastPathDecisions.WithLabelValues("fallback").Inc()
			o.logger.Warn("Fast path failed, falling back to workflow", zap.Error(err))
		}
	}

	ometrics.WorkflowsStarted.WithLabelValues("workflow").Inc()

	// Graph construction or resume.
	var startNodeID string
	switch {
	case st.graph == nil || st.graph.Len() == 0:
		st.graph = workflow.NewGraph(o.resolver, o.streamer, o.logger, workflow.WithNodeTimeout(o.cfg.NodeTimeout))
		startNodeID = st.graph.AddNode(query, workflow.KeyPlanner)
	case st.graph.State() == workflow.StatusPaused:
		startNodeID = st.graph.PausedNodeID()
		if err := st.graph.SetNodeAttribute(startNodeID, workflow.AttrTask, query); err != nil {
			o.terminalError(emit, contextID, err)
			return
		}
		ometrics.WorkflowResumes.WithLabelValues("user").Inc()
	default:
		// A completed graph was not cleared (earlier summary failure);
		// start the session over.
		st.graph = workflow.NewGraph(o.resolver, o.streamer, o.logger, workflow.WithNodeTimeout(o.cfg.NodeTimeout))
		startNodeID = st.graph.AddNode(query, workflow.KeyPlanner)
	}

	// Drive loop: each pass is one complete graph run; planner grafts and
	// auto-answered pauses request another pass from a new start point.
	for {
		if err := st.graph.SetNodeAttributes(startNodeID, map[string]string{
			workflow.AttrTaskID:    taskID,
			workflow.AttrContextID: contextID,
		}); err != nil {
			o.terminalError(emit, contextID, err)
			return
		}

		pass := &passState{}
		sink := o.eventSink(st, pass, taskID, contextID, emit)

		if err := st.graph.Run(ctx, startNodeID, sink); err != nil {
			o.terminalError(emit, contextID, err)
			return
		}
		if pass.emitFailed {
			return
		}
		if pass.plannerErr != nil {
			// A planner that never parses cannot make progress.
			o.terminalError(emit, contextID, pass.plannerErr)
			return
		}

		if st.graph.State() == workflow.StatusPaused {
			resumed := o.tryAutoAnswer(ctx, st, emit)
			if !resumed {
				return
			}
			startNodeID = st.graph.PausedNodeID()
			continue
		}

		if pass.resumeFrom != "" {
			startNodeID = pass.resumeFrom
			continue
		}
		break
	}

	o.finalize(ctx, st, contextID, emit)
}

// passState collects what one graph run decided.
type passState struct {
	resumeFrom string
	plannerErr error
	emitFailed bool
}

// eventSink interprets graph events for one pass: planner artifacts
// graft new nodes, other artifacts are collected, status updates become
// generic progress events.
func (o *Orchestrator) eventSink(st *sessionState, pass *passState, taskID, contextID string, emit func(Response) bool) workflow.EventSink {
	return func(nodeID string, ev protocol.StreamEvent) error {
		node := st.graph.Node(nodeID)

		if ev.IsArtifact() {
			if node != nil && node.IsPlanner() && protocol.IsPlannerArtifact(ev.Artifact) {
				first, err := o.graftPlannerTasks(st, nodeID, taskID, contextID, ev.Artifact)
				if err != nil {
					pass.plannerErr = err
					return nil
				}
				pass.resumeFrom = first
				if !emit(progress("Planning complete, executing sub-tasks...")) {
					pass.emitFailed = true
					return context.Canceled
				}
				return nil
			}

			st.results = append(st.results, string(ev.Artifact.Payload))
			if !emit(progress("Processing intermediate results...")) {
				pass.emitFailed = true
				return context.Canceled
			}
			return nil
		}

		if ev.IsStatus() {
			switch ev.Status.State {
			case protocol.TaskStateCompleted:
				// The artifact carries the payload; nothing to forward.
				return nil
			default:
				if !emit(progress(ev.Status.Message)) {
					pass.emitFailed = true
					return context.Canceled
				}
				return nil
			}
		}
		return nil
	}
}

// graftPlannerTasks parses the planner artifact and chains one node per
// generated sub-task after the planner node. Every new node is stamped
// with the run's task and context ids so its worker call carries them.
// Returns the first new node, where the next pass starts. Graphs only
// ever grow here.
func (o *Orchestrator) graftPlannerTasks(st *sessionState, plannerNodeID, taskID, contextID string, art *protocol.ArtifactUpdate) (string, error) {
	payload, err := protocol.ParsePlannerArtifact(art)
	if err != nil {
		return "", err
	}

	if payload.SearchInfo != nil {
		st.searchContext = payload.SearchInfo
	}

	prev := plannerNodeID
	first := ""
	for _, task := range payload.Tasks {
		id := st.graph.AddNode(task.Description, "")
		if err := st.graph.AddEdge(prev, id); err != nil {
			return "", err
		}
		if err := st.graph.SetNodeAttributes(id, map[string]string{
			workflow.AttrTaskID:    taskID,
			workflow.AttrContextID: contextID,
		}); err != nil {
			return "", err
		}
		if task.AgentType != "" {
			if err := st.graph.SetNodeAttribute(id, workflow.AttrAgentType, task.AgentType); err != nil {
				return "", err
			}
		}
		if first == "" {
			first = id
		}
		prev = id
	}

	ometrics.PlannerTasksGenerated.Observe(float64(len(payload.Tasks)))
	o.logger.Info("Planner tasks grafted",
		zap.Int("tasks", len(payload.Tasks)),
		zap.Int("graph_nodes", st.graph.Len()),
	)
	return first, nil
}

// tryAutoAnswer asks the Q&A collaborator whether the paused node's
// question is answerable from session context. On yes the answer
// re-enters the paused node and the caller resumes; on no (or any
// failure) the pause is surfaced as an explicit input-required event.
func (o *Orchestrator) tryAutoAnswer(ctx context.Context, st *sessionState, emit func(Response) bool) bool {
	question := st.graph.PausedQuestion()
	pausedID := st.graph.PausedNodeID()

	judgment, err := o.collab.AnswerQuestion(ctx, question, o.searchContextJSON(st), st.queryHistory)
	if err != nil {
		o.logger.Warn("Question answering failed, surfacing pause", zap.Error(err))
	}

	if err == nil && judgment.CanAnswer {
		if err := st.graph.SetNodeAttribute(pausedID, workflow.AttrTask, judgment.Answer); err == nil {
			ometrics.WorkflowResumes.WithLabelValues("auto").Inc()
			o.logger.Info("Auto-answered worker question",
				zap.String("node_id", pausedID),
				zap.String("question", truncate(question, 200)),
			)
			return true
		}
	}

	// The graph swallowed the worker's own pause event, so the caller
	// must get an explicit input request rather than a silent stream end.
	emit(inputRequired(question))
	return false
}

// finalize summarizes the collected results, clears the session's
// orchestration state, and emits the terminal event.
func (o *Orchestrator) finalize(ctx context.Context, st *sessionState, contextID string, emit func(Response) bool) {
	lastQuery := ""
	if len(st.queryHistory) > 0 {
		lastQuery = st.queryHistory[len(st.queryHistory)-1]
	}

	summary, err := o.collab.Summarize(ctx, lastQuery, st.results)
	if err != nil {
		// Collaborator outage degrades to a safe default, not a failure.
		o.logger.Error("Summary generation failed", zap.Error(err))
		summary = fmt.Sprintf("Workflow completed with %d result(s); summary generation was unavailable.", len(st.results))
	}

	if o.sessions != nil {
		o.sessions.AddMessage(contextID, session.Message{Role: "assistant", Content: summary})
		if st.searchContext != nil {
			o.sessions.SetSearchContext(contextID, st.searchContext)
		}
	}
	o.clearState(contextID)

	emit(terminal(summary))
	ometrics.WorkflowsCompleted.WithLabelValues("workflow", "ok").Inc()
}

// terminalError is the single exception boundary: internal failures
// become one terminal error event and never crash the session.
func (o *Orchestrator) terminalError(emit func(Response) bool, contextID string, err error) {
	o.logger.Error("Workflow failed",
		zap.String("context_id", contextID),
		zap.Error(err),
	)
	emit(terminal(fmt.Sprintf("The request could not be completed: %v", err)))
	ometrics.WorkflowsCompleted.WithLabelValues("workflow", "error").Inc()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (o *Orchestrator) searchContextJSON(st *sessionState) string {
	if st.searchContext == nil {
		return ""
	}
	b, err := json.Marshal(st.searchContext)
	if err != nil {
		return ""
	}
	return string(b)
}

func (o *Orchestrator) publish(taskID, contextID string, r Response) {
	if o.events == nil {
		return
	}
	evType := "progress"
	switch {
	case r.IsTaskComplete:
		evType = "completed"
	case r.RequireUserInput:
		evType = "input_required"
	}
	msg, _ := r.Content.(string)
	o.events.Publish(taskID, streaming.Event{
		ContextID: contextID,
		Type:      evType,
		Message:   msg,
	})
	// The terminal event ends the task; its ring history is no longer
	// replayable and would otherwise accumulate for the process lifetime.
	if r.IsTaskComplete {
		o.events.Drop(taskID)
	}
}
