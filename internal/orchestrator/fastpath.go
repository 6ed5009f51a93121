package orchestrator

import (
	"context"
	"encoding/json"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codequery-ai/orchestrator/internal/llm"
	ometrics "github.com/codequery-ai/orchestrator/internal/metrics"
	"github.com/codequery-ai/orchestrator/internal/protocol"
)

// tryFastPath routes simple repository questions straight to one
// capability-matched worker, bypassing graph construction entirely.
// handled=true means the caller got a complete response stream; a
// non-nil error with handled=false signals fallback to the full
// workflow.
func (o *Orchestrator) tryFastPath(ctx context.Context, query, contextID, taskID string, emit func(Response) bool) (bool, error) {
	verdict, err := o.collab.Classify(ctx, query)
	if err != nil {
		// Classification failure defaults to SIMPLE; direct routing gets
		// its chance and its own failure falls back to the workflow.
		o.logger.Warn("Classification failed, defaulting to simple", zap.Error(err))
		verdict = llm.ComplexitySimple
	}
	if verdict == llm.ComplexityComplex {
		ometrics.FastPathDecisions.WithLabelValues("complex").Inc()
		return false, nil
	}
	ometrics.FastPathDecisions.WithLabelValues("simple").Inc()

	ep, err := o.resolver.Resolve(ctx, query, "")
	if err != nil {
		return false, err
	}

	stream, err := o.streamer.OpenStream(ctx, ep.URL, protocol.TaskMessage{
		Role:      "user",
		Content:   query,
		MessageID: uuid.NewString(),
		TaskID:    taskID,
		ContextID: contextID,
	})
	if err != nil {
		return false, err
	}
	defer stream.Close()

	o.logger.Info("Fast path routed",
		zap.String("agent", ep.Name),
		zap.String("task_id", taskID),
	)

	var lastArtifact json.RawMessage
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, err
		}

		if ev.IsArtifact() {
			lastArtifact = ev.Artifact.Payload
			continue
		}
		if ev.IsStatus() {
			switch ev.Status.State {
			case protocol.TaskStateCompleted:
				// terminal event emitted below
			case protocol.TaskStateInputRequired:
				// A simple lookup should never pause; treat it as a
				// misclassification and run the full workflow instead.
				return false, &ValidationError{Reason: "fast path worker requested input"}
			default:
				if !emit(progress(ev.Status.Message)) {
					return true, nil
				}
			}
		}
	}

	if lastArtifact != nil {
		emit(terminalData(lastArtifact))
	} else {
		emit(terminal("Done."))
	}
	return true, nil
}
