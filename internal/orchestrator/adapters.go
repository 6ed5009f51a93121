package orchestrator

import (
	"context"

	"github.com/codequery-ai/orchestrator/internal/directory"
	"github.com/codequery-ai/orchestrator/internal/protocol"
	"github.com/codequery-ai/orchestrator/internal/taskclient"
	"github.com/codequery-ai/orchestrator/internal/workflow"
)

// directoryResolver adapts the agent directory to the workflow's
// resolver contract.
type directoryResolver struct {
	dir *directory.Directory
}

// NewDirectoryResolver wraps an agent directory as a workflow resolver.
func NewDirectoryResolver(dir *directory.Directory) workflow.Resolver {
	return &directoryResolver{dir: dir}
}

func (r *directoryResolver) Resolve(ctx context.Context, task, agentType string) (workflow.Endpoint, error) {
	card, err := r.dir.Resolve(ctx, task, agentType)
	if err != nil {
		return workflow.Endpoint{}, err
	}
	return workflow.Endpoint{Name: card.Name, URL: card.URL}, nil
}

func (r *directoryResolver) ResolvePlanner() (workflow.Endpoint, error) {
	card, err := r.dir.ResolvePlanner()
	if err != nil {
		return workflow.Endpoint{}, err
	}
	return workflow.Endpoint{Name: card.Name, URL: card.URL}, nil
}

// clientStreamer adapts the SSE task client to the workflow's streamer
// contract.
type clientStreamer struct {
	client *taskclient.Client
}

// NewTaskStreamer wraps the SSE task client as a workflow task streamer.
func NewTaskStreamer(client *taskclient.Client) workflow.TaskStreamer {
	return &clientStreamer{client: client}
}

func (s *clientStreamer) OpenStream(ctx context.Context, url string, msg protocol.TaskMessage) (workflow.TaskStream, error) {
	stream, err := s.client.OpenStream(ctx, url, msg)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
