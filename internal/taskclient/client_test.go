package taskclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codequery-ai/orchestrator/internal/protocol"
)

func sseWorker(t *testing.T, events []protocol.StreamEvent) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, streamPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var msg protocol.TaskMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.NotEmpty(t, msg.TaskID)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			data, err := protocol.EncodeEvent(ev)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}))
}

func statusEvent(state protocol.TaskState, message string) protocol.StreamEvent {
	return protocol.StreamEvent{Status: &protocol.StatusUpdate{State: state, Message: message}}
}

func artifactEvent(name string, payload string) protocol.StreamEvent {
	return protocol.StreamEvent{Artifact: &protocol.ArtifactUpdate{Name: name, Payload: json.RawMessage(payload)}}
}

func TestOpenStreamReceivesOrderedEvents(t *testing.T) {
	want := []protocol.StreamEvent{
		statusEvent(protocol.TaskStateSubmitted, ""),
		statusEvent(protocol.TaskStateWorking, "analyzing"),
		artifactEvent("search-result", `{"hits": 3}`),
		statusEvent(protocol.TaskStateCompleted, "done"),
	}
	srv := sseWorker(t, want)
	defer srv.Close()

	c := New(zap.NewNop())
	stream, err := c.OpenStream(context.Background(), srv.URL, protocol.TaskMessage{
		Role:      "user",
		Content:   "find the parser",
		MessageID: "m1",
		TaskID:    "t1",
		ContextID: "ctx1",
	})
	require.NoError(t, err)
	defer stream.Close()

	for i, expect := range want {
		got, err := stream.Recv()
		require.NoError(t, err, "event %d", i)
		if expect.IsStatus() {
			require.True(t, got.IsStatus())
			assert.Equal(t, expect.Status.State, got.Status.State)
			assert.Equal(t, expect.Status.Message, got.Status.Message)
		} else {
			require.True(t, got.IsArtifact())
			assert.Equal(t, expect.Artifact.Name, got.Artifact.Name)
			assert.JSONEq(t, string(expect.Artifact.Payload), string(got.Artifact.Payload))
		}
	}

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestOpenStreamConnectionRefused(t *testing.T) {
	c := New(zap.NewNop())
	_, err := c.OpenStream(context.Background(), "http://127.0.0.1:1", protocol.TaskMessage{TaskID: "t"})

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "connect", terr.Op)
}

func TestOpenStreamNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(zap.NewNop())
	_, err := c.OpenStream(context.Background(), srv.URL, protocol.TaskMessage{TaskID: "t"})

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
}

func TestRecvMalformedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"kind\": \"mystery\"}\n\n")
	}))
	defer srv.Close()

	c := New(zap.NewNop())
	stream, err := c.OpenStream(context.Background(), srv.URL, protocol.TaskMessage{TaskID: "t"})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Recv()
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "decode", terr.Op)
}

func TestRecvIgnoresCommentsAndIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "id: 7\nevent: message\ndata: {\"kind\":\"status\",\"status\":{\"state\":\"working\"}}\n\n")
	}))
	defer srv.Close()

	c := New(zap.NewNop())
	stream, err := c.OpenStream(context.Background(), srv.URL, protocol.TaskMessage{TaskID: "t"})
	require.NoError(t, err)
	defer stream.Close()

	got, err := stream.Recv()
	require.NoError(t, err)
	require.True(t, got.IsStatus())
	assert.Equal(t, protocol.TaskStateWorking, got.Status.State)
}
