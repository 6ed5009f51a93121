package orchestrator

import "fmt"

// Response is the caller-facing event shape. Every stream of responses
// ends with exactly one event carrying IsTaskComplete=true.
type Response struct {
	ResponseType     string      `json:"response_type"` // "text" or "data"
	IsTaskComplete   bool        `json:"is_task_complete"`
	RequireUserInput bool        `json:"require_user_input"`
	Content          interface{} `json:"content"`
}

func progress(message string) Response {
	if message == "" {
		message = "Working..."
	}
	return Response{ResponseType: "text", Content: message}
}

func inputRequired(question string) Response {
	return Response{ResponseType: "text", RequireUserInput: true, Content: question}
}

func terminal(content interface{}) Response {
	return Response{ResponseType: "text", IsTaskComplete: true, Content: content}
}

func terminalData(content interface{}) Response {
	return Response{ResponseType: "data", IsTaskComplete: true, Content: content}
}

// ValidationError reports malformed caller input, surfaced immediately
// instead of through the response stream.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}
