// Package assistant is the boundary to the hosted assistant service: threads,
// runs and tool outputs. The orchestrator only sees the types declared here.
package assistant

import (
	"context"
	"errors"
)

// ErrThreadBusy is returned when the service rejects a message or run because
// the thread still has a run in flight, or when the service is rate limiting.
var ErrThreadBusy = errors.New("thread busy")

type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusCancelling     RunStatus = "cancelling"
	StatusCancelled      RunStatus = "cancelled"
	StatusExpired        RunStatus = "expired"
	StatusIncomplete     RunStatus = "incomplete"
)

// Active reports whether the run may still make progress and should be polled.
func (s RunStatus) Active() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusRequiresAction:
		return true
	}
	return false
}

// ToolInvocation is one pending function call. Only runs in
// StatusRequiresAction carry them.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

type ToolResult struct {
	InvocationID string
	Output       string
}

// Run is a point-in-time view of a remote run.
type Run struct {
	ID          string
	ThreadID    string
	Status      RunStatus
	ToolCalls   []ToolInvocation
	FailureCode string
	FailureText string
}

// ToolSpec declares a local function the assistant may call.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

type Gateway interface {
	CreateThread(ctx context.Context) (string, error)
	AddUserMessage(ctx context.Context, threadID, content string) error
	StartRun(ctx context.Context, threadID string, tools []ToolSpec) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, results []ToolResult) error
	// LatestAssistantMessage returns the text of the newest message in the thread.
	LatestAssistantMessage(ctx context.Context, threadID string) (string, error)
}
