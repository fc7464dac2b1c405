// Package runner abstracts how an agent session actually executes. Two
// strategies implement the same interface: a subprocess driving the claude
// CLI over its stream-json protocol, and an in-process loop streaming the
// Anthropic API directly. Both normalize execution into one event vocabulary
// consumed by the session manager.
package runner

import "context"

// Stream identifies which output stream a chunk came from.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// EventType classifies normalized runner events.
type EventType string

const (
	// EventOutput is a chunk of assistant-visible text, including
	// synthesized tool-activity notices.
	EventOutput EventType = "output"

	// EventEditPermission is emitted once per mutating tool invocation,
	// before the invocation proceeds.
	EventEditPermission EventType = "edit_permission"

	// EventExit is terminal for an agent. At most one is emitted per agent
	// lifetime; an explicit Stop suppresses the synthetic exit.
	EventExit EventType = "exit"
)

// Event is one normalized execution event. Events for a single agent are
// delivered in the order the underlying execution produced them.
type Event struct {
	Type      EventType
	AgentID   string
	SessionID string

	// For EventOutput
	Text   string
	Stream string

	// For EventEditPermission
	Request *EditPermissionRequest

	// For EventExit
	ExitCode int
}

// EditPermissionRequest describes one mutating tool call awaiting approval.
type EditPermissionRequest struct {
	AgentID   string `json:"agentId"`
	SessionID string `json:"sessionId"`
	FilePath  string `json:"filePath"`
	OldString string `json:"oldString"`
	NewString string `json:"newString"`
	ToolUseID string `json:"toolUseId"`
}

// Config describes one agent execution to start.
type Config struct {
	ID        string
	SessionID string
	Name      string
	Role      string
	WorkDir   string
	Patterns  []string
}

// Runner executes agent sessions and reports them as a normalized event
// stream. Implementations must not block Start on the execution itself.
type Runner interface {
	// Start begins executing the agent concurrently. A fatal startup error
	// inside the loop is reported as an exit event, not returned here.
	Start(ctx context.Context, cfg Config) error

	// SendInput enqueues a user message into the agent's conversation.
	// Safe to call mid-turn; messages are never dropped or reordered.
	SendInput(agentID, text string) error

	// Interrupt cancels the current in-flight operation without
	// terminating the session.
	Interrupt(agentID string) error

	// Stop terminates execution and releases all per-agent state,
	// rejecting any pending approvals. No events are emitted for the
	// agent afterward.
	Stop(agentID string) error

	// ResolveApproval delivers a human decision to an outstanding edit
	// permission gate. Fails if the token is unknown or already resolved.
	ResolveApproval(toolUseID string, approved bool) error

	// PID returns the OS process id backing the agent, if any. The SDK
	// runner reports the server's own pid.
	PID(agentID string) (int, bool)

	// Events returns the normalized event stream shared by all agents
	// this runner executes.
	Events() <-chan Event
}
