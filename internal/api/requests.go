package api

import "github.com/agentdeck/agentdeck/internal/agent/manager"

// StartSessionRequest is the body for POST /api/v1/sessions
type StartSessionRequest struct {
	Name      string   `json:"name" binding:"required"`
	Role      string   `json:"role"`
	WorkDir   string   `json:"workDir" binding:"required"`
	Patterns  []string `json:"patterns"`
	SessionID string   `json:"sessionId"`
}

// SendMessageRequest is the body for POST /api/v1/sessions/:id/message
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// ChangeInstructionRequest is the body for POST /api/v1/changes/:id/instruction
type ChangeInstructionRequest struct {
	Text string `json:"text" binding:"required"`
}

// StatusResponse reports the outcome of a command
type StatusResponse struct {
	Status string `json:"status"`
}

// SessionResponse wraps a single session
type SessionResponse struct {
	Session *manager.Session `json:"session"`
}

// SessionListResponse wraps the session list
type SessionListResponse struct {
	Sessions []*manager.Session `json:"sessions"`
	Count    int                `json:"count"`
}

// OutputResponse is the output buffer snapshot for a session
type OutputResponse struct {
	AgentID string   `json:"agentId"`
	Output  []string `json:"output"`
}

// ChangeResponse wraps a single change proposal
type ChangeResponse struct {
	Change *manager.Change `json:"change"`
}

// ChangeListResponse wraps the change proposal list
type ChangeListResponse struct {
	Changes []*manager.Change `json:"changes"`
	Count   int               `json:"count"`
}
