// Package api exposes the session manager over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/manager"
	"github.com/agentdeck/agentdeck/internal/agent/registry"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// SessionService is the command surface the handlers drive.
type SessionService interface {
	StartSession(ctx context.Context, req manager.StartRequest) (*manager.Session, error)
	RestartSession(ctx context.Context, agentID string) (*manager.Session, error)
	StopSession(ctx context.Context, agentID string) error
	DeleteSession(ctx context.Context, agentID string) error
	InterruptSession(agentID string) error
	SendMessage(agentID, text string) error
	GetSession(agentID string) (*manager.Session, error)
	ListSessions() []*manager.Session
	GetOutput(agentID string) ([]string, error)
	ListChanges() []*manager.Change
	GetChange(changeID string) (*manager.Change, error)
	AcceptChange(ctx context.Context, changeID string) error
	DeclineChange(ctx context.Context, changeID string) error
	SendChangeInstruction(changeID, text string) error
	ApproveEdit(agentID, toolUseID string) error
	RejectEdit(agentID, toolUseID string) error
}

// Handler contains the HTTP handlers for the dashboard API
type Handler struct {
	sessions SessionService
	registry *registry.Registry
	logger   *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(sessions SessionService, reg *registry.Registry, log *logger.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		registry: reg,
		logger:   log.WithFields(zap.String("component", "api")),
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusInternalServerError, apperrors.InternalError("internal error", err))
}

// Health reports server liveness
// GET /api/v1/health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "agentdeck"})
}

// StartSession starts a new agent session
// POST /api/v1/sessions
func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	patterns := req.Patterns
	if len(patterns) == 0 && req.Role != "" {
		if preset, ok := h.registry.Get(req.Role); ok {
			patterns = preset.Patterns
		}
	}

	session, err := h.sessions.StartSession(c.Request.Context(), manager.StartRequest{
		Name:      req.Name,
		Role:      req.Role,
		WorkDir:   req.WorkDir,
		Patterns:  patterns,
		SessionID: req.SessionID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SessionResponse{Session: session})
}

// ListSessions lists all sessions
// GET /api/v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.sessions.ListSessions()
	c.JSON(http.StatusOK, SessionListResponse{Sessions: sessions, Count: len(sessions)})
}

// GetSession returns one session
// GET /api/v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.sessions.GetSession(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{Session: session})
}

// StopSession stops a running session
// POST /api/v1/sessions/:id/stop
func (h *Handler) StopSession(c *gin.Context) {
	if err := h.sessions.StopSession(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "stopped"})
}

// RestartSession starts a fresh agent instance continuing the session
// POST /api/v1/sessions/:id/restart
func (h *Handler) RestartSession(c *gin.Context) {
	session, err := h.sessions.RestartSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SessionResponse{Session: session})
}

// DeleteSession stops and removes a session
// DELETE /api/v1/sessions/:id
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.sessions.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "deleted"})
}

// InterruptSession cancels the session's in-flight operation
// POST /api/v1/sessions/:id/interrupt
func (h *Handler) InterruptSession(c *gin.Context) {
	if err := h.sessions.InterruptSession(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "interrupted"})
}

// SendMessage sends a user message into the session
// POST /api/v1/sessions/:id/message
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if err := h.sessions.SendMessage(c.Param("id"), req.Text); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "sent"})
}

// GetOutput returns the session's output buffer snapshot
// GET /api/v1/sessions/:id/output
func (h *Handler) GetOutput(c *gin.Context) {
	agentID := c.Param("id")
	output, err := h.sessions.GetOutput(agentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, OutputResponse{AgentID: agentID, Output: output})
}

// ApproveEdit approves an outstanding edit permission request
// POST /api/v1/sessions/:id/edits/:toolUseId/approve
func (h *Handler) ApproveEdit(c *gin.Context) {
	if err := h.sessions.ApproveEdit(c.Param("id"), c.Param("toolUseId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "approved"})
}

// RejectEdit denies an outstanding edit permission request
// POST /api/v1/sessions/:id/edits/:toolUseId/reject
func (h *Handler) RejectEdit(c *gin.Context) {
	if err := h.sessions.RejectEdit(c.Param("id"), c.Param("toolUseId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "rejected"})
}

// ListChanges lists all change proposals
// GET /api/v1/changes
func (h *Handler) ListChanges(c *gin.Context) {
	changes := h.sessions.ListChanges()
	c.JSON(http.StatusOK, ChangeListResponse{Changes: changes, Count: len(changes)})
}

// GetChange returns one change proposal
// GET /api/v1/changes/:id
func (h *Handler) GetChange(c *gin.Context) {
	change, err := h.sessions.GetChange(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ChangeResponse{Change: change})
}

// AcceptChange approves a pending change proposal
// POST /api/v1/changes/:id/accept
func (h *Handler) AcceptChange(c *gin.Context) {
	if err := h.sessions.AcceptChange(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "accepted"})
}

// DeclineChange rejects a pending change proposal
// POST /api/v1/changes/:id/decline
func (h *Handler) DeclineChange(c *gin.Context) {
	if err := h.sessions.DeclineChange(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "declined"})
}

// SendChangeInstruction sends a follow-up instruction about a change
// POST /api/v1/changes/:id/instruction
func (h *Handler) SendChangeInstruction(c *gin.Context) {
	var req ChangeInstructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if err := h.sessions.SendChangeInstruction(c.Param("id"), req.Text); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "sent"})
}

// ListRoles returns the configured role presets
// GET /api/v1/roles
func (h *Handler) ListRoles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"roles": h.registry.List()})
}
