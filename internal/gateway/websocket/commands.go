package websocket

import (
	"context"

	"github.com/agentdeck/agentdeck/internal/agent/manager"
	"github.com/agentdeck/agentdeck/internal/agent/registry"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	ws "github.com/agentdeck/agentdeck/pkg/websocket"
)

// SessionCommands is the slice of the session manager driven over WebSocket.
// It mirrors the HTTP command surface so a dashboard can use either.
type SessionCommands interface {
	StartSession(ctx context.Context, req manager.StartRequest) (*manager.Session, error)
	RestartSession(ctx context.Context, agentID string) (*manager.Session, error)
	StopSession(ctx context.Context, agentID string) error
	SendMessage(agentID, text string) error
	GetSession(agentID string) (*manager.Session, error)
	ListSessions() []*manager.Session
	GetOutput(agentID string) ([]string, error)
	ListChanges() []*manager.Change
	AcceptChange(ctx context.Context, changeID string) error
	DeclineChange(ctx context.Context, changeID string) error
	ApproveEdit(agentID, toolUseID string) error
	RejectEdit(agentID, toolUseID string) error
}

type agentRef struct {
	AgentID string `json:"agentId"`
}

type changeRef struct {
	ChangeID string `json:"changeId"`
}

type editRef struct {
	AgentID   string `json:"agentId"`
	ToolUseID string `json:"toolUseId"`
}

type sendInputRequest struct {
	AgentID string `json:"agentId"`
	Text    string `json:"text"`
}

type startSessionRequest struct {
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	WorkDir   string   `json:"workDir"`
	Patterns  []string `json:"patterns"`
	SessionID string   `json:"sessionId"`
}

// RegisterSessionHandlers wires the session, change, and edit actions to the
// session manager.
func RegisterSessionHandlers(d *ws.Dispatcher, svc SessionCommands, roles *registry.Registry) {
	d.RegisterFunc(ws.ActionSessionList, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		sessions := svc.ListSessions()
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"sessions": sessions,
			"count":    len(sessions),
		})
	})

	d.RegisterFunc(ws.ActionSessionGet, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req agentRef
		if err := msg.ParsePayload(&req); err != nil || req.AgentID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agentId is required", nil)
		}
		session, err := svc.GetSession(req.AgentID)
		if err != nil {
			return errorResponse(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"session": session})
	})

	d.RegisterFunc(ws.ActionSessionStart, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req startSessionRequest
		if err := msg.ParsePayload(&req); err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid payload: "+err.Error(), nil)
		}
		if req.Name == "" || req.WorkDir == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "name and workDir are required", nil)
		}

		patterns := req.Patterns
		if len(patterns) == 0 && req.Role != "" {
			if preset, ok := roles.Get(req.Role); ok {
				patterns = preset.Patterns
			}
		}

		session, err := svc.StartSession(ctx, manager.StartRequest{
			Name:      req.Name,
			Role:      req.Role,
			WorkDir:   req.WorkDir,
			Patterns:  patterns,
			SessionID: req.SessionID,
		})
		if err != nil {
			return errorResponse(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"session": session})
	})

	d.RegisterFunc(ws.ActionSessionStop, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req agentRef
		if err := msg.ParsePayload(&req); err != nil || req.AgentID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agentId is required", nil)
		}
		if err := svc.StopSession(ctx, req.AgentID); err != nil {
			return errorResponse(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
	})

	d.RegisterFunc(ws.ActionSessionRestart, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req agentRef
		if err := msg.ParsePayload(&req); err != nil || req.AgentID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agentId is required", nil)
		}
		session, err := svc.RestartSession(ctx, req.AgentID)
		if err != nil {
			return errorResponse(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"session": session})
	})

	d.RegisterFunc(ws.ActionSessionSendInput, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req sendInputRequest
		if err := msg.ParsePayload(&req); err != nil || req.AgentID == "" || req.Text == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agentId and text are required", nil)
		}
		if err := svc.SendMessage(req.AgentID, req.Text); err != nil {
			return errorResponse(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
	})

	d.RegisterFunc(ws.ActionSessionOutputLog, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req agentRef
		if err := msg.ParsePayload(&req); err != nil || req.AgentID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agentId is required", nil)
		}
		lines, err := svc.GetOutput(req.AgentID)
		if err != nil {
			return errorResponse(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"agentId": req.AgentID,
			"output":  lines,
		})
	})

	d.RegisterFunc(ws.ActionChangeList, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		changes := svc.ListChanges()
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"changes": changes,
			"count":   len(changes),
		})
	})

	d.RegisterFunc(ws.ActionChangeAccept, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req changeRef
		if err := msg.ParsePayload(&req); err != nil || req.ChangeID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "changeId is required", nil)
		}
		if err := svc.AcceptChange(ctx, req.ChangeID); err != nil {
			return errorResponse(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
	})

	d.RegisterFunc(ws.ActionChangeDecline, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req changeRef
		if err := msg.ParsePayload(&req); err != nil || req.ChangeID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "changeId is required", nil)
		}
		if err := svc.DeclineChange(ctx, req.ChangeID); err != nil {
			return errorResponse(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
	})

	d.RegisterFunc(ws.ActionEditApprove, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req editRef
		if err := msg.ParsePayload(&req); err != nil || req.AgentID == "" || req.ToolUseID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agentId and toolUseId are required", nil)
		}
		if err := svc.ApproveEdit(req.AgentID, req.ToolUseID); err != nil {
			return errorResponse(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
	})

	d.RegisterFunc(ws.ActionEditDeny, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req editRef
		if err := msg.ParsePayload(&req); err != nil || req.AgentID == "" || req.ToolUseID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agentId and toolUseId are required", nil)
		}
		if err := svc.RejectEdit(req.AgentID, req.ToolUseID); err != nil {
			return errorResponse(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
	})
}

// errorResponse maps an application error to a protocol error message.
func errorResponse(msg *ws.Message, err error) (*ws.Message, error) {
	code := ws.ErrorCodeInternalError
	switch {
	case apperrors.IsNotFound(err):
		code = ws.ErrorCodeNotFound
	case apperrors.IsConflict(err):
		code = ws.ErrorCodeConflict
	}
	return ws.NewError(msg.ID, msg.Action, code, err.Error(), nil)
}
