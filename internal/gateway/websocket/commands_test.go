package websocket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/agent/manager"
	"github.com/agentdeck/agentdeck/internal/agent/registry"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	ws "github.com/agentdeck/agentdeck/pkg/websocket"
)

type fakeCommands struct {
	SessionCommands

	startFn     func(ctx context.Context, req manager.StartRequest) (*manager.Session, error)
	getFn       func(agentID string) (*manager.Session, error)
	getOutputFn func(agentID string) ([]string, error)
	approveFn   func(agentID, toolUseID string) error
}

func (f *fakeCommands) StartSession(ctx context.Context, req manager.StartRequest) (*manager.Session, error) {
	return f.startFn(ctx, req)
}
func (f *fakeCommands) GetSession(agentID string) (*manager.Session, error) { return f.getFn(agentID) }
func (f *fakeCommands) GetOutput(agentID string) ([]string, error) {
	return f.getOutputFn(agentID)
}
func (f *fakeCommands) ApproveEdit(agentID, toolUseID string) error {
	return f.approveFn(agentID, toolUseID)
}

func dispatch(t *testing.T, d *ws.Dispatcher, action string, payload interface{}) *ws.Message {
	t.Helper()
	msg, err := ws.NewRequest("req-1", action, payload)
	require.NoError(t, err)
	resp, err := d.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func TestSessionStartCommand(t *testing.T) {
	var captured manager.StartRequest
	svc := &fakeCommands{
		startFn: func(ctx context.Context, req manager.StartRequest) (*manager.Session, error) {
			captured = req
			return &manager.Session{ID: "agent-1", Name: req.Name, Status: manager.StatusRunning}, nil
		},
	}

	roles := registry.New()
	d := ws.NewDispatcher()
	RegisterSessionHandlers(d, svc, roles)

	resp := dispatch(t, d, ws.ActionSessionStart, startSessionRequest{
		Name:    "Bot",
		WorkDir: "/tmp/x",
	})
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)
	assert.Equal(t, "Bot", captured.Name)
	assert.Equal(t, "/tmp/x", captured.WorkDir)
}

func TestSessionStartCommandRequiresName(t *testing.T) {
	d := ws.NewDispatcher()
	RegisterSessionHandlers(d, &fakeCommands{}, registry.New())

	resp := dispatch(t, d, ws.ActionSessionStart, startSessionRequest{WorkDir: "/tmp/x"})
	assert.Equal(t, ws.MessageTypeError, resp.Type)

	var body ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&body))
	assert.Equal(t, ws.ErrorCodeValidation, body.Code)
}

func TestSessionGetCommandMapsNotFound(t *testing.T) {
	svc := &fakeCommands{
		getFn: func(agentID string) (*manager.Session, error) {
			return nil, apperrors.NotFound("session", agentID)
		},
	}
	d := ws.NewDispatcher()
	RegisterSessionHandlers(d, svc, registry.New())

	resp := dispatch(t, d, ws.ActionSessionGet, agentRef{AgentID: "nope"})
	assert.Equal(t, ws.MessageTypeError, resp.Type)

	var body ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&body))
	assert.Equal(t, ws.ErrorCodeNotFound, body.Code)
}

func TestSessionOutputLogCommand(t *testing.T) {
	svc := &fakeCommands{
		getOutputFn: func(agentID string) ([]string, error) {
			return []string{"$ ls", "main.go"}, nil
		},
	}
	d := ws.NewDispatcher()
	RegisterSessionHandlers(d, svc, registry.New())

	resp := dispatch(t, d, ws.ActionSessionOutputLog, agentRef{AgentID: "agent-1"})
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)

	var body struct {
		AgentID string   `json:"agentId"`
		Output  []string `json:"output"`
	}
	require.NoError(t, resp.ParsePayload(&body))
	assert.Equal(t, []string{"$ ls", "main.go"}, body.Output)
}

func TestEditApproveCommand(t *testing.T) {
	var gotAgent, gotTool string
	svc := &fakeCommands{
		approveFn: func(agentID, toolUseID string) error {
			gotAgent, gotTool = agentID, toolUseID
			return nil
		},
	}
	d := ws.NewDispatcher()
	RegisterSessionHandlers(d, svc, registry.New())

	resp := dispatch(t, d, ws.ActionEditApprove, editRef{AgentID: "agent-1", ToolUseID: "toolu_1"})
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)
	assert.Equal(t, "agent-1", gotAgent)
	assert.Equal(t, "toolu_1", gotTool)
}
