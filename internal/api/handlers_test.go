package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/agent/manager"
	"github.com/agentdeck/agentdeck/internal/agent/registry"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

type mockSessionService struct {
	StartSessionFn          func(ctx context.Context, req manager.StartRequest) (*manager.Session, error)
	RestartSessionFn        func(ctx context.Context, agentID string) (*manager.Session, error)
	StopSessionFn           func(ctx context.Context, agentID string) error
	DeleteSessionFn         func(ctx context.Context, agentID string) error
	InterruptSessionFn      func(agentID string) error
	SendMessageFn           func(agentID, text string) error
	GetSessionFn            func(agentID string) (*manager.Session, error)
	ListSessionsFn          func() []*manager.Session
	GetOutputFn             func(agentID string) ([]string, error)
	ListChangesFn           func() []*manager.Change
	GetChangeFn             func(changeID string) (*manager.Change, error)
	AcceptChangeFn          func(ctx context.Context, changeID string) error
	DeclineChangeFn         func(ctx context.Context, changeID string) error
	SendChangeInstructionFn func(changeID, text string) error
	ApproveEditFn           func(agentID, toolUseID string) error
	RejectEditFn            func(agentID, toolUseID string) error
}

func (m *mockSessionService) StartSession(ctx context.Context, req manager.StartRequest) (*manager.Session, error) {
	return m.StartSessionFn(ctx, req)
}
func (m *mockSessionService) RestartSession(ctx context.Context, agentID string) (*manager.Session, error) {
	return m.RestartSessionFn(ctx, agentID)
}
func (m *mockSessionService) StopSession(ctx context.Context, agentID string) error {
	return m.StopSessionFn(ctx, agentID)
}
func (m *mockSessionService) DeleteSession(ctx context.Context, agentID string) error {
	return m.DeleteSessionFn(ctx, agentID)
}
func (m *mockSessionService) InterruptSession(agentID string) error {
	return m.InterruptSessionFn(agentID)
}
func (m *mockSessionService) SendMessage(agentID, text string) error {
	return m.SendMessageFn(agentID, text)
}
func (m *mockSessionService) GetSession(agentID string) (*manager.Session, error) {
	return m.GetSessionFn(agentID)
}
func (m *mockSessionService) ListSessions() []*manager.Session { return m.ListSessionsFn() }
func (m *mockSessionService) GetOutput(agentID string) ([]string, error) {
	return m.GetOutputFn(agentID)
}
func (m *mockSessionService) ListChanges() []*manager.Change { return m.ListChangesFn() }
func (m *mockSessionService) GetChange(changeID string) (*manager.Change, error) {
	return m.GetChangeFn(changeID)
}
func (m *mockSessionService) AcceptChange(ctx context.Context, changeID string) error {
	return m.AcceptChangeFn(ctx, changeID)
}
func (m *mockSessionService) DeclineChange(ctx context.Context, changeID string) error {
	return m.DeclineChangeFn(ctx, changeID)
}
func (m *mockSessionService) SendChangeInstruction(changeID, text string) error {
	return m.SendChangeInstructionFn(changeID, text)
}
func (m *mockSessionService) ApproveEdit(agentID, toolUseID string) error {
	return m.ApproveEditFn(agentID, toolUseID)
}
func (m *mockSessionService) RejectEdit(agentID, toolUseID string) error {
	return m.RejectEditFn(agentID, toolUseID)
}

func setupRouter(t *testing.T, svc SessionService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), svc, registry.New(), log)
	return router
}

func TestStartSession(t *testing.T) {
	var captured manager.StartRequest
	svc := &mockSessionService{
		StartSessionFn: func(ctx context.Context, req manager.StartRequest) (*manager.Session, error) {
			captured = req
			return &manager.Session{ID: "agent-1", SessionID: "sess-1", Name: req.Name, Status: manager.StatusRunning}, nil
		},
	}
	router := setupRouter(t, svc)

	body, _ := json.Marshal(StartSessionRequest{
		Name:     "Bot",
		Role:     "dev",
		WorkDir:  "/tmp/x",
		Patterns: []string{"**/*"},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Bot", captured.Name)
	assert.Equal(t, []string{"**/*"}, captured.Patterns)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "agent-1", resp.Session.ID)
}

func TestStartSession_MissingNameRejected(t *testing.T) {
	router := setupRouter(t, &mockSessionService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions",
		bytes.NewReader([]byte(`{"workDir":"/tmp/x"}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartSession_RolePresetFillsPatterns(t *testing.T) {
	var captured manager.StartRequest
	svc := &mockSessionService{
		StartSessionFn: func(ctx context.Context, req manager.StartRequest) (*manager.Session, error) {
			captured = req
			return &manager.Session{ID: "agent-1"}, nil
		},
	}
	router := setupRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions",
		bytes.NewReader([]byte(`{"name":"Bot","role":"docs","workDir":"/tmp/x"}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"**/*.md"}, captured.Patterns)
}

func TestStopSession_NotFoundStatus(t *testing.T) {
	svc := &mockSessionService{
		StopSessionFn: func(ctx context.Context, agentID string) error {
			return apperrors.NotFound("session", agentID)
		},
	}
	router := setupRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/nope/stop", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestartSession(t *testing.T) {
	svc := &mockSessionService{
		RestartSessionFn: func(ctx context.Context, agentID string) (*manager.Session, error) {
			require.Equal(t, "agent-1", agentID)
			return &manager.Session{ID: "agent-2", SessionID: "sess-1", Status: manager.StatusRunning}, nil
		},
	}
	router := setupRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/agent-1/restart", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "agent-2", resp.Session.ID)
	assert.Equal(t, "sess-1", resp.Session.SessionID)
}

func TestGetChange(t *testing.T) {
	svc := &mockSessionService{
		GetChangeFn: func(changeID string) (*manager.Change, error) {
			if changeID != "chg-1" {
				return nil, apperrors.NotFound("change", changeID)
			}
			return &manager.Change{
				ID:          "chg-1",
				FilePath:    "main.go",
				Status:      manager.ChangePending,
				Instruction: "use tabs",
			}, nil
		},
	}
	router := setupRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/changes/chg-1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp ChangeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "main.go", resp.Change.FilePath)
	assert.Equal(t, "use tabs", resp.Change.Instruction)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/changes/nope", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOutput(t *testing.T) {
	svc := &mockSessionService{
		GetOutputFn: func(agentID string) ([]string, error) {
			return []string{"line 1", "line 2"}, nil
		},
	}
	router := setupRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/agent-1/output", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp OutputResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "agent-1", resp.AgentID)
	assert.Equal(t, []string{"line 1", "line 2"}, resp.Output)
}

func TestAcceptChange_ConflictStatus(t *testing.T) {
	svc := &mockSessionService{
		AcceptChangeFn: func(ctx context.Context, changeID string) error {
			return apperrors.Conflict("change is not pending")
		},
	}
	router := setupRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/changes/c1/accept", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestApproveEdit_RoutesParams(t *testing.T) {
	var gotAgent, gotTool string
	svc := &mockSessionService{
		ApproveEditFn: func(agentID, toolUseID string) error {
			gotAgent, gotTool = agentID, toolUseID
			return nil
		},
	}
	router := setupRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/agent-1/edits/t1/approve", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "agent-1", gotAgent)
	assert.Equal(t, "t1", gotTool)
}

func TestListRoles(t *testing.T) {
	router := setupRouter(t, &mockSessionService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dev")
}

func TestSendMessage(t *testing.T) {
	var gotText string
	svc := &mockSessionService{
		SendMessageFn: func(agentID, text string) error {
			gotText = text
			return nil
		},
	}
	router := setupRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/agent-1/message",
		bytes.NewReader([]byte(`{"text":"hello"}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", gotText)
}
