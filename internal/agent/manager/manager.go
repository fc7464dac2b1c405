package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/buffer"
	"github.com/agentdeck/agentdeck/internal/agent/changes"
	"github.com/agentdeck/agentdeck/internal/agent/runner"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/events"
	"github.com/agentdeck/agentdeck/internal/events/bus"
	"github.com/agentdeck/agentdeck/internal/persistence"
)

const eventSource = "session-manager"

// crashWindow classifies a non-zero exit this soon after start as an
// immediate crash, which usually means a bad working directory or a
// missing executable rather than a mid-task failure.
const crashWindow = 5 * time.Second

// Manager owns the session and change tables. It is the single writer for
// both; the runner and observers interact with them only through its methods.
type Manager struct {
	runner     runner.Runner
	bus        bus.EventBus
	store      persistence.Store
	parser     *changes.Parser
	log        *logger.Logger
	bufferSize int

	mu          sync.RWMutex
	sessions    map[string]*Session
	buffers     map[string]*buffer.OutputBuffer
	changeTable map[string]*Change
	// sessionID -> agent id of the currently running instance
	active map[string]string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a session manager. Call Run to start consuming runner
// events and Recover to reload persisted state.
func NewManager(r runner.Runner, eventBus bus.EventBus, store persistence.Store, bufferSize int, log *logger.Logger) *Manager {
	if bufferSize <= 0 {
		bufferSize = buffer.DefaultCapacity
	}
	return &Manager{
		runner:      r,
		bus:         eventBus,
		store:       store,
		parser:      changes.NewParser(),
		log:         log.WithFields(zap.String("component", "session-manager")),
		bufferSize:  bufferSize,
		sessions:    make(map[string]*Session),
		buffers:     make(map[string]*buffer.OutputBuffer),
		changeTable: make(map[string]*Change),
		active:      make(map[string]string),
		stopCh:      make(chan struct{}),
	}
}

// Run consumes runner events until Close is called.
func (m *Manager) Run() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.stopCh:
				return
			case ev, ok := <-m.runner.Events():
				if !ok {
					return
				}
				m.handleEvent(ev)
			}
		}
	}()
}

// Close stops the event loop.
func (m *Manager) Close() {
	close(m.stopCh)
	m.wg.Wait()
}

// StartSession mints a new agent instance and delegates execution to the
// runner. Reusing the sessionId of a running session is rejected so a
// conversation never has two live instances.
func (m *Manager) StartSession(ctx context.Context, req StartRequest) (*Session, error) {
	if req.Name == "" {
		return nil, apperrors.ValidationError("name", "is required")
	}
	if req.WorkDir == "" {
		return nil, apperrors.ValidationError("workDir", "is required")
	}

	id := uuid.New().String()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	m.mu.Lock()
	if runningID, ok := m.active[sessionID]; ok {
		m.mu.Unlock()
		return nil, apperrors.Conflict(fmt.Sprintf("session %s already has running agent %s", sessionID, runningID))
	}

	now := time.Now().UTC()
	session := &Session{
		ID:        id,
		SessionID: sessionID,
		Name:      req.Name,
		Role:      req.Role,
		WorkDir:   req.WorkDir,
		Patterns:  append([]string(nil), req.Patterns...),
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[id] = session
	m.buffers[id] = buffer.New(m.bufferSize)
	m.active[sessionID] = id
	m.mu.Unlock()

	err := m.runner.Start(ctx, runner.Config{
		ID:        id,
		SessionID: sessionID,
		Name:      req.Name,
		Role:      req.Role,
		WorkDir:   req.WorkDir,
		Patterns:  req.Patterns,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		delete(m.buffers, id)
		delete(m.active, sessionID)
		m.mu.Unlock()
		return nil, apperrors.Wrap(err, "failed to start agent")
	}

	if pid, ok := m.runner.PID(id); ok {
		m.mu.Lock()
		session.PID = pid
		m.mu.Unlock()
	}

	m.persistSession(ctx, session)
	m.publish(ctx, events.SessionStarted, map[string]any{
		"agentId":   id,
		"sessionId": sessionID,
		"name":      req.Name,
	})

	m.log.WithAgentID(id).WithSessionID(sessionID).Info("session started",
		zap.String("name", req.Name), zap.String("work_dir", req.WorkDir))
	return session.clone(), nil
}

// RestartSession starts a fresh agent instance that continues an existing
// session's conversation. The old instance is stopped first if still
// running; the new instance gets a new agent id but keeps the sessionId.
func (m *Manager) RestartSession(ctx context.Context, agentID string) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[agentID]
	var req StartRequest
	if ok {
		req = StartRequest{
			Name:      session.Name,
			Role:      session.Role,
			WorkDir:   session.WorkDir,
			Patterns:  append([]string(nil), session.Patterns...),
			SessionID: session.SessionID,
		}
	}
	m.mu.RUnlock()

	if !ok {
		return nil, apperrors.NotFound("session", agentID)
	}
	if err := m.StopSession(ctx, agentID); err != nil {
		return nil, err
	}
	return m.StartSession(ctx, req)
}

// StopSession terminates a session's execution. Stopping an already-stopped
// session is a silent success; an unknown id is not-found.
func (m *Manager) StopSession(ctx context.Context, agentID string) error {
	m.mu.Lock()
	session, ok := m.sessions[agentID]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("session", agentID)
	}
	if session.Status == StatusStopped {
		m.mu.Unlock()
		return nil
	}
	session.Status = StatusStopped
	session.UpdatedAt = time.Now().UTC()
	delete(m.active, session.SessionID)
	m.mu.Unlock()

	if err := m.runner.Stop(agentID); err != nil && !apperrors.IsNotFound(err) {
		m.log.WithAgentID(agentID).Warn("runner stop failed", zap.Error(err))
	}

	m.persistSession(ctx, session)
	m.publish(ctx, events.SessionStopped, map[string]any{
		"agentId":   agentID,
		"sessionId": session.SessionID,
	})

	m.log.WithAgentID(agentID).Info("session stopped")
	return nil
}

// DeleteSession stops a running session and removes it entirely.
func (m *Manager) DeleteSession(ctx context.Context, agentID string) error {
	m.mu.RLock()
	session, ok := m.sessions[agentID]
	running := ok && session.Status == StatusRunning
	m.mu.RUnlock()

	if !ok {
		return apperrors.NotFound("session", agentID)
	}
	if running {
		if err := m.StopSession(ctx, agentID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.sessions, agentID)
	delete(m.buffers, agentID)
	m.mu.Unlock()

	if err := m.store.DeleteSession(ctx, agentID); err != nil {
		m.log.WithAgentID(agentID).Warn("failed to delete persisted session", zap.Error(err))
	}

	m.log.WithAgentID(agentID).Info("session deleted")
	return nil
}

// InterruptSession cancels the session's in-flight operation.
func (m *Manager) InterruptSession(agentID string) error {
	if err := m.requireRunning(agentID); err != nil {
		return err
	}
	return m.runner.Interrupt(agentID)
}

// SendMessage enqueues a user message into the session's conversation.
func (m *Manager) SendMessage(agentID, text string) error {
	if err := m.requireRunning(agentID); err != nil {
		return err
	}
	return m.runner.SendInput(agentID, text)
}

// ApproveEdit resolves an outstanding edit permission request as allowed.
func (m *Manager) ApproveEdit(agentID, toolUseID string) error {
	if err := m.requireRunning(agentID); err != nil {
		return err
	}
	if err := m.runner.ResolveApproval(toolUseID, true); err != nil {
		return err
	}
	m.publishEditResolved(agentID, toolUseID, true)
	return nil
}

// RejectEdit resolves an outstanding edit permission request as denied.
func (m *Manager) RejectEdit(agentID, toolUseID string) error {
	if err := m.requireRunning(agentID); err != nil {
		return err
	}
	if err := m.runner.ResolveApproval(toolUseID, false); err != nil {
		return err
	}
	m.publishEditResolved(agentID, toolUseID, false)
	return nil
}

func (m *Manager) publishEditResolved(agentID, toolUseID string, approved bool) {
	m.publish(context.Background(), events.EditPermissionResolved, map[string]any{
		"agentId":   agentID,
		"toolUseId": toolUseID,
		"approved":  approved,
	})
}

// GetSession returns a copy of one session.
func (m *Manager) GetSession(agentID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[agentID]
	if !ok {
		return nil, apperrors.NotFound("session", agentID)
	}
	return session.clone(), nil
}

// ListSessions returns copies of all sessions, newest first.
func (m *Manager) ListSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// GetOutput returns a snapshot of the session's output buffer.
func (m *Manager) GetOutput(agentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	buf, ok := m.buffers[agentID]
	if !ok {
		return nil, apperrors.NotFound("session", agentID)
	}
	return buf.GetAll(), nil
}

// GetChange returns a copy of one change proposal.
func (m *Manager) GetChange(changeID string) (*Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	change, ok := m.changeTable[changeID]
	if !ok {
		return nil, apperrors.NotFound("change", changeID)
	}
	return change.clone(), nil
}

// ListChanges returns copies of all change proposals in chronological order.
func (m *Manager) ListChanges() []*Change {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Change, 0, len(m.changeTable))
	for _, c := range m.changeTable {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// AcceptChange approves a pending change. The status moves to processing
// while the decision is delivered to the agent; a delivery failure rolls it
// back to pending so the proposal stays actionable.
func (m *Manager) AcceptChange(ctx context.Context, changeID string) error {
	return m.resolveChange(ctx, changeID, ChangeAccepted, "y")
}

// DeclineChange rejects a pending change, with the same rollback semantics
// as AcceptChange.
func (m *Manager) DeclineChange(ctx context.Context, changeID string) error {
	return m.resolveChange(ctx, changeID, ChangeDeclined, "n")
}

// SendChangeInstruction attaches a follow-up instruction to a pending change
// and forwards it to the agent without resolving the proposal.
func (m *Manager) SendChangeInstruction(changeID, text string) error {
	m.mu.Lock()
	change, ok := m.changeTable[changeID]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("change", changeID)
	}
	if change.Status != ChangePending {
		m.mu.Unlock()
		return apperrors.Conflict(fmt.Sprintf("change %s is %s, not pending", changeID, change.Status))
	}
	agentID := change.AgentID
	m.mu.Unlock()

	if err := m.SendMessage(agentID, text); err != nil {
		return err
	}

	m.mu.Lock()
	change.Instruction = text
	snapshot := change.clone()
	m.mu.Unlock()
	m.persistChange(context.Background(), snapshot)
	return nil
}

func (m *Manager) resolveChange(ctx context.Context, changeID string, target ChangeStatus, input string) error {
	m.mu.Lock()
	change, ok := m.changeTable[changeID]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("change", changeID)
	}
	if change.Status != ChangePending {
		m.mu.Unlock()
		return apperrors.Conflict(fmt.Sprintf("change %s is %s, not pending", changeID, change.Status))
	}
	change.Status = ChangeProcessing
	agentID := change.AgentID
	m.mu.Unlock()

	if err := m.runner.SendInput(agentID, input); err != nil {
		m.mu.Lock()
		change.Status = ChangePending
		m.mu.Unlock()
		return apperrors.Wrap(err, "failed to deliver change decision")
	}

	m.mu.Lock()
	change.Status = target
	snapshot := change.clone()
	m.mu.Unlock()

	m.persistChange(ctx, snapshot)
	m.publish(ctx, events.ChangeStatusChanged, map[string]any{
		"changeId": changeID,
		"agentId":  agentID,
		"status":   string(target),
	})

	m.log.WithAgentID(agentID).Info("change resolved",
		zap.String("change_id", changeID), zap.String("status", string(target)))
	return nil
}

func (m *Manager) requireRunning(agentID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[agentID]
	if !ok {
		return apperrors.NotFound("session", agentID)
	}
	if session.Status != StatusRunning {
		return apperrors.Conflict("session " + agentID + " is not running")
	}
	return nil
}

func (m *Manager) handleEvent(ev runner.Event) {
	ctx := context.Background()
	switch ev.Type {
	case runner.EventOutput:
		m.handleOutput(ctx, ev)
	case runner.EventEditPermission:
		m.handleEditPermission(ctx, ev)
	case runner.EventExit:
		m.handleExit(ctx, ev)
	}
}

func (m *Manager) handleOutput(ctx context.Context, ev runner.Event) {
	m.mu.Lock()
	session, ok := m.sessions[ev.AgentID]
	if !ok || session.Status != StatusRunning {
		m.mu.Unlock()
		return
	}
	buf := m.buffers[ev.AgentID]
	buf.Push(ev.Text)
	agentName := session.Name
	m.mu.Unlock()

	now := time.Now().UTC()
	if err := m.store.AppendOutput(ctx, &persistence.OutputRecord{
		AgentID:   ev.AgentID,
		SessionID: ev.SessionID,
		Text:      ev.Text,
		Stream:    ev.Stream,
		Timestamp: now,
	}); err != nil {
		m.log.WithAgentID(ev.AgentID).Warn("failed to persist output", zap.Error(err))
	}

	m.publish(ctx, events.SessionOutput, map[string]any{
		"agentId":   ev.AgentID,
		"sessionId": ev.SessionID,
		"output":    ev.Text,
		"stream":    ev.Stream,
		"timestamp": now,
	})

	if proposal := m.parser.Parse(ev.Text); proposal != nil {
		m.addChange(ctx, ev, agentName, proposal)
	} else if m.parser.HasConfirmationPrompt(ev.Text) {
		m.log.WithAgentID(ev.AgentID).Debug("confirmation prompt without parsable diff")
	}
}

func (m *Manager) addChange(ctx context.Context, ev runner.Event, agentName string, proposal *changes.Proposal) {
	change := &Change{
		ID:        uuid.New().String(),
		SessionID: ev.SessionID,
		AgentID:   ev.AgentID,
		AgentName: agentName,
		FilePath:  proposal.FilePath,
		Before:    proposal.Before,
		After:     proposal.After,
		Status:    ChangePending,
		Timestamp: time.Now().UTC(),
	}

	m.mu.Lock()
	m.changeTable[change.ID] = change
	m.mu.Unlock()

	m.persistChange(ctx, change)
	m.publish(ctx, events.ChangeProposed, map[string]any{
		"changeId": change.ID,
		"agentId":  change.AgentID,
		"filePath": change.FilePath,
	})

	m.log.WithAgentID(ev.AgentID).Info("change proposal detected",
		zap.String("change_id", change.ID), zap.String("file_path", change.FilePath))
}

func (m *Manager) handleEditPermission(ctx context.Context, ev runner.Event) {
	if ev.Request == nil {
		return
	}
	m.publish(ctx, events.EditPermissionRequested, map[string]any{
		"agentId":   ev.Request.AgentID,
		"sessionId": ev.Request.SessionID,
		"filePath":  ev.Request.FilePath,
		"oldString": ev.Request.OldString,
		"newString": ev.Request.NewString,
		"toolUseId": ev.Request.ToolUseID,
	})
	m.log.WithAgentID(ev.Request.AgentID).Info("edit permission requested",
		zap.String("file_path", ev.Request.FilePath),
		zap.String("tool_use_id", ev.Request.ToolUseID))
}

func (m *Manager) handleExit(ctx context.Context, ev runner.Event) {
	m.mu.Lock()
	session, ok := m.sessions[ev.AgentID]
	if !ok || session.Status != StatusRunning {
		m.mu.Unlock()
		return
	}
	session.Status = StatusStopped
	session.UpdatedAt = time.Now().UTC()
	delete(m.active, session.SessionID)

	diagnostic := fmt.Sprintf("[exited] agent process exited with code %d", ev.ExitCode)
	if ev.ExitCode != 0 && time.Since(session.CreatedAt) < crashWindow {
		diagnostic = fmt.Sprintf("[exited] agent process crashed immediately with code %d; check the working directory and agent executable", ev.ExitCode)
	}
	m.buffers[ev.AgentID].Push(diagnostic)
	m.mu.Unlock()

	m.persistSession(ctx, session)
	now := time.Now().UTC()
	if err := m.store.AppendOutput(ctx, &persistence.OutputRecord{
		AgentID:   ev.AgentID,
		SessionID: ev.SessionID,
		Text:      diagnostic,
		Stream:    runner.StreamStderr,
		Timestamp: now,
	}); err != nil {
		m.log.WithAgentID(ev.AgentID).Warn("failed to persist output", zap.Error(err))
	}
	m.publish(ctx, events.SessionOutput, map[string]any{
		"agentId":   ev.AgentID,
		"sessionId": ev.SessionID,
		"output":    diagnostic,
		"stream":    runner.StreamStderr,
		"timestamp": now,
	})
	m.publish(ctx, events.SessionStopped, map[string]any{
		"agentId":   ev.AgentID,
		"sessionId": ev.SessionID,
		"exitCode":  ev.ExitCode,
	})

	m.log.WithAgentID(ev.AgentID).Info("session exited", zap.Int("code", ev.ExitCode))
}

func (m *Manager) persistSession(ctx context.Context, session *Session) {
	m.mu.RLock()
	rec := &persistence.SessionRecord{
		ID:        session.ID,
		SessionID: session.SessionID,
		Name:      session.Name,
		Role:      session.Role,
		WorkDir:   session.WorkDir,
		Patterns:  encodePatterns(session.Patterns),
		Status:    string(session.Status),
		PID:       session.PID,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
	m.mu.RUnlock()

	if err := m.store.SaveSession(ctx, rec); err != nil {
		m.log.WithAgentID(session.ID).Warn("failed to persist session", zap.Error(err))
	}
}

func (m *Manager) persistChange(ctx context.Context, change *Change) {
	rec := &persistence.ChangeRecord{
		ID:          change.ID,
		SessionID:   change.SessionID,
		AgentID:     change.AgentID,
		AgentName:   change.AgentName,
		FilePath:    change.FilePath,
		Before:      change.Before,
		After:       change.After,
		Status:      string(change.Status),
		Instruction: change.Instruction,
		Timestamp:   change.Timestamp,
	}
	if err := m.store.SaveChange(ctx, rec); err != nil {
		m.log.WithAgentID(change.AgentID).Warn("failed to persist change", zap.Error(err))
	}
}

func (m *Manager) publish(ctx context.Context, eventType string, data map[string]any) {
	event := bus.NewEvent(eventType, eventSource, data)
	if err := m.bus.Publish(ctx, eventType, event); err != nil {
		m.log.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func encodePatterns(patterns []string) string {
	if len(patterns) == 0 {
		return "[]"
	}
	data, err := json.Marshal(patterns)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodePatterns(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var patterns []string
	if err := json.Unmarshal([]byte(encoded), &patterns); err != nil {
		return nil
	}
	return patterns
}
