package manager

import (
	"context"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentdeck/agentdeck/internal/agent/buffer"
	"github.com/agentdeck/agentdeck/internal/persistence"
)

// recoverConcurrency bounds parallel session recovery. Each session may
// involve a liveness probe, an orphan kill, and an output-log read.
const recoverConcurrency = 4

// Recover reloads persisted sessions and changes after a server restart.
// Every recovered session is recorded as stopped: the in-memory runner state
// was lost, so a backing process found still alive is an orphan and is
// terminated rather than re-adopted. Nothing is auto-resumed; resumption is
// always an explicit human action.
func (m *Manager) Recover(ctx context.Context) error {
	records, err := m.store.ListSessions(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recoverConcurrency)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			m.recoverSession(gctx, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	changeRecs, err := m.store.ListChanges(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, rec := range changeRecs {
		m.changeTable[rec.ID] = &Change{
			ID:          rec.ID,
			SessionID:   rec.SessionID,
			AgentID:     rec.AgentID,
			AgentName:   rec.AgentName,
			FilePath:    rec.FilePath,
			Before:      rec.Before,
			After:       rec.After,
			Status:      ChangeStatus(rec.Status),
			Instruction: rec.Instruction,
			Timestamp:   rec.Timestamp,
		}
	}
	m.mu.Unlock()

	m.log.Info("recovery complete",
		zap.Int("sessions", len(records)),
		zap.Int("changes", len(changeRecs)))
	return nil
}

func (m *Manager) recoverSession(ctx context.Context, rec *persistence.SessionRecord) {
	if rec.Status == string(StatusRunning) && rec.PID > 0 {
		if processAlive(rec.PID) {
			m.log.WithAgentID(rec.ID).Warn("killing orphaned agent process",
				zap.Int("pid", rec.PID))
			if err := syscall.Kill(rec.PID, syscall.SIGKILL); err != nil {
				// Recovery proceeds regardless; the session is recorded
				// stopped either way.
				m.log.WithAgentID(rec.ID).Warn("failed to kill orphan",
					zap.Int("pid", rec.PID), zap.Error(err))
			}
		}
	}

	session := &Session{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		Name:      rec.Name,
		Role:      rec.Role,
		WorkDir:   rec.WorkDir,
		Patterns:  decodePatterns(rec.Patterns),
		Status:    StatusStopped,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}

	buf := buffer.New(m.bufferSize)
	if output, err := m.store.RecentOutput(ctx, rec.ID, m.bufferSize); err == nil {
		for _, line := range output {
			buf.Push(line.Text)
		}
	} else {
		m.log.WithAgentID(rec.ID).Warn("failed to reload output log", zap.Error(err))
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.buffers[session.ID] = buf
	m.mu.Unlock()

	m.persistSession(ctx, session)
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}
