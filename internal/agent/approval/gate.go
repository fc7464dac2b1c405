// Package approval implements the edit permission gate: a registry of
// outstanding edit-approval requests keyed by tool use id, each resolved
// exactly once by a human decision, a deadline, or agent teardown.
package approval

import (
	"sync"
	"time"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"go.uber.org/zap"
)

// DefaultTimeout is how long an edit-approval request waits before it is
// treated as a denial.
const DefaultTimeout = 5 * time.Minute

// Decision is the outcome of one edit-approval request.
type Decision struct {
	Approved bool
	Reason   string
}

type pending struct {
	agentID string
	ch      chan Decision
	timer   *time.Timer
}

// Gate tracks outstanding edit-approval requests. Each request is keyed by
// its tool use id and resolves at most once.
type Gate struct {
	mu      sync.Mutex
	waiters map[string]*pending
	timeout time.Duration
	log     *logger.Logger
}

// NewGate creates a gate with the given decision timeout. A non-positive
// timeout falls back to DefaultTimeout.
func NewGate(timeout time.Duration, log *logger.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{
		waiters: make(map[string]*pending),
		timeout: timeout,
		log:     log,
	}
}

// Request registers a waiter for the given tool use id and returns a channel
// that receives exactly one decision. The request is denied automatically
// when the timeout elapses. Registering a tool use id that already has an
// outstanding request is a conflict.
func (g *Gate) Request(toolUseID, agentID string) (<-chan Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.waiters[toolUseID]; exists {
		return nil, apperrors.Conflict("approval request already pending for tool use " + toolUseID)
	}

	p := &pending{
		agentID: agentID,
		ch:      make(chan Decision, 1),
	}
	p.timer = time.AfterFunc(g.timeout, func() {
		if g.expire(toolUseID) {
			g.log.WithAgentID(agentID).Warn("Edit approval request timed out, denying",
				zap.String("tool_use_id", toolUseID))
		}
	})
	g.waiters[toolUseID] = p

	return p.ch, nil
}

// Resolve delivers a human decision to an outstanding request. It fails if
// the tool use id is unknown or already resolved.
func (g *Gate) Resolve(toolUseID string, approved bool) error {
	reason := "approved by user"
	if !approved {
		reason = "denied by user"
	}
	return g.settle(toolUseID, Decision{Approved: approved, Reason: reason})
}

// RejectAgent forcibly denies every outstanding request belonging to the
// given agent. Returns the number of requests rejected.
func (g *Gate) RejectAgent(agentID string) int {
	g.mu.Lock()
	var ids []string
	for id, p := range g.waiters {
		if p.agentID == agentID {
			ids = append(ids, id)
		}
	}
	g.mu.Unlock()

	for _, id := range ids {
		_ = g.settle(id, Decision{Approved: false, Reason: "agent stopped"})
	}
	return len(ids)
}

// Pending returns the number of outstanding requests.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// Has reports whether a request for the tool use id is outstanding.
func (g *Gate) Has(toolUseID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.waiters[toolUseID]
	return ok
}

func (g *Gate) settle(toolUseID string, d Decision) error {
	g.mu.Lock()
	p, ok := g.waiters[toolUseID]
	if !ok {
		g.mu.Unlock()
		return apperrors.NotFound("approval request", toolUseID)
	}
	delete(g.waiters, toolUseID)
	g.mu.Unlock()

	p.timer.Stop()
	p.ch <- d
	close(p.ch)
	return nil
}

func (g *Gate) expire(toolUseID string) bool {
	err := g.settle(toolUseID, Decision{
		Approved: false,
		Reason:   "approval request timed out",
	})
	return err == nil
}
