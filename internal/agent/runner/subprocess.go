package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/approval"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/claudecode"
)

const (
	killGracePeriod  = 5 * time.Second
	interruptTimeout = 10 * time.Second
)

// SubprocessRunner executes each agent as a claude CLI child process speaking
// the stream-json protocol over stdin/stdout.
type SubprocessRunner struct {
	claudePath string
	gate       *approval.Gate
	log        *logger.Logger
	events     chan Event

	mu     sync.Mutex
	agents map[string]*subprocessAgent
}

type subprocessAgent struct {
	cfg      Config
	cmd      *exec.Cmd
	client   *claudecode.Client
	cancel   context.CancelFunc
	stopping atomic.Bool
	exited   atomic.Bool
}

// NewSubprocessRunner creates a runner that spawns the claude CLI for each
// agent. The gate mediates edit approvals for all agents.
func NewSubprocessRunner(claudePath string, gate *approval.Gate, log *logger.Logger) *SubprocessRunner {
	return &SubprocessRunner{
		claudePath: claudePath,
		gate:       gate,
		log:        log.WithFields(zap.String("component", "subprocess-runner")),
		events:     make(chan Event, 256),
		agents:     make(map[string]*subprocessAgent),
	}
}

// Events returns the normalized event stream.
func (r *SubprocessRunner) Events() <-chan Event {
	return r.events
}

// Start spawns the CLI process and begins streaming its output. A spawn
// failure surfaces as a diagnostic output chunk followed by exit(1) rather
// than an error to the caller's critical path.
func (r *SubprocessRunner) Start(ctx context.Context, cfg Config) error {
	r.mu.Lock()
	if _, exists := r.agents[cfg.ID]; exists {
		r.mu.Unlock()
		return apperrors.Conflict("agent " + cfg.ID + " is already running")
	}
	r.mu.Unlock()

	procCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.Command(r.claudePath,
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
	)
	cmd.Dir = cfg.WorkDir
	cmd.Env = append(os.Environ(),
		"AGENT_ID="+cfg.ID,
		"AGENT_NAME="+cfg.Name,
		"AGENT_ROLE="+cfg.Role,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return r.startupFailure(cfg, fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return r.startupFailure(cfg, fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return r.startupFailure(cfg, fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return r.startupFailure(cfg, fmt.Errorf("spawn %s: %w", r.claudePath, err))
	}

	a := &subprocessAgent{
		cfg:    cfg,
		cmd:    cmd,
		cancel: cancel,
		client: claudecode.NewClient(stdin, stdout, r.log.WithAgentID(cfg.ID)),
	}

	a.client.SetMessageHandler(func(msg *claudecode.CLIMessage) {
		r.handleMessage(a, msg)
	})
	a.client.SetRequestHandler(func(requestID string, req *claudecode.ControlRequest) {
		r.handleControlRequest(a, requestID, req)
	})

	r.mu.Lock()
	r.agents[cfg.ID] = a
	r.mu.Unlock()

	r.log.WithAgentID(cfg.ID).Info("agent process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("work_dir", cfg.WorkDir))

	<-a.client.Start(procCtx)

	go r.readStderr(a, stderr)
	go r.waitForExit(a)

	if err := a.client.SendUserMessage(initialInstruction(cfg)); err != nil {
		r.log.WithAgentID(cfg.ID).Warn("failed to send initial instruction", zap.Error(err))
	}

	return nil
}

// SendInput enqueues a user message to the agent's conversation.
func (r *SubprocessRunner) SendInput(agentID, text string) error {
	a, err := r.agent(agentID)
	if err != nil {
		return err
	}
	return a.client.SendUserMessage(text)
}

// Interrupt asks the CLI to cancel its current operation.
func (r *SubprocessRunner) Interrupt(agentID string) error {
	a, err := r.agent(agentID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), interruptTimeout)
	defer cancel()
	return a.client.Interrupt(ctx, interruptTimeout)
}

// Stop terminates the agent process. Pending edit approvals are rejected and
// no further events are emitted for the agent, including the exit event the
// termination itself would produce.
func (r *SubprocessRunner) Stop(agentID string) error {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if ok {
		delete(r.agents, agentID)
	}
	r.mu.Unlock()

	if !ok {
		return apperrors.NotFound("agent", agentID)
	}

	a.stopping.Store(true)
	r.gate.RejectAgent(agentID)
	a.client.Stop()
	a.cancel()

	proc := a.cmd.Process
	if proc != nil {
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			r.log.WithAgentID(agentID).Warn("SIGTERM failed", zap.Error(err))
		}
		time.AfterFunc(killGracePeriod, func() {
			if !a.exited.Load() {
				_ = proc.Kill()
			}
		})
	}

	r.log.WithAgentID(agentID).Info("agent process stopped")
	return nil
}

// ResolveApproval delivers a human decision to the edit permission gate.
func (r *SubprocessRunner) ResolveApproval(toolUseID string, approved bool) error {
	return r.gate.Resolve(toolUseID, approved)
}

// PID returns the child process id for the agent.
func (r *SubprocessRunner) PID(agentID string) (int, bool) {
	a, err := r.agent(agentID)
	if err != nil || a.cmd.Process == nil {
		return 0, false
	}
	return a.cmd.Process.Pid, true
}

func (r *SubprocessRunner) agent(agentID string) (*subprocessAgent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return nil, apperrors.NotFound("agent", agentID)
	}
	return a, nil
}

func (r *SubprocessRunner) startupFailure(cfg Config, err error) error {
	r.log.WithAgentID(cfg.ID).Error("agent startup failed", zap.Error(err))
	r.events <- Event{
		Type:      EventOutput,
		AgentID:   cfg.ID,
		SessionID: cfg.SessionID,
		Text:      "[error] " + err.Error(),
		Stream:    StreamStderr,
	}
	r.events <- Event{
		Type:      EventExit,
		AgentID:   cfg.ID,
		SessionID: cfg.SessionID,
		ExitCode:  1,
	}
	return nil
}

func (r *SubprocessRunner) emit(a *subprocessAgent, ev Event) {
	if a.stopping.Load() {
		return
	}
	r.events <- ev
}

func (r *SubprocessRunner) handleMessage(a *subprocessAgent, msg *claudecode.CLIMessage) {
	switch msg.Type {
	case claudecode.MessageTypeAssistant:
		if msg.Message == nil {
			return
		}
		var text string
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				if text != "" {
					text += "\n"
				}
				text += block.Text
			case "tool_use":
				r.emit(a, Event{
					Type:      EventOutput,
					AgentID:   a.cfg.ID,
					SessionID: a.cfg.SessionID,
					Text:      activityNotice(block.Name, block.Input),
					Stream:    StreamStdout,
				})
			}
		}
		if text != "" {
			r.emit(a, Event{
				Type:      EventOutput,
				AgentID:   a.cfg.ID,
				SessionID: a.cfg.SessionID,
				Text:      text,
				Stream:    StreamStdout,
			})
		}

	case claudecode.MessageTypeResult:
		if msg.IsError {
			if s := msg.GetResultString(); s != "" {
				r.emit(a, Event{
					Type:      EventOutput,
					AgentID:   a.cfg.ID,
					SessionID: a.cfg.SessionID,
					Text:      "[error] " + s,
					Stream:    StreamStderr,
				})
			}
		}

	case claudecode.MessageTypeSystem, claudecode.MessageTypeUser:
		// Internal bookkeeping messages, not forwarded to observers.

	default:
		r.log.WithAgentID(a.cfg.ID).Debug("unhandled message type", zap.String("type", msg.Type))
	}
}

func (r *SubprocessRunner) handleControlRequest(a *subprocessAgent, requestID string, req *claudecode.ControlRequest) {
	if req.Subtype != claudecode.SubtypeCanUseTool {
		r.respond(a, requestID, &claudecode.ControlResponse{
			Subtype: "error",
			Error:   "unsupported control request: " + req.Subtype,
		})
		return
	}

	if !claudecode.IsMutatingTool(req.ToolName) {
		r.respond(a, requestID, allowResponse())
		return
	}

	ch, err := r.gate.Request(req.ToolUseID, a.cfg.ID)
	if err != nil {
		r.respond(a, requestID, denyResponse("duplicate approval request"))
		return
	}

	r.emit(a, Event{
		Type:      EventEditPermission,
		AgentID:   a.cfg.ID,
		SessionID: a.cfg.SessionID,
		Request: &EditPermissionRequest{
			AgentID:   a.cfg.ID,
			SessionID: a.cfg.SessionID,
			FilePath:  stringInput(req.Input, "file_path"),
			OldString: stringInput(req.Input, "old_string"),
			NewString: stringInput(req.Input, "new_string"),
			ToolUseID: req.ToolUseID,
		},
	})

	go func() {
		decision := <-ch
		if decision.Approved {
			r.respond(a, requestID, allowResponse())
		} else {
			r.respond(a, requestID, denyResponse(decision.Reason))
		}
	}()
}

func (r *SubprocessRunner) respond(a *subprocessAgent, requestID string, resp *claudecode.ControlResponse) {
	err := a.client.SendControlResponse(&claudecode.ControlResponseMessage{
		Type:      claudecode.MessageTypeControlResponse,
		RequestID: requestID,
		Response:  resp,
	})
	if err != nil {
		r.log.WithAgentID(a.cfg.ID).Warn("failed to send control response",
			zap.String("request_id", requestID), zap.Error(err))
	}
}

func (r *SubprocessRunner) readStderr(a *subprocessAgent, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		r.emit(a, Event{
			Type:      EventOutput,
			AgentID:   a.cfg.ID,
			SessionID: a.cfg.SessionID,
			Text:      "[stderr] " + line,
			Stream:    StreamStderr,
		})
	}
}

func (r *SubprocessRunner) waitForExit(a *subprocessAgent) {
	err := a.cmd.Wait()
	a.exited.Store(true)
	a.cancel()

	code := 0
	if err != nil {
		code = 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
	}

	r.mu.Lock()
	delete(r.agents, a.cfg.ID)
	r.mu.Unlock()

	r.gate.RejectAgent(a.cfg.ID)

	if a.stopping.Load() {
		return
	}

	r.log.WithAgentID(a.cfg.ID).Info("agent process exited", zap.Int("code", code))
	r.events <- Event{
		Type:      EventExit,
		AgentID:   a.cfg.ID,
		SessionID: a.cfg.SessionID,
		ExitCode:  code,
	}
}

func allowResponse() *claudecode.ControlResponse {
	return &claudecode.ControlResponse{
		Subtype: "success",
		Result:  &claudecode.PermissionResult{Behavior: claudecode.BehaviorAllow},
	}
}

func denyResponse(reason string) *claudecode.ControlResponse {
	interrupt := false
	return &claudecode.ControlResponse{
		Subtype: "success",
		Result: &claudecode.PermissionResult{
			Behavior:  claudecode.BehaviorDeny,
			Message:   reason,
			Interrupt: &interrupt,
		},
	}
}
