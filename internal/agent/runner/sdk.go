package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/approval"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

const inputQueueSize = 64

// SDKRunner executes agents in-process as a streaming agentic loop against
// the Anthropic API, with a small built-in toolset. File edits pass through
// the same approval gate as the subprocess strategy.
type SDKRunner struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	gate      *approval.Gate
	log       *logger.Logger
	events    chan Event

	mu     sync.Mutex
	agents map[string]*sdkAgent
}

type sdkAgent struct {
	cfg     Config
	inputCh chan string
	ctx     context.Context
	cancel  context.CancelFunc

	turnMu     sync.Mutex
	turnCancel context.CancelFunc

	stopping bool
}

// NewSDKRunner creates an in-process runner. The client reads its API key
// from the environment.
func NewSDKRunner(model string, maxTokens int, gate *approval.Gate, log *logger.Logger) *SDKRunner {
	return &SDKRunner{
		client:    anthropic.NewClient(),
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
		gate:      gate,
		log:       log.WithFields(zap.String("component", "sdk-runner")),
		events:    make(chan Event, 256),
		agents:    make(map[string]*sdkAgent),
	}
}

// Events returns the normalized event stream.
func (r *SDKRunner) Events() <-chan Event {
	return r.events
}

// Start launches the agent loop concurrently.
func (r *SDKRunner) Start(ctx context.Context, cfg Config) error {
	r.mu.Lock()
	if _, exists := r.agents[cfg.ID]; exists {
		r.mu.Unlock()
		return apperrors.Conflict("agent " + cfg.ID + " is already running")
	}

	agentCtx, cancel := context.WithCancel(context.Background())
	a := &sdkAgent{
		cfg:     cfg,
		inputCh: make(chan string, inputQueueSize),
		ctx:     agentCtx,
		cancel:  cancel,
	}
	r.agents[cfg.ID] = a
	r.mu.Unlock()

	r.log.WithAgentID(cfg.ID).Info("sdk agent started",
		zap.String("model", string(r.model)),
		zap.String("work_dir", cfg.WorkDir))

	go r.runLoop(a)
	return nil
}

// SendInput enqueues a user message for the agent's next read point.
func (r *SDKRunner) SendInput(agentID, text string) error {
	a, err := r.agent(agentID)
	if err != nil {
		return err
	}
	select {
	case a.inputCh <- text:
		return nil
	default:
		return apperrors.Conflict("input queue full for agent " + agentID)
	}
}

// Interrupt cancels the agent's current turn. The loop continues afterward
// awaiting new input.
func (r *SDKRunner) Interrupt(agentID string) error {
	a, err := r.agent(agentID)
	if err != nil {
		return err
	}
	a.turnMu.Lock()
	cancel := a.turnCancel
	a.turnMu.Unlock()
	if cancel == nil {
		return apperrors.NotFound("active execution for agent", agentID)
	}
	cancel()
	return nil
}

// Stop cancels the agent loop and rejects its pending approvals. No events
// are emitted for the agent afterward.
func (r *SDKRunner) Stop(agentID string) error {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if ok {
		delete(r.agents, agentID)
	}
	r.mu.Unlock()

	if !ok {
		return apperrors.NotFound("agent", agentID)
	}

	a.turnMu.Lock()
	a.stopping = true
	a.turnMu.Unlock()

	r.gate.RejectAgent(agentID)
	a.cancel()
	r.log.WithAgentID(agentID).Info("sdk agent stopped")
	return nil
}

// ResolveApproval delivers a human decision to the edit permission gate.
func (r *SDKRunner) ResolveApproval(toolUseID string, approved bool) error {
	return r.gate.Resolve(toolUseID, approved)
}

// PID reports the server's own pid; SDK agents have no child process.
func (r *SDKRunner) PID(agentID string) (int, bool) {
	if _, err := r.agent(agentID); err != nil {
		return 0, false
	}
	return os.Getpid(), true
}

func (r *SDKRunner) agent(agentID string) (*sdkAgent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return nil, apperrors.NotFound("agent", agentID)
	}
	return a, nil
}

func (r *SDKRunner) emit(a *sdkAgent, ev Event) {
	a.turnMu.Lock()
	stopping := a.stopping
	a.turnMu.Unlock()
	if stopping {
		return
	}
	r.events <- ev
}

func (r *SDKRunner) emitOutput(a *sdkAgent, text, stream string) {
	r.emit(a, Event{
		Type:      EventOutput,
		AgentID:   a.cfg.ID,
		SessionID: a.cfg.SessionID,
		Text:      text,
		Stream:    stream,
	})
}

func (r *SDKRunner) runLoop(a *sdkAgent) {
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(initialInstruction(a.cfg))),
	}

	for {
		var err error
		messages, err = r.runTurns(a, messages)
		if err != nil {
			if a.ctx.Err() != nil {
				return
			}
			r.emitOutput(a, "[error] "+err.Error(), StreamStderr)
			r.finish(a, 1)
			return
		}

		select {
		case <-a.ctx.Done():
			return
		case text := <-a.inputCh:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
	}
}

// runTurns drives streaming turns, executing tool calls between them, until
// the model stops requesting tools.
func (r *SDKRunner) runTurns(a *sdkAgent, messages []anthropic.MessageParam) ([]anthropic.MessageParam, error) {
	for {
		turnCtx, turnCancel := context.WithCancel(a.ctx)
		a.turnMu.Lock()
		a.turnCancel = turnCancel
		a.turnMu.Unlock()

		message, err := r.streamTurn(turnCtx, a, messages)

		a.turnMu.Lock()
		a.turnCancel = nil
		a.turnMu.Unlock()
		turnCancel()

		if err != nil {
			if a.ctx.Err() != nil {
				return messages, a.ctx.Err()
			}
			if errors.Is(err, context.Canceled) {
				// Interrupted turn, keep the session alive
				r.emitOutput(a, "[interrupted]", StreamStdout)
				return messages, nil
			}
			return messages, err
		}

		messages = append(messages, message.ToParam())

		toolResults, err := r.executeTools(a, message)
		if err != nil {
			return messages, err
		}
		if len(toolResults) == 0 {
			return messages, nil
		}
		messages = append(messages, anthropic.NewUserMessage(toolResults...))
	}
}

func (r *SDKRunner) streamTurn(ctx context.Context, a *sdkAgent, messages []anthropic.MessageParam) (*anthropic.Message, error) {
	stream := r.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: fmt.Sprintf("You are %s, a %s agent working in %s.", a.cfg.Name, a.cfg.Role, a.cfg.WorkDir)},
		},
		Messages: messages,
		Tools:    agentTools(),
	})

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulate stream event: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	for _, block := range message.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok && variant.Text != "" {
			r.emitOutput(a, variant.Text, StreamStdout)
		}
	}

	return &message, nil
}

// executeTools runs every tool call in the turn, gating file edits through
// the approval gate. The gate blocks this agent's loop only.
func (r *SDKRunner) executeTools(a *sdkAgent, message *anthropic.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var results []anthropic.ContentBlockParamUnion

	for _, block := range message.Content {
		variant, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}

		var input map[string]any
		if err := json.Unmarshal([]byte(variant.JSON.Input.Raw()), &input); err != nil {
			results = append(results, anthropic.NewToolResultBlock(variant.ID, "invalid tool input: "+err.Error(), true))
			continue
		}

		r.emitOutput(a, activityNotice(displayToolName(variant.Name), input), StreamStdout)

		output, isErr := r.runTool(a, variant.ID, variant.Name, input)
		results = append(results, anthropic.NewToolResultBlock(variant.ID, output, isErr))
	}

	return results, nil
}

func (r *SDKRunner) runTool(a *sdkAgent, toolUseID, name string, input map[string]any) (string, bool) {
	switch name {
	case "read_file":
		return r.toolReadFile(a, input)
	case "list_files":
		return r.toolListFiles(a, input)
	case "edit_file":
		return r.toolEditFile(a, toolUseID, input)
	default:
		return "unknown tool: " + name, true
	}
}

func (r *SDKRunner) toolReadFile(a *sdkAgent, input map[string]any) (string, bool) {
	path, err := resolvePath(a.cfg.WorkDir, stringInput(input, "path"))
	if err != nil {
		return err.Error(), true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err.Error(), true
	}
	return string(data), false
}

func (r *SDKRunner) toolListFiles(a *sdkAgent, input map[string]any) (string, bool) {
	dir := stringInput(input, "path")
	if dir == "" {
		dir = "."
	}
	path, err := resolvePath(a.cfg.WorkDir, dir)
	if err != nil {
		return err.Error(), true
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return err.Error(), true
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return strings.Join(names, "\n"), false
}

// toolEditFile requests human approval, then applies the edit as a single
// string replacement in the target file.
func (r *SDKRunner) toolEditFile(a *sdkAgent, toolUseID string, input map[string]any) (string, bool) {
	relPath := stringInput(input, "path")
	oldString := stringInput(input, "old_string")
	newString := stringInput(input, "new_string")

	path, err := resolvePath(a.cfg.WorkDir, relPath)
	if err != nil {
		return err.Error(), true
	}

	ch, err := r.gate.Request(toolUseID, a.cfg.ID)
	if err != nil {
		return err.Error(), true
	}

	r.emit(a, Event{
		Type:      EventEditPermission,
		AgentID:   a.cfg.ID,
		SessionID: a.cfg.SessionID,
		Request: &EditPermissionRequest{
			AgentID:   a.cfg.ID,
			SessionID: a.cfg.SessionID,
			FilePath:  relPath,
			OldString: oldString,
			NewString: newString,
			ToolUseID: toolUseID,
		},
	})

	decision := <-ch
	if !decision.Approved {
		return "edit denied: " + decision.Reason, true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err.Error(), true
	}
	content := string(data)
	if !strings.Contains(content, oldString) {
		return "old_string not found in " + relPath, true
	}
	content = strings.Replace(content, oldString, newString, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err.Error(), true
	}
	return "edit applied to " + relPath, false
}

func (r *SDKRunner) finish(a *sdkAgent, code int) {
	r.mu.Lock()
	delete(r.agents, a.cfg.ID)
	r.mu.Unlock()

	r.gate.RejectAgent(a.cfg.ID)

	r.log.WithAgentID(a.cfg.ID).Info("sdk agent exited", zap.Int("code", code))
	r.events <- Event{
		Type:      EventExit,
		AgentID:   a.cfg.ID,
		SessionID: a.cfg.SessionID,
		ExitCode:  code,
	}
}

// resolvePath joins a relative path against the work directory and rejects
// escapes outside it.
func resolvePath(workDir, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	path := filepath.Join(workDir, rel)
	absWork, err := filepath.Abs(workDir)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if absPath != absWork && !strings.HasPrefix(absPath, absWork+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes working directory", rel)
	}
	return absPath, nil
}

// displayToolName maps SDK tool names onto the activity vocabulary shared
// with the subprocess strategy.
func displayToolName(name string) string {
	switch name {
	case "read_file":
		return "Read"
	case "edit_file":
		return "Edit"
	case "list_files":
		return "Glob"
	default:
		return name
	}
}

func agentTools() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		{
			OfTool: &anthropic.ToolParam{
				Name:        "read_file",
				Description: anthropic.String("Read a file relative to the working directory."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"path": map[string]any{"type": "string", "description": "File path relative to the working directory"},
					},
					Required: []string{"path"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "list_files",
				Description: anthropic.String("List directory entries relative to the working directory."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"path": map[string]any{"type": "string", "description": "Directory path, defaults to the working directory"},
					},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "edit_file",
				Description: anthropic.String("Replace old_string with new_string in a file. Requires human approval."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"path":       map[string]any{"type": "string", "description": "File path relative to the working directory"},
						"old_string": map[string]any{"type": "string", "description": "Exact text to replace"},
						"new_string": map[string]any{"type": "string", "description": "Replacement text"},
					},
					Required: []string{"path", "old_string", "new_string"},
				},
			},
		},
	}
}
