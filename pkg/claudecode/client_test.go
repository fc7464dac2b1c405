package claudecode

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSpace(b.buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func newTestClient(t *testing.T, stdout io.Reader) (*Client, *safeBuffer) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	stdin := &safeBuffer{}
	return NewClient(stdin, stdout, log), stdin
}

func TestClient_DispatchesAssistantMessages(t *testing.T) {
	stdout := strings.NewReader(
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hello"}]}}` + "\n")
	c, _ := newTestClient(t, stdout)

	received := make(chan *CLIMessage, 1)
	c.SetMessageHandler(func(msg *CLIMessage) {
		received <- msg
	})

	<-c.Start(context.Background())

	select {
	case msg := <-received:
		assert.Equal(t, MessageTypeAssistant, msg.Type)
		require.NotNil(t, msg.Message)
		require.Len(t, msg.Message.Content, 1)
		assert.Equal(t, "hello", msg.Message.Content[0].Text)
	case <-time.After(time.Second):
		t.Fatal("Expected assistant message")
	}
}

func TestClient_DispatchesControlRequests(t *testing.T) {
	stdout := strings.NewReader(
		`{"type":"control_request","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Edit","tool_use_id":"t1","input":{"file_path":"a.go"}}}` + "\n")
	c, _ := newTestClient(t, stdout)

	type captured struct {
		requestID string
		req       *ControlRequest
	}
	received := make(chan captured, 1)
	c.SetRequestHandler(func(requestID string, req *ControlRequest) {
		received <- captured{requestID, req}
	})

	<-c.Start(context.Background())

	select {
	case got := <-received:
		assert.Equal(t, "req-1", got.requestID)
		assert.Equal(t, SubtypeCanUseTool, got.req.Subtype)
		assert.Equal(t, "Edit", got.req.ToolName)
		assert.Equal(t, "t1", got.req.ToolUseID)
		assert.Equal(t, "a.go", got.req.Input["file_path"])
	case <-time.After(time.Second):
		t.Fatal("Expected control request")
	}
}

func TestClient_AutoDeniesWithoutHandler(t *testing.T) {
	stdout := strings.NewReader(
		`{"type":"control_request","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Edit"}}` + "\n")
	c, stdin := newTestClient(t, stdout)

	<-c.Start(context.Background())

	require.Eventually(t, func() bool {
		return len(stdin.Lines()) == 1
	}, time.Second, 10*time.Millisecond)

	var resp ControlResponseMessage
	require.NoError(t, json.Unmarshal([]byte(stdin.Lines()[0]), &resp))
	assert.Equal(t, MessageTypeControlResponse, resp.Type)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "error", resp.Response.Subtype)
}

func TestClient_SkipsMalformedLines(t *testing.T) {
	stdout := strings.NewReader("not json at all\n" +
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"still alive"}]}}` + "\n")
	c, _ := newTestClient(t, stdout)

	received := make(chan *CLIMessage, 2)
	c.SetMessageHandler(func(msg *CLIMessage) {
		received <- msg
	})

	<-c.Start(context.Background())

	select {
	case msg := <-received:
		assert.Equal(t, "still alive", msg.Message.Content[0].Text)
	case <-time.After(time.Second):
		t.Fatal("Expected message after malformed line")
	}
}

func TestClient_SendUserMessage(t *testing.T) {
	c, stdin := newTestClient(t, strings.NewReader(""))

	require.NoError(t, c.SendUserMessage("do the thing"))

	lines := stdin.Lines()
	require.Len(t, lines, 1)

	var msg UserMessage
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &msg))
	assert.Equal(t, MessageTypeUser, msg.Type)
	assert.Equal(t, "user", msg.Message.Role)
	assert.Equal(t, "do the thing", msg.Message.Content)
}

func TestClient_SendUserMessageOrdering(t *testing.T) {
	c, stdin := newTestClient(t, strings.NewReader(""))

	for i := 0; i < 3; i++ {
		require.NoError(t, c.SendUserMessage(string(rune('a'+i))))
	}

	lines := stdin.Lines()
	require.Len(t, lines, 3)
	for i, line := range lines {
		var msg UserMessage
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		assert.Equal(t, string(rune('a'+i)), msg.Message.Content)
	}
}

func TestIsMutatingTool(t *testing.T) {
	assert.True(t, IsMutatingTool(ToolEdit))
	assert.True(t, IsMutatingTool(ToolWrite))
	assert.True(t, IsMutatingTool("MultiEdit"))
	assert.False(t, IsMutatingTool(ToolRead))
	assert.False(t, IsMutatingTool(ToolBash))
}
