package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	ws "github.com/agentdeck/agentdeck/pkg/websocket"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(ws.NewDispatcher(), newTestLogger(t))
}

func recvMessage(t *testing.T, c *Client) *ws.Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg ws.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	log := newTestLogger(t)
	a := NewClient("a", nil, hub, log)
	b := NewClient("b", nil, hub, log)
	hub.Register(a)
	hub.Register(b)

	note, err := ws.NewNotification(ws.ActionSessionStarted, map[string]interface{}{
		"agentId": "agent-1",
	})
	require.NoError(t, err)
	hub.Broadcast(note)

	for _, c := range []*Client{a, b} {
		msg := recvMessage(t, c)
		assert.Equal(t, ws.MessageTypeNotification, msg.Type)
		assert.Equal(t, ws.ActionSessionStarted, msg.Action)
	}
}

func TestSubscribeReplaysBufferedOutput(t *testing.T) {
	hub := newTestHub(t)
	hub.SetReplayProvider(func(agentID string) []string {
		if agentID != "agent-1" {
			return nil
		}
		return []string{"$ ls", "main.go"}
	})

	client := NewClient("a", nil, hub, newTestLogger(t))

	payload, err := json.Marshal(SubscribeRequest{AgentID: "agent-1"})
	require.NoError(t, err)
	client.handleSubscribe(&ws.Message{
		ID:      "req-1",
		Action:  ws.ActionSessionSubscribe,
		Payload: payload,
	})

	resp := recvMessage(t, client)
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)
	assert.Equal(t, "req-1", resp.ID)

	for _, want := range []string{"$ ls", "main.go"} {
		msg := recvMessage(t, client)
		assert.Equal(t, ws.ActionSessionOutput, msg.Action)

		var body map[string]interface{}
		require.NoError(t, msg.ParsePayload(&body))
		assert.Equal(t, "agent-1", body["agentId"])
		assert.Equal(t, want, body["output"])
		assert.Equal(t, true, body["replay"])
	}
}

func TestSubscribeRequiresAgentID(t *testing.T) {
	hub := newTestHub(t)
	client := NewClient("a", nil, hub, newTestLogger(t))

	payload, err := json.Marshal(SubscribeRequest{})
	require.NoError(t, err)
	client.handleSubscribe(&ws.Message{
		ID:      "req-1",
		Action:  ws.ActionSessionSubscribe,
		Payload: payload,
	})

	msg := recvMessage(t, client)
	assert.Equal(t, ws.MessageTypeError, msg.Type)
}

func TestOutputRoutingHonorsSubscriptions(t *testing.T) {
	hub := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	log := newTestLogger(t)
	watcher := NewClient("watcher", nil, hub, log)
	firehose := NewClient("firehose", nil, hub, log)
	hub.Register(watcher)
	hub.Register(firehose)
	hub.SubscribeToAgent(watcher, "agent-1")

	for _, agentID := range []string{"agent-1", "agent-2"} {
		note, err := ws.NewNotification(ws.ActionSessionOutput, map[string]interface{}{
			"agentId": agentID,
			"output":  "from " + agentID,
		})
		require.NoError(t, err)
		hub.BroadcastOutput(agentID, note)
	}

	// The subscribed client only sees its agent's output.
	msg := recvMessage(t, watcher)
	var body map[string]interface{}
	require.NoError(t, msg.ParsePayload(&body))
	assert.Equal(t, "agent-1", body["agentId"])
	select {
	case data := <-watcher.send:
		t.Fatalf("unexpected message for watcher: %s", data)
	case <-time.After(100 * time.Millisecond):
	}

	// A client with no subscriptions receives everything.
	for _, want := range []string{"agent-1", "agent-2"} {
		msg := recvMessage(t, firehose)
		var body map[string]interface{}
		require.NoError(t, msg.ParsePayload(&body))
		assert.Equal(t, want, body["agentId"])
	}
}

func TestUnregisterCleansSubscriptions(t *testing.T) {
	hub := newTestHub(t)
	client := NewClient("a", nil, hub, newTestLogger(t))

	hub.mu.Lock()
	hub.clients[client] = true
	hub.mu.Unlock()

	hub.SubscribeToAgent(client, "agent-1")
	hub.mu.RLock()
	assert.Len(t, hub.subscribers["agent-1"], 1)
	hub.mu.RUnlock()

	hub.removeClient(client)

	hub.mu.RLock()
	assert.Empty(t, hub.subscribers)
	hub.mu.RUnlock()
	assert.Equal(t, 0, hub.GetClientCount())
}
