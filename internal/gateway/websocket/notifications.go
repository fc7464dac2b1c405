package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/events"
	"github.com/agentdeck/agentdeck/internal/events/bus"
	ws "github.com/agentdeck/agentdeck/pkg/websocket"
)

// Broadcaster bridges the event bus to the hub: every session, change, and
// edit-permission event becomes a WebSocket notification to all observers.
type Broadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

// RegisterNotifications wires bus subjects to notification actions. The
// returned broadcaster closes its subscriptions when ctx is done.
func RegisterNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *Broadcaster {
	b := &Broadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	b.subscribe(eventBus, events.SessionWildcardSubject)
	b.subscribe(eventBus, events.ChangeWildcardSubject)
	b.subscribe(eventBus, events.EditWildcardSubject)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

// Close unsubscribes from all bus subjects.
func (b *Broadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

// actionsBySubject maps bus event types to the notification actions the
// dashboard understands. Events without a mapping are dropped.
var actionsBySubject = map[string]string{
	events.SessionStarted:          ws.ActionSessionStarted,
	events.SessionStopped:          ws.ActionSessionStopped,
	events.SessionOutput:           ws.ActionSessionOutput,
	events.ChangeProposed:          ws.ActionChangeProposed,
	events.ChangeStatusChanged:     ws.ActionChangeStatusChanged,
	events.EditPermissionRequested: ws.ActionEditPermissionRequest,
	events.EditPermissionResolved:  ws.ActionEditPermissionResolved,
}

func (b *Broadcaster) subscribe(eventBus bus.EventBus, pattern string) {
	sub, err := eventBus.Subscribe(pattern, func(ctx context.Context, event *bus.Event) error {
		action, ok := actionsBySubject[event.Type]
		if !ok {
			return nil
		}
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.logger.Error("Failed to build notification",
				zap.String("action", action), zap.Error(err))
			return nil
		}
		if event.Type == events.SessionOutput {
			if agentID, ok := event.Data["agentId"].(string); ok && agentID != "" {
				b.hub.BroadcastOutput(agentID, msg)
				return nil
			}
		}
		b.hub.Broadcast(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("Failed to subscribe",
			zap.String("pattern", pattern), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}
