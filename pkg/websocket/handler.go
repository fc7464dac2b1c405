package websocket

import "context"

// Handler processes one protocol message and produces the reply, or nil
// when no reply is needed.
type Handler interface {
	Handle(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

// Dispatcher maps action names to their handlers. All registration happens
// during startup; Dispatch may then be called from any connection goroutine.
type Dispatcher struct {
	byAction map[string]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{byAction: make(map[string]Handler)}
}

// Register binds a handler to an action name, replacing any previous binding.
func (d *Dispatcher) Register(action string, h Handler) {
	d.byAction[action] = h
}

// RegisterFunc binds a function to an action name.
func (d *Dispatcher) RegisterFunc(action string, fn HandlerFunc) {
	d.byAction[action] = fn
}

// Dispatch routes a message by its action. An unregistered action yields an
// error reply rather than a Go error, so the client sees a protocol-level
// failure instead of a dropped connection.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	h, ok := d.byAction[msg.Action]
	if !ok {
		return NewError(msg.ID, msg.Action, ErrorCodeUnknownAction,
			"Unknown action: "+msg.Action, nil)
	}
	return h.Handle(ctx, msg)
}

// HasHandler reports whether an action is registered.
func (d *Dispatcher) HasHandler(action string) bool {
	_, ok := d.byAction[action]
	return ok
}
