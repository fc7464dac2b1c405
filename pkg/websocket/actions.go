package websocket

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Session actions (client -> server)
	ActionSessionList      = "session.list"
	ActionSessionGet       = "session.get"
	ActionSessionStart     = "session.start"
	ActionSessionStop      = "session.stop"
	ActionSessionRestart   = "session.restart"
	ActionSessionSendInput = "session.send_input"
	ActionSessionOutputLog = "session.output_log"

	// Change actions (client -> server)
	ActionChangeList    = "change.list"
	ActionChangeAccept  = "change.accept"
	ActionChangeDecline = "change.decline"

	// Edit permission actions (client -> server)
	ActionEditApprove = "edit.approve"
	ActionEditDeny    = "edit.deny"

	// Subscription actions
	ActionSessionSubscribe   = "session.subscribe"
	ActionSessionUnsubscribe = "session.unsubscribe"

	// Notification actions (server -> client)
	ActionSessionStarted         = "session.started"
	ActionSessionStopped         = "session.stopped"
	ActionSessionOutput          = "session.output"
	ActionChangeProposed         = "change.proposed"
	ActionChangeStatusChanged    = "change.status_changed"
	ActionEditPermissionRequest  = "edit.permission_requested"
	ActionEditPermissionResolved = "edit.permission_resolved"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeConflict      = "CONFLICT"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
