// Package events defines the event types published on the Agentdeck event bus.
package events

// Event types for agent sessions
const (
	SessionStarted = "session.started"
	SessionStopped = "session.stopped"
	SessionOutput  = "session.output"
)

// Event types for change proposals
const (
	ChangeProposed      = "change.proposed"
	ChangeStatusChanged = "change.status_changed"
)

// Event types for edit permissions
const (
	EditPermissionRequested = "edit.permission_requested"
	EditPermissionResolved  = "edit.permission_resolved"
)

// SessionWildcardSubject matches all session events.
const SessionWildcardSubject = "session.*"

// ChangeWildcardSubject matches all change events.
const ChangeWildcardSubject = "change.*"

// EditWildcardSubject matches all edit permission events.
const EditWildcardSubject = "edit.*"
