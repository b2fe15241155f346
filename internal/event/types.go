package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier such as "session.created".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers. The session.* names double as bridge
// notification methods.
const (
	TypeSessionCreated       = "session.created"
	TypeSessionDeleted       = "session.deleted"
	TypeSessionStatusChanged = "session.statusChanged"
	TypeSessionCleared       = "session.cleared"
	TypeSessionPinChanged    = "session.pinChanged"
	TypeWorkflowAdvanced     = "workflow.advanced"
)

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionCreatedEvent is emitted once a session's worktree and descriptor exist.
type SessionCreatedEvent struct {
	baseEvent
	Name         string
	WorktreePath string
	Branch       string
	Agent        string
	Workflow     string
}

// NewSessionCreatedEvent creates a SessionCreatedEvent.
func NewSessionCreatedEvent(name, worktreePath, branch, agent, workflow string) SessionCreatedEvent {
	return SessionCreatedEvent{
		baseEvent:    newBaseEvent(TypeSessionCreated),
		Name:         name,
		WorktreePath: worktreePath,
		Branch:       branch,
		Agent:        agent,
		Workflow:     workflow,
	}
}

// SessionDeletedEvent is emitted after a session has been removed.
type SessionDeletedEvent struct {
	baseEvent
	Name           string
	BranchRetained bool
}

// NewSessionDeletedEvent creates a SessionDeletedEvent.
func NewSessionDeletedEvent(name string, branchRetained bool) SessionDeletedEvent {
	return SessionDeletedEvent{
		baseEvent:      newBaseEvent(TypeSessionDeleted),
		Name:           name,
		BranchRetained: branchRetained,
	}
}

// SessionStatusChangedEvent is emitted when the inferred agent status changes.
type SessionStatusChangedEvent struct {
	baseEvent
	Name            string
	Status          string
	Message         string
	StatusTimestamp time.Time
}

// NewSessionStatusChangedEvent creates a SessionStatusChangedEvent.
func NewSessionStatusChangedEvent(name, status, message string, at time.Time) SessionStatusChangedEvent {
	return SessionStatusChangedEvent{
		baseEvent:       newBaseEvent(TypeSessionStatusChanged),
		Name:            name,
		Status:          status,
		Message:         message,
		StatusTimestamp: at,
	}
}

// SessionClearedEvent is emitted when a session's agent and workflow state is wiped.
type SessionClearedEvent struct {
	baseEvent
	Name string
}

// NewSessionClearedEvent creates a SessionClearedEvent.
func NewSessionClearedEvent(name string) SessionClearedEvent {
	return SessionClearedEvent{
		baseEvent: newBaseEvent(TypeSessionCleared),
		Name:      name,
	}
}

// SessionPinChangedEvent is emitted when a session is pinned or unpinned.
type SessionPinChangedEvent struct {
	baseEvent
	Name   string
	Pinned bool
}

// NewSessionPinChangedEvent creates a SessionPinChangedEvent.
func NewSessionPinChangedEvent(name string, pinned bool) SessionPinChangedEvent {
	return SessionPinChangedEvent{
		baseEvent: newBaseEvent(TypeSessionPinChanged),
		Name:      name,
		Pinned:    pinned,
	}
}

// -----------------------------------------------------------------------------
// Workflow Events
// -----------------------------------------------------------------------------

// WorkflowAdvancedEvent is emitted after a workflow step completes.
type WorkflowAdvancedEvent struct {
	baseEvent
	Session       string
	CurrentStepID string
	Completed     bool
}

// NewWorkflowAdvancedEvent creates a WorkflowAdvancedEvent.
func NewWorkflowAdvancedEvent(session, currentStepID string, completed bool) WorkflowAdvancedEvent {
	return WorkflowAdvancedEvent{
		baseEvent:     newBaseEvent(TypeWorkflowAdvanced),
		Session:       session,
		CurrentStepID: currentStepID,
		Completed:     completed,
	}
}
