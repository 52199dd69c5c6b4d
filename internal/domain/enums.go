// Package domain defines the core domain models for chatvault.
package domain

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the closed set of roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	}
	return false
}

// EventType represents the type of a session event pushed to subscribers.
type EventType string

const (
	EventTypeTurnAppended      EventType = "turn.appended"
	EventTypeSnapshotPublished EventType = "snapshot.published"
)
