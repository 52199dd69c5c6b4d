package domain

// Event is pushed to the subscribers of a session.
type Event struct {
	Type         EventType `json:"type"`
	Ts           int64     `json:"ts"` // Unix milliseconds
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count,omitempty"`
	Address      string    `json:"address,omitempty"`
}
