package domain

import (
	"fmt"
	"regexp"
	"time"
)

// SchemaVersion is the current version of the persisted session layout.
const SchemaVersion = 1

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Session is the append-only record of one conversation.
type Session struct {
	SessionID string    `json:"sessionId"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a single utterance within a session.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a copy of the session that shares no message storage with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return &out
}

// LastTimestamp returns the latest instant recorded on the session.
func (s *Session) LastTimestamp() time.Time {
	last := s.UpdatedAt
	if n := len(s.Messages); n > 0 && s.Messages[n-1].Timestamp.After(last) {
		last = s.Messages[n-1].Timestamp
	}
	return last
}

// Now returns the current time in the precision sessions are stored with.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// ValidateSessionID checks that id is usable as a storage key and path segment.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: session id %q has invalid characters", ErrInvalidInput, id)
	}
	return nil
}

// ValidateMessages checks a batch of messages about to be appended.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return fmt.Errorf("%w: no messages to append", ErrInvalidInput)
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidInput, i, m.Role)
		}
	}
	return nil
}
