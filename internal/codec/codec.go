// Package codec produces the canonical byte form of a session and derives
// content addresses from it.
//
// Canonicalization rules:
//   - the wire object is {schemaVersion, sessionId, createdAt, updatedAt, messages[{role, content, timestamp}]}
//   - timestamps are UTC, formatted as 2006-01-02T15:04:05.000Z
//   - the JSON text is transformed with RFC 8785 (JCS): sorted keys, no
//     insignificant whitespace, canonical string and number forms
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

// TimeLayout is the fixed timestamp format of the canonical encoding.
const TimeLayout = "2006-01-02T15:04:05.000Z"

type wireSession struct {
	SchemaVersion *int          `json:"schemaVersion,omitempty"`
	SessionID     string        `json:"sessionId"`
	CreatedAt     string        `json:"createdAt"`
	UpdatedAt     string        `json:"updatedAt"`
	Messages      []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Encode returns the canonical bytes of s. Encoding the same session twice
// yields identical bytes.
func Encode(s *domain.Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil session", domain.ErrInvalidInput)
	}
	version := domain.SchemaVersion
	w := wireSession{
		SchemaVersion: &version,
		SessionID:     s.SessionID,
		CreatedAt:     formatTime(s.CreatedAt),
		UpdatedAt:     formatTime(s.UpdatedAt),
		Messages:      make([]wireMessage, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		w.Messages = append(w.Messages, wireMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: formatTime(m.Timestamp),
		})
	}

	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize session: %w", err)
	}
	return canonical, nil
}

// Decode parses a payload produced by Encode. Records without schemaVersion
// are read as the legacy layout, which has the same fields.
func Decode(data []byte) (*domain.Session, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", domain.ErrMalformedSnapshot)
	}
	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSnapshot, err)
	}

	var w wireSession
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSnapshot, err)
	}
	if w.SchemaVersion != nil && *w.SchemaVersion > domain.SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", domain.ErrMalformedSnapshot, *w.SchemaVersion)
	}

	s := &domain.Session{
		SessionID: w.SessionID,
		Messages:  make([]domain.Message, 0, len(w.Messages)),
	}
	var err error
	if s.CreatedAt, err = parseTime("createdAt", w.CreatedAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime("updatedAt", w.UpdatedAt); err != nil {
		return nil, err
	}
	for i, m := range w.Messages {
		ts, err := parseTime(fmt.Sprintf("messages[%d].timestamp", i), m.Timestamp)
		if err != nil {
			return nil, err
		}
		role := domain.Role(m.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("%w: messages[%d] has unknown role %q", domain.ErrMalformedSnapshot, i, m.Role)
		}
		s.Messages = append(s.Messages, domain.Message{Role: role, Content: m.Content, Timestamp: ts})
	}
	return s, nil
}

// Digest returns the lowercase hex SHA-256 of payload.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether address is the digest of payload.
func Verify(address string, payload []byte) bool {
	return address == Digest(payload)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", domain.ErrMalformedSnapshot, field, err)
	}
	return t.UTC(), nil
}
