// Package repository owns durable storage of mutable session records.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/chatvault/internal/config"
	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

// SessionRepository stores sessions keyed by session id. All mutations of one
// id are serialized; readers never observe a half-applied append.
type SessionRepository interface {
	// CreateOrAppend creates the session on first use and appends msgs in
	// order. Every message of one call is stamped with the same instant.
	CreateOrAppend(ctx context.Context, sessionID string, msgs []domain.Message) (*domain.Session, error)

	// Get returns the current session or an error matching domain.ErrNotFound.
	Get(ctx context.Context, sessionID string) (*domain.Session, error)

	Close() error
}

// Clock returns the current time. Repositories take one so tests can move time.
type Clock func() time.Time

// Open creates the repository selected by cfg.SessionBackend.
func Open(ctx context.Context, cfg *config.Config) (SessionRepository, error) {
	switch cfg.SessionBackend {
	case config.BackendSQLite:
		return NewSQLiteRepository(cfg.DatabaseURL)
	case config.BackendPostgres:
		return NewPostgresRepository(ctx, cfg.DatabaseURL)
	case config.BackendFile:
		return NewFileRepository(cfg.SessionDir)
	}
	return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
}

func validateAppend(sessionID string, msgs []domain.Message) error {
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return err
	}
	return domain.ValidateMessages(msgs)
}

// applyAppend returns the session that results from appending msgs to current
// (nil when the session does not exist yet). The append instant is clamped so
// timestamps never go backwards within a session.
func applyAppend(current *domain.Session, sessionID string, msgs []domain.Message, now time.Time) *domain.Session {
	now = now.UTC().Truncate(time.Millisecond)

	var next *domain.Session
	if current == nil {
		next = &domain.Session{SessionID: sessionID, CreatedAt: now}
	} else {
		next = current.Clone()
	}

	ts := now
	if last := next.LastTimestamp(); ts.Before(last) {
		ts = last
	}
	for _, m := range msgs {
		next.Messages = append(next.Messages, domain.Message{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: ts,
		})
	}
	next.UpdatedAt = ts
	return next
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}

func notFound(sessionID string) error {
	return fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
}
