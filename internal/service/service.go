// Package service implements the chat, publish and load flows on top of the
// session repository, the language-model backend and the content store.
package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/chatvault/internal/adapter/blobstore"
	"github.com/xiaot623/gogo/chatvault/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatvault/internal/domain"
	"github.com/xiaot623/gogo/chatvault/internal/policy"
	"github.com/xiaot623/gogo/chatvault/internal/repository"
)

// Notifier receives session events. Delivery is best effort.
type Notifier interface {
	Publish(ev domain.Event) error
}

// PublishPolicy admits or refuses a snapshot before it is stored.
type PublishPolicy interface {
	Evaluate(ctx context.Context, in policy.Input) (*policy.Decision, error)
}

// Options configures a Service. Zero values disable the optional parts.
type Options struct {
	Policy          PublishPolicy
	Events          Notifier
	Logger          *slog.Logger
	HistoryTurns    int
	MaxPublishBytes int64
}

// Service wires the chat, publish and load flows together.
type Service struct {
	repo   repository.SessionRepository
	llm    llm.Backend
	store  blobstore.Store
	policy PublishPolicy
	events Notifier
	logger *slog.Logger

	historyTurns    int
	maxPublishBytes int64
	newID           func() string
}

// New creates a Service.
func New(repo repository.SessionRepository, backend llm.Backend, store blobstore.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:            repo,
		llm:             backend,
		store:           store,
		policy:          opts.Policy,
		events:          opts.Events,
		logger:          logger,
		historyTurns:    opts.HistoryTurns,
		maxPublishBytes: opts.MaxPublishBytes,
		newID:           newSessionID,
	}
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GetSession returns the current state of a session.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.repo.Get(ctx, sessionID)
}

func (s *Service) notify(ev domain.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ev); err != nil {
		s.logger.Warn("event not delivered", "type", ev.Type, "session_id", ev.SessionID, "error", err)
	}
}
