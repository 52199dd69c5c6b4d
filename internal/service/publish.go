package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/chatvault/internal/adapter/blobstore"
	"github.com/xiaot623/gogo/chatvault/internal/codec"
	"github.com/xiaot623/gogo/chatvault/internal/domain"
	"github.com/xiaot623/gogo/chatvault/internal/policy"
)

// PublishResult describes a stored snapshot.
type PublishResult struct {
	Address      string
	SessionID    string
	MessageCount int
}

// Publish stores a canonical snapshot of the session and returns its address.
// The session itself is left untouched.
func (s *Service) Publish(ctx context.Context, sessionID string) (*PublishResult, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	payload, err := codec.Encode(sess)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", domain.ErrPublicationFailure, err)
	}

	if s.policy != nil {
		decision, err := s.policy.Evaluate(ctx, policy.Input{
			SessionID:       sessionID,
			MessageCount:    len(sess.Messages),
			PayloadBytes:    len(payload),
			MaxPayloadBytes: s.maxPublishBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrPublicationFailure, err)
		}
		if !decision.Allowed {
			s.logger.Info("publish denied", "session_id", sessionID, "reasons", decision.Reasons)
			return nil, fmt.Errorf("%w: %w: %s", domain.ErrPublicationFailure, domain.ErrPublishDenied, strings.Join(decision.Reasons, "; "))
		}
	}

	address, err := s.store.Put(ctx, payload)
	if err != nil {
		s.logger.Error("snapshot store failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrPublicationFailure, err)
	}

	s.logger.Info("snapshot published", "session_id", sessionID, "address", address, "bytes", len(payload))
	s.notify(domain.Event{
		Type:         domain.EventTypeSnapshotPublished,
		Ts:           domain.Now().UnixMilli(),
		SessionID:    sessionID,
		MessageCount: len(sess.Messages),
		Address:      address,
	})

	return &PublishResult{Address: address, SessionID: sessionID, MessageCount: len(sess.Messages)}, nil
}

// Retrieve fetches and decodes the snapshot stored at address. The result is
// not added to the repository.
func (s *Service) Retrieve(ctx context.Context, address string) (*domain.Session, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("%w: address is required", domain.ErrInvalidInput)
	}

	payload, err := s.store.Get(ctx, address)
	switch {
	case err == nil:
	case errors.Is(err, blobstore.ErrNotFound):
		s.logger.Debug("snapshot not found", "address", address)
		return nil, fmt.Errorf("%w: snapshot %s: %v", domain.ErrNotFound, address, err)
	case errors.Is(err, blobstore.ErrCorrupt):
		return nil, fmt.Errorf("%w: snapshot %s: %v", domain.ErrMalformedSnapshot, address, err)
	default:
		s.logger.Error("snapshot fetch failed", "address", address, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	sess, err := codec.Decode(payload)
	if err != nil {
		s.logger.Warn("snapshot malformed", "address", address, "error", err)
		return nil, err
	}
	return sess, nil
}
