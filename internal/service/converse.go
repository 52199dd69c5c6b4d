package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xiaot623/gogo/chatvault/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

// ConverseResult is the outcome of one chat turn.
type ConverseResult struct {
	Reply        string
	SessionID    string
	MessageCount int
	Model        string
}

// Converse sends userText to the language model and appends the exchange to
// the session. An empty sessionID starts a new session.
func (s *Service) Converse(ctx context.Context, sessionID, userText string) (*ConverseResult, error) {
	if err := validateUserText(userText); err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = s.newID()
	} else if err := domain.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	history, err := s.history(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	resp, err := s.llm.Complete(ctx, &llm.CompletionRequest{Prompt: userText, History: history})
	if err != nil {
		s.logger.Warn("completion failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrInferenceFailure, err)
	}

	// The completion exists now; a caller going away must not lose it.
	appendCtx := context.WithoutCancel(ctx)
	sess, err := s.repo.CreateOrAppend(appendCtx, sessionID, []domain.Message{
		{Role: domain.RoleUser, Content: userText},
		{Role: domain.RoleAssistant, Content: resp.Completion},
	})
	if err != nil {
		s.logger.Error("append turn failed", "session_id", sessionID, "error", err)
		return nil, err
	}

	s.logger.Info("turn appended", "session_id", sessionID, "message_count", len(sess.Messages), "model", resp.Model)
	s.notify(domain.Event{
		Type:         domain.EventTypeTurnAppended,
		Ts:           sess.UpdatedAt.UnixMilli(),
		SessionID:    sessionID,
		MessageCount: len(sess.Messages),
	})

	return &ConverseResult{
		Reply:        resp.Completion,
		SessionID:    sessionID,
		MessageCount: len(sess.Messages),
		Model:        resp.Model,
	}, nil
}

func validateUserText(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: message is not valid UTF-8", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: message is required", domain.ErrInvalidInput)
	}
	return nil
}

// history returns the last historyTurns turns of the session, if any.
func (s *Service) history(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if s.historyTurns <= 0 {
		return nil, nil
	}
	sess, err := s.repo.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	msgs := sess.Messages
	if n := 2 * s.historyTurns; len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}
