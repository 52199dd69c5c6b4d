// Package llm provides the language-model backends used to complete chat turns.
package llm

import (
	"context"

	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

// Backend completes a single prompt.
type Backend interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is the prompt sent to a backend.
type CompletionRequest struct {
	Prompt string
	// History holds earlier turns of the session, oldest first. Backends that
	// only accept a single prompt ignore it.
	History []domain.Message
}

// CompletionResponse is a backend's answer.
type CompletionResponse struct {
	Completion string
	Model      string
}

var (
	_ Backend = (*OpenAIClient)(nil)
	_ Backend = (*OllamaClient)(nil)
	_ Backend = (*MockClient)(nil)
)
