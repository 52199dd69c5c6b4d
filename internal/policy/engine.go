// Package policy decides whether a session snapshot may be published.
package policy

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"
)

const query = "data.chatvault.publish.deny"

// Input is the document the publish policy is evaluated against.
type Input struct {
	SessionID       string
	MessageCount    int
	PayloadBytes    int
	MaxPayloadBytes int64
}

func (in Input) document() map[string]any {
	return map[string]any{
		"session_id":        in.SessionID,
		"message_count":     in.MessageCount,
		"payload_bytes":     in.PayloadBytes,
		"max_payload_bytes": in.MaxPayloadBytes,
	}
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a policy engine from rego source. The module must define
// data.chatvault.publish.deny as a set of reason strings.
func NewEngine(ctx context.Context, module string) (*Engine, error) {
	r := rego.New(
		rego.Query(query),
		rego.Module("publish.rego", module),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: prepared}, nil
}

// Load creates an engine from the policy file at path, or from DefaultPolicy
// when path is empty.
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return NewEngine(ctx, string(data))
}

// Evaluate returns every deny reason produced for in.
func (e *Engine) Evaluate(ctx context.Context, in Input) (*Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(in.document()))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// An undefined deny set means nothing matched.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &Decision{Allowed: true}, nil
	}

	values, ok := results[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, fmt.Errorf("policy returned %T, want a set of strings", results[0].Expressions[0].Value)
	}

	reasons := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		reasons = append(reasons, s)
	}
	sort.Strings(reasons)

	return &Decision{Allowed: len(reasons) == 0, Reasons: reasons}, nil
}

// DefaultPolicy refuses empty sessions, sessions with a torn turn, and
// snapshots larger than the configured limit.
const DefaultPolicy = `
package chatvault.publish

deny contains "session has no messages" if {
	input.message_count == 0
}

deny contains msg if {
	input.message_count % 2 == 1
	msg := sprintf("session has an odd message count (%d)", [input.message_count])
}

deny contains msg if {
	input.payload_bytes > input.max_payload_bytes
	msg := sprintf("payload of %d bytes exceeds the %d byte limit", [input.payload_bytes, input.max_payload_bytes])
}
`
