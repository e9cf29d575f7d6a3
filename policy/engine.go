// Package policy gates inbound whiteboard command batches with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/nigamk1/tutorboard/domain"
)

// Decisions a policy can return.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine evaluates the command-batch policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.board_policy.decision"),
		rego.Module("board_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// batchInput is the document handed to the policy for one batch.
type batchInput struct {
	Origin    string   `json:"origin"`
	BatchSize int      `json:"batch_size"`
	Kinds     []string `json:"kinds"`
}

// CheckBatch evaluates the policy for a command batch from the given
// producer. A block decision is a recoverable error for the origin
// connection only.
func (e *Engine) CheckBatch(ctx context.Context, origin domain.TurnOrigin, batch []domain.Command) error {
	kinds := make([]string, 0, len(batch))
	for _, cmd := range batch {
		if cmd.Kind != "" {
			kinds = append(kinds, string(cmd.Kind))
		}
	}

	input := batchInput{
		Origin:    string(origin),
		BatchSize: len(batch),
		Kinds:     kinds,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil
	}

	if decision, ok := results[0].Expressions[0].Value.(string); ok && decision == DecisionBlock {
		return domain.ErrCommandBlocked
	}
	return nil
}

// DefaultPolicy allows everything except oversized batches and image
// elements submitted by anyone but the AI teacher.
const DefaultPolicy = `
package board_policy

default decision = "allow"

decision = "block" {
	input.batch_size > 100
}

decision = "block" {
	input.origin != "ai"
	input.kinds[_] == "image"
}
`
