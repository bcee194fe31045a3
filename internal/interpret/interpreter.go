// Package interpret hosts the AI escalation gate and the linguistic
// interpretation delegate. The delegate is an untrusted oracle: every
// proposal it returns is validated against the step graph registry before
// the engine is allowed to act on it.
package interpret

import (
	"context"

	"github.com/mindshift/protocol-engine/internal/domain"
)

// Request is the ambiguity handed to the linguistic delegate.
type Request struct {
	ProblemStatement string            `json:"problem_statement"`
	RecentTurns      []domain.Exchange `json:"recent_turns"`
	AmbiguityReason  string            `json:"ambiguity_reason"`
	RawInput         string            `json:"raw_input"`

	// AllowedSteps are the successors the current step permits. The
	// delegate is told about them, but the gate re-validates regardless of
	// what comes back.
	AllowedSteps []domain.StepID `json:"allowed_steps"`
}

// Proposal is the delegate's answer.
type Proposal struct {
	ProposedNextStep domain.StepID `json:"next_step"`
	Rationale        string        `json:"rationale"`
	Confidence       float64       `json:"confidence"`
}

// Interpreter resolves free-text ambiguity the deterministic script cannot
// classify.
type Interpreter interface {
	Interpret(ctx context.Context, req Request) (Proposal, error)
}
