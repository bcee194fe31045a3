package interpret

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mindshift/protocol-engine/internal/domain"
	"github.com/mindshift/protocol-engine/internal/engine"
	"github.com/mindshift/protocol-engine/internal/graph"
	"github.com/mindshift/protocol-engine/internal/guardrail"
)

type stubInterpreter struct {
	proposal Proposal
	err      error
	calls    int
	lastReq  Request
}

func (s *stubInterpreter) Interpret(_ context.Context, req Request) (Proposal, error) {
	s.calls++
	s.lastReq = req
	return s.proposal, s.err
}

type slowInterpreter struct{ delay time.Duration }

func (s *slowInterpreter) Interpret(ctx context.Context, _ Request) (Proposal, error) {
	select {
	case <-ctx.Done():
		return Proposal{}, ctx.Err()
	case <-time.After(s.delay):
		return Proposal{ProposedNextStep: "scenario_check", Confidence: 0.9}, nil
	}
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	registry, err := graph.New()
	if err != nil {
		t.Fatalf("graph.New() error = %v", err)
	}
	return engine.New(registry, guardrail.New(guardrail.Config{}), engine.Config{})
}

func escalationSession() *domain.SessionContext {
	return &domain.SessionContext{
		SessionID:        "s-1",
		UserID:           "u-1",
		Modality:         domain.ModalityProblem,
		CurrentStep:      "restate_problem_future",
		Status:           domain.StatusActive,
		ProblemStatement: "fear of public speaking",
	}
}

func TestEscalateAcceptsValidProposal(t *testing.T) {
	eng := newTestEngine(t)
	stub := &stubInterpreter{proposal: Proposal{
		ProposedNextStep: "problem_shifting_intro",
		Rationale:        "user restated the same problem",
		Confidence:       0.9,
	}}
	g := New(stub, eng, nil, Config{ConfidenceThreshold: 0.5}, slog.Default())

	res, updated, _, err := g.Escalate(context.Background(), escalationSession(), "it still feels stuck", "ambiguous")
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if updated == nil || updated.CurrentStep != "problem_shifting_intro" {
		t.Fatalf("step = %v, want problem_shifting_intro", updated)
	}
	if !res.TriggeredAI {
		t.Fatal("TriggeredAI = false on accepted proposal")
	}
	if stub.lastReq.ProblemStatement != "fear of public speaking" {
		t.Fatalf("delegate request problem = %q", stub.lastReq.ProblemStatement)
	}
	if len(stub.lastReq.AllowedSteps) != 2 {
		t.Fatalf("allowed steps = %v", stub.lastReq.AllowedSteps)
	}
}

func TestEscalateRejectsOutOfGraphStep(t *testing.T) {
	eng := newTestEngine(t)
	stub := &stubInterpreter{proposal: Proposal{
		ProposedNextStep: "identity_dissolve_step_a", // wrong modality
		Confidence:       0.95,
	}}
	g := New(stub, eng, nil, Config{ConfidenceThreshold: 0.5}, slog.Default())

	res, updated, _, err := g.Escalate(context.Background(), escalationSession(), "hm", "ambiguous")
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if updated != nil {
		t.Fatal("out-of-graph proposal committed a transition")
	}
	if !res.RequiresRetry || res.Reason != domain.ReasonDelegateInvalid {
		t.Fatalf("result = %+v, want invalid-proposal retry", res)
	}
	if !res.TriggeredAI {
		t.Fatal("TriggeredAI = false; delegate cost must be attributed")
	}
}

func TestEscalateRejectsDisallowedTarget(t *testing.T) {
	eng := newTestEngine(t)
	// In-graph, but not among the step's interpretation targets.
	stub := &stubInterpreter{proposal: Proposal{
		ProposedNextStep: "integration_start",
		Confidence:       0.95,
	}}
	g := New(stub, eng, nil, Config{ConfidenceThreshold: 0.5}, slog.Default())

	res, updated, _, err := g.Escalate(context.Background(), escalationSession(), "hm", "ambiguous")
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if updated != nil || res.Reason != domain.ReasonDelegateInvalid {
		t.Fatalf("result = %+v, want disallowed-target retry", res)
	}
}

func TestEscalateRejectsLowConfidence(t *testing.T) {
	eng := newTestEngine(t)
	stub := &stubInterpreter{proposal: Proposal{
		ProposedNextStep: "scenario_check",
		Confidence:       0.2,
	}}
	g := New(stub, eng, nil, Config{ConfidenceThreshold: 0.5}, slog.Default())

	res, updated, _, err := g.Escalate(context.Background(), escalationSession(), "hm", "ambiguous")
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if updated != nil || res.Reason != domain.ReasonDelegateDoubt {
		t.Fatalf("result = %+v, want low-confidence retry", res)
	}
}

func TestEscalateDelegateErrorBecomesRetry(t *testing.T) {
	eng := newTestEngine(t)
	stub := &stubInterpreter{err: errors.New("connection refused")}
	g := New(stub, eng, nil, Config{MaxRetries: 1, ConfidenceThreshold: 0.5}, slog.Default())

	res, updated, _, err := g.Escalate(context.Background(), escalationSession(), "hm", "ambiguous")
	if err != nil {
		t.Fatalf("Escalate() error = %v, want nil (timeouts are retries)", err)
	}
	if updated != nil {
		t.Fatal("failed delegate committed a transition")
	}
	if res.Reason != domain.ReasonDelegateTimeout {
		t.Fatalf("reason = %s, want %s", res.Reason, domain.ReasonDelegateTimeout)
	}
	if stub.calls != 2 {
		t.Fatalf("delegate calls = %d, want 2 (one retry)", stub.calls)
	}
}

func TestEscalateTimeout(t *testing.T) {
	eng := newTestEngine(t)
	g := New(&slowInterpreter{delay: time.Second}, eng, nil,
		Config{Timeout: 20 * time.Millisecond, MaxRetries: 0, ConfidenceThreshold: 0.5}, slog.Default())

	start := time.Now()
	res, updated, _, err := g.Escalate(context.Background(), escalationSession(), "hm", "ambiguous")
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if updated != nil || res.Reason != domain.ReasonDelegateTimeout {
		t.Fatalf("result = %+v, want timeout retry", res)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("timeout not enforced, took %v", elapsed)
	}
}

func TestEscalateOnNonInterpretedStepFails(t *testing.T) {
	eng := newTestEngine(t)
	stub := &stubInterpreter{proposal: Proposal{ProposedNextStep: "scenario_check", Confidence: 0.9}}
	g := New(stub, eng, nil, Config{ConfidenceThreshold: 0.5}, slog.Default())

	sctx := escalationSession()
	sctx.CurrentStep = "problem_capture"

	_, _, _, err := g.Escalate(context.Background(), sctx, "hm", "ambiguous")
	if !domain.IsIntegrity(err) {
		t.Fatalf("error = %v, want integrity violation", err)
	}
}
