package engine

import (
	"errors"
	"testing"

	"github.com/mindshift/protocol-engine/internal/domain"
	"github.com/mindshift/protocol-engine/internal/graph"
	"github.com/mindshift/protocol-engine/internal/guardrail"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	registry, err := graph.New()
	if err != nil {
		t.Fatalf("graph.New() error = %v", err)
	}
	return New(registry, guardrail.New(guardrail.Config{}), cfg)
}

func sessionAt(m domain.Modality, step domain.StepID) *domain.SessionContext {
	return &domain.SessionContext{
		SessionID:   "s-1",
		UserID:      "u-1",
		Modality:    m,
		CurrentStep: step,
		Status:      domain.StatusActive,
	}
}

func TestAdvanceFixedChoiceNormalization(t *testing.T) {
	eng := newTestEngine(t, Config{})

	tests := []struct {
		name     string
		input    string
		wantStep domain.StepID
	}{
		{"affirmative word", "yes", "identity_dissolve_step_f"},
		{"numbered shortcut", "1", "identity_dissolve_step_f"},
		{"negative word", "no", "identity_future_check"},
		{"casual affirmative", "Yeah.", "identity_dissolve_step_f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sctx := sessionAt(domain.ModalityIdentity, "identity_check")
			res, updated, err := eng.Advance(sctx, tt.input)
			if err != nil {
				t.Fatalf("Advance() error = %v", err)
			}
			if updated == nil {
				t.Fatal("Advance() returned nil context for a recognized choice")
			}
			if updated.CurrentStep != tt.wantStep {
				t.Fatalf("step = %s, want %s", updated.CurrentStep, tt.wantStep)
			}
			if res.NextStep != tt.wantStep {
				t.Fatalf("result next step = %s, want %s", res.NextStep, tt.wantStep)
			}
			if err := res.Validate(); err != nil {
				t.Fatalf("result fails exclusivity: %v", err)
			}
		})
	}
}

func TestAdvanceUnrecognizedChoiceLeavesSessionUnchanged(t *testing.T) {
	eng := newTestEngine(t, Config{})
	sctx := sessionAt(domain.ModalityIdentity, "identity_check")

	res, updated, err := eng.Advance(sctx, "banana")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if updated != nil {
		t.Fatal("unrecognized input mutated the session")
	}
	if !res.RequiresRetry {
		t.Fatal("RequiresRetry = false, want true")
	}
	if res.Reason != domain.ReasonUnrecognized {
		t.Fatalf("reason = %s, want %s", res.Reason, domain.ReasonUnrecognized)
	}
	if sctx.CurrentStep != "identity_check" {
		t.Fatalf("caller's context moved to %s", sctx.CurrentStep)
	}
	if len(sctx.UserResponses) != 0 {
		t.Fatal("retry recorded a user response")
	}
}

func TestAdvanceRetryIsIdempotent(t *testing.T) {
	eng := newTestEngine(t, Config{})
	sctx := sessionAt(domain.ModalityIdentity, "identity_check")

	for i := 0; i < 3; i++ {
		res, updated, err := eng.Advance(sctx, "banana")
		if err != nil {
			t.Fatalf("Advance() #%d error = %v", i, err)
		}
		if updated != nil || !res.RequiresRetry {
			t.Fatalf("Advance() #%d: retry semantics lost", i)
		}
	}

	// A valid input after any number of retries still works.
	_, updated, err := eng.Advance(sctx, "yes")
	if err != nil {
		t.Fatalf("Advance() after retries error = %v", err)
	}
	if updated.CurrentStep != "identity_dissolve_step_f" {
		t.Fatalf("step = %s, want identity_dissolve_step_f", updated.CurrentStep)
	}
}

func TestAdvanceTooShortFreeText(t *testing.T) {
	eng := newTestEngine(t, Config{})
	sctx := sessionAt(domain.ModalityProblem, "problem_capture")

	res, updated, err := eng.Advance(sctx, "ok")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if updated != nil {
		t.Fatal("too-short input advanced the session")
	}
	if res.Reason != domain.ReasonTooShort {
		t.Fatalf("reason = %s, want %s", res.Reason, domain.ReasonTooShort)
	}

	res, updated, err = eng.Advance(sctx, "I feel anxious at work")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if updated == nil {
		t.Fatal("valid capture did not advance")
	}
	if updated.CurrentStep != "problem_shifting_intro" {
		t.Fatalf("step = %s, want problem_shifting_intro", updated.CurrentStep)
	}
	if updated.ProblemStatement != "I feel anxious at work" {
		t.Fatalf("problem statement = %q", updated.ProblemStatement)
	}
	if res.ScriptedResponse == "" {
		t.Fatal("scripted response empty after transition")
	}
}

func TestAdvanceSafetyShortCircuits(t *testing.T) {
	eng := newTestEngine(t, Config{})

	// "end it" is both below the content floor and a crisis indicator;
	// safety must win.
	sctx := sessionAt(domain.ModalityProblem, "problem_capture")
	res, updated, err := eng.Advance(sctx, "end it")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if updated != nil {
		t.Fatal("safety-flagged input advanced the session")
	}
	if !res.SafetyFlagged {
		t.Fatal("SafetyFlagged = false, want true")
	}
	if res.CanContinue {
		t.Fatal("CanContinue = true on safety outcome")
	}
	if res.RequiresRetry {
		t.Fatal("safety outcome also set RequiresRetry")
	}
	if err := res.Validate(); err != nil {
		t.Fatalf("result fails exclusivity: %v", err)
	}
}

func TestSafetyAppliesToInterpretedSteps(t *testing.T) {
	eng := newTestEngine(t, Config{})
	sctx := sessionAt(domain.ModalityProblem, "restate_problem_future")

	res, updated, err := eng.Advance(sctx, "honestly I just want to end it all")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if updated != nil || !res.SafetyFlagged {
		t.Fatal("safety did not take precedence over escalation")
	}
	if res.NeedsLinguisticProcessing {
		t.Fatal("safety outcome also requested escalation")
	}
}

func TestDiggingLoopForcesExitAtBound(t *testing.T) {
	eng := newTestEngine(t, Config{})
	sctx := sessionAt(domain.ModalityIdentity, "identity_check")

	// Three continue iterations, then the fourth pass must exit no matter
	// what the input says.
	for i := 0; i < 3; i++ {
		res, updated, err := eng.Advance(sctx, "yes")
		if err != nil {
			t.Fatalf("iteration %d error = %v", i, err)
		}
		if updated.CurrentStep != "identity_dissolve_step_f" {
			t.Fatalf("iteration %d landed on %s, want identity_dissolve_step_f", i, updated.CurrentStep)
		}
		if res.Reason != domain.ReasonScripted {
			t.Fatalf("iteration %d reason = %s", i, res.Reason)
		}
		// Walk the loop body back to the check.
		_, updated, err = eng.Advance(updated, "still feels heavy somehow")
		if err != nil {
			t.Fatalf("loop body error = %v", err)
		}
		sctx = updated
	}

	res, updated, err := eng.Advance(sctx, "yes")
	if err != nil {
		t.Fatalf("bounded pass error = %v", err)
	}
	if updated.CurrentStep != "identity_future_check" {
		t.Fatalf("step after bound = %s, want identity_future_check", updated.CurrentStep)
	}
	if res.Reason != domain.ReasonLoopBound {
		t.Fatalf("reason = %s, want %s", res.Reason, domain.ReasonLoopBound)
	}
}

func TestLoopBoundIgnoresInputContent(t *testing.T) {
	eng := newTestEngine(t, Config{})
	sctx := sessionAt(domain.ModalityIdentity, "identity_check")
	sctx.Metadata = map[string]string{"loop:identity_check": "3"}

	// Even an unrecognizable input exits once the bound is hit.
	_, updated, err := eng.Advance(sctx, "banana")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if updated == nil || updated.CurrentStep != "identity_future_check" {
		t.Fatal("bound-hit turn did not force the loop exit")
	}
}

func TestLoopBoundOverride(t *testing.T) {
	eng := newTestEngine(t, Config{LoopBoundOverride: 1})
	sctx := sessionAt(domain.ModalityIdentity, "identity_check")
	sctx.Metadata = map[string]string{"loop:identity_check": "1"}

	res, updated, err := eng.Advance(sctx, "yes")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if updated.CurrentStep != "identity_future_check" {
		t.Fatalf("step = %s, want forced exit under override", updated.CurrentStep)
	}
	if res.Reason != domain.ReasonLoopBound {
		t.Fatalf("reason = %s, want %s", res.Reason, domain.ReasonLoopBound)
	}
}

func TestMethodSelection(t *testing.T) {
	eng := newTestEngine(t, Config{})

	tests := []struct {
		name         string
		input        string
		wantModality domain.Modality
		wantStep     domain.StepID
	}{
		{"numbered", "2", domain.ModalityIdentity, "identity_capture"},
		{"full name", "Problem Shifting", domain.ModalityProblem, "problem_capture"},
		{"bare name", "trauma", domain.ModalityTrauma, "trauma_capture"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sctx := &domain.SessionContext{
				SessionID:   "s-1",
				UserID:      "u-1",
				CurrentStep: domain.MethodSelectStep,
				Status:      domain.StatusActive,
			}
			_, updated, err := eng.Advance(sctx, tt.input)
			if err != nil {
				t.Fatalf("Advance() error = %v", err)
			}
			if updated.Modality != tt.wantModality {
				t.Fatalf("modality = %s, want %s", updated.Modality, tt.wantModality)
			}
			if updated.CurrentStep != tt.wantStep {
				t.Fatalf("step = %s, want %s", updated.CurrentStep, tt.wantStep)
			}
		})
	}
}

func TestEscalationResultShape(t *testing.T) {
	eng := newTestEngine(t, Config{})
	sctx := sessionAt(domain.ModalityProblem, "restate_problem_future")

	res, updated, err := eng.Advance(sctx, "it feels different now, more like sadness")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if updated != nil {
		t.Fatal("escalation committed a transition")
	}
	if !res.NeedsLinguisticProcessing {
		t.Fatal("NeedsLinguisticProcessing = false")
	}
	if res.Reason != domain.ReasonAmbiguous {
		t.Fatalf("reason = %s, want %s", res.Reason, domain.ReasonAmbiguous)
	}
	if err := res.Validate(); err != nil {
		t.Fatalf("result fails exclusivity: %v", err)
	}
}

func TestApplyInterpreted(t *testing.T) {
	eng := newTestEngine(t, Config{})
	sctx := sessionAt(domain.ModalityProblem, "restate_problem_future")

	res, updated, err := eng.ApplyInterpreted(sctx, "it moved into my chest", "problem_shifting_intro")
	if err != nil {
		t.Fatalf("ApplyInterpreted() error = %v", err)
	}
	if updated.CurrentStep != "problem_shifting_intro" {
		t.Fatalf("step = %s, want problem_shifting_intro", updated.CurrentStep)
	}
	if !res.TriggeredAI {
		t.Fatal("TriggeredAI = false")
	}
	if updated.ProblemStatement != "it moved into my chest" {
		t.Fatalf("redefined problem = %q", updated.ProblemStatement)
	}
	if updated.Metadata["reentry:restate_problem_future"] != "1" {
		t.Fatalf("reentry counter = %q, want 1", updated.Metadata["reentry:restate_problem_future"])
	}
}

func TestApplyInterpretedReentryBound(t *testing.T) {
	eng := newTestEngine(t, Config{InterpretReentryBound: 2})
	sctx := sessionAt(domain.ModalityProblem, "restate_problem_future")
	sctx.Metadata = map[string]string{"reentry:restate_problem_future": "2"}

	res, updated, err := eng.ApplyInterpreted(sctx, "still the same problem", "problem_shifting_intro")
	if err != nil {
		t.Fatalf("ApplyInterpreted() error = %v", err)
	}
	if updated.CurrentStep != "scenario_check" {
		t.Fatalf("step = %s, want forced exit scenario_check", updated.CurrentStep)
	}
	if res.Reason != domain.ReasonLoopBound {
		t.Fatalf("reason = %s, want %s", res.Reason, domain.ReasonLoopBound)
	}
}

func TestApplyInterpretedRejectsNonInterpretedStep(t *testing.T) {
	eng := newTestEngine(t, Config{})
	sctx := sessionAt(domain.ModalityProblem, "problem_capture")

	_, _, err := eng.ApplyInterpreted(sctx, "whatever", "scenario_check")
	if !domain.IsIntegrity(err) {
		t.Fatalf("error = %v, want integrity violation", err)
	}
}

func TestTerminalStepClosesSession(t *testing.T) {
	eng := newTestEngine(t, Config{})

	// Walk into the terminal.
	sctx := sessionAt(domain.ModalityProblem, "integration_action")
	res, updated, err := eng.Advance(sctx, "I will speak up in the meeting tomorrow")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if updated.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", updated.Status)
	}
	if res.CanContinue {
		t.Fatal("CanContinue = true after completion")
	}
	if res.Reason != domain.ReasonCompleted {
		t.Fatalf("reason = %s, want %s", res.Reason, domain.ReasonCompleted)
	}

	// Any further turn is an error.
	_, _, err = eng.Advance(updated, "hello?")
	if !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("error = %v, want ErrSessionClosed", err)
	}
}

func TestAdvanceUnknownStepIsIntegrityError(t *testing.T) {
	eng := newTestEngine(t, Config{})
	sctx := sessionAt(domain.ModalityProblem, "not_a_step")

	_, _, err := eng.Advance(sctx, "hello")
	if !domain.IsIntegrity(err) {
		t.Fatalf("error = %v, want integrity violation", err)
	}
}

func TestPromptRendering(t *testing.T) {
	eng := newTestEngine(t, Config{})
	sctx := sessionAt(domain.ModalityProblem, "problem_shifting_intro")
	sctx.ProblemStatement = "fear of public speaking"

	prompt, err := eng.PromptFor(sctx)
	if err != nil {
		t.Fatalf("PromptFor() error = %v", err)
	}
	want := "Close your eyes and feel the problem of 'fear of public speaking'. What happens in you when you feel it?"
	if prompt != want {
		t.Fatalf("prompt = %q, want %q", prompt, want)
	}
}
