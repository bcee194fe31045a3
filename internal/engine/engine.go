// Package engine implements the transition engine: given a session context
// and raw user input, it consults the step graph registry and the guardrail
// evaluator and produces a per-turn processing result. The engine is pure
// and copy-on-write: it never mutates the context it is given, and the
// target of ≥95% of turns is deterministic resolution without the AI gate.
package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mindshift/protocol-engine/internal/domain"
	"github.com/mindshift/protocol-engine/internal/graph"
	"github.com/mindshift/protocol-engine/internal/guardrail"
)

// Config carries the engine tunables that vary by protocol version preset.
type Config struct {
	// LoopBoundOverride, when positive, caps every digging loop regardless
	// of the bound declared in the graph. Zero uses each loop's own bound.
	LoopBoundOverride int

	// InterpretReentryBound caps how many times the AI gate may route an
	// interpreted step back into earlier work before the engine forces the
	// step's exit target. Defaults to 3.
	InterpretReentryBound int
}

// Engine resolves turns against the step graphs.
type Engine struct {
	registry *graph.Registry
	guard    *guardrail.Evaluator
	cfg      Config
	now      func() time.Time
}

// New builds an engine. The registry and guardrail evaluator are required.
func New(registry *graph.Registry, guard *guardrail.Evaluator, cfg Config) *Engine {
	if cfg.InterpretReentryBound <= 0 {
		cfg.InterpretReentryBound = 3
	}
	return &Engine{
		registry: registry,
		guard:    guard,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Registry exposes the engine's registry, primarily for the AI gate's
// proposal validation.
func (e *Engine) Registry() *graph.Registry { return e.registry }

// Advance processes one turn. On a successful transition it returns the
// result plus the updated context; for retry, safety, and escalation
// outcomes the returned context is nil and the caller's context is
// unchanged. Fatal integrity violations and closed sessions are returned as
// errors.
func (e *Engine) Advance(sctx *domain.SessionContext, rawInput string) (domain.ProcessingResult, *domain.SessionContext, error) {
	if sctx.Status != domain.StatusActive {
		return domain.ProcessingResult{}, nil, domain.ErrSessionClosed
	}
	def, err := e.currentStep(sctx)
	if err != nil {
		return domain.ProcessingResult{}, nil, err
	}
	if def.Kind == graph.KindTerminal {
		return domain.ProcessingResult{}, nil, domain.ErrSessionClosed
	}

	// Guardrails run before any transition logic. Safety failures are a
	// distinct outcome, never retried and never escalated.
	vr := e.guard.Evaluate(sctx.Modality, def, rawInput, sctx.Transcript)
	if !vr.IsValid && vr.Code == domain.ReasonSafety {
		return e.finish(domain.ProcessingResult{
			CanContinue:   false,
			SafetyFlagged: true,
			Reason:        domain.ReasonSafety,
			Detail:        vr.Error,
		}, nil)
	}

	if def.FixedChoice() {
		return e.advanceFixedChoice(sctx, def, rawInput)
	}
	return e.advanceFreeText(sctx, def, rawInput, vr)
}

func (e *Engine) advanceFixedChoice(sctx *domain.SessionContext, def *graph.StepDefinition, rawInput string) (domain.ProcessingResult, *domain.SessionContext, error) {
	reason := domain.ReasonScripted

	var next domain.StepID
	if def.Loop != nil && e.loopIterations(sctx, def.ID) >= e.loopBound(def) {
		// Bound reached: force the exit regardless of input content.
		next = def.Loop.ExitStep
		reason = domain.ReasonLoopBound
	} else {
		choice, ok := normalizeChoice(def, rawInput)
		if !ok {
			return e.finish(domain.ProcessingResult{
				CanContinue:   true,
				RequiresRetry: true,
				Reason:        domain.ReasonUnrecognized,
				Detail:        fmt.Sprintf("could not match input to a %s choice", def.Kind),
			}, nil)
		}
		next, _ = def.Edge(choice)
	}

	updated := e.apply(sctx, def, rawInput)

	if def.Kind == graph.KindMethodSelect {
		m, _ := domain.ParseModality(string(mustChoice(def, next)))
		updated.Modality = m
	}

	if def.Loop != nil && next == def.Loop.ContinueStep {
		e.bumpCounter(updated, loopKey(def.ID))
	}

	return e.commit(updated, def, next, reason)
}

func (e *Engine) advanceFreeText(sctx *domain.SessionContext, def *graph.StepDefinition, rawInput string, vr domain.ValidationResult) (domain.ProcessingResult, *domain.SessionContext, error) {
	if !vr.IsValid {
		return e.finish(domain.ProcessingResult{
			CanContinue:   true,
			RequiresRetry: true,
			Reason:        vr.Code,
			Detail:        vr.Error,
		}, nil)
	}

	if def.NeedsInterpretation {
		// The sole path into the AI escalation gate.
		return e.finish(domain.ProcessingResult{
			CanContinue:               true,
			NeedsLinguisticProcessing: true,
			Reason:                    domain.ReasonAmbiguous,
			Detail:                    fmt.Sprintf("step %s requires semantic interpretation (confidence %.2f)", def.ID, vr.Confidence),
		}, nil)
	}

	updated := e.apply(sctx, def, rawInput)
	return e.commit(updated, def, def.Next, domain.ReasonScripted)
}

// ApplyInterpreted commits a turn whose successor was resolved by the AI
// gate. The target has already been validated against the registry; the
// engine still enforces the re-entry bound so gate-driven cycles terminate.
func (e *Engine) ApplyInterpreted(sctx *domain.SessionContext, rawInput string, target domain.StepID) (domain.ProcessingResult, *domain.SessionContext, error) {
	if sctx.Status != domain.StatusActive {
		return domain.ProcessingResult{}, nil, domain.ErrSessionClosed
	}
	def, err := e.currentStep(sctx)
	if err != nil {
		return domain.ProcessingResult{}, nil, err
	}
	if !def.NeedsInterpretation {
		return domain.ProcessingResult{}, nil, &domain.IntegrityError{
			Op: "engine.applyInterpreted", Modality: sctx.Modality, Step: def.ID,
			Detail: "step does not accept interpreted transitions",
		}
	}

	reason := domain.ReasonScripted
	exit := def.InterpretationTargets[len(def.InterpretationTargets)-1]
	updated := e.apply(sctx, def, rawInput)
	if target != exit {
		if e.counter(sctx, reentryKey(def.ID)) >= e.cfg.InterpretReentryBound {
			target = exit
			reason = domain.ReasonLoopBound
		} else {
			e.bumpCounter(updated, reentryKey(def.ID))
		}
	}

	res, out, err := e.commit(updated, def, target, reason)
	if err != nil {
		return res, out, err
	}
	res.TriggeredAI = true
	return res, out, nil
}

// PromptFor renders the prompt of the context's current step, used for
// retry re-prompts and undo rendering.
func (e *Engine) PromptFor(sctx *domain.SessionContext) (string, error) {
	def, err := e.currentStep(sctx)
	if err != nil {
		return "", err
	}
	return renderPrompt(def, sctx), nil
}

// currentStep resolves the context's position, treating an unknown step as a
// fatal integrity violation rather than a recoverable error.
func (e *Engine) currentStep(sctx *domain.SessionContext) (*graph.StepDefinition, error) {
	if sctx.Modality == "" {
		if sctx.CurrentStep != domain.MethodSelectStep {
			return nil, &domain.IntegrityError{
				Op: "engine.currentStep", Step: sctx.CurrentStep,
				Detail: "session without modality is not at method selection",
			}
		}
		return e.registry.MethodSelect(), nil
	}
	def, err := e.registry.Lookup(sctx.Modality, sctx.CurrentStep)
	if err != nil {
		return nil, &domain.IntegrityError{
			Op: "engine.currentStep", Modality: sctx.Modality, Step: sctx.CurrentStep,
			Detail: err.Error(),
		}
	}
	return def, nil
}

// apply clones the context and records the captured input: the response
// entry, transcript tail, problem statement capture, and activity time.
// The caller's context is never touched.
func (e *Engine) apply(sctx *domain.SessionContext, def *graph.StepDefinition, rawInput string) *domain.SessionContext {
	updated := sctx.Clone()
	now := e.now()

	updated.UserResponses = append(updated.UserResponses, domain.ResponseEntry{
		Step:      def.ID,
		Iteration: responseIteration(sctx, def.ID),
		Input:     rawInput,
		At:        now,
	})
	updated.AppendTranscript(domain.Exchange{
		Step:   def.ID,
		Prompt: renderPrompt(def, sctx),
		Input:  rawInput,
	})

	if def.CapturesProblem && updated.ProblemStatement == "" {
		updated.ProblemStatement = strings.TrimSpace(rawInput)
	} else if def.RedefinesProblem {
		updated.ProblemStatement = strings.TrimSpace(rawInput)
	}

	updated.LastActivityTime = now
	return updated
}

// commit moves the updated context onto the successor step and builds the
// scripted result. The successor must exist; anything else is a graph
// integrity violation.
func (e *Engine) commit(updated *domain.SessionContext, from *graph.StepDefinition, next domain.StepID, reason domain.ReasonCode) (domain.ProcessingResult, *domain.SessionContext, error) {
	nextDef, err := e.registry.Lookup(updated.Modality, next)
	if err != nil {
		return domain.ProcessingResult{}, nil, &domain.IntegrityError{
			Op: "engine.commit", Modality: updated.Modality, Step: from.ID,
			Detail: fmt.Sprintf("successor %q: %v", next, err),
		}
	}

	updated.CurrentStep = next
	updated.CurrentPhase = nextDef.Phase

	res := domain.ProcessingResult{
		CanContinue:      true,
		NextStep:         next,
		ScriptedResponse: renderPrompt(nextDef, updated),
		Reason:           reason,
	}
	if nextDef.Kind == graph.KindTerminal {
		updated.Status = domain.StatusCompleted
		res.CanContinue = false
		res.Reason = domain.ReasonCompleted
	}
	return e.finish(res, updated)
}

// finish validates the mode-exclusivity invariant on every result the
// engine emits. A violation is an engine defect and fails loudly.
func (e *Engine) finish(res domain.ProcessingResult, updated *domain.SessionContext) (domain.ProcessingResult, *domain.SessionContext, error) {
	if err := res.Validate(); err != nil {
		return domain.ProcessingResult{}, nil, err
	}
	return res, updated, nil
}

func (e *Engine) loopBound(def *graph.StepDefinition) int {
	if e.cfg.LoopBoundOverride > 0 {
		return e.cfg.LoopBoundOverride
	}
	return def.Loop.MaxIterations
}

func (e *Engine) loopIterations(sctx *domain.SessionContext, step domain.StepID) int {
	return e.counter(sctx, loopKey(step))
}

func (e *Engine) counter(sctx *domain.SessionContext, key string) int {
	if sctx.Metadata == nil {
		return 0
	}
	n, _ := strconv.Atoi(sctx.Metadata[key])
	return n
}

func (e *Engine) bumpCounter(sctx *domain.SessionContext, key string) {
	if sctx.Metadata == nil {
		sctx.Metadata = make(map[string]string)
	}
	n, _ := strconv.Atoi(sctx.Metadata[key])
	sctx.Metadata[key] = strconv.Itoa(n + 1)
}

func loopKey(step domain.StepID) string    { return "loop:" + string(step) }
func reentryKey(step domain.StepID) string { return "reentry:" + string(step) }

// responseIteration counts how many inputs the step has already captured,
// so repeat digging-loop visits get iteration-scoped keys.
func responseIteration(sctx *domain.SessionContext, step domain.StepID) int {
	n := 0
	for _, r := range sctx.UserResponses {
		if r.Step == step {
			n++
		}
	}
	return n
}

// renderPrompt substitutes the context's problem statement and most recent
// captured input into a step's prompt template.
func renderPrompt(def *graph.StepDefinition, sctx *domain.SessionContext) string {
	p := def.Prompt
	if strings.Contains(p, "{problem}") {
		p = strings.ReplaceAll(p, "{problem}", sctx.ProblemStatement)
	}
	if strings.Contains(p, "{previous}") {
		prev := ""
		if n := len(sctx.UserResponses); n > 0 {
			prev = sctx.UserResponses[n-1].Input
		}
		p = strings.ReplaceAll(p, "{previous}", prev)
	}
	return p
}

// mustChoice maps a successor step back to the choice that selected it.
// Only used for method selection, where the choice names the modality.
func mustChoice(def *graph.StepDefinition, next domain.StepID) graph.Choice {
	for _, e := range def.Choices {
		if e.Next == next {
			return e.Choice
		}
	}
	return ""
}
