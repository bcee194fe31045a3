// Package guardrail validates step/input pairs against safety and content
// rules before the transition engine commits a turn. Evaluators are pure:
// no I/O, no mutation, so they can run speculatively.
package guardrail

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mindshift/protocol-engine/internal/domain"
	"github.com/mindshift/protocol-engine/internal/graph"
)

// Config carries the indicator lists and thresholds. Lists are injected from
// configuration so they can be hot-reloaded or replaced by a classifier
// without touching the evaluator contract.
type Config struct {
	// CrisisIndicators trip the safety check. Matched case-folded as
	// substrings of the input.
	CrisisIndicators []string

	// MinContentLen is the default minimum-content floor for free-text
	// capture steps. Per-step definitions may override it.
	MinContentLen int
}

// DefaultCrisisIndicators is the built-in indicator list, used when none is
// configured. The list follows the product's observed behavior.
var DefaultCrisisIndicators = []string{
	"kill myself",
	"end my life",
	"end it all",
	"end it",
	"suicide",
	"self harm",
	"self-harm",
	"hurt myself",
	"harm myself",
	"want to die",
	"wish i was dead",
	"no reason to live",
	"kill him",
	"kill her",
	"kill them",
}

// Evaluator applies the mandatory checks for every modality: content safety
// first, then the minimum-content floor, then per-modality heuristics.
type Evaluator struct {
	mu         sync.RWMutex
	indicators []string
	minContent int
}

// New builds an evaluator from config, falling back to the built-in
// indicator list and a 5-character floor.
func New(cfg Config) *Evaluator {
	e := &Evaluator{
		indicators: cfg.CrisisIndicators,
		minContent: cfg.MinContentLen,
	}
	if len(e.indicators) == 0 {
		e.indicators = DefaultCrisisIndicators
	}
	if e.minContent <= 0 {
		e.minContent = 5
	}
	return e
}

// Evaluate validates input for a step. Safety takes precedence over every
// other rule: an input that trips both a crisis indicator and the content
// floor reports the safety outcome.
func (e *Evaluator) Evaluate(modality domain.Modality, step *graph.StepDefinition, input string, prior []domain.Exchange) domain.ValidationResult {
	if ind, hit := e.safetyScan(input); hit {
		return domain.ValidationResult{
			IsValid: false,
			Code:    domain.ReasonSafety,
			Error:   fmt.Sprintf("input matched crisis indicator %q", ind),
		}
	}

	if step.FreeText() {
		floor := step.MinContentLen
		if floor <= 0 {
			floor = e.contentFloor()
		}
		if len(strings.TrimSpace(input)) < floor {
			return domain.ValidationResult{
				IsValid: false,
				Code:    domain.ReasonTooShort,
				Error:   fmt.Sprintf("input below %d-character minimum", floor),
				Suggestions: []string{
					"Try describing it in a short sentence.",
				},
			}
		}
	}

	return domain.ValidationResult{
		IsValid:    true,
		Confidence: e.confidence(modality, step, input),
	}
}

// ReplaceIndicators swaps in a new crisis indicator list. Used when the
// config file is hot-reloaded; an empty list restores the built-in default.
func (e *Evaluator) ReplaceIndicators(indicators []string) {
	if len(indicators) == 0 {
		indicators = DefaultCrisisIndicators
	}
	e.mu.Lock()
	e.indicators = indicators
	e.mu.Unlock()
}

// SetContentFloor replaces the default minimum-content floor. Non-positive
// values are ignored. Per-step overrides are unaffected.
func (e *Evaluator) SetContentFloor(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	e.minContent = n
	e.mu.Unlock()
}

func (e *Evaluator) contentFloor() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.minContent
}

// safetyScan returns the first matched indicator, case-folded.
func (e *Evaluator) safetyScan(input string) (string, bool) {
	folded := strings.ToLower(input)
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ind := range e.indicators {
		if strings.Contains(folded, ind) {
			return ind, true
		}
	}
	return "", false
}

// confidence scores how well the input fits the step's expectations. The
// score is advisory: low confidence is an escalation signal for the AI gate,
// never a rejection on its own.
func (e *Evaluator) confidence(modality domain.Modality, step *graph.StepDefinition, input string) float64 {
	if !step.FreeText() {
		return 1.0
	}

	score := 1.0
	trimmed := strings.TrimSpace(input)
	words := strings.Fields(trimmed)

	// Very short answers on capture steps tend to need interpretation.
	if step.CapturesProblem && len(words) < 3 {
		score -= 0.3
	}

	// A question back at the script is a sign the user is off-script.
	if strings.HasSuffix(trimmed, "?") {
		score -= 0.4
	}

	// Trauma work expects past-event statements; present-tense "I am"
	// openings usually mean the user is describing a current problem.
	if modality == domain.ModalityTrauma && step.CapturesProblem {
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "i am ") || strings.HasPrefix(lower, "i'm ") {
			score -= 0.2
		}
	}

	if score < 0 {
		score = 0
	}
	return score
}
