package domain

import "fmt"

// ReasonCode categorizes why a turn resolved the way it did. Codes are
// surfaced on ProcessingResult and ValidationResult so callers can route
// safety outcomes to a different UX path than ordinary retries.
type ReasonCode string

const (
	ReasonScripted        ReasonCode = "scripted"
	ReasonCompleted       ReasonCode = "session_complete"
	ReasonUnrecognized    ReasonCode = "unrecognized_choice"
	ReasonTooShort        ReasonCode = "content_too_short"
	ReasonSafety          ReasonCode = "safety_flagged"
	ReasonAmbiguous       ReasonCode = "needs_interpretation"
	ReasonDelegateTimeout ReasonCode = "delegate_timeout"
	ReasonDelegateInvalid ReasonCode = "delegate_invalid_step"
	ReasonDelegateDoubt   ReasonCode = "delegate_low_confidence"
	ReasonLoopBound       ReasonCode = "loop_bound_reached"
)

// ProcessingResult is the engine's per-turn output. A well-formed result is
// in exactly one of four modes: scripted (ScriptedResponse set), escalation
// (NeedsLinguisticProcessing), retry (RequiresRetry), or safety-flagged
// (SafetyFlagged). Validate enforces the exclusivity.
type ProcessingResult struct {
	CanContinue               bool       `json:"can_continue"`
	NextStep                  StepID     `json:"next_step,omitempty"`
	ScriptedResponse          string     `json:"scripted_response,omitempty"`
	NeedsLinguisticProcessing bool       `json:"needs_linguistic_processing,omitempty"`
	RequiresRetry             bool       `json:"requires_retry,omitempty"`
	SafetyFlagged             bool       `json:"safety_flagged,omitempty"`
	TriggeredAI               bool       `json:"triggered_ai,omitempty"`
	Reason                    ReasonCode `json:"reason"`
	Detail                    string     `json:"detail,omitempty"`
}

// Validate checks the mode-exclusivity invariant. A violation means the
// engine itself is broken and is treated as fatal by callers, never
// defaulted around.
func (r *ProcessingResult) Validate() error {
	modes := 0
	if r.ScriptedResponse != "" {
		modes++
	}
	if r.NeedsLinguisticProcessing {
		modes++
	}
	if r.RequiresRetry {
		modes++
	}
	if r.SafetyFlagged {
		modes++
	}
	if modes != 1 {
		return &IntegrityError{
			Op:     "result.validate",
			Detail: fmt.Sprintf("processing result in %d modes (reason=%s), want exactly 1", modes, r.Reason),
		}
	}
	return nil
}

// ValidationResult is the guardrail evaluator's verdict on a step/input
// pair. Confidence is advisory: values below the configured threshold are an
// escalation signal for the AI gate, not a rejection.
type ValidationResult struct {
	IsValid     bool       `json:"is_valid"`
	Code        ReasonCode `json:"code,omitempty"`
	Error       string     `json:"error,omitempty"`
	Confidence  float64    `json:"confidence,omitempty"`
	Suggestions []string   `json:"suggestions,omitempty"`
}

// SafetyEvent is emitted exactly once per turn whose input trips a crisis
// indicator. Delivery must never block the user-facing response.
type SafetyEvent struct {
	EventID   string     `json:"event_id"`
	SessionID string     `json:"session_id"`
	UserID    string     `json:"user_id"`
	Step      StepID     `json:"step"`
	Indicator string     `json:"indicator"`
	Code      ReasonCode `json:"code"`
}
