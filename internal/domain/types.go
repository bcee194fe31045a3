// Package domain defines the core types shared by the protocol engine:
// session contexts, step identifiers, per-turn results, and the canonical
// error taxonomy.
package domain

import (
	"strconv"
	"time"
)

// Modality identifies one of the six shifting methodologies. Each modality
// has its own step graph; a session is bound to exactly one modality for its
// lifetime once method selection completes.
type Modality string

const (
	ModalityProblem  Modality = "problem"
	ModalityIdentity Modality = "identity"
	ModalityBelief   Modality = "belief"
	ModalityBlockage Modality = "blockage"
	ModalityReality  Modality = "reality"
	ModalityTrauma   Modality = "trauma"
)

// Modalities lists every modality in method-selection order. The ordering is
// significant: numbered shortcuts ("1".."6") at the method-selection step
// resolve against this slice.
var Modalities = []Modality{
	ModalityProblem,
	ModalityIdentity,
	ModalityBelief,
	ModalityBlockage,
	ModalityReality,
	ModalityTrauma,
}

// ParseModality returns the modality matching s, case-insensitively.
func ParseModality(s string) (Modality, bool) {
	for _, m := range Modalities {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

// StepID names a position in a modality's step graph.
type StepID string

// MethodSelectStep is the pseudo-step a session occupies before a modality
// has been chosen. It does not belong to any modality graph.
const MethodSelectStep StepID = "method_select"

// SessionStatus tracks the lifecycle of a session context.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

// ResponseEntry is a single captured user input, keyed by the step that
// captured it. Iteration is non-zero for inputs captured on repeat visits
// inside a digging loop, so prior iterations are preserved rather than
// overwritten.
type ResponseEntry struct {
	Step      StepID    `json:"step"`
	Iteration int       `json:"iteration,omitempty"`
	Input     string    `json:"input"`
	At        time.Time `json:"at"`
}

// Key renders the iteration-scoped response key ("step" or "step#n").
func (r ResponseEntry) Key() string {
	if r.Iteration == 0 {
		return string(r.Step)
	}
	return string(r.Step) + "#" + strconv.Itoa(r.Iteration)
}

// Exchange is one prompt/input pair from the rendered transcript. The engine
// keeps a short tail of exchanges on the context for undo rendering and for
// the linguistic delegate's recent-turns window.
type Exchange struct {
	Step   StepID `json:"step"`
	Prompt string `json:"prompt"`
	Input  string `json:"input"`
}

// TranscriptTailLen bounds the transcript tail carried on a context.
const TranscriptTailLen = 8

// SessionContext is the full mutable state of one in-progress treatment
// session. The transition engine never mutates a context in place: every
// advance clones, mutates the clone, and hands the prior value to the
// history manager (copy-on-write).
type SessionContext struct {
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id"`
	Modality  Modality `json:"modality,omitempty"`
	Version   string   `json:"version,omitempty"`

	CurrentPhase string `json:"current_phase"`
	CurrentStep  StepID `json:"current_step"`

	UserResponses    []ResponseEntry   `json:"user_responses,omitempty"`
	ProblemStatement string            `json:"problem_statement,omitempty"`
	Transcript       []Exchange        `json:"transcript,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`

	Status           SessionStatus `json:"status"`
	StartTime        time.Time     `json:"start_time"`
	LastActivityTime time.Time     `json:"last_activity_time"`
}

// Clone returns a deep copy of the context. Slices and the metadata map are
// copied so the clone shares no mutable state with the original.
func (c *SessionContext) Clone() *SessionContext {
	out := *c
	if c.UserResponses != nil {
		out.UserResponses = make([]ResponseEntry, len(c.UserResponses))
		copy(out.UserResponses, c.UserResponses)
	}
	if c.Transcript != nil {
		out.Transcript = make([]Exchange, len(c.Transcript))
		copy(out.Transcript, c.Transcript)
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// LastResponse returns the most recently captured input for step, preferring
// the highest iteration. Returns "" when the step has no captured input.
func (c *SessionContext) LastResponse(step StepID) string {
	for i := len(c.UserResponses) - 1; i >= 0; i-- {
		if c.UserResponses[i].Step == step {
			return c.UserResponses[i].Input
		}
	}
	return ""
}

// AppendTranscript appends an exchange, evicting the oldest entry beyond the
// tail bound.
func (c *SessionContext) AppendTranscript(e Exchange) {
	c.Transcript = append(c.Transcript, e)
	if len(c.Transcript) > TranscriptTailLen {
		c.Transcript = c.Transcript[len(c.Transcript)-TranscriptTailLen:]
	}
}

// StepHistoryEntry is an immutable snapshot of a session context at a point
// in time, owned exclusively by the history manager.
type StepHistoryEntry struct {
	SessionID string          `json:"session_id"`
	Sequence  uint64          `json:"sequence"`
	Context   *SessionContext `json:"context"`
	TakenAt   time.Time       `json:"taken_at"`
}
