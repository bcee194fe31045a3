// Package graph holds the versioned step graph registry: the static
// definitions of every modality's steps, their kinds, and their transition
// rules. Registries are immutable after construction and shared across all
// sessions without locking.
package graph

import (
	"errors"
	"fmt"

	"github.com/mindshift/protocol-engine/internal/domain"
)

// ErrStepNotFound is returned by Lookup for a step id not present in the
// modality's graph. Whether that is fatal is the caller's call: the engine
// treats it as an integrity violation when the id came from a live context.
var ErrStepNotFound = errors.New("step not found")

// Kind classifies a step's input handling and transition rule.
type Kind string

const (
	// KindYesNo expects a yes/no answer with a declared successor per choice.
	KindYesNo Kind = "yes_no"

	// KindYesNoMaybe additionally accepts "maybe", which shares the yes arm
	// unless the step declares its own edge for it.
	KindYesNoMaybe Kind = "yes_no_maybe"

	// KindFreeText captures free text. The successor is either the declared
	// Next or, when NeedsInterpretation is set, resolved by the AI gate.
	KindFreeText Kind = "free_text"

	// KindMethodSelect is the modality-selection step a session occupies
	// before it is bound to a graph.
	KindMethodSelect Kind = "method_select"

	// KindDiggingLoop is a bounded loop entry: a fixed-choice step whose
	// continue edge re-enters the loop body. The only legal cycles in a
	// graph pass through a step of this kind.
	KindDiggingLoop Kind = "digging_loop"

	// KindIntegration is a free-text closing step with a single successor.
	KindIntegration Kind = "integration"

	// KindTerminal ends the session.
	KindTerminal Kind = "terminal"
)

// Choice is a normalized fixed-choice answer.
type Choice string

const (
	ChoiceYes   Choice = "yes"
	ChoiceNo    Choice = "no"
	ChoiceMaybe Choice = "maybe"
)

// ChoiceEdge maps one normalized choice to its successor step. Edges are
// ordered; numbered shortcuts ("1", "2", ...) resolve by position.
type ChoiceEdge struct {
	Choice Choice
	Next   domain.StepID
}

// LoopSpec bounds a digging loop. ContinueStep re-enters the loop body and
// ExitStep is forced once MaxIterations is reached, regardless of input.
type LoopSpec struct {
	MaxIterations int
	ContinueStep  domain.StepID
	ExitStep      domain.StepID
}

// StepDefinition declares one step of a modality's graph.
type StepDefinition struct {
	ID     domain.StepID
	Phase  string
	Kind   Kind
	Prompt string

	// Choices holds the per-choice successors for fixed-choice kinds.
	Choices []ChoiceEdge

	// Next is the single successor for free-text and integration steps that
	// do not need interpretation.
	Next domain.StepID

	// NeedsInterpretation marks a free-text step whose successor depends on
	// semantics the script cannot resolve. The sole path into AI escalation.
	NeedsInterpretation bool

	// InterpretationTargets restricts which successors the AI gate may
	// accept for this step. Empty means any step in the modality's graph.
	InterpretationTargets []domain.StepID

	// Loop is set on KindDiggingLoop steps only.
	Loop *LoopSpec

	// MinContentLen overrides the configured minimum-content floor for this
	// step. Zero means use the configured default.
	MinContentLen int

	// CapturesProblem marks the step whose input becomes the session's
	// canonical problem statement. RedefinesProblem marks the explicit
	// redefine steps that may amend it later.
	CapturesProblem  bool
	RedefinesProblem bool
}

// Edge returns the successor for a normalized choice, if declared.
func (s *StepDefinition) Edge(c Choice) (domain.StepID, bool) {
	for _, e := range s.Choices {
		if e.Choice == c {
			return e.Next, true
		}
	}
	return "", false
}

// FixedChoice reports whether the step resolves input against a declared
// choice set.
func (s *StepDefinition) FixedChoice() bool {
	switch s.Kind {
	case KindYesNo, KindYesNoMaybe, KindMethodSelect, KindDiggingLoop:
		return true
	}
	return false
}

// FreeText reports whether the step captures free text subject to the
// minimum-content guardrail.
func (s *StepDefinition) FreeText() bool {
	return s.Kind == KindFreeText || s.Kind == KindIntegration
}

// Graph is one modality's immutable step graph.
type Graph struct {
	Modality domain.Modality
	Entry    domain.StepID

	steps map[domain.StepID]*StepDefinition
	order []domain.StepID
}

func newGraph(m domain.Modality, entry domain.StepID, steps ...*StepDefinition) *Graph {
	g := &Graph{
		Modality: m,
		Entry:    entry,
		steps:    make(map[domain.StepID]*StepDefinition, len(steps)),
		order:    make([]domain.StepID, 0, len(steps)),
	}
	for _, s := range steps {
		g.steps[s.ID] = s
		g.order = append(g.order, s.ID)
	}
	return g
}

// Step returns the definition for id.
func (g *Graph) Step(id domain.StepID) (*StepDefinition, bool) {
	s, ok := g.steps[id]
	return s, ok
}

// Steps returns the step ids in declaration order.
func (g *Graph) Steps() []domain.StepID {
	out := make([]domain.StepID, len(g.order))
	copy(out, g.order)
	return out
}

// successors returns every declared outgoing edge of a step, including
// interpretation targets and loop edges.
func (s *StepDefinition) successors() []domain.StepID {
	var out []domain.StepID
	for _, e := range s.Choices {
		out = append(out, e.Next)
	}
	if s.Next != "" {
		out = append(out, s.Next)
	}
	out = append(out, s.InterpretationTargets...)
	if s.Loop != nil {
		out = append(out, s.Loop.ContinueStep, s.Loop.ExitStep)
	}
	return out
}

// staticSuccessors returns the successors that participate in the static
// cycle check: everything except digging-loop continue edges and
// interpretation-target edges, whose cycles are bounded at runtime.
func (s *StepDefinition) staticSuccessors() []domain.StepID {
	var out []domain.StepID
	for _, e := range s.Choices {
		if s.Loop != nil && e.Next == s.Loop.ContinueStep {
			continue
		}
		out = append(out, e.Next)
	}
	if s.Next != "" {
		out = append(out, s.Next)
	}
	if s.Loop != nil {
		out = append(out, s.Loop.ExitStep)
	}
	return out
}

// Registry holds every modality's graph plus the shared method-selection
// step. Immutable after New.
type Registry struct {
	graphs       map[domain.Modality]*Graph
	methodSelect *StepDefinition
}

// Option customizes registry construction.
type Option func(*Registry)

// WithGraphOverride replaces a modality's built-in graph. Version presets
// use this when a protocol revision diverges structurally; none of the
// current presets do.
func WithGraphOverride(g *Graph) Option {
	return func(r *Registry) {
		r.graphs[g.Modality] = g
	}
}

// New builds and validates the registry with every built-in modality graph.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		graphs: map[domain.Modality]*Graph{
			domain.ModalityProblem:  problemGraph(),
			domain.ModalityIdentity: identityGraph(),
			domain.ModalityBelief:   beliefGraph(),
			domain.ModalityBlockage: blockageGraph(),
			domain.ModalityReality:  realityGraph(),
			domain.ModalityTrauma:   traumaGraph(),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.methodSelect = methodSelectStep(r)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// MustNew is New for static wiring where a build error is a programmer
// mistake.
func MustNew(opts ...Option) *Registry {
	r, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup resolves a step within a modality's graph.
func (r *Registry) Lookup(m domain.Modality, id domain.StepID) (*StepDefinition, error) {
	g, ok := r.graphs[m]
	if !ok {
		return nil, fmt.Errorf("lookup %s/%s: unknown modality: %w", m, id, ErrStepNotFound)
	}
	s, ok := g.Step(id)
	if !ok {
		return nil, fmt.Errorf("lookup %s/%s: %w", m, id, ErrStepNotFound)
	}
	return s, nil
}

// Contains reports whether id is a member of the modality's graph.
func (r *Registry) Contains(m domain.Modality, id domain.StepID) bool {
	_, err := r.Lookup(m, id)
	return err == nil
}

// Graph returns a modality's graph.
func (r *Registry) Graph(m domain.Modality) (*Graph, error) {
	g, ok := r.graphs[m]
	if !ok {
		return nil, fmt.Errorf("graph %s: %w", m, ErrStepNotFound)
	}
	return g, nil
}

// Entry returns the modality's entry step id.
func (r *Registry) Entry(m domain.Modality) (domain.StepID, error) {
	g, err := r.Graph(m)
	if err != nil {
		return "", err
	}
	return g.Entry, nil
}

// MethodSelect returns the shared method-selection step.
func (r *Registry) MethodSelect() *StepDefinition {
	return r.methodSelect
}

// methodSelectStep builds the selection step whose ordered choices map each
// modality to its graph entry.
func methodSelectStep(r *Registry) *StepDefinition {
	s := &StepDefinition{
		ID:    domain.MethodSelectStep,
		Phase: "selection",
		Kind:  KindMethodSelect,
		Prompt: "Which method would you like to work with today?\n" +
			"1. Problem Shifting\n2. Identity Shifting\n3. Belief Shifting\n" +
			"4. Blockage Shifting\n5. Reality Shifting\n6. Trauma Shifting",
	}
	for _, m := range domain.Modalities {
		if g, ok := r.graphs[m]; ok {
			s.Choices = append(s.Choices, ChoiceEdge{Choice: Choice(m), Next: g.Entry})
		}
	}
	return s
}
