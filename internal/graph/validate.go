package graph

import (
	"fmt"

	"github.com/mindshift/protocol-engine/internal/domain"
)

// Validate checks every graph's structural integrity at load time:
//
//   - every declared successor exists in the same graph;
//   - the entry step exists and reaches at least one terminal step;
//   - every digging loop declares a positive iteration bound, and both its
//     continue and exit steps exist;
//   - the graph is acyclic once digging-loop continue edges are excluded,
//     making bounded loops the only legal cycles;
//   - fixed-choice steps declare at least one edge, and free-text steps a
//     successor or interpretation targets.
//
// A validation failure means the graph data itself is broken; the registry
// refuses to construct rather than serving a defective graph.
func (r *Registry) Validate() error {
	for m, g := range r.graphs {
		if err := validateGraph(m, g); err != nil {
			return err
		}
	}
	return nil
}

func validateGraph(m domain.Modality, g *Graph) error {
	fail := func(step domain.StepID, format string, args ...any) error {
		return &domain.IntegrityError{
			Op:       "graph.validate",
			Modality: m,
			Step:     step,
			Detail:   fmt.Sprintf(format, args...),
		}
	}

	if _, ok := g.Step(g.Entry); !ok {
		return fail(g.Entry, "entry step not defined")
	}

	terminals := 0
	for _, id := range g.order {
		s := g.steps[id]
		for _, succ := range s.successors() {
			if _, ok := g.Step(succ); !ok {
				return fail(id, "successor %q not defined", succ)
			}
		}

		switch s.Kind {
		case KindTerminal:
			terminals++
			if len(s.successors()) != 0 {
				return fail(id, "terminal step declares successors")
			}
		case KindDiggingLoop:
			if s.Loop == nil {
				return fail(id, "digging loop without loop spec")
			}
			if s.Loop.MaxIterations < 1 {
				return fail(id, "digging loop with non-positive iteration bound %d", s.Loop.MaxIterations)
			}
			if len(s.Choices) == 0 {
				return fail(id, "digging loop without choice edges")
			}
		case KindYesNo, KindYesNoMaybe, KindMethodSelect:
			if len(s.Choices) == 0 {
				return fail(id, "fixed-choice step without choice edges")
			}
			if s.Kind == KindYesNo && len(s.Choices) != 2 {
				return fail(id, "yes/no step with %d edges, want 2", len(s.Choices))
			}
		case KindFreeText, KindIntegration:
			if s.NeedsInterpretation {
				if len(s.InterpretationTargets) == 0 {
					return fail(id, "interpreted step without interpretation targets")
				}
			} else if s.Next == "" {
				return fail(id, "free-text step without successor")
			}
		default:
			return fail(id, "unknown step kind %q", s.Kind)
		}

		if s.Loop != nil && s.Kind != KindDiggingLoop {
			return fail(id, "loop spec on non-loop step kind %q", s.Kind)
		}
	}

	if terminals == 0 {
		return fail("", "graph has no terminal step")
	}

	if err := checkAcyclic(m, g); err != nil {
		return err
	}
	return checkReachable(m, g)
}

// checkAcyclic runs a DFS over the static edges: choice edges, free-text
// successors, and loop exits. Two edge classes are excluded because they are
// legal, runtime-bounded cycles: digging-loop continue edges (bounded by the
// loop spec) and interpretation-target edges (chosen by the AI gate and
// bounded by the engine's re-entry counter). Any remaining cycle is illegal.
func checkAcyclic(m domain.Modality, g *Graph) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[domain.StepID]int, len(g.order))

	var visit func(id domain.StepID) error
	visit = func(id domain.StepID) error {
		color[id] = gray
		s := g.steps[id]
		for _, succ := range s.staticSuccessors() {
			switch color[succ] {
			case gray:
				return &domain.IntegrityError{
					Op:       "graph.validate",
					Modality: m,
					Step:     id,
					Detail:   fmt.Sprintf("cycle through %q not guarded by a digging loop", succ),
				}
			case white:
				if err := visit(succ); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkReachable verifies every step is reachable from the entry, so no
// orphan definitions linger in a graph.
func checkReachable(m domain.Modality, g *Graph) error {
	seen := make(map[domain.StepID]bool, len(g.order))
	stack := []domain.StepID{g.Entry}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, succ := range g.steps[id].successors() {
			if !seen[succ] {
				stack = append(stack, succ)
			}
		}
	}
	for _, id := range g.order {
		if !seen[id] {
			return &domain.IntegrityError{
				Op:       "graph.validate",
				Modality: m,
				Step:     id,
				Detail:   "step unreachable from entry",
			}
		}
	}
	return nil
}
