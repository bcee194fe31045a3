package graph

import "github.com/mindshift/protocol-engine/internal/domain"

// Belief Shifting: surface the belief underneath the problem, weaken it by
// alternating between feeling the belief and feeling its opposite, then test
// whether it still holds.
func beliefGraph() *Graph {
	return newGraph(domain.ModalityBelief, "belief_capture",
		&StepDefinition{
			ID:              "belief_capture",
			Phase:           "intro",
			Kind:            KindFreeText,
			Prompt:          "Tell me what the problem is in a few words.",
			Next:            "belief_shifting_intro",
			CapturesProblem: true,
		},
		&StepDefinition{
			ID:     "belief_shifting_intro",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel the problem of '{problem}'. What do you believe about yourself or the world that makes this a problem?",
			Next:   "belief_step_a",
		},
		&StepDefinition{
			ID:     "belief_step_a",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel yourself believing '{previous}'. What does it feel like?",
			Next:   "belief_step_b",
		},
		&StepDefinition{
			ID:     "belief_step_b",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "What would you rather believe?",
			Next:   "belief_step_c",
		},
		&StepDefinition{
			ID:     "belief_step_c",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel yourself believing '{previous}'. What does that feel like?",
			Next:   "belief_step_d",
		},
		&StepDefinition{
			ID:     "belief_step_d",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel '{previous}'. What happens in you when you feel it?",
			Next:   "belief_check",
		},
		&StepDefinition{
			ID:     "belief_check",
			Phase:  "work",
			Kind:   KindDiggingLoop,
			Prompt: "Do you still believe the original belief?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "belief_step_f"},
				{Choice: ChoiceNo, Next: "belief_future_check"},
			},
			Loop: &LoopSpec{
				MaxIterations: 3,
				ContinueStep:  "belief_step_f",
				ExitStep:      "belief_future_check",
			},
		},
		&StepDefinition{
			ID:     "belief_step_f",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel the part of the belief that is still there. What does it feel like?",
			Next:   "belief_check",
		},
		&StepDefinition{
			ID:     "belief_future_check",
			Phase:  "digging",
			Kind:   KindYesNoMaybe,
			Prompt: "Do you think this belief could come back?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "belief_restate"},
				{Choice: ChoiceMaybe, Next: "belief_restate"},
				{Choice: ChoiceNo, Next: "belief_integration_start"},
			},
		},
		&StepDefinition{
			ID:                  "belief_restate",
			Phase:               "digging",
			Kind:                KindFreeText,
			Prompt:              "Say what you believe now, in a few words.",
			NeedsInterpretation: true,
			InterpretationTargets: []domain.StepID{
				"belief_shifting_intro",
				"belief_integration_start",
			},
			RedefinesProblem: true,
		},
		&StepDefinition{
			ID:     "belief_integration_start",
			Phase:  "integration",
			Kind:   KindIntegration,
			Prompt: "How do you feel about the whole thing now? What are you more aware of?",
			Next:   "belief_integration_action",
		},
		&StepDefinition{
			ID:     "belief_integration_action",
			Phase:  "integration",
			Kind:   KindIntegration,
			Prompt: "What needs to happen to act from what you believe now?",
			Next:   "belief_session_complete",
		},
		&StepDefinition{
			ID:     "belief_session_complete",
			Phase:  "complete",
			Kind:   KindTerminal,
			Prompt: "Well done. The session is complete.",
		},
	)
}
