package graph

import "github.com/mindshift/protocol-engine/internal/domain"

// Trauma Shifting: for single past events. The user is never asked to relive
// the event; the work targets the identity formed in it. A comfort check
// gates entry, and an uncomfortable user is redirected to framing the event
// as a present-day problem instead.
func traumaGraph() *Graph {
	return newGraph(domain.ModalityTrauma, "trauma_capture",
		&StepDefinition{
			ID:              "trauma_capture",
			Phase:           "intro",
			Kind:            KindFreeText,
			Prompt:          "In a few words, what happened?",
			Next:            "trauma_shifting_intro",
			CapturesProblem: true,
		},
		&StepDefinition{
			ID:     "trauma_shifting_intro",
			Phase:  "intro",
			Kind:   KindYesNo,
			Prompt: "Are you comfortable briefly recalling the event? You will not need to relive it.",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "trauma_identity_step"},
				{Choice: ChoiceNo, Next: "trauma_problem_redirect"},
			},
		},
		&StepDefinition{
			ID:               "trauma_problem_redirect",
			Phase:            "intro",
			Kind:             KindFreeText,
			Prompt:           "That's fine. Instead, tell me how this affects you today, as a problem in the present.",
			Next:             "trauma_identity_step",
			RedefinesProblem: true,
		},
		&StepDefinition{
			ID:     "trauma_identity_step",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "As you remember it, what kind of person are you being?",
			Next:   "trauma_dissolve_step_a",
		},
		&StepDefinition{
			ID:     "trauma_dissolve_step_a",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel yourself being '{previous}'. What does it feel like?",
			Next:   "trauma_dissolve_step_b",
		},
		&StepDefinition{
			ID:     "trauma_dissolve_step_b",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel '{previous}'. What happens in you when you feel it?",
			Next:   "trauma_dissolve_step_c",
		},
		&StepDefinition{
			ID:     "trauma_dissolve_step_c",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Step out of that identity and watch it dissolve. What remains?",
			Next:   "trauma_identity_check",
		},
		&StepDefinition{
			ID:     "trauma_identity_check",
			Phase:  "work",
			Kind:   KindDiggingLoop,
			Prompt: "Can you still feel yourself being that person?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "trauma_dissolve_step_d"},
				{Choice: ChoiceNo, Next: "trauma_future_check"},
			},
			Loop: &LoopSpec{
				MaxIterations: 3,
				ContinueStep:  "trauma_dissolve_step_d",
				ExitStep:      "trauma_future_check",
			},
		},
		&StepDefinition{
			ID:     "trauma_dissolve_step_d",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel the part that is still there. What does it feel like?",
			Next:   "trauma_identity_check",
		},
		&StepDefinition{
			ID:     "trauma_future_check",
			Phase:  "digging",
			Kind:   KindYesNo,
			Prompt: "If something similar happened in the future, would you be okay?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "trauma_integration_start"},
				{Choice: ChoiceNo, Next: "trauma_restate"},
			},
		},
		&StepDefinition{
			ID:                  "trauma_restate",
			Phase:               "digging",
			Kind:                KindFreeText,
			Prompt:              "Say what would still trouble you about it, in a few words.",
			NeedsInterpretation: true,
			InterpretationTargets: []domain.StepID{
				"trauma_identity_step",
				"trauma_integration_start",
			},
			RedefinesProblem: true,
		},
		&StepDefinition{
			ID:     "trauma_integration_start",
			Phase:  "integration",
			Kind:   KindIntegration,
			Prompt: "How do you feel about the whole thing now? What are you more aware of?",
			Next:   "trauma_integration_action",
		},
		&StepDefinition{
			ID:     "trauma_integration_action",
			Phase:  "integration",
			Kind:   KindIntegration,
			Prompt: "What needs to happen to carry this forward?",
			Next:   "trauma_session_complete",
		},
		&StepDefinition{
			ID:     "trauma_session_complete",
			Phase:  "complete",
			Kind:   KindTerminal,
			Prompt: "Well done. The session is complete.",
		},
	)
}
