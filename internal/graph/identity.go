package graph

import "github.com/mindshift/protocol-engine/internal/domain"

// Identity Shifting: dissolve the identity the user is "being" while the
// problem runs, then check whether the identity can still be felt, whether
// it might return, and integrate.
func identityGraph() *Graph {
	return newGraph(domain.ModalityIdentity, "identity_capture",
		&StepDefinition{
			ID:              "identity_capture",
			Phase:           "intro",
			Kind:            KindFreeText,
			Prompt:          "Tell me what the problem is in a few words.",
			Next:            "identity_shifting_intro",
			CapturesProblem: true,
		},
		&StepDefinition{
			ID:     "identity_shifting_intro",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel the problem of '{problem}'. What kind of person are you being when you feel it?",
			Next:   "identity_dissolve_step_a",
		},
		&StepDefinition{
			ID:     "identity_dissolve_step_a",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel yourself being '{previous}'. What does it feel like?",
			Next:   "identity_dissolve_step_b",
		},
		&StepDefinition{
			ID:     "identity_dissolve_step_b",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel '{previous}'. What happens in you when you feel it?",
			Next:   "identity_dissolve_step_c",
		},
		&StepDefinition{
			ID:     "identity_dissolve_step_c",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Step out of that identity and look back at it. What do you see?",
			Next:   "identity_dissolve_step_d",
		},
		&StepDefinition{
			ID:     "identity_dissolve_step_d",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Watch it dissolve. What remains as it dissolves?",
			Next:   "identity_dissolve_step_e",
		},
		&StepDefinition{
			ID:     "identity_dissolve_step_e",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel what remains. What does it feel like now?",
			Next:   "identity_check",
		},
		&StepDefinition{
			ID:     "identity_check",
			Phase:  "work",
			Kind:   KindDiggingLoop,
			Prompt: "Can you still feel yourself being that identity?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "identity_dissolve_step_f"},
				{Choice: ChoiceNo, Next: "identity_future_check"},
			},
			Loop: &LoopSpec{
				MaxIterations: 3,
				ContinueStep:  "identity_dissolve_step_f",
				ExitStep:      "identity_future_check",
			},
		},
		&StepDefinition{
			ID:     "identity_dissolve_step_f",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel the part of it that is still there. What does it feel like?",
			Next:   "identity_check",
		},
		&StepDefinition{
			ID:     "identity_future_check",
			Phase:  "digging",
			Kind:   KindYesNo,
			Prompt: "Do you think this identity might come back in the future?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "identity_future_clear"},
				{Choice: ChoiceNo, Next: "identity_scenario_check"},
			},
		},
		&StepDefinition{
			ID:     "identity_future_clear",
			Phase:  "digging",
			Kind:   KindFreeText,
			Prompt: "Imagine a future moment where it tries to come back. What happens instead, now?",
			Next:   "identity_scenario_check",
		},
		&StepDefinition{
			ID:     "identity_scenario_check",
			Phase:  "digging",
			Kind:   KindYesNo,
			Prompt: "Is there any scenario in which you would still be that person?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "identity_scenario_clear"},
				{Choice: ChoiceNo, Next: "identity_integration_start"},
			},
		},
		&StepDefinition{
			ID:     "identity_scenario_clear",
			Phase:  "digging",
			Kind:   KindFreeText,
			Prompt: "Put yourself in that scenario. Who are you being instead, now?",
			Next:   "identity_integration_start",
		},
		&StepDefinition{
			ID:     "identity_integration_start",
			Phase:  "integration",
			Kind:   KindIntegration,
			Prompt: "How do you feel about the whole thing now? What are you more aware of?",
			Next:   "identity_integration_action",
		},
		&StepDefinition{
			ID:     "identity_integration_action",
			Phase:  "integration",
			Kind:   KindIntegration,
			Prompt: "What needs to happen for you to live from this new place?",
			Next:   "identity_session_complete",
		},
		&StepDefinition{
			ID:     "identity_session_complete",
			Phase:  "complete",
			Kind:   KindTerminal,
			Prompt: "Well done. The session is complete.",
		},
	)
}
