package graph

import "github.com/mindshift/protocol-engine/internal/domain"

// Blockage Shifting: for problems that feel stuck rather than active. The
// user alternates between the blocked feeling and the wanted feeling until
// the blockage releases.
func blockageGraph() *Graph {
	return newGraph(domain.ModalityBlockage, "blockage_capture",
		&StepDefinition{
			ID:              "blockage_capture",
			Phase:           "intro",
			Kind:            KindFreeText,
			Prompt:          "Tell me what the problem is in a few words.",
			Next:            "blockage_shifting_intro",
			CapturesProblem: true,
		},
		&StepDefinition{
			ID:     "blockage_shifting_intro",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel the problem of '{problem}'. Where do you feel stuck when you feel it?",
			Next:   "blockage_step_b",
		},
		&StepDefinition{
			ID:     "blockage_step_b",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel '{previous}'. What would you rather feel instead?",
			Next:   "blockage_step_c",
		},
		&StepDefinition{
			ID:     "blockage_step_c",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel '{previous}'. What does it feel like?",
			Next:   "blockage_step_d",
		},
		&StepDefinition{
			ID:     "blockage_step_d",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel '{previous}'. What happens to the stuck feeling when you feel this?",
			Next:   "blockage_check",
		},
		&StepDefinition{
			ID:     "blockage_check",
			Phase:  "work",
			Kind:   KindDiggingLoop,
			Prompt: "Check in. Is the problem still there?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "blockage_shifting_intro"},
				{Choice: ChoiceNo, Next: "blockage_anything_else"},
			},
			Loop: &LoopSpec{
				MaxIterations: 4,
				ContinueStep:  "blockage_shifting_intro",
				ExitStep:      "blockage_anything_else",
			},
		},
		&StepDefinition{
			ID:     "blockage_anything_else",
			Phase:  "digging",
			Kind:   KindYesNo,
			Prompt: "Is there anything else about this that still feels stuck?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "blockage_restate"},
				{Choice: ChoiceNo, Next: "blockage_integration_start"},
			},
		},
		&StepDefinition{
			ID:                  "blockage_restate",
			Phase:               "digging",
			Kind:                KindFreeText,
			Prompt:              "Say what still feels stuck, in a few words.",
			NeedsInterpretation: true,
			InterpretationTargets: []domain.StepID{
				"blockage_shifting_intro",
				"blockage_integration_start",
			},
			RedefinesProblem: true,
		},
		&StepDefinition{
			ID:     "blockage_integration_start",
			Phase:  "integration",
			Kind:   KindIntegration,
			Prompt: "How do you feel about the whole thing now? What are you more aware of?",
			Next:   "blockage_integration_action",
		},
		&StepDefinition{
			ID:     "blockage_integration_action",
			Phase:  "integration",
			Kind:   KindIntegration,
			Prompt: "What needs to happen to keep moving freely with this?",
			Next:   "blockage_session_complete",
		},
		&StepDefinition{
			ID:     "blockage_session_complete",
			Phase:  "complete",
			Kind:   KindTerminal,
			Prompt: "Well done. The session is complete.",
		},
	)
}
