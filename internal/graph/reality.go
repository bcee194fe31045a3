package graph

import "github.com/mindshift/protocol-engine/internal/domain"

// Reality Shifting: works on a goal rather than a problem. The user feels
// the achieved goal, clears whatever stands in the way, and iterates until
// certainty holds.
func realityGraph() *Graph {
	return newGraph(domain.ModalityReality, "reality_goal_capture",
		&StepDefinition{
			ID:              "reality_goal_capture",
			Phase:           "intro",
			Kind:            KindFreeText,
			Prompt:          "Tell me what you want, in a few words.",
			Next:            "reality_shifting_intro",
			CapturesProblem: true,
		},
		&StepDefinition{
			ID:     "reality_shifting_intro",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel that you already have '{problem}'. What does it feel like?",
			Next:   "reality_step_a2",
		},
		&StepDefinition{
			ID:     "reality_step_a2",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel '{previous}'. What happens in you when you feel it?",
			Next:   "reality_why_not",
		},
		&StepDefinition{
			ID:     "reality_why_not",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "What's in the way of you having '{problem}'?",
			Next:   "reality_checking_questions",
		},
		&StepDefinition{
			ID:     "reality_checking_questions",
			Phase:  "work",
			Kind:   KindYesNo,
			Prompt: "Do you doubt you can have '{problem}'?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "reality_doubt_reason"},
				{Choice: ChoiceNo, Next: "reality_certainty_check"},
			},
		},
		&StepDefinition{
			ID:     "reality_doubt_reason",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "What is the reason for the doubt, in a few words?",
			Next:   "reality_certainty_check",
		},
		&StepDefinition{
			ID:     "reality_certainty_check",
			Phase:  "work",
			Kind:   KindDiggingLoop,
			Prompt: "Check in. Are you certain now that you can have '{problem}'?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "reality_integration_start"},
				{Choice: ChoiceNo, Next: "reality_doubt_reason"},
				{Choice: ChoiceMaybe, Next: "reality_doubt_reason"},
			},
			Loop: &LoopSpec{
				MaxIterations: 3,
				ContinueStep:  "reality_doubt_reason",
				ExitStep:      "reality_integration_start",
			},
		},
		&StepDefinition{
			ID:     "reality_integration_start",
			Phase:  "integration",
			Kind:   KindIntegration,
			Prompt: "Feel that you have '{problem}'. How do you feel about it now?",
			Next:   "reality_integration_action",
		},
		&StepDefinition{
			ID:     "reality_integration_action",
			Phase:  "integration",
			Kind:   KindIntegration,
			Prompt: "What is the first thing you will do to bring this into reality?",
			Next:   "reality_session_complete",
		},
		&StepDefinition{
			ID:     "reality_session_complete",
			Phase:  "complete",
			Kind:   KindTerminal,
			Prompt: "Well done. The session is complete.",
		},
	)
}
