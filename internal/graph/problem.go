package graph

import "github.com/mindshift/protocol-engine/internal/domain"

// Problem Shifting: dissolve an ordinary problem by cycling attention
// between the felt problem and the felt solution state until the problem no
// longer registers, then dig for residuals and integrate.
func problemGraph() *Graph {
	return newGraph(domain.ModalityProblem, "problem_capture",
		&StepDefinition{
			ID:              "problem_capture",
			Phase:           "intro",
			Kind:            KindFreeText,
			Prompt:          "Tell me what the problem is in a few words.",
			Next:            "problem_shifting_intro",
			CapturesProblem: true,
		},
		&StepDefinition{
			ID:     "problem_shifting_intro",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Close your eyes and feel the problem of '{problem}'. What happens in you when you feel it?",
			Next:   "body_sensation_check",
		},
		&StepDefinition{
			ID:     "body_sensation_check",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel '{previous}'. What happens in you when you feel it?",
			Next:   "what_needs_to_happen_step",
		},
		&StepDefinition{
			ID:     "what_needs_to_happen_step",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel the problem of '{problem}'. What needs to happen for this to not be a problem?",
			Next:   "feel_solution_state",
		},
		&StepDefinition{
			ID:     "feel_solution_state",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "What would you feel like if '{previous}' had already happened?",
			Next:   "feel_good_state",
		},
		&StepDefinition{
			ID:     "feel_good_state",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel '{previous}'. What does it feel like?",
			Next:   "what_happens_step",
		},
		&StepDefinition{
			ID:     "what_happens_step",
			Phase:  "work",
			Kind:   KindFreeText,
			Prompt: "Feel '{previous}'. What happens in you when you feel it?",
			Next:   "check_if_still_problem",
		},
		&StepDefinition{
			ID:     "check_if_still_problem",
			Phase:  "work",
			Kind:   KindDiggingLoop,
			Prompt: "Feel the problem of '{problem}'. Does it still feel like a problem?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "problem_shifting_intro"},
				{Choice: ChoiceNo, Next: "digging_deeper_start"},
			},
			Loop: &LoopSpec{
				MaxIterations: 3,
				ContinueStep:  "problem_shifting_intro",
				ExitStep:      "digging_deeper_start",
			},
		},
		&StepDefinition{
			ID:     "digging_deeper_start",
			Phase:  "digging",
			Kind:   KindYesNoMaybe,
			Prompt: "Do you feel the problem might come back in the future?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "restate_problem_future"},
				{Choice: ChoiceMaybe, Next: "restate_problem_future"},
				{Choice: ChoiceNo, Next: "scenario_check"},
			},
		},
		&StepDefinition{
			ID:                  "restate_problem_future",
			Phase:               "digging",
			Kind:                KindFreeText,
			Prompt:              "Tell me how the problem feels now, in a few words.",
			NeedsInterpretation: true,
			InterpretationTargets: []domain.StepID{
				"problem_shifting_intro",
				"scenario_check",
			},
			RedefinesProblem: true,
		},
		&StepDefinition{
			ID:     "scenario_check",
			Phase:  "digging",
			Kind:   KindYesNo,
			Prompt: "Is there any scenario in which this would still be a problem for you?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "restate_problem_future"},
				{Choice: ChoiceNo, Next: "anything_else_check"},
			},
		},
		&StepDefinition{
			ID:     "anything_else_check",
			Phase:  "digging",
			Kind:   KindDiggingLoop,
			Prompt: "Is there anything else about this that is still a problem for you?",
			Choices: []ChoiceEdge{
				{Choice: ChoiceYes, Next: "restate_problem_future"},
				{Choice: ChoiceNo, Next: "integration_start"},
			},
			Loop: &LoopSpec{
				MaxIterations: 3,
				ContinueStep:  "restate_problem_future",
				ExitStep:      "integration_start",
			},
		},
		&StepDefinition{
			ID:     "integration_start",
			Phase:  "integration",
			Kind:   KindIntegration,
			Prompt: "Take a moment. How do you feel about the whole thing now? What are you more aware of?",
			Next:   "integration_action",
		},
		&StepDefinition{
			ID:     "integration_action",
			Phase:  "integration",
			Kind:   KindIntegration,
			Prompt: "What needs to happen for you to put this new awareness into action?",
			Next:   "problem_session_complete",
		},
		&StepDefinition{
			ID:     "problem_session_complete",
			Phase:  "complete",
			Kind:   KindTerminal,
			Prompt: "Well done. The session is complete. Notice how '{problem}' feels different now.",
		},
	)
}
