package engine

import (
	"strconv"
	"strings"

	"github.com/mindshift/protocol-engine/internal/domain"
	"github.com/mindshift/protocol-engine/internal/graph"
)

// Synonym sets for fixed-choice normalization. Matching is case-insensitive
// and ignores surrounding punctuation. Numbered shortcuts resolve by
// position against the current step's ordered choice list, so a stale "1"
// typed after the prompt changed is interpreted against the current step,
// never a remembered prior prompt.
var (
	yesWords = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "yup": true,
		"sure": true, "ok": true, "okay": true, "correct": true, "right": true,
		"definitely": true, "absolutely": true, "i do": true, "it is": true,
	}
	noWords = map[string]bool{
		"no": true, "n": true, "nope": true, "nah": true, "not really": true,
		"i don't": true, "i dont": true, "it isn't": true, "it isnt": true,
		"not at all": true, "gone": true,
	}
	maybeWords = map[string]bool{
		"maybe": true, "possibly": true, "perhaps": true, "not sure": true,
		"i'm not sure": true, "im not sure": true, "sort of": true,
		"kind of": true, "a little": true, "somewhat": true, "unsure": true,
	}
)

// modalityAliases maps method-selection inputs beyond the bare modality
// names.
var modalityAliases = map[string]domain.Modality{
	"problem shifting":  domain.ModalityProblem,
	"identity shifting": domain.ModalityIdentity,
	"belief shifting":   domain.ModalityBelief,
	"blockage shifting": domain.ModalityBlockage,
	"reality shifting":  domain.ModalityReality,
	"trauma shifting":   domain.ModalityTrauma,
}

// normalizeChoice resolves raw input against a fixed-choice step's declared
// edges. It reports the matched choice, or false when the input cannot be
// classified deterministically (the retry path).
func normalizeChoice(def *graph.StepDefinition, raw string) (graph.Choice, bool) {
	t := canon(raw)
	if t == "" {
		return "", false
	}

	// Numbered shortcut: position in the step's ordered choice list.
	if n, err := strconv.Atoi(t); err == nil {
		if n >= 1 && n <= len(def.Choices) {
			return def.Choices[n-1].Choice, true
		}
		return "", false
	}

	if def.Kind == graph.KindMethodSelect {
		if m, ok := domain.ParseModality(t); ok {
			return graph.Choice(m), true
		}
		if m, ok := modalityAliases[t]; ok {
			return graph.Choice(m), true
		}
		return "", false
	}

	var c graph.Choice
	switch {
	case yesWords[t]:
		c = graph.ChoiceYes
	case noWords[t]:
		c = graph.ChoiceNo
	case maybeWords[t]:
		c = graph.ChoiceMaybe
	default:
		return "", false
	}

	// "maybe" on a yes/no-maybe step without its own maybe edge shares the
	// yes arm; on a plain yes/no step it stays unclassified.
	if _, ok := def.Edge(c); !ok {
		if c == graph.ChoiceMaybe && def.Kind == graph.KindYesNoMaybe {
			c = graph.ChoiceYes
			if _, ok := def.Edge(c); ok {
				return c, true
			}
		}
		return "", false
	}
	return c, true
}

// canon lowercases and strips surrounding whitespace and punctuation.
func canon(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	return strings.Trim(t, ".,!? ")
}
