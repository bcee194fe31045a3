package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-backed delegate.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string

	// HTTPClient overrides the transport, used by the record/replay test
	// harness.
	HTTPClient *http.Client
}

// OpenAIInterpreter resolves ambiguity through the chat completions API,
// asking for a JSON verdict constrained to the allowed steps.
type OpenAIInterpreter struct {
	client *openai.Client
	model  string
}

var _ Interpreter = (*OpenAIInterpreter)(nil)

// NewOpenAIInterpreter builds the delegate client.
func NewOpenAIInterpreter(cfg OpenAIConfig) (*OpenAIInterpreter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIInterpreter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

const systemPrompt = `You classify one user reply inside a structured coaching session.
Given the session's problem statement, the recent exchanges, and the reason the reply is ambiguous, decide which step the session should move to next.
You must choose next_step from the allowed steps only.
Respond with a JSON object: {"next_step": string, "rationale": string, "confidence": number between 0 and 1}.`

// Interpret implements Interpreter.
func (o *OpenAIInterpreter) Interpret(ctx context.Context, req Request) (Proposal, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("delegate call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Proposal{}, fmt.Errorf("delegate returned no choices")
	}

	var p Proposal
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &p); err != nil {
		return Proposal{}, fmt.Errorf("parse delegate verdict: %w", err)
	}
	return p, nil
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem statement: %s\n", req.ProblemStatement)
	fmt.Fprintf(&b, "Ambiguity: %s\n", req.AmbiguityReason)
	if len(req.RecentTurns) > 0 {
		b.WriteString("Recent exchanges:\n")
		for _, t := range req.RecentTurns {
			fmt.Fprintf(&b, "  coach: %s\n  user: %s\n", t.Prompt, t.Input)
		}
	}
	fmt.Fprintf(&b, "User reply to classify: %s\n", req.RawInput)
	b.WriteString("Allowed steps:\n")
	for _, s := range req.AllowedSteps {
		fmt.Fprintf(&b, "  - %s\n", s)
	}
	return b.String()
}
