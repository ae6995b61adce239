package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// defaultCallTimeout caps a single oracle round-trip when no timeout
// is configured. Separate from the caller's batch context so one slow
// call doesn't starve the rest of the batch; a timeout surfaces as a
// retryable ClassificationError.
const defaultCallTimeout = 60 * time.Second

// OpenAIOracle implements Classifier and Interpreter against the
// OpenAI chat completions API, forcing JSON-object responses.
type OpenAIOracle struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIOracle creates an oracle client. model defaults to
// gpt-4o-mini when empty. baseURL overrides the API endpoint for
// OpenAI-compatible gateways; leave empty for api.openai.com. timeout
// caps each call; 0 uses the default.
func NewOpenAIOracle(apiKey, model, baseURL string, timeout time.Duration) *OpenAIOracle {
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIOracle{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
	}
}

func (o *OpenAIOracle) complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Classify sends the classification prompt and strictly decodes the
// judgment. Any transport or schema failure is a *ClassificationError.
func (o *OpenAIOracle) Classify(ctx context.Context, req ClassifyRequest) (Judgment, error) {
	raw, err := o.complete(ctx, formatClassifyPrompt(req))
	if err != nil {
		return Judgment{}, classifyErr("openai: %w", err)
	}

	var j Judgment
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return Judgment{}, classifyErr("openai: decode judgment: %w", err)
	}
	if err := j.Validate(); err != nil {
		return Judgment{}, classifyErr("openai: invalid judgment: %w", err)
	}
	return j, nil
}

// interpretEnvelope is the wire shape of an interpretation response.
type interpretEnvelope struct {
	Interpretations []Proposal `json:"interpretations"`
}

// Interpret sends the interpretation prompt and strictly decodes the
// proposal set. Zero proposals is a legal response.
func (o *OpenAIOracle) Interpret(ctx context.Context, req InterpretRequest) ([]Proposal, error) {
	raw, err := o.complete(ctx, formatInterpretPrompt(req))
	if err != nil {
		return nil, interpretErr("openai: %w", err)
	}

	var env interpretEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, interpretErr("openai: decode proposals: %w", err)
	}
	if err := ValidateProposals(env.Interpretations); err != nil {
		return nil, interpretErr("openai: invalid proposals: %w", err)
	}
	return env.Interpretations, nil
}
