package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaOracle implements Classifier and Interpreter against a local
// Ollama chat model. The model must be a text generation model (e.g.
// qwen2.5:7b), not an embedding model.
type OllamaOracle struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewOllamaOracle creates an oracle client for Ollama's chat API.
// timeout caps each call; 0 uses the default.
func NewOllamaOracle(baseURL, model string, timeout time.Duration) *OllamaOracle {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &OllamaOracle{
		baseURL: baseURL,
		model:   model,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout + 5*time.Second, // HTTP timeout slightly beyond per-call context timeout.
		},
	}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Format   string              `json:"format"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func (o *OllamaOracle) complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaChatRequest{
		Model: o.model,
		Messages: []ollamaChatMessage{
			{Role: "user", Content: prompt},
		},
		Format: "json",
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.Message.Content, nil
}

// Classify sends the classification prompt and strictly decodes the judgment.
func (o *OllamaOracle) Classify(ctx context.Context, req ClassifyRequest) (Judgment, error) {
	raw, err := o.complete(ctx, formatClassifyPrompt(req))
	if err != nil {
		return Judgment{}, classifyErr("ollama: %w", err)
	}

	var j Judgment
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return Judgment{}, classifyErr("ollama: decode judgment: %w", err)
	}
	if err := j.Validate(); err != nil {
		return Judgment{}, classifyErr("ollama: invalid judgment: %w", err)
	}
	return j, nil
}

// Interpret sends the interpretation prompt and strictly decodes the
// proposal set.
func (o *OllamaOracle) Interpret(ctx context.Context, req InterpretRequest) ([]Proposal, error) {
	raw, err := o.complete(ctx, formatInterpretPrompt(req))
	if err != nil {
		return nil, interpretErr("ollama: %w", err)
	}

	var env interpretEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, interpretErr("ollama: decode proposals: %w", err)
	}
	if err := ValidateProposals(env.Interpretations); err != nil {
		return nil, interpretErr("ollama: invalid proposals: %w", err)
	}
	return env.Interpretations, nil
}
