package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OllamaProvider implements the Provider interface against a local Ollama
// server. No API key; the base URL is the whole configuration.
type OllamaProvider struct {
	apiBase      string
	defaultModel string
	client       *http.Client
}

// NewOllamaProvider creates a provider talking to an Ollama server.
func NewOllamaProvider(apiBase, defaultModel string) *OllamaProvider {
	if apiBase == "" {
		apiBase = "http://localhost:11434"
	}
	if defaultModel == "" {
		defaultModel = "llama3.1"
	}
	return &OllamaProvider{
		apiBase:      apiBase,
		defaultModel: defaultModel,
		client:       &http.Client{},
	}
}

func (p *OllamaProvider) DefaultModel() string {
	return p.defaultModel
}

func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	body := map[string]any{
		"model":    model,
		"messages": req.Messages,
		"stream":   false,
		"options":  options,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := p.apiBase + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama http %d: %s", resp.StatusCode, string(respBody))
	}

	var raw struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		DoneReason      string `json:"done_reason"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
		Error           string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if raw.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", raw.Error)
	}

	return &ChatResponse{
		Content:      raw.Message.Content,
		FinishReason: raw.DoneReason,
		Usage: map[string]int{
			"prompt_tokens":     raw.PromptEvalCount,
			"completion_tokens": raw.EvalCount,
			"total_tokens":      raw.PromptEvalCount + raw.EvalCount,
		},
	}, nil
}
