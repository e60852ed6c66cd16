package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidAPIKey is returned when OpenRouter rejects the credentials.
var ErrInvalidAPIKey = errors.New("API Key inválida")

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouterClient talks to the OpenRouter aggregator, which only speaks
// the OpenAI dialect.
type OpenRouterClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenRouterClient builds a client; baseURL may be empty for the
// public endpoint.
func NewOpenRouterClient(baseURL string, timeout time.Duration, logger *slog.Logger) *OpenRouterClient {
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenRouterClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "llm.openrouter"),
	}
}

// Chat sends a completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, apiKey string, req ChatRequest) (*ChatResponse, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	body := map[string]any{
		"model":       req.Model,
		"messages":    openAIMessages(req.Messages),
		"temperature": req.Temperature,
		"stream":      false,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.TopP > 0 {
		body["top_p"] = req.TopP
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("erro na API OpenRouter: %d - %s",
			resp.StatusCode, truncate(string(raw), 512))
	}

	var parsed struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content   string     `json:"content"`
				ToolCalls []toolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("resposta sem choices")
	}

	model := parsed.Model
	if model == "" {
		model = req.Model
	}
	total := parsed.Usage.TotalTokens
	if total == 0 {
		total = parsed.Usage.PromptTokens + parsed.Usage.CompletionTokens
	}
	choice := parsed.Choices[0]
	return &ChatResponse{
		Content:      choice.Message.Content,
		Model:        model,
		TokensInput:  parsed.Usage.PromptTokens,
		TokensOutput: parsed.Usage.CompletionTokens,
		TokensTotal:  total,
		ToolCalls:    toolNames(choice.Message.ToolCalls),
		FinishReason: choice.FinishReason,
		Dialect:      DialectOpenRouter,
		Elapsed:      time.Since(start),
	}, nil
}

// ListModels fetches the aggregator's catalog. A 401 maps to
// ErrInvalidAPIKey so callers can tell bad credentials from outages.
func (c *OpenRouterClient) ListModels(ctx context.Context, apiKey string) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidAPIKey
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("erro na API OpenRouter: %d - %s",
			resp.StatusCode, truncate(string(raw), 512))
	}

	var parsed struct {
		Data []struct {
			ID            string `json:"id"`
			Name          string `json:"name"`
			ContextLength int    `json:"context_length"`
			Architecture  struct {
				InputModalities []string `json:"input_modalities"`
			} `json:"architecture"`
			SupportedParameters []string `json:"supported_parameters"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	out := make([]ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		info := ModelInfo{
			ID:       m.ID,
			Nome:     m.Name,
			Contexto: m.ContextLength,
		}
		for _, mod := range m.Architecture.InputModalities {
			if mod == "image" {
				info.SuportaImagens = true
			}
		}
		for _, p := range m.SupportedParameters {
			if p == "tools" {
				info.SuportaFerramentas = true
			}
		}
		out = append(out, info)
	}
	return out, nil
}
