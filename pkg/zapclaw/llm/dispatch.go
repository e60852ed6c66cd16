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

	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// HTTPError is a non-2xx answer from a provider endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("erro HTTP %d: %s", e.Status, e.Body)
}

// Dispatcher reaches local providers. The wire dialect is discovered per
// request: the OpenAI chat API is tried first and, when the endpoint does
// not exist there, the Ollama native API is tried on the same base URL.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewDispatcher builds a dispatcher with the given request timeout.
func NewDispatcher(timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "llm.dispatch"),
	}
}

// ── URL normalization ──
//
// Operators paste base URLs with or without the dialect segment; both
// http://host:11434 and http://host:11434/v1 must work, and the segment
// is never doubled.

func openAIChatURL(base string) string {
	base = strings.TrimSuffix(strings.TrimRight(base, "/"), "/api")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/chat/completions"
}

func openAIModelsURL(base string) string {
	base = strings.TrimSuffix(strings.TrimRight(base, "/"), "/api")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/models"
}

func ollamaChatURL(base string) string {
	base = strings.TrimSuffix(strings.TrimRight(base, "/"), "/v1")
	if !strings.HasSuffix(base, "/api") {
		base += "/api"
	}
	return base + "/chat"
}

func ollamaTagsURL(base string) string {
	base = strings.TrimSuffix(strings.TrimRight(base, "/"), "/v1")
	if !strings.HasSuffix(base, "/api") {
		base += "/api"
	}
	return base + "/tags"
}

// Chat sends the request to the provider, probing dialects. When both
// dialects fail, the error that is not a plain 404 wins: a missing route
// only means the dialect guess was wrong.
func (d *Dispatcher) Chat(ctx context.Context, p *store.Provider, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, openAIErr := d.chatOpenAI(ctx, p, req)
	if openAIErr == nil {
		resp.Elapsed = time.Since(start)
		return resp, nil
	}

	d.logger.Debug("dialeto openai falhou, tentando ollama",
		"provedor", p.Nome, "err", openAIErr)

	resp, ollamaErr := d.chatOllama(ctx, p, req)
	if ollamaErr == nil {
		resp.Elapsed = time.Since(start)
		return resp, nil
	}
	return nil, preferDialectError(openAIErr, ollamaErr)
}

func preferDialectError(openAIErr, ollamaErr error) error {
	var he *HTTPError
	if errors.As(openAIErr, &he) && (he.Status == http.StatusNotFound || he.Status == http.StatusMethodNotAllowed) {
		return ollamaErr
	}
	return openAIErr
}

// toolCall is the tool-request shape shared by both dialects.
type toolCall struct {
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

func toolNames(calls []toolCall) []string {
	if len(calls) == 0 {
		return nil
	}
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		if c.Function.Name != "" {
			names = append(names, c.Function.Name)
		}
	}
	return names
}

func (d *Dispatcher) chatOpenAI(ctx context.Context, p *store.Provider, req ChatRequest) (*ChatResponse, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": openAIMessages(req.Messages),
		"stream":   false,
	}
	body["temperature"] = req.Temperature
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.TopP > 0 {
		body["top_p"] = req.TopP
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
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
	if err := d.postJSON(ctx, openAIChatURL(p.BaseURL), p.APIKey, body, &parsed); err != nil {
		return nil, err
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
		Dialect:      DialectOpenAI,
	}, nil
}

func openAIMessages(msgs []Message) []any {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Images) == 0 {
			out = append(out, map[string]any{"role": m.Role, "content": m.Content})
			continue
		}
		parts := []any{map[string]any{"type": "text", "text": m.Content}}
		for _, img := range m.Images {
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": "data:image/jpeg;base64," + img},
			})
		}
		out = append(out, map[string]any{"role": m.Role, "content": parts})
	}
	return out
}

func (d *Dispatcher) chatOllama(ctx context.Context, p *store.Provider, req ChatRequest) (*ChatResponse, error) {
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.TopP > 0 {
		options["top_p"] = req.TopP
	}
	if req.TopK > 0 {
		options["top_k"] = req.TopK
	}
	if req.RepeatPenalty > 0 {
		options["repeat_penalty"] = req.RepeatPenalty
	}
	if len(req.Stop) > 0 {
		options["stop"] = req.Stop
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   false,
		"options":  options,
	}

	var parsed struct {
		Model   string `json:"model"`
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []toolCall `json:"tool_calls"`
		} `json:"message"`
		DoneReason      string `json:"done_reason"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := d.postJSON(ctx, ollamaChatURL(p.BaseURL), p.APIKey, body, &parsed); err != nil {
		return nil, err
	}

	model := parsed.Model
	if model == "" {
		model = req.Model
	}
	return &ChatResponse{
		Content:      parsed.Message.Content,
		Model:        model,
		TokensInput:  parsed.PromptEvalCount,
		TokensOutput: parsed.EvalCount,
		TokensTotal:  parsed.PromptEvalCount + parsed.EvalCount,
		ToolCalls:    toolNames(parsed.Message.ToolCalls),
		FinishReason: parsed.DoneReason,
		Dialect:      DialectOllama,
	}, nil
}

// ListModels fetches the provider's model catalog, probing dialects the
// same way Chat does. Ollama models never advertise tool support.
func (d *Dispatcher) ListModels(ctx context.Context, p *store.Provider) ([]ModelInfo, error) {
	models, openAIErr := d.listOpenAI(ctx, p)
	if openAIErr == nil {
		return models, nil
	}

	models, ollamaErr := d.listOllama(ctx, p)
	if ollamaErr == nil {
		return models, nil
	}
	return nil, preferDialectError(openAIErr, ollamaErr)
}

func (d *Dispatcher) listOpenAI(ctx context.Context, p *store.Provider) ([]ModelInfo, error) {
	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := d.getJSON(ctx, openAIModelsURL(p.BaseURL), p.APIKey, &parsed); err != nil {
		return nil, err
	}

	out := make([]ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		out = append(out, ModelInfo{
			ID:                 m.ID,
			Nome:               m.ID,
			SuportaImagens:     visionModel(m.ID),
			SuportaFerramentas: true,
		})
	}
	return out, nil
}

func (d *Dispatcher) listOllama(ctx context.Context, p *store.Provider) ([]ModelInfo, error) {
	var parsed struct {
		Models []struct {
			Name    string `json:"name"`
			Size    int64  `json:"size"`
			Details struct {
				QuantizationLevel string `json:"quantization_level"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := d.getJSON(ctx, ollamaTagsURL(p.BaseURL), p.APIKey, &parsed); err != nil {
		return nil, err
	}

	out := make([]ModelInfo, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		out = append(out, ModelInfo{
			ID:             m.Name,
			Nome:           m.Name,
			SuportaImagens: visionModel(m.Name),
			TamanhoBytes:   m.Size,
			Quantizacao:    m.Details.QuantizationLevel,
		})
	}
	return out, nil
}

func visionModel(id string) bool {
	id = strings.ToLower(id)
	return strings.Contains(id, "llava") || strings.Contains(id, "bakllava")
}

// Probe checks whether the provider answers at all.
func (d *Dispatcher) Probe(ctx context.Context, p *store.Provider) error {
	_, err := d.ListModels(ctx, p)
	return err
}

// ── transport helpers ──

func (d *Dispatcher) postJSON(ctx context.Context, url, apiKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return d.do(req, out)
}

func (d *Dispatcher) getJSON(ctx context.Context, url, apiKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return d.do(req, out)
}

func (d *Dispatcher) do(req *http.Request, out any) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
