// Package llm talks to the configured language-model providers. Local
// providers are reached through a dialect-probing dispatcher that speaks
// both the OpenAI chat API and the Ollama native API; the OpenRouter
// aggregator has its own client. The Engine on top picks a provider per
// request and falls back to OpenRouter when the primary fails.
package llm

import (
	"errors"
	"time"
)

var (
	// ErrNoProvider means routing found nothing able to serve the request.
	ErrNoProvider = errors.New("nenhum provedor de LLM disponível")
	// ErrNoAPIKey means a route required OpenRouter but no key is set.
	ErrNoAPIKey = errors.New("API Key do OpenRouter não configurada")
)

// Message is one chat turn. Images carry base64 payloads for vision
// models and are translated per dialect.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ChatRequest is a dialect-neutral completion request. Zero-valued
// sampling fields are omitted from the wire request.
type ChatRequest struct {
	Model         string
	Messages      []Message
	Temperature   float64
	MaxTokens     int
	TopP          float64
	TopK          int
	RepeatPenalty float64
	Stop          []string
}

// Wire dialects recorded on ChatResponse.Dialect.
const (
	DialectOpenAI     = "openai"
	DialectOllama     = "ollama"
	DialectOpenRouter = "openrouter"
)

// ChatResponse is the dialect-neutral completion result.
type ChatResponse struct {
	Content      string
	Model        string
	TokensInput  int
	TokensOutput int
	TokensTotal  int
	// ToolCalls names the tools the model asked for. Nothing executes
	// them; they are recorded on the message row.
	ToolCalls    []string
	FinishReason string
	// Dialect is the wire protocol that produced the answer.
	Dialect string
	Elapsed time.Duration
}

// ModelInfo describes one model advertised by a provider.
type ModelInfo struct {
	ID                 string
	Nome               string
	Contexto           int
	SuportaImagens     bool
	SuportaFerramentas bool
	TamanhoBytes       int64
	Quantizacao        string
}

// Result is what the Engine hands back to callers: the completion plus
// which provider served it and why it was chosen. ErroOriginal is only
// set when the answer came from the OpenRouter fallback.
type Result struct {
	ChatResponse
	ProvedorUsado string
	Motivo        string
	ErroOriginal  string
}

// Routing motives recorded on every Result.
const (
	MotivoConfigLocal      = "configuracao_local"
	MotivoConfigOpenRouter = "configuracao_openrouter"
	MotivoAutoLocal        = "auto_local"
	MotivoModeloEspecifico = "modelo_especifico_openrouter"
	MotivoFallbackPadrao   = "fallback_padrao"
)
