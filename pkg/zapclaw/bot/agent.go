package bot

import (
	"context"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/llm"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// resolveAgent returns the session's active agent, or nil when none is
// selected or the selected one was disabled.
func (o *Orchestrator) resolveAgent(sess *store.Session) *store.Agent {
	if sess.AgenteAtivoID == 0 {
		return nil
	}
	a, err := o.store.Agents.GetByID(sess.AgenteAtivoID)
	if err != nil || !a.Ativo {
		return nil
	}
	return a
}

// buildChatRequest assembles the completion request. Parameters layer:
// per-session overrides beat the agent's values, which beat the settings
// defaults. The model id may stay empty, routing fills it in.
func (o *Orchestrator) buildChatRequest(sess *store.Session, agent *store.Agent, history []*store.Message, userMsg llm.Message) llm.ChatRequest {
	systemPrompt := o.store.Settings.GetString("agente_prompt_padrao", "")
	model := sess.ModeloLLM
	temperature := o.store.Settings.GetFloat("agente_temperatura_padrao", 0.7)
	maxTokens := o.store.Settings.GetInt("agente_max_tokens_padrao", 1000)
	topP := o.store.Settings.GetFloat("agente_top_p_padrao", 0)

	if agent != nil {
		if agent.PromptSistema != "" {
			systemPrompt = agent.PromptSistema
		}
		if model == "" {
			model = agent.ModeloLLM
		}
		temperature = agent.Temperatura
		maxTokens = agent.MaxTokens
	}
	if sess.Temperatura != nil {
		temperature = *sess.Temperatura
	}
	if sess.MaxTokens != nil {
		maxTokens = *sess.MaxTokens
	}
	if sess.TopP != nil {
		topP = *sess.TopP
	}

	messages := make([]llm.Message, 0, len(history)*2+2)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		if m.ConteudoTexto != "" {
			messages = append(messages, llm.Message{Role: "user", Content: m.ConteudoTexto})
		}
		if m.Respondida && m.RespostaTexto != "" {
			messages = append(messages, llm.Message{Role: "assistant", Content: m.RespostaTexto})
		}
	}
	messages = append(messages, userMsg)

	return llm.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		TopP:        topP,
	}
}

// invokeAgent asks the routing engine for a completion. The history is
// passed in because it must be read before the current message lands in
// the table, or the user turn would appear twice.
func (o *Orchestrator) invokeAgent(ctx context.Context, sess *store.Session, history []*store.Message, userMsg llm.Message) (*llm.Result, error) {
	agent := o.resolveAgent(sess)
	req := o.buildChatRequest(sess, agent, history, userMsg)
	return o.engine.Chat(ctx, req)
}
