package webui

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/llm"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// ── Dashboard ──

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
		return
	}

	sessions, err := s.store.Sessions.List()
	if err != nil {
		writeError(w, err)
		return
	}

	view := dashboardView{Canais: []channelHealth{}}
	for _, sess := range sessions {
		view.Sessoes.Total++
		if sess.Ativa {
			view.Sessoes.Ativas++
		}

		total, respondidas, err := s.store.Messages.CountBySession(sess.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		view.Mensagens.Total += total
		view.Mensagens.Respondidas += respondidas

		health, running := s.runner.Health(sess.ID)
		if !running {
			continue
		}
		if health.Connected {
			view.Sessoes.Conectadas++
		}
		view.Canais = append(view.Canais, channelHealth{
			SessaoID:       sess.ID,
			Nome:           sess.Nome,
			Canal:          sess.Canal,
			Conectado:      health.Connected,
			Erros:          health.ErrorCount,
			UltimaMensagem: health.LastMessageAt,
		})
	}

	agents, err := s.store.Agents.ListActive()
	if err != nil {
		writeError(w, err)
		return
	}
	providers, err := s.store.Providers.ListActive()
	if err != nil {
		writeError(w, err)
		return
	}
	view.Agentes = len(agents)
	view.Provedores = len(providers)

	writeJSON(w, http.StatusOK, view)
}

// ── Sessions ──

// sessionBody carries the mutable session fields of create and update
// requests. Pointers distinguish absent fields from zero values.
type sessionBody struct {
	Nome          *string  `json:"nome"`
	Telefone      *string  `json:"telefone"`
	Canal         *string  `json:"canal"`
	TokenBot      *string  `json:"token_bot"`
	Ativa         *bool    `json:"ativa"`
	AutoResponder *bool    `json:"auto_responder"`
	SalvarHist    *bool    `json:"salvar_historico"`
	AgenteAtivoID *int64   `json:"agente_ativo_id"`
	ModeloLLM     *string  `json:"modelo_llm"`
	Temperatura   *float64 `json:"temperatura"`
	MaxTokens     *int     `json:"max_tokens"`
	TopP          *float64 `json:"top_p"`
}

func (b *sessionBody) apply(sess *store.Session) {
	if b.Nome != nil {
		sess.Nome = strings.TrimSpace(*b.Nome)
	}
	if b.Telefone != nil {
		sess.Telefone = *b.Telefone
	}
	if b.Canal != nil {
		sess.Canal = *b.Canal
	}
	if b.TokenBot != nil {
		sess.TokenBot = *b.TokenBot
	}
	if b.Ativa != nil {
		sess.Ativa = *b.Ativa
	}
	if b.AutoResponder != nil {
		sess.AutoResponder = *b.AutoResponder
	}
	if b.SalvarHist != nil {
		sess.SalvarHist = *b.SalvarHist
	}
	if b.AgenteAtivoID != nil {
		sess.AgenteAtivoID = *b.AgenteAtivoID
	}
	if b.ModeloLLM != nil {
		sess.ModeloLLM = *b.ModeloLLM
	}
	if b.Temperatura != nil {
		sess.Temperatura = b.Temperatura
	}
	if b.MaxTokens != nil {
		sess.MaxTokens = b.MaxTokens
	}
	if b.TopP != nil {
		sess.TopP = b.TopP
	}
}

func validateSession(sess *store.Session) string {
	if sess.Nome == "" {
		return "nome é obrigatório"
	}
	if sess.Canal != "" && sess.Canal != "whatsapp" && sess.Canal != "discord" {
		return "canal desconhecido: " + sess.Canal
	}
	if sess.Canal == "discord" && sess.TokenBot == "" {
		return "token_bot é obrigatório para o canal discord"
	}
	return ""
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions, err := s.store.Sessions.List()
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]sessionView, 0, len(sessions))
		for _, sess := range sessions {
			views = append(views, newSessionView(sess, s.runner.Running(sess.ID)))
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPost:
		var body sessionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corpo da requisição inválido"})
			return
		}
		sess := &store.Session{Ativa: true, AutoResponder: true, SalvarHist: true}
		body.apply(sess)
		if msg := validateSession(sess); msg != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
			return
		}
		if err := s.store.Sessions.Create(sess); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newSessionView(sess, false))

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
	}
}

// handleSessionByID dispatches /api/sessoes/{id} and its sub-routes.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessoes/")
	parts := strings.SplitN(path, "/", 2)
	id, err := parseID(parts[0])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id inválido"})
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch action {
	case "":
		s.sessionDetail(w, r, id)
	case "iniciar":
		s.sessionStart(w, r, id)
	case "parar":
		s.sessionStop(w, r, id)
	case "qr":
		s.sessionQR(w, r, id)
	case "mensagens":
		s.sessionMessages(w, r, id)
	case "comandos":
		s.sessionCommands(w, r, id)
	case "politicas":
		s.sessionPolicies(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rota não encontrada"})
	}
}

func (s *Server) sessionDetail(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		sess, err := s.store.Sessions.GetByID(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionView(sess, s.runner.Running(id)))

	case http.MethodPut:
		sess, err := s.store.Sessions.GetByID(id)
		if err != nil {
			writeError(w, err)
			return
		}
		var body sessionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corpo da requisição inválido"})
			return
		}
		body.apply(sess)
		if msg := validateSession(sess); msg != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
			return
		}
		if err := s.store.Sessions.Update(sess); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionView(sess, s.runner.Running(id)))

	case http.MethodDelete:
		if s.runner.Running(id) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "sessão em execução; pare antes de excluir"})
			return
		}
		if err := s.store.Sessions.Delete(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "excluída"})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
	}
}

// sessionStart connects the session's channel. The registry owns the
// channel's lifecycle, so it runs on the server context rather than the
// request's.
func (s *Server) sessionStart(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
		return
	}
	if err := s.runner.StartSession(s.baseCtx, id); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.store.Sessions.GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess, true))
}

func (s *Server) sessionStop(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
		return
	}
	if err := s.runner.StopSession(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "desconectada"})
}

// sessionQR returns the pairing QR code while the channel waits for the
// phone to scan it. The panel polls this endpoint.
func (s *Server) sessionQR(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
		return
	}
	sess, err := s.store.Sessions.GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    sess.Status,
		"qr_code":   sess.QRCode,
		"gerado_em": sess.QRCodeGeradoEm,
	})
}

func (s *Server) sessionMessages(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
		return
	}
	if _, err := s.store.Sessions.GetByID(id); err != nil {
		writeError(w, err)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limite"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	msgs, err := s.store.Messages.ListRecent(id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, newMessageView(m))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) sessionCommands(w http.ResponseWriter, r *http.Request, id int64) {
	if _, err := s.store.Sessions.GetByID(id); err != nil {
		writeError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		cmds, err := s.store.Commands.ListForSession(id)
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]commandView, 0, len(cmds))
		for _, c := range cmds {
			views = append(views, commandView{
				ComandoID: c.ComandoID,
				Gatilho:   c.Gatilho,
				Descricao: c.Descricao,
				Resposta:  c.Resposta,
				Ativo:     c.Ativo,
			})
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPut:
		var body struct {
			ComandoID string `json:"comando_id"`
			Gatilho   string `json:"gatilho"`
			Resposta  string `json:"resposta"`
			Ativo     bool   `json:"ativo"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corpo da requisição inválido"})
			return
		}
		if body.ComandoID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "comando_id é obrigatório"})
			return
		}
		if err := s.store.Commands.Update(id, body.ComandoID, body.Gatilho, body.Resposta, body.Ativo); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "atualizado"})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
	}
}

func (s *Server) sessionPolicies(w http.ResponseWriter, r *http.Request, id int64) {
	if _, err := s.store.Sessions.GetByID(id); err != nil {
		writeError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		policies, err := s.store.Policies.ListForSession(id)
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]policyView, 0, len(policies))
		for _, p := range policies {
			views = append(views, policyView{Tipo: p.Tipo, Acao: p.Acao, RespostaFixa: p.RespostaFixa})
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPut:
		var body struct {
			Tipo         string `json:"tipo"`
			Acao         string `json:"acao"`
			RespostaFixa string `json:"resposta_fixa"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corpo da requisição inválido"})
			return
		}
		if body.Tipo == "" || body.Acao == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tipo e acao são obrigatórios"})
			return
		}
		p := &store.TypePolicy{SessaoID: id, Tipo: body.Tipo, Acao: body.Acao, RespostaFixa: body.RespostaFixa}
		if err := s.store.Policies.Upsert(p); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, policyView{Tipo: p.Tipo, Acao: p.Acao, RespostaFixa: p.RespostaFixa})

	case http.MethodDelete:
		// Drops every stored policy, reverting the session to the defaults.
		if err := s.store.Policies.DeleteForSession(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "padrões restaurados"})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
	}
}

// ── Agents ──

type agentBody struct {
	Nome          *string  `json:"nome"`
	Codigo        *string  `json:"codigo"`
	Descricao     *string  `json:"descricao"`
	PromptSistema *string  `json:"prompt_sistema"`
	ModeloLLM     *string  `json:"modelo_llm"`
	Temperatura   *float64 `json:"temperatura"`
	MaxTokens     *int     `json:"max_tokens"`
	Ativo         *bool    `json:"ativo"`
}

func (b *agentBody) apply(a *store.Agent) {
	if b.Nome != nil {
		a.Nome = strings.TrimSpace(*b.Nome)
	}
	if b.Codigo != nil {
		a.Codigo = strings.TrimSpace(*b.Codigo)
	}
	if b.Descricao != nil {
		a.Descricao = *b.Descricao
	}
	if b.PromptSistema != nil {
		a.PromptSistema = *b.PromptSistema
	}
	if b.ModeloLLM != nil {
		a.ModeloLLM = *b.ModeloLLM
	}
	if b.Temperatura != nil {
		a.Temperatura = *b.Temperatura
	}
	if b.MaxTokens != nil {
		a.MaxTokens = *b.MaxTokens
	}
	if b.Ativo != nil {
		a.Ativo = *b.Ativo
	}
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		agents, err := s.store.Agents.List()
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]agentView, 0, len(agents))
		for _, a := range agents {
			views = append(views, newAgentView(a))
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPost:
		var body agentBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corpo da requisição inválido"})
			return
		}
		a := &store.Agent{Ativo: true}
		body.apply(a)
		if a.Nome == "" || a.Codigo == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "nome e codigo são obrigatórios"})
			return
		}
		if err := s.store.Agents.Create(a); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newAgentView(a))

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
	}
}

func (s *Server) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(strings.TrimPrefix(r.URL.Path, "/api/agentes/"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id inválido"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		a, err := s.store.Agents.GetByID(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAgentView(a))

	case http.MethodPut:
		a, err := s.store.Agents.GetByID(id)
		if err != nil {
			writeError(w, err)
			return
		}
		var body agentBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corpo da requisição inválido"})
			return
		}
		body.apply(a)
		if a.Nome == "" || a.Codigo == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "nome e codigo são obrigatórios"})
			return
		}
		if err := s.store.Agents.Update(a); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAgentView(a))

	case http.MethodDelete:
		if err := s.store.Agents.Delete(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "excluído"})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
	}
}

// ── Providers ──

type providerBody struct {
	Nome    *string `json:"nome"`
	Tipo    *string `json:"tipo"`
	BaseURL *string `json:"base_url"`
	APIKey  *string `json:"api_key"`
	Ativo   *bool   `json:"ativo"`
}

func (b *providerBody) apply(p *store.Provider) {
	if b.Nome != nil {
		p.Nome = strings.TrimSpace(*b.Nome)
	}
	if b.Tipo != nil {
		p.Tipo = *b.Tipo
	}
	if b.BaseURL != nil {
		p.BaseURL = strings.TrimRight(strings.TrimSpace(*b.BaseURL), "/")
	}
	if b.APIKey != nil {
		p.APIKey = *b.APIKey
	}
	if b.Ativo != nil {
		p.Ativo = *b.Ativo
	}
}

func validateProvider(p *store.Provider) string {
	if p.Nome == "" {
		return "nome é obrigatório"
	}
	if p.Tipo != "" && p.Tipo != store.ProviderLocal && p.Tipo != store.ProviderOpenRouter {
		return "tipo desconhecido: " + p.Tipo
	}
	if p.Tipo != store.ProviderOpenRouter && p.BaseURL == "" {
		return "base_url é obrigatória para provedores locais"
	}
	return ""
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		providers, err := s.store.Providers.List()
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]providerView, 0, len(providers))
		for _, p := range providers {
			views = append(views, newProviderView(p))
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPost:
		var body providerBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corpo da requisição inválido"})
			return
		}
		p := &store.Provider{Ativo: true}
		body.apply(p)
		if msg := validateProvider(p); msg != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
			return
		}
		if err := s.store.Providers.Create(p); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newProviderView(p))

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
	}
}

// handleProviderByID dispatches /api/provedores/{id} and its sub-routes.
func (s *Server) handleProviderByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/provedores/")
	parts := strings.SplitN(path, "/", 2)
	id, err := parseID(parts[0])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id inválido"})
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch action {
	case "":
		s.providerDetail(w, r, id)
	case "testar":
		s.providerTest(w, r, id)
	case "modelos":
		s.providerModels(w, r, id)
	case "stats":
		s.providerStats(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rota não encontrada"})
	}
}

func (s *Server) providerDetail(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		p, err := s.store.Providers.GetByID(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newProviderView(p))

	case http.MethodPut:
		p, err := s.store.Providers.GetByID(id)
		if err != nil {
			writeError(w, err)
			return
		}
		var body providerBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corpo da requisição inválido"})
			return
		}
		body.apply(p)
		if msg := validateProvider(p); msg != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
			return
		}
		if err := s.store.Providers.Update(p); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newProviderView(p))

	case http.MethodDelete:
		if err := s.store.Providers.Delete(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "excluído"})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
	}
}

// providerTest probes the provider endpoint; the engine records the
// outcome on the provider row.
func (s *Server) providerTest(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
		return
	}
	if err := s.providers.TestProvider(r.Context(), id); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, store.ErrProviderNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// providerModels returns the cached model list on GET and refreshes it
// from the provider on POST.
func (s *Server) providerModels(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		models, err := s.store.Providers.Models(id)
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]modelView, 0, len(models))
		for _, m := range models {
			views = append(views, newModelView(m))
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPost:
		models, err := s.providers.RefreshProvider(r.Context(), id)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, store.ErrProviderNotFound) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		views := make([]modelView, 0, len(models))
		for _, m := range models {
			views = append(views, newModelView(m))
		}
		writeJSON(w, http.StatusOK, views)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
	}
}

func (s *Server) providerStats(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
		return
	}
	if _, err := s.store.Providers.GetByID(id); err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.store.Providers.Stats(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsView{
		TotalRequisicoes: stats.TotalRequisicoes,
		TotalSucessos:    stats.TotalSucessos,
		TotalErros:       stats.TotalErros,
		TempoMedioMs:     stats.TempoMedioMs,
		UltimaRequisicao: stats.UltimaRequisicao,
	})
}

// ── OpenRouter ──

// handleOpenRouterModels lists the aggregator catalog live so the panel
// can browse models before pinning one. Nothing is written to the cache.
func (s *Server) handleOpenRouterModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
		return
	}
	models, err := s.providers.ListOpenRouterModels(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, llm.ErrNoAPIKey) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	views := make([]modelView, 0, len(models))
	for _, m := range models {
		views = append(views, modelView{
			ModeloID:           m.ID,
			Nome:               m.Nome,
			Contexto:           m.Contexto,
			SuportaImagens:     m.SuportaImagens,
			SuportaFerramentas: m.SuportaFerramentas,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// ── Settings ──

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.store.Settings.List(r.URL.Query().Get("categoria"))
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]settingView, 0, len(settings))
		for _, st := range settings {
			views = append(views, newSettingView(st))
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPut:
		var body struct {
			Chave string `json:"chave"`
			Valor string `json:"valor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corpo da requisição inválido"})
			return
		}
		if body.Chave == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chave é obrigatória"})
			return
		}
		if err := s.store.Settings.Set(body.Chave, body.Valor); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "atualizada"})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método não permitido"})
	}
}
