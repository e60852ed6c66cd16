// Package webui serves the JSON API behind the zapclaw admin panel:
// session lifecycle and pairing QR codes, agents, LLM providers, chat
// commands, message-type policies and runtime settings.
//
// Authentication is optional. With webui_senha_hash unset every request
// passes; otherwise login exchanges the panel password for an expiring
// bearer token kept in memory.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/bot"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/llm"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// SessionRunner is the slice of the session registry the panel needs:
// starting and stopping channel adapters and inspecting the live ones.
type SessionRunner interface {
	StartSession(ctx context.Context, id int64) error
	StopSession(id int64) error
	Running(id int64) bool
	Health(id int64) (channels.HealthStatus, bool)
}

// ProviderService is the part of the LLM engine the panel calls to probe
// providers and refresh their model caches. ListOpenRouterModels browses
// the aggregator catalog live, no provider row needed.
type ProviderService interface {
	TestProvider(ctx context.Context, id int64) error
	RefreshProvider(ctx context.Context, id int64) ([]store.CachedModel, error)
	ListOpenRouterModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// ── API shapes ──

// sessionView is the session shape returned by the API. The QR code has
// its own endpoint and is not repeated here.
type sessionView struct {
	ID            int64     `json:"id"`
	Nome          string    `json:"nome"`
	Telefone      string    `json:"telefone"`
	Canal         string    `json:"canal"`
	Status        string    `json:"status"`
	Ativa         bool      `json:"ativa"`
	AutoResponder bool      `json:"auto_responder"`
	SalvarHist    bool      `json:"salvar_historico"`
	AgenteAtivoID int64     `json:"agente_ativo_id"`
	ModeloLLM     string    `json:"modelo_llm"`
	Temperatura   *float64  `json:"temperatura,omitempty"`
	MaxTokens     *int      `json:"max_tokens,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	Rodando       bool      `json:"rodando"`
	CriadoEm      time.Time `json:"criado_em"`
}

func newSessionView(sess *store.Session, running bool) sessionView {
	return sessionView{
		ID:            sess.ID,
		Nome:          sess.Nome,
		Telefone:      sess.Telefone,
		Canal:         sess.Canal,
		Status:        sess.Status,
		Ativa:         sess.Ativa,
		AutoResponder: sess.AutoResponder,
		SalvarHist:    sess.SalvarHist,
		AgenteAtivoID: sess.AgenteAtivoID,
		ModeloLLM:     sess.ModeloLLM,
		Temperatura:   sess.Temperatura,
		MaxTokens:     sess.MaxTokens,
		TopP:          sess.TopP,
		Rodando:       running,
		CriadoEm:      sess.CriadoEm,
	}
}

type agentView struct {
	ID            int64     `json:"id"`
	Nome          string    `json:"nome"`
	Codigo        string    `json:"codigo"`
	Descricao     string    `json:"descricao,omitempty"`
	PromptSistema string    `json:"prompt_sistema"`
	ModeloLLM     string    `json:"modelo_llm,omitempty"`
	Temperatura   float64   `json:"temperatura"`
	MaxTokens     int       `json:"max_tokens"`
	Ativo         bool      `json:"ativo"`
	CriadoEm      time.Time `json:"criado_em"`
}

func newAgentView(a *store.Agent) agentView {
	return agentView{
		ID:            a.ID,
		Nome:          a.Nome,
		Codigo:        a.Codigo,
		Descricao:     a.Descricao,
		PromptSistema: a.PromptSistema,
		ModeloLLM:     a.ModeloLLM,
		Temperatura:   a.Temperatura,
		MaxTokens:     a.MaxTokens,
		Ativo:         a.Ativo,
		CriadoEm:      a.CriadoEm,
	}
}

// providerView never carries the API key; the panel only learns whether
// one is set.
type providerView struct {
	ID          int64      `json:"id"`
	Nome        string     `json:"nome"`
	Tipo        string     `json:"tipo"`
	BaseURL     string     `json:"base_url"`
	APIKeySet   bool       `json:"api_key_configurada"`
	Ativo       bool       `json:"ativo"`
	Status      string     `json:"status"`
	UltimoTeste *time.Time `json:"ultimo_teste,omitempty"`
}

func newProviderView(p *store.Provider) providerView {
	return providerView{
		ID:          p.ID,
		Nome:        p.Nome,
		Tipo:        p.Tipo,
		BaseURL:     p.BaseURL,
		APIKeySet:   p.APIKey != "",
		Ativo:       p.Ativo,
		Status:      p.Status,
		UltimoTeste: p.UltimoTeste,
	}
}

type modelView struct {
	ModeloID           string `json:"modelo_id"`
	Nome               string `json:"nome"`
	Contexto           int    `json:"contexto,omitempty"`
	SuportaImagens     bool   `json:"suporta_imagens"`
	SuportaFerramentas bool   `json:"suporta_ferramentas"`
	TamanhoBytes       int64  `json:"tamanho_bytes,omitempty"`
	Quantizacao        string `json:"quantizacao,omitempty"`
}

func newModelView(m store.CachedModel) modelView {
	return modelView{
		ModeloID:           m.ModeloID,
		Nome:               m.Nome,
		Contexto:           m.Contexto,
		SuportaImagens:     m.SuportaImagens,
		SuportaFerramentas: m.SuportaFerramentas,
		TamanhoBytes:       m.TamanhoBytes,
		Quantizacao:        m.Quantizacao,
	}
}

type statsView struct {
	TotalRequisicoes int64      `json:"total_requisicoes"`
	TotalSucessos    int64      `json:"total_sucessos"`
	TotalErros       int64      `json:"total_erros"`
	TempoMedioMs     float64    `json:"tempo_medio_ms"`
	UltimaRequisicao *time.Time `json:"ultima_requisicao,omitempty"`
}

type messageView struct {
	ID                int64      `json:"id"`
	TelefoneCliente   string     `json:"telefone_cliente"`
	NomeCliente       string     `json:"nome_cliente,omitempty"`
	Tipo              string     `json:"tipo"`
	ConteudoTexto     string     `json:"conteudo_texto"`
	MidiaPath         string     `json:"conteudo_midia_path,omitempty"`
	Processada        bool       `json:"processada"`
	Respondida        bool       `json:"respondida"`
	RespostaTexto     string     `json:"resposta_texto,omitempty"`
	RespostaModelo    string     `json:"resposta_modelo,omitempty"`
	RespostaTempoMs   *int       `json:"resposta_tempo_ms,omitempty"`
	FerramentasUsadas string     `json:"ferramentas_usadas,omitempty"`
	RespostaErro      string     `json:"resposta_erro,omitempty"`
	CriadoEm          time.Time  `json:"criado_em"`
	RespondidoEm      *time.Time `json:"respondido_em,omitempty"`
}

func newMessageView(m *store.Message) messageView {
	return messageView{
		ID:                m.ID,
		TelefoneCliente:   m.TelefoneCliente,
		NomeCliente:       m.NomeCliente,
		Tipo:              m.Tipo,
		ConteudoTexto:     m.ConteudoTexto,
		MidiaPath:         m.ConteudoMidiaPath,
		Processada:        m.Processada,
		Respondida:        m.Respondida,
		RespostaTexto:     m.RespostaTexto,
		RespostaModelo:    m.RespostaModelo,
		RespostaTempoMs:   m.RespostaTempoMs,
		FerramentasUsadas: m.FerramentasUsadas,
		RespostaErro:      m.RespostaErro,
		CriadoEm:          m.CriadoEm,
		RespondidoEm:      m.RespondidoEm,
	}
}

type commandView struct {
	ComandoID string `json:"comando_id"`
	Gatilho   string `json:"gatilho"`
	Descricao string `json:"descricao"`
	Resposta  string `json:"resposta,omitempty"`
	Ativo     bool   `json:"ativo"`
}

type policyView struct {
	Tipo         string `json:"tipo"`
	Acao         string `json:"acao"`
	RespostaFixa string `json:"resposta_fixa,omitempty"`
}

// settingView is a setting row as shown to the panel. Secret values are
// stripped; definida tells the panel whether one is stored.
type settingView struct {
	Chave     string `json:"chave"`
	Valor     string `json:"valor"`
	Tipo      string `json:"tipo"`
	Descricao string `json:"descricao"`
	Categoria string `json:"categoria"`
	Editavel  bool   `json:"editavel"`
	Secreta   bool   `json:"secreta"`
	Definida  bool   `json:"definida,omitempty"`
}

func newSettingView(st store.Setting) settingView {
	v := settingView{
		Chave:     st.Chave,
		Valor:     st.Valor,
		Tipo:      st.Tipo,
		Descricao: st.Descricao,
		Categoria: st.Categoria,
		Editavel:  st.Editavel,
	}
	if secretSetting(st.Chave) {
		v.Secreta = true
		v.Definida = st.Valor != ""
		v.Valor = ""
	}
	return v
}

func secretSetting(chave string) bool {
	return strings.Contains(chave, "api_key") || strings.Contains(chave, "senha")
}

type dashboardView struct {
	Sessoes    sessionTotals   `json:"sessoes"`
	Mensagens  messageTotals   `json:"mensagens"`
	Agentes    int             `json:"agentes_ativos"`
	Provedores int             `json:"provedores_ativos"`
	Canais     []channelHealth `json:"canais"`
}

type sessionTotals struct {
	Total      int `json:"total"`
	Ativas     int `json:"ativas"`
	Conectadas int `json:"conectadas"`
}

type messageTotals struct {
	Total       int64 `json:"total"`
	Respondidas int64 `json:"respondidas"`
}

type channelHealth struct {
	SessaoID       int64     `json:"sessao_id"`
	Nome           string    `json:"nome"`
	Canal          string    `json:"canal"`
	Conectado      bool      `json:"conectado"`
	Erros          int       `json:"erros"`
	UltimaMensagem time.Time `json:"ultima_mensagem"`
}

// ── Server ──

// Server is the admin panel HTTP server.
type Server struct {
	cfg       config.WebUIConfig
	store     *store.Store
	runner    SessionRunner
	providers ProviderService
	logger    *slog.Logger
	server    *http.Server

	// baseCtx outlives requests; sessions started from the panel use it.
	baseCtx context.Context

	// tokens maps issued login tokens to their expiry.
	tokenMu sync.Mutex
	tokens  map[string]time.Time
}

// New creates the panel server.
func New(cfg config.WebUIConfig, st *store.Store, runner SessionRunner, providers ProviderService, logger *slog.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = ":8091"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		store:     st,
		runner:    runner,
		providers: providers,
		logger:    logger.With("component", "webui"),
		baseCtx:   context.Background(),
		tokens:    make(map[string]time.Time),
	}
}

// Start begins serving the panel API. The context is kept for work that
// outlives a single request, such as sessions started from the panel.
func (s *Server) Start(ctx context.Context) error {
	if ctx != nil {
		s.baseCtx = ctx
	}

	s.server = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("painel web iniciando", "address", s.cfg.Address)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("erro no servidor do painel", "err", err)
		}
	}()
	return nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// ── Public routes ──
	mux.HandleFunc("/api/auth/login", s.handleAuthLogin)
	mux.HandleFunc("/api/auth/logout", s.handleAuthLogout)
	mux.HandleFunc("/api/auth/status", s.handleAuthStatus)

	// ── Protected routes ──
	mux.HandleFunc("/api/dashboard", s.authMiddleware(s.handleDashboard))
	mux.HandleFunc("/api/sessoes", s.authMiddleware(s.handleSessions))
	mux.HandleFunc("/api/sessoes/", s.authMiddleware(s.handleSessionByID))
	mux.HandleFunc("/api/agentes", s.authMiddleware(s.handleAgents))
	mux.HandleFunc("/api/agentes/", s.authMiddleware(s.handleAgentByID))
	mux.HandleFunc("/api/provedores", s.authMiddleware(s.handleProviders))
	mux.HandleFunc("/api/provedores/", s.authMiddleware(s.handleProviderByID))
	mux.HandleFunc("/api/openrouter/modelos", s.authMiddleware(s.handleOpenRouterModels))
	mux.HandleFunc("/api/configuracoes", s.authMiddleware(s.handleSettings))

	return corsMiddleware(mux)
}

// Stop gracefully shuts down the panel server.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
		s.logger.Info("painel web encerrado")
	}
}

// ── Middleware ──

// authMiddleware checks the login token when a panel password is set.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.passwordHash() == "" {
			next(w, r)
			return
		}
		if !s.validToken(extractToken(r)) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "não autorizado"})
			return
		}
		next(w, r)
	}
}

// corsMiddleware reflects the Origin so a dev frontend on another port
// can talk to the API with credentials.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── JSON helpers ──

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps store and registry errors onto API status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, store.ErrAgentNotFound),
		errors.Is(err, store.ErrProviderNotFound),
		errors.Is(err, store.ErrCommandNotFound),
		errors.Is(err, store.ErrSettingNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrProviderInUse),
		errors.Is(err, bot.ErrSessionRunning),
		errors.Is(err, bot.ErrSessionNotRunning):
		status = http.StatusConflict
	case errors.Is(err, store.ErrNotEditable):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrInvalidValue),
		errors.Is(err, store.ErrUnknownAction):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
