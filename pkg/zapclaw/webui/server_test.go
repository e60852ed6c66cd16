package webui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/bot"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/llm"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

var errHTTPDown = errors.New("conexão recusada pelo provedor")

// fakeRunner stands in for the session registry.
type fakeRunner struct {
	mu      sync.Mutex
	running map[int64]bool
	health  channels.HealthStatus
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{running: map[int64]bool{}}
}

func (f *fakeRunner) StartSession(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[id] {
		return bot.ErrSessionRunning
	}
	f.running[id] = true
	return nil
}

func (f *fakeRunner) StopSession(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[id] {
		return bot.ErrSessionNotRunning
	}
	delete(f.running, id)
	return nil
}

func (f *fakeRunner) Running(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[id]
}

func (f *fakeRunner) Health(id int64) (channels.HealthStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[id] {
		return channels.HealthStatus{}, false
	}
	return f.health, true
}

// fakeProviderService stands in for the LLM engine.
type fakeProviderService struct {
	testErr    error
	refreshErr error
	models     []store.CachedModel
	catalog    []llm.ModelInfo
	catalogErr error
}

func (f *fakeProviderService) TestProvider(ctx context.Context, id int64) error {
	return f.testErr
}

func (f *fakeProviderService) RefreshProvider(ctx context.Context, id int64) ([]store.CachedModel, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.models, nil
}

func (f *fakeProviderService) ListOpenRouterModels(ctx context.Context) ([]llm.ModelInfo, error) {
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	return f.catalog, nil
}

type testServer struct {
	srv     *Server
	store   *store.Store
	runner  *fakeRunner
	service *fakeProviderService
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("abrindo store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	runner := newFakeRunner()
	service := &fakeProviderService{}
	srv := New(config.WebUIConfig{}, st, runner, service, slog.Default())
	return &testServer{
		srv:     srv,
		store:   st,
		runner:  runner,
		service: service,
		handler: srv.Handler(),
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("serializando corpo: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decodificando resposta: %v", err)
	}
}

func (ts *testServer) createSession(t *testing.T, nome string) int64 {
	t.Helper()
	sess := &store.Session{Nome: nome, Ativa: true, AutoResponder: true, SalvarHist: true}
	if err := ts.store.Sessions.Create(sess); err != nil {
		t.Fatalf("criando sessão: %v", err)
	}
	return sess.ID
}

// ── Sessions ──

func TestSessionCRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/sessoes", map[string]any{"nome": "  Loja  "})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, corpo %s", rec.Code, rec.Body)
	}
	var created sessionView
	decodeBody(t, rec, &created)
	if created.ID == 0 || created.Nome != "Loja" {
		t.Fatalf("view criada inesperada: %+v", created)
	}
	if created.Canal != "whatsapp" {
		t.Errorf("Canal padrão = %q, esperado whatsapp", created.Canal)
	}
	if !created.Ativa || !created.AutoResponder || !created.SalvarHist {
		t.Errorf("flags padrão inesperadas: %+v", created)
	}

	rec = ts.request(t, http.MethodGet, "/api/sessoes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var list []sessionView
	decodeBody(t, rec, &list)
	if len(list) != 1 {
		t.Fatalf("list retornou %d sessões, esperado 1", len(list))
	}

	rec = ts.request(t, http.MethodPut, "/api/sessoes/1", map[string]any{
		"auto_responder": false,
		"modelo_llm":     "llama3.1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, corpo %s", rec.Code, rec.Body)
	}
	var updated sessionView
	decodeBody(t, rec, &updated)
	if updated.AutoResponder {
		t.Error("AutoResponder deveria ter sido desligado")
	}
	if updated.ModeloLLM != "llama3.1" {
		t.Errorf("ModeloLLM = %q", updated.ModeloLLM)
	}
	if updated.Nome != "Loja" {
		t.Errorf("Nome alterado sem pedido: %q", updated.Nome)
	}

	rec = ts.request(t, http.MethodDelete, "/api/sessoes/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = ts.request(t, http.MethodGet, "/api/sessoes/1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get após delete: status = %d, esperado 404", rec.Code)
	}
}

func TestSessionValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"sem nome", map[string]any{}, http.StatusBadRequest},
		{"canal desconhecido", map[string]any{"nome": "X", "canal": "telegram"}, http.StatusBadRequest},
		{"discord sem token", map[string]any{"nome": "X", "canal": "discord"}, http.StatusBadRequest},
		{"discord com token", map[string]any{"nome": "X", "canal": "discord", "token_bot": "abc"}, http.StatusCreated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.request(t, http.MethodPost, "/api/sessoes", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, esperado %d (corpo %s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestSessionStartStop(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "Loja")

	rec := ts.request(t, http.MethodPost, "/api/sessoes/1/iniciar", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("iniciar: status = %d, corpo %s", rec.Code, rec.Body)
	}
	var view sessionView
	decodeBody(t, rec, &view)
	if !view.Rodando {
		t.Error("view.Rodando deveria ser true após iniciar")
	}
	if !ts.runner.Running(id) {
		t.Error("runner não registrou a sessão")
	}

	rec = ts.request(t, http.MethodPost, "/api/sessoes/1/iniciar", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("iniciar duplicado: status = %d, esperado 409", rec.Code)
	}

	rec = ts.request(t, http.MethodDelete, "/api/sessoes/1", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("delete em execução: status = %d, esperado 409", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/api/sessoes/1/parar", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("parar: status = %d", rec.Code)
	}
	rec = ts.request(t, http.MethodPost, "/api/sessoes/1/parar", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("parar duplicado: status = %d, esperado 409", rec.Code)
	}
}

func TestSessionQR(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "Loja")
	if err := ts.store.Sessions.SetQRCode(id, "QR-DATA"); err != nil {
		t.Fatalf("gravando qr: %v", err)
	}

	rec := ts.request(t, http.MethodGet, "/api/sessoes/1/qr", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("qr: status = %d", rec.Code)
	}
	var body struct {
		Status   string `json:"status"`
		QRCode   string `json:"qr_code"`
		GeradoEm any    `json:"gerado_em"`
	}
	decodeBody(t, rec, &body)
	if body.QRCode != "QR-DATA" {
		t.Errorf("qr_code = %q", body.QRCode)
	}
	if body.GeradoEm == nil {
		t.Error("gerado_em deveria estar preenchido")
	}

	rec = ts.request(t, http.MethodGet, "/api/sessoes/99/qr", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("qr de sessão inexistente: status = %d", rec.Code)
	}
}

func TestSessionMessages(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "Loja")

	for _, texto := range []string{"oi", "quero o catálogo"} {
		msg := &store.Message{
			SessaoID:        id,
			TelefoneCliente: "5511999990000",
			Tipo:            "texto",
			Direcao:         "recebida",
			ConteudoTexto:   texto,
		}
		if err := ts.store.Messages.Create(msg); err != nil {
			t.Fatalf("criando mensagem: %v", err)
		}
	}

	rec := ts.request(t, http.MethodGet, "/api/sessoes/1/mensagens", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mensagens: status = %d", rec.Code)
	}
	var msgs []messageView
	decodeBody(t, rec, &msgs)
	if len(msgs) != 2 {
		t.Fatalf("retornou %d mensagens, esperado 2", len(msgs))
	}

	rec = ts.request(t, http.MethodGet, "/api/sessoes/1/mensagens?limite=1", nil)
	decodeBody(t, rec, &msgs)
	if len(msgs) != 1 {
		t.Errorf("limite=1 retornou %d mensagens", len(msgs))
	}

	rec = ts.request(t, http.MethodGet, "/api/sessoes/99/mensagens", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("mensagens de sessão inexistente: status = %d", rec.Code)
	}
}

func TestSessionCommandsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.createSession(t, "Loja")

	rec := ts.request(t, http.MethodGet, "/api/sessoes/1/comandos", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("comandos: status = %d", rec.Code)
	}
	var cmds []commandView
	decodeBody(t, rec, &cmds)
	if len(cmds) != 7 {
		t.Fatalf("retornou %d comandos, esperado 7", len(cmds))
	}

	rec = ts.request(t, http.MethodPut, "/api/sessoes/1/comandos", map[string]any{
		"comando_id": "ativar",
		"gatilho":    "#ligar",
		"ativo":      true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update comando: status = %d, corpo %s", rec.Code, rec.Body)
	}

	rec = ts.request(t, http.MethodGet, "/api/sessoes/1/comandos", nil)
	decodeBody(t, rec, &cmds)
	found := false
	for _, c := range cmds {
		if c.ComandoID == "ativar" {
			found = true
			if c.Gatilho != "#ligar" {
				t.Errorf("gatilho = %q, esperado #ligar", c.Gatilho)
			}
		}
	}
	if !found {
		t.Error("comando ativar sumiu da lista")
	}

	rec = ts.request(t, http.MethodPut, "/api/sessoes/1/comandos", map[string]any{
		"comando_id": "inexistente",
		"gatilho":    "#x",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("comando desconhecido: status = %d, esperado 404", rec.Code)
	}
}

func TestSessionPoliciesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.createSession(t, "Loja")

	rec := ts.request(t, http.MethodGet, "/api/sessoes/1/politicas", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("politicas: status = %d", rec.Code)
	}
	var policies []policyView
	decodeBody(t, rec, &policies)
	if len(policies) != 6 {
		t.Fatalf("retornou %d políticas, esperado 6", len(policies))
	}

	rec = ts.request(t, http.MethodPut, "/api/sessoes/1/politicas", map[string]any{
		"tipo":          "video",
		"acao":          "resposta_fixa",
		"resposta_fixa": "Não assisto vídeos, pode resumir?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert política: status = %d, corpo %s", rec.Code, rec.Body)
	}

	rec = ts.request(t, http.MethodGet, "/api/sessoes/1/politicas", nil)
	decodeBody(t, rec, &policies)
	for _, p := range policies {
		if p.Tipo == "video" && p.Acao != "resposta_fixa" {
			t.Errorf("política de video = %q, esperado resposta_fixa", p.Acao)
		}
	}

	rec = ts.request(t, http.MethodPut, "/api/sessoes/1/politicas", map[string]any{
		"tipo": "video",
		"acao": "explodir",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ação desconhecida: status = %d, esperado 400", rec.Code)
	}

	rec = ts.request(t, http.MethodDelete, "/api/sessoes/1/politicas", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset políticas: status = %d, corpo %s", rec.Code, rec.Body)
	}
	rec = ts.request(t, http.MethodGet, "/api/sessoes/1/politicas", nil)
	decodeBody(t, rec, &policies)
	for _, p := range policies {
		if p.Tipo == "video" && p.Acao != "ignorar" {
			t.Errorf("após reset, política de video = %q, esperado ignorar", p.Acao)
		}
	}
}

// ── Agents ──

func TestAgentCRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/agentes", map[string]any{
		"nome":           "Vendas",
		"codigo":         "vendas",
		"prompt_sistema": "Você é um vendedor atencioso.",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, corpo %s", rec.Code, rec.Body)
	}
	var created agentView
	decodeBody(t, rec, &created)
	if created.Temperatura != 0.7 || created.MaxTokens != 1000 {
		t.Errorf("padrões do agente: temp %v, tokens %d", created.Temperatura, created.MaxTokens)
	}

	rec = ts.request(t, http.MethodPost, "/api/agentes", map[string]any{"nome": "SemCodigo"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create sem codigo: status = %d, esperado 400", rec.Code)
	}

	rec = ts.request(t, http.MethodPut, "/api/agentes/1", map[string]any{"temperatura": 0.2})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, corpo %s", rec.Code, rec.Body)
	}
	var updated agentView
	decodeBody(t, rec, &updated)
	if updated.Temperatura != 0.2 {
		t.Errorf("Temperatura = %v", updated.Temperatura)
	}
	if updated.Nome != "Vendas" {
		t.Errorf("Nome alterado sem pedido: %q", updated.Nome)
	}

	rec = ts.request(t, http.MethodDelete, "/api/agentes/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = ts.request(t, http.MethodGet, "/api/agentes/1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get após delete: status = %d", rec.Code)
	}
}

// ── Providers ──

func TestProviderEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/provedores", map[string]any{
		"nome":     "Ollama",
		"tipo":     "local",
		"base_url": "http://localhost:11434/",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, corpo %s", rec.Code, rec.Body)
	}
	var created providerView
	decodeBody(t, rec, &created)
	if created.APIKeySet {
		t.Error("api_key_configurada deveria ser false")
	}
	if created.BaseURL != "http://localhost:11434" {
		t.Errorf("BaseURL = %q, barra final deveria ter sido removida", created.BaseURL)
	}

	rec = ts.request(t, http.MethodPost, "/api/provedores", map[string]any{"nome": "Quebrado", "tipo": "local"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("local sem base_url: status = %d, esperado 400", rec.Code)
	}

	rec = ts.request(t, http.MethodPut, "/api/provedores/1", map[string]any{"api_key": "sk-segredo-123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, corpo %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "sk-segredo-123") {
		t.Error("resposta vazou a api key")
	}
	var updated providerView
	decodeBody(t, rec, &updated)
	if !updated.APIKeySet {
		t.Error("api_key_configurada deveria ser true após gravar a chave")
	}

	rec = ts.request(t, http.MethodPost, "/api/provedores/1/testar", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("testar ok: status = %d", rec.Code)
	}
	ts.service.testErr = errHTTPDown
	rec = ts.request(t, http.MethodPost, "/api/provedores/1/testar", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("testar com falha: status = %d, esperado 502", rec.Code)
	}

	rec = ts.request(t, http.MethodGet, "/api/provedores/1/modelos", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("modelos (cache): status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("cache vazio deveria serializar como [], veio %s", rec.Body)
	}

	ts.service.models = []store.CachedModel{{ModeloID: "llama3.1", Nome: "llama3.1"}}
	rec = ts.request(t, http.MethodPost, "/api/provedores/1/modelos", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh modelos: status = %d", rec.Code)
	}
	var models []modelView
	decodeBody(t, rec, &models)
	if len(models) != 1 || models[0].ModeloID != "llama3.1" {
		t.Errorf("modelos após refresh: %+v", models)
	}

	rec = ts.request(t, http.MethodGet, "/api/provedores/1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", rec.Code)
	}
	var stats statsView
	decodeBody(t, rec, &stats)
	if stats.TotalRequisicoes != 0 {
		t.Errorf("stats iniciais: %+v", stats)
	}
}

func TestProviderDeleteInUse(t *testing.T) {
	ts := newTestServer(t)

	p := &store.Provider{Nome: "Ollama", Tipo: store.ProviderLocal, BaseURL: "http://localhost:11434", Ativo: true}
	if err := ts.store.Providers.Create(p); err != nil {
		t.Fatalf("criando provedor: %v", err)
	}
	if err := ts.store.Providers.ReplaceModels(p.ID, []store.CachedModel{{ModeloID: "llama3.1"}}); err != nil {
		t.Fatalf("gravando modelos: %v", err)
	}
	a := &store.Agent{Nome: "Vendas", Codigo: "vendas", ModeloLLM: "llama3.1", Ativo: true}
	if err := ts.store.Agents.Create(a); err != nil {
		t.Fatalf("criando agente: %v", err)
	}

	rec := ts.request(t, http.MethodDelete, "/api/provedores/1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete em uso: status = %d, esperado 409 (corpo %s)", rec.Code, rec.Body)
	}

	if err := ts.store.Agents.Delete(a.ID); err != nil {
		t.Fatalf("removendo agente: %v", err)
	}
	rec = ts.request(t, http.MethodDelete, "/api/provedores/1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete após liberar: status = %d, corpo %s", rec.Code, rec.Body)
	}
}

// ── OpenRouter ──

func TestOpenRouterCatalogEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.service.catalogErr = llm.ErrNoAPIKey
	rec := ts.request(t, http.MethodGet, "/api/openrouter/modelos", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("sem chave: status = %d, esperado 400 (corpo %s)", rec.Code, rec.Body)
	}

	ts.service.catalogErr = nil
	ts.service.catalog = []llm.ModelInfo{
		{ID: "openai/gpt-4o-mini", Nome: "GPT-4o Mini", Contexto: 128000, SuportaImagens: true, SuportaFerramentas: true},
		{ID: "anthropic/claude-sonnet-4", Nome: "Claude Sonnet 4"},
	}
	rec = ts.request(t, http.MethodGet, "/api/openrouter/modelos", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("listagem: status = %d, corpo %s", rec.Code, rec.Body)
	}
	var views []modelView
	decodeBody(t, rec, &views)
	if len(views) != 2 {
		t.Fatalf("listou %d modelos, esperado 2", len(views))
	}
	if views[0].ModeloID != "openai/gpt-4o-mini" || !views[0].SuportaFerramentas {
		t.Errorf("primeiro modelo: %+v", views[0])
	}

	rec = ts.request(t, http.MethodPost, "/api/openrouter/modelos", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("post: status = %d", rec.Code)
	}
}

// ── Settings ──

func TestSettingsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	if err := ts.store.Settings.Set("openrouter_api_key", "sk-or-muito-secreta"); err != nil {
		t.Fatalf("gravando chave: %v", err)
	}

	rec := ts.request(t, http.MethodGet, "/api/configuracoes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-or-muito-secreta") {
		t.Error("resposta vazou um valor secreto")
	}
	var views []settingView
	decodeBody(t, rec, &views)
	var orKey *settingView
	for i := range views {
		if views[i].Chave == "openrouter_api_key" {
			orKey = &views[i]
		}
	}
	if orKey == nil {
		t.Fatal("openrouter_api_key ausente da lista")
	}
	if !orKey.Secreta || !orKey.Definida || orKey.Valor != "" {
		t.Errorf("view da chave secreta: %+v", *orKey)
	}

	rec = ts.request(t, http.MethodPut, "/api/configuracoes", map[string]any{
		"chave": "sistema_nome",
		"valor": "Meu Bot",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set: status = %d, corpo %s", rec.Code, rec.Body)
	}
	if got := ts.store.Settings.GetString("sistema_nome", ""); got != "Meu Bot" {
		t.Errorf("sistema_nome = %q", got)
	}

	cases := []struct {
		name  string
		chave string
		valor string
		want  int
	}{
		{"não editável", "sistema_versao_schema", "2", http.StatusForbidden},
		{"valor inválido", "llm_timeout_segundos", "abc", http.StatusBadRequest},
		{"chave desconhecida", "nao_existe", "x", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.request(t, http.MethodPut, "/api/configuracoes", map[string]any{
				"chave": tc.chave,
				"valor": tc.valor,
			})
			if rec.Code != tc.want {
				t.Errorf("status = %d, esperado %d (corpo %s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

// ── Dashboard ──

func TestDashboard(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "Loja")
	inativa := &store.Session{Nome: "Backup", Ativa: false}
	if err := ts.store.Sessions.Create(inativa); err != nil {
		t.Fatalf("criando sessão: %v", err)
	}

	msg := &store.Message{SessaoID: id, TelefoneCliente: "5511999990000", Tipo: "texto", Direcao: "recebida", ConteudoTexto: "oi"}
	if err := ts.store.Messages.Create(msg); err != nil {
		t.Fatalf("criando mensagem: %v", err)
	}

	ts.runner.health = channels.HealthStatus{Connected: true}
	if err := ts.runner.StartSession(context.Background(), id); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec := ts.request(t, http.MethodGet, "/api/dashboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard: status = %d", rec.Code)
	}
	var view dashboardView
	decodeBody(t, rec, &view)
	if view.Sessoes.Total != 2 || view.Sessoes.Ativas != 1 || view.Sessoes.Conectadas != 1 {
		t.Errorf("totais de sessão: %+v", view.Sessoes)
	}
	if view.Mensagens.Total != 1 {
		t.Errorf("total de mensagens = %d", view.Mensagens.Total)
	}
	if len(view.Canais) != 1 || !view.Canais[0].Conectado {
		t.Errorf("canais: %+v", view.Canais)
	}
}

// ── Auth ──

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	// Without a password hash every request passes.
	rec := ts.request(t, http.MethodGet, "/api/sessoes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sem senha: status = %d", rec.Code)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("segredo"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("gerando hash: %v", err)
	}
	if err := ts.store.Settings.Set("webui_senha_hash", string(hash)); err != nil {
		t.Fatalf("gravando hash: %v", err)
	}

	rec = ts.request(t, http.MethodGet, "/api/sessoes", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("sem token: status = %d, esperado 401", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/api/auth/login", map[string]any{"senha": "errada"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("senha errada: status = %d", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/api/auth/login", map[string]any{"senha": "segredo"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d, corpo %s", rec.Code, rec.Body)
	}
	var login struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &login)
	if login.Token == "" {
		t.Fatal("login não retornou token")
	}

	authed := httptest.NewRequest(http.MethodGet, "/api/sessoes", nil)
	authed.Header.Set("Authorization", "Bearer "+login.Token)
	out := httptest.NewRecorder()
	ts.handler.ServeHTTP(out, authed)
	if out.Code != http.StatusOK {
		t.Fatalf("com token: status = %d", out.Code)
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	statusReq.Header.Set("Authorization", "Bearer "+login.Token)
	out = httptest.NewRecorder()
	ts.handler.ServeHTTP(out, statusReq)
	var status struct {
		ExigeSenha  bool `json:"exige_senha"`
		Autenticado bool `json:"autenticado"`
	}
	decodeBody(t, out, &status)
	if !status.ExigeSenha || !status.Autenticado {
		t.Errorf("status de auth: %+v", status)
	}

	logout := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	logout.Header.Set("Authorization", "Bearer "+login.Token)
	out = httptest.NewRecorder()
	ts.handler.ServeHTTP(out, logout)
	if out.Code != http.StatusOK {
		t.Fatalf("logout: status = %d", out.Code)
	}

	revoked := httptest.NewRequest(http.MethodGet, "/api/sessoes", nil)
	revoked.Header.Set("Authorization", "Bearer "+login.Token)
	out = httptest.NewRecorder()
	ts.handler.ServeHTTP(out, revoked)
	if out.Code != http.StatusUnauthorized {
		t.Errorf("token revogado: status = %d, esperado 401", out.Code)
	}
}

func TestAuthLoginWithoutPassword(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodPost, "/api/auth/login", map[string]any{"senha": "qualquer"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login sem senha configurada: status = %d", rec.Code)
	}
	var body struct {
		Token    string `json:"token"`
		Mensagem string `json:"mensagem"`
	}
	decodeBody(t, rec, &body)
	if body.Token != "" || body.Mensagem == "" {
		t.Errorf("resposta: %+v", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/sessoes", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodPatch, "/api/sessoes", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, esperado 405", rec.Code)
	}
}
