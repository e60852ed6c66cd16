package bot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/llm"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// ── fakes ──

type fakeSent struct {
	To      string
	Content string
}

type fakeChannel struct {
	mu        sync.Mutex
	sent      []fakeSent
	incoming  chan *channels.IncomingMessage
	connected bool

	mediaData []byte
	mediaMime string
	mediaErr  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{incoming: make(chan *channels.IncomingMessage, 8)}
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.connected = false
		close(f.incoming)
	}
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fakeSent{To: to, Content: msg.Content})
	return nil
}

func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage { return f.incoming }

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Health() channels.HealthStatus {
	return channels.HealthStatus{Connected: f.IsConnected()}
}

func (f *fakeChannel) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if f.mediaErr != nil {
		return nil, "", f.mediaErr
	}
	return f.mediaData, f.mediaMime, nil
}

func (f *fakeChannel) lastSent() *fakeSent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return &f.sent[len(f.sent)-1]
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeTranscriber struct {
	enabled bool
	text    string
	err     error
}

func (f *fakeTranscriber) Enabled() bool { return f.enabled }

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return f.text, f.err
}

// ── helpers ──

type testBot struct {
	orch  *Orchestrator
	store *store.Store
	ch    *fakeChannel
	tr    *fakeTranscriber
	sess  *store.Session
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	st, err := store.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	t.Setenv("OPENROUTER_API_KEY", "")
	if err := st.Settings.Set("sistema_diretorio_uploads", t.TempDir()); err != nil {
		t.Fatalf("Settings.Set() error = %v", err)
	}

	sess := &store.Session{Nome: "Loja", Canal: "whatsapp", Ativa: true, AutoResponder: true, SalvarHist: true}
	if err := st.Sessions.Create(sess); err != nil {
		t.Fatalf("Sessions.Create() error = %v", err)
	}

	tr := &fakeTranscriber{enabled: true, text: "bom dia, quero o catálogo"}
	orch := NewOrchestrator(st, llm.NewEngine(st, slog.Default()), tr, slog.Default())
	return &testBot{orch: orch, store: st, ch: newFakeChannel(), tr: tr, sess: sess}
}

// answeringServer fakes a local provider that replies with a fixed text.
func answeringServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"model": "llama3.1",
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
			"usage": map[string]any{"prompt_tokens": 9, "completion_tokens": 4},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (b *testBot) addProvider(t *testing.T, baseURL string) {
	t.Helper()
	p := &store.Provider{Nome: "local-teste", Tipo: store.ProviderLocal, BaseURL: baseURL, Ativo: true}
	if err := b.store.Providers.Create(p); err != nil {
		t.Fatalf("Providers.Create() error = %v", err)
	}
}

func (b *testBot) handle(t *testing.T, msg *channels.IncomingMessage) {
	t.Helper()
	if err := b.orch.Handle(context.Background(), b.sess.ID, b.ch, msg); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
}

func textMessage(content string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:      "MSG1",
		From:    "5511999990000",
		Type:    channels.MessageText,
		Content: content,
	}
}

func (b *testBot) messageCount(t *testing.T) int64 {
	t.Helper()
	total, _, err := b.store.Messages.CountBySession(b.sess.ID)
	if err != nil {
		t.Fatalf("CountBySession() error = %v", err)
	}
	return total
}

// ── resolver ──

func TestResolveCommand(t *testing.T) {
	st := newTestBot(t)
	cmds, err := st.store.Commands.ListForSession(st.sess.ID)
	if err != nil {
		t.Fatalf("ListForSession() error = %v", err)
	}

	tests := []struct {
		name     string
		text     string
		wantID   string
		wantArgs string
	}{
		{"exact match", "#ativar", store.CmdAtivar, ""},
		{"case insensitive", "#ATIVAR", store.CmdAtivar, ""},
		{"surrounding spaces", "  #status  ", store.CmdStatus, ""},
		{"help alias", "#help", store.CmdAjuda, ""},
		{"agent switch", "#vendas", store.CmdTrocarAgente, "vendas"},
		{"agent switch beats nothing", "#ativarr", store.CmdTrocarAgente, "ativarr"},
		{"bare prefix is not a command", "#", "", ""},
		{"plain text", "bom dia", "", ""},
		{"empty", "   ", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveCommand(cmds, tt.text)
			if tt.wantID == "" {
				if got != nil {
					t.Fatalf("ResolveCommand(%q) = %+v, want nil", tt.text, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ResolveCommand(%q) = nil, want %s", tt.text, tt.wantID)
			}
			if got.Config.ComandoID != tt.wantID || got.Args != tt.wantArgs {
				t.Errorf("ResolveCommand(%q) = %s/%q, want %s/%q",
					tt.text, got.Config.ComandoID, got.Args, tt.wantID, tt.wantArgs)
			}
		})
	}

	t.Run("disabled command does not match", func(t *testing.T) {
		if err := st.store.Commands.Update(st.sess.ID, store.CmdStatus, "#status", "", false); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		cmds, _ := st.store.Commands.ListForSession(st.sess.ID)
		got := ResolveCommand(cmds, "#status")
		// With status off, the text falls through to the agent switch.
		if got == nil || got.Config.ComandoID != store.CmdTrocarAgente {
			t.Errorf("ResolveCommand(#status) = %+v, want agent switch fallthrough", got)
		}
	})
}

// ── commands through the pipeline ──

func TestHandleAtivarDesativar(t *testing.T) {
	b := newTestBot(t)
	if err := b.store.Sessions.SetAutoResponder(b.sess.ID, false); err != nil {
		t.Fatalf("SetAutoResponder() error = %v", err)
	}

	b.handle(t, textMessage("#ativar"))

	got, _ := b.store.Sessions.GetByID(b.sess.ID)
	if !got.AutoResponder {
		t.Error("auto responder still off after #ativar")
	}
	sent := b.ch.lastSent()
	if sent == nil || !strings.Contains(sent.Content, "ativadas") {
		t.Errorf("reply = %+v, want the activation confirmation", sent)
	}
	if n := b.messageCount(t); n != 0 {
		t.Errorf("command message was persisted (%d rows)", n)
	}

	b.handle(t, textMessage("#desativar"))
	got, _ = b.store.Sessions.GetByID(b.sess.ID)
	if got.AutoResponder {
		t.Error("auto responder still on after #desativar")
	}
}

func TestHandleTrocarAgente(t *testing.T) {
	b := newTestBot(t)
	a := &store.Agent{Nome: "Vendas", Codigo: "vendas", PromptSistema: "Você vende.", Ativo: true}
	if err := b.store.Agents.Create(a); err != nil {
		t.Fatalf("Agents.Create() error = %v", err)
	}

	b.handle(t, textMessage("#vendas"))

	got, _ := b.store.Sessions.GetByID(b.sess.ID)
	if got.AgenteAtivoID != a.ID {
		t.Errorf("AgenteAtivoID = %d, want %d", got.AgenteAtivoID, a.ID)
	}
	sent := b.ch.lastSent()
	if sent == nil || !strings.Contains(sent.Content, "Vendas") {
		t.Errorf("switch confirmation = %+v, want the agent name", sent)
	}

	b.handle(t, textMessage("#suporte"))
	sent = b.ch.lastSent()
	if sent == nil || !strings.Contains(sent.Content, "não encontrado") {
		t.Errorf("unknown agent reply = %+v", sent)
	}
}

func TestHandleLimpar(t *testing.T) {
	b := newTestBot(t)
	m := &store.Message{SessaoID: b.sess.ID, TelefoneCliente: "5511999990000", ConteudoTexto: "oi"}
	if err := b.store.Messages.Create(m); err != nil {
		t.Fatalf("Messages.Create() error = %v", err)
	}

	b.handle(t, textMessage("#limpar"))

	hist, _ := b.store.Messages.History(b.sess.ID, "5511999990000", 10)
	if len(hist) != 0 {
		t.Errorf("history kept %d messages after #limpar", len(hist))
	}
}

func TestHandleAjudaListsCommands(t *testing.T) {
	b := newTestBot(t)
	b.handle(t, textMessage("#ajuda"))

	sent := b.ch.lastSent()
	if sent == nil {
		t.Fatal("no reply to #ajuda")
	}
	for _, want := range []string{"#ativar", "#desativar", "#limpar", "#status", "#listar"} {
		if !strings.Contains(sent.Content, want) {
			t.Errorf("help text missing %s:\n%s", want, sent.Content)
		}
	}
}

// ── policies ──

func TestHandlePolicyIgnore(t *testing.T) {
	b := newTestBot(t)
	b.handle(t, &channels.IncomingMessage{
		ID: "V1", From: "5511999990000", Type: channels.MessageVideo,
	})

	if b.ch.sentCount() != 0 {
		t.Error("ignored type produced a reply")
	}
	if n := b.messageCount(t); n != 0 {
		t.Errorf("ignored message was persisted (%d rows)", n)
	}
}

func TestHandlePolicyFixedReply(t *testing.T) {
	b := newTestBot(t)
	err := b.store.Policies.Upsert(&store.TypePolicy{
		SessaoID: b.sess.ID, Tipo: "sticker", Acao: store.AcaoRespostaFixa,
		RespostaFixa: "Recebi a figurinha! 😄",
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	b.handle(t, &channels.IncomingMessage{
		ID: "S1", From: "5511999990000", Type: channels.MessageSticker,
	})

	sent := b.ch.lastSent()
	if sent == nil || sent.Content != "Recebi a figurinha! 😄" {
		t.Errorf("fixed reply = %+v", sent)
	}
	if n := b.messageCount(t); n != 0 {
		t.Errorf("fixed-reply message was persisted (%d rows)", n)
	}
}

func TestHandleTranscribeOnly(t *testing.T) {
	b := newTestBot(t)
	err := b.store.Policies.Upsert(&store.TypePolicy{
		SessaoID: b.sess.ID, Tipo: "audio", Acao: store.AcaoTranscricao,
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	b.ch.mediaData = []byte("OggS fake voice note")
	b.ch.mediaMime = "audio/ogg; codecs=opus"

	b.handle(t, &channels.IncomingMessage{
		ID: "A1", From: "5511999990000", Type: channels.MessageAudio,
		Media: &channels.MediaInfo{Type: "audio", MimeType: "audio/ogg; codecs=opus"},
	})

	sent := b.ch.lastSent()
	if sent == nil || !strings.Contains(sent.Content, "Transcrição do áudio") ||
		!strings.Contains(sent.Content, "bom dia, quero o catálogo") {
		t.Errorf("transcription reply = %+v", sent)
	}

	hist, _ := b.store.Messages.History(b.sess.ID, "5511999990000", 10)
	if len(hist) != 1 {
		t.Fatalf("persisted %d rows, want 1", len(hist))
	}
	if !strings.HasPrefix(hist[0].ConteudoTexto, "[Áudio transcrito]: ") {
		t.Errorf("persisted content = %q", hist[0].ConteudoTexto)
	}
	if hist[0].ConteudoMidiaPath == "" {
		t.Error("audio file path not recorded")
	}
}

// ── auto responder gate ──

func TestHandleAutoResponderOffArchivesOnly(t *testing.T) {
	b := newTestBot(t)
	if err := b.store.Sessions.SetAutoResponder(b.sess.ID, false); err != nil {
		t.Fatalf("SetAutoResponder() error = %v", err)
	}

	b.handle(t, textMessage("tem promoção hoje?"))

	if b.ch.sentCount() != 0 {
		t.Error("reply sent with auto responder off")
	}
	hist, _ := b.store.Messages.History(b.sess.ID, "5511999990000", 10)
	if len(hist) != 1 || !hist[0].Processada || hist[0].Respondida {
		t.Errorf("archived row = %+v, want processed and unanswered", hist)
	}
}

// ── agent invocation ──

func TestHandleTextReachesAgent(t *testing.T) {
	b := newTestBot(t)
	srv := answeringServer(t, "Temos sim! Posso te mandar o catálogo.")
	b.addProvider(t, srv.URL)

	b.handle(t, textMessage("tem promoção hoje?"))

	sent := b.ch.lastSent()
	if sent == nil || sent.Content != "Temos sim! Posso te mandar o catálogo." {
		t.Errorf("reply = %+v", sent)
	}

	hist, _ := b.store.Messages.History(b.sess.ID, "5511999990000", 10)
	if len(hist) != 1 {
		t.Fatalf("persisted %d rows, want 1", len(hist))
	}
	m := hist[0]
	if !m.Respondida || m.RespostaTexto != sent.Content {
		t.Errorf("reply not recorded: %+v", m)
	}
	if m.RespostaModelo != "llama3.1" {
		t.Errorf("RespostaModelo = %q", m.RespostaModelo)
	}
	if m.RespostaTokensInput == nil || *m.RespostaTokensInput != 9 {
		t.Errorf("RespostaTokensInput = %v, want 9", m.RespostaTokensInput)
	}
}

func TestHandleRecordsRequestedTools(t *testing.T) {
	b := newTestBot(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"model": "llama3.1",
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"content": "Deixa eu consultar o estoque.",
						"tool_calls": []map[string]any{
							{"function": map[string]any{"name": "buscar_estoque"}},
							{"function": map[string]any{"name": "consultar_preco"}},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
			"usage": map[string]any{"prompt_tokens": 9, "completion_tokens": 4},
		})
	}))
	t.Cleanup(srv.Close)
	b.addProvider(t, srv.URL)

	b.handle(t, textMessage("tem esse produto?"))

	hist, _ := b.store.Messages.History(b.sess.ID, "5511999990000", 10)
	if len(hist) != 1 {
		t.Fatalf("persisted %d rows, want 1", len(hist))
	}
	if hist[0].FerramentasUsadas != `["buscar_estoque","consultar_preco"]` {
		t.Errorf("FerramentasUsadas = %q", hist[0].FerramentasUsadas)
	}
}

func TestHandleAgentFailureSendsApology(t *testing.T) {
	b := newTestBot(t)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid API key", http.StatusUnauthorized)
	}))
	t.Cleanup(broken.Close)
	b.addProvider(t, broken.URL)

	b.handle(t, textMessage("oi"))

	sent := b.ch.lastSent()
	if sent == nil || !strings.Contains(sent.Content, "configuração") {
		t.Errorf("apology = %+v, want the configuration class message", sent)
	}

	hist, _ := b.store.Messages.History(b.sess.ID, "5511999990000", 10)
	if len(hist) != 1 {
		t.Fatalf("persisted %d rows, want 1", len(hist))
	}
	if hist[0].RespostaErro == "" || hist[0].Respondida {
		t.Errorf("failure row = %+v, want recorded error and no reply", hist[0])
	}
}

func TestHandleAudioToAgent(t *testing.T) {
	b := newTestBot(t)
	srv := answeringServer(t, "O catálogo já vai!")
	b.addProvider(t, srv.URL)
	b.ch.mediaData = []byte("OggS fake voice note")
	b.ch.mediaMime = "audio/ogg"

	b.handle(t, &channels.IncomingMessage{
		ID: "A2", From: "5511999990000", Type: channels.MessageAudio,
		Media: &channels.MediaInfo{Type: "audio", MimeType: "audio/ogg"},
	})

	hist, _ := b.store.Messages.History(b.sess.ID, "5511999990000", 10)
	if len(hist) != 1 {
		t.Fatalf("persisted %d rows, want 1", len(hist))
	}
	if hist[0].ConteudoTexto != "[Áudio transcrito]: bom dia, quero o catálogo" {
		t.Errorf("ConteudoTexto = %q", hist[0].ConteudoTexto)
	}
	if !hist[0].Respondida {
		t.Error("audio message was not answered")
	}
}

func TestHandleAudioTranscriptionFailure(t *testing.T) {
	b := newTestBot(t)
	srv := answeringServer(t, "Não entendi o áudio.")
	b.addProvider(t, srv.URL)
	b.ch.mediaData = []byte("OggS fake voice note")
	b.ch.mediaMime = "audio/ogg"
	b.tr.text = ""
	b.tr.err = errors.New("whisper indisponível")

	b.handle(t, &channels.IncomingMessage{
		ID: "A3", From: "5511999990000", Type: channels.MessageAudio,
		Media: &channels.MediaInfo{Type: "audio", MimeType: "audio/ogg"},
	})

	hist, _ := b.store.Messages.History(b.sess.ID, "5511999990000", 10)
	if len(hist) != 1 || hist[0].ConteudoTexto != "[Áudio não transcrito]" {
		t.Errorf("persisted content = %+v, want the placeholder", hist)
	}
}

func TestHandleAudioDownloadFailure(t *testing.T) {
	b := newTestBot(t)
	srv := answeringServer(t, "ok")
	b.addProvider(t, srv.URL)
	b.ch.mediaErr = errors.New("mídia expirada")

	b.handle(t, &channels.IncomingMessage{
		ID: "A4", From: "5511999990000", Type: channels.MessageAudio,
		Media: &channels.MediaInfo{Type: "audio", MimeType: "audio/ogg"},
	})

	hist, _ := b.store.Messages.History(b.sess.ID, "5511999990000", 10)
	if len(hist) != 1 || hist[0].ConteudoTexto != "[Erro ao processar áudio]" {
		t.Errorf("persisted content = %+v, want the processing error placeholder", hist)
	}
}

// ── parameter layering ──

func TestBuildChatRequestLayering(t *testing.T) {
	b := newTestBot(t)
	agent := &store.Agent{
		Nome: "Vendas", Codigo: "vendas", PromptSistema: "Você vende.",
		ModeloLLM: "qwen2.5", Temperatura: 0.4, MaxTokens: 500, Ativo: true,
	}
	if err := b.store.Agents.Create(agent); err != nil {
		t.Fatalf("Agents.Create() error = %v", err)
	}

	history := []*store.Message{
		{ConteudoTexto: "oi", Respondida: true, RespostaTexto: "olá!"},
		{ConteudoTexto: "tudo bem?"},
	}
	userMsg := llm.Message{Role: "user", Content: "quero comprar"}

	t.Run("agent values over defaults", func(t *testing.T) {
		req := b.orch.buildChatRequest(b.sess, agent, history, userMsg)
		if req.Model != "qwen2.5" || req.Temperature != 0.4 || req.MaxTokens != 500 {
			t.Errorf("req = %s/%v/%d, want agent values", req.Model, req.Temperature, req.MaxTokens)
		}
		if req.Messages[0].Role != "system" || req.Messages[0].Content != "Você vende." {
			t.Errorf("system prompt = %+v", req.Messages[0])
		}
		// system, user, assistant, user, current
		if len(req.Messages) != 5 {
			t.Fatalf("len(Messages) = %d, want 5", len(req.Messages))
		}
		if last := req.Messages[len(req.Messages)-1]; last.Content != "quero comprar" {
			t.Errorf("last message = %+v", last)
		}
	})

	t.Run("session overrides beat the agent", func(t *testing.T) {
		temp, maxTok := 0.9, 64
		b.sess.ModeloLLM = "llama3.1"
		b.sess.Temperatura = &temp
		b.sess.MaxTokens = &maxTok
		req := b.orch.buildChatRequest(b.sess, agent, nil, userMsg)
		if req.Model != "llama3.1" || req.Temperature != 0.9 || req.MaxTokens != 64 {
			t.Errorf("req = %s/%v/%d, want session overrides", req.Model, req.Temperature, req.MaxTokens)
		}
	})

	t.Run("defaults without an agent", func(t *testing.T) {
		sess := &store.Session{ID: b.sess.ID}
		req := b.orch.buildChatRequest(sess, nil, nil, userMsg)
		if req.Temperature != 0.7 || req.MaxTokens != 1000 {
			t.Errorf("req = %v/%d, want settings defaults", req.Temperature, req.MaxTokens)
		}
		if req.Messages[0].Role != "system" {
			t.Error("default system prompt missing")
		}
	})
}

// ── error classification ──

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  string
		want string
	}{
		{"erro na API OpenRouter: 402 - saldo", errClassConfig},
		{"Invalid API key", errClassConfig},
		{"context deadline exceeded", errClassTransient},
		{"dial tcp: connection refused", errClassTransient},
		{"erro HTTP 429: rate limit exceeded", errClassThrottle},
		{"resposta sem choices", errClassGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			classe, apology := classifyError(errors.New(tt.err))
			if classe != tt.want {
				t.Errorf("classifyError(%q) = %s, want %s", tt.err, classe, tt.want)
			}
			if apology == "" {
				t.Error("empty apology")
			}
		})
	}

	t.Run("generic quotes at most 100 chars", func(t *testing.T) {
		long := strings.Repeat("x", 300)
		_, apology := classifyError(errors.New(long))
		if len(apology) > 150 {
			t.Errorf("apology length = %d, want the detail truncated", len(apology))
		}
	})
}

// ── registry ──

func TestRegistry(t *testing.T) {
	b := newTestBot(t)
	fakes := map[int64]*fakeChannel{}
	var hooks SessionHooks
	factory := func(sess *store.Session, h SessionHooks) (channels.Channel, error) {
		ch := newFakeChannel()
		fakes[sess.ID] = ch
		hooks = h
		return ch, nil
	}
	reg := NewRegistry(b.store, b.orch, factory, slog.Default())

	if err := reg.StartSession(context.Background(), b.sess.ID); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if !reg.Running(b.sess.ID) {
		t.Fatal("session not running after StartSession")
	}

	// The connected event arrives after Connect returns.
	hooks.OnStatus(store.StatusConnected)
	got, _ := b.store.Sessions.GetByID(b.sess.ID)
	if got.Status != store.StatusConnected {
		t.Errorf("status = %q, want %s", got.Status, store.StatusConnected)
	}

	if err := reg.StartSession(context.Background(), b.sess.ID); !errors.Is(err, ErrSessionRunning) {
		t.Errorf("second StartSession() error = %v, want ErrSessionRunning", err)
	}

	// A pumped command reaches the orchestrator and flips session state.
	if err := b.store.Sessions.SetAutoResponder(b.sess.ID, false); err != nil {
		t.Fatalf("SetAutoResponder() error = %v", err)
	}
	fakes[b.sess.ID].incoming <- textMessage("#ativar")

	if err := reg.StopSession(b.sess.ID); err != nil {
		t.Fatalf("StopSession() error = %v", err)
	}
	reg.Shutdown()

	got, _ = b.store.Sessions.GetByID(b.sess.ID)
	if !got.AutoResponder {
		t.Error("pumped command did not execute")
	}
	if got.Status != store.StatusDisconnected {
		t.Errorf("status after stop = %q", got.Status)
	}
	if reg.Running(b.sess.ID) {
		t.Error("session still running after StopSession")
	}

	if err := reg.StopSession(b.sess.ID); !errors.Is(err, ErrSessionNotRunning) {
		t.Errorf("StopSession() again error = %v, want ErrSessionNotRunning", err)
	}
}

func TestRegistryStartAll(t *testing.T) {
	b := newTestBot(t)
	inactive := &store.Session{Nome: "Parada", Canal: "whatsapp", Ativa: false}
	if err := b.store.Sessions.Create(inactive); err != nil {
		t.Fatalf("Sessions.Create() error = %v", err)
	}

	var mu sync.Mutex
	started := map[int64]bool{}
	factory := func(sess *store.Session, hooks SessionHooks) (channels.Channel, error) {
		mu.Lock()
		started[sess.ID] = true
		mu.Unlock()
		return newFakeChannel(), nil
	}
	reg := NewRegistry(b.store, b.orch, factory, slog.Default())

	if err := reg.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	defer reg.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	if !started[b.sess.ID] {
		t.Error("active session not started")
	}
	if started[inactive.ID] {
		t.Error("inactive session was started")
	}
}
