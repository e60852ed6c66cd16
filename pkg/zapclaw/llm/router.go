package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// openRouterVendors are the model id prefixes that only exist on the
// aggregator. A model carrying one of these never goes to a local provider.
var openRouterVendors = []string{
	"google/", "anthropic/", "openai/", "mistralai/", "cohere/",
}

func openRouterModel(model string) bool {
	for _, v := range openRouterVendors {
		if strings.HasPrefix(model, v) {
			return true
		}
	}
	return false
}

// Engine routes chat requests to a provider and records the outcome. All
// routing knobs live in the settings table so they can change at runtime.
type Engine struct {
	store      *store.Store
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewEngine builds the routing engine on top of the store.
func NewEngine(st *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      st,
		dispatcher: NewDispatcher(0, logger),
		logger:     logger.With("component", "llm"),
	}
}

const (
	routeLocal      = "local"
	routeOpenRouter = "openrouter"
)

type route struct {
	kind     string
	provider *store.Provider // set when kind == routeLocal
	model    string
	motivo   string
}

// route decides where one request goes. Precedence: vendor-prefixed model
// ids force OpenRouter; then the llm_provedor_padrao setting (local or
// openrouter); then auto, which prefers any active local provider and
// falls back to OpenRouter when a key is available.
func (e *Engine) route(model string) (*route, error) {
	if openRouterModel(model) {
		if key, _, _ := e.openRouterCreds(); key == "" {
			return nil, fmt.Errorf("modelo %s exige OpenRouter: %w", model, ErrNoAPIKey)
		}
		return &route{kind: routeOpenRouter, model: model, motivo: MotivoModeloEspecifico}, nil
	}

	modo := e.store.Settings.GetString("llm_provedor_padrao", "auto")
	switch modo {
	case "local":
		p, err := e.localProvider()
		if err != nil {
			return nil, fmt.Errorf("modo local configurado: %w", err)
		}
		return &route{kind: routeLocal, provider: p, model: model, motivo: MotivoConfigLocal}, nil

	case "openrouter":
		if key, _, _ := e.openRouterCreds(); key == "" {
			return nil, ErrNoAPIKey
		}
		return &route{kind: routeOpenRouter, model: e.openRouterModelFor(model), motivo: MotivoConfigOpenRouter}, nil

	default: // auto
		if p, err := e.localProvider(); err == nil {
			return &route{kind: routeLocal, provider: p, model: model, motivo: MotivoAutoLocal}, nil
		}
		if key, _, _ := e.openRouterCreds(); key != "" {
			return &route{kind: routeOpenRouter, model: e.openRouterModelFor(model), motivo: MotivoFallbackPadrao}, nil
		}
		return nil, ErrNoProvider
	}
}

// localProvider returns the preferred local provider: the one pinned by
// llm_provedor_local_id when it is active, otherwise the first active one.
func (e *Engine) localProvider() (*store.Provider, error) {
	if id := e.store.Settings.GetInt64("llm_provedor_local_id", 0); id > 0 {
		p, err := e.store.Providers.GetByID(id)
		if err == nil && p.Ativo && p.Tipo == store.ProviderLocal {
			return p, nil
		}
	}

	ativos, err := e.store.Providers.ListActive()
	if err != nil {
		return nil, err
	}
	for _, p := range ativos {
		if p.Tipo == store.ProviderLocal {
			return p, nil
		}
	}
	return nil, ErrNoProvider
}

// openRouterModelFor maps a local-style model id onto the aggregator's
// default model; vendor-prefixed ids pass through.
func (e *Engine) openRouterModelFor(model string) string {
	if openRouterModel(model) {
		return model
	}
	return e.store.Settings.GetString("openrouter_modelo_padrao", "openai/gpt-4o-mini")
}

// openRouterCreds resolves the key and endpoint for OpenRouter calls. An
// active provider row of tipo openrouter wins over the settings table;
// either way the key passes through the env and keyring chain.
func (e *Engine) openRouterCreds() (key, baseURL string, providerID int64) {
	ativos, err := e.store.Providers.ListActive()
	if err == nil {
		for _, p := range ativos {
			if p.Tipo == store.ProviderOpenRouter {
				return config.ResolveSecret("openrouter_api_key", p.APIKey), p.BaseURL, p.ID
			}
		}
	}
	key = config.ResolveSecret("openrouter_api_key",
		e.store.Settings.GetString("openrouter_api_key", ""))
	return key, e.store.Settings.GetString("openrouter_base_url", ""), 0
}

// Chat routes and executes one completion. A failing local provider is
// retried once on OpenRouter when the fallback setting is on and a key
// exists; the result then carries the original error.
func (e *Engine) Chat(ctx context.Context, req ChatRequest) (*Result, error) {
	if req.Model == "" {
		req.Model = e.store.Settings.GetString("llm_modelo_padrao", "llama3.1")
	}

	rt, err := e.route(req.Model)
	if err != nil {
		return nil, err
	}

	if rt.kind == routeOpenRouter {
		resp, err := e.chatOpenRouter(ctx, rt.model, req)
		if err != nil {
			return nil, err
		}
		return &Result{ChatResponse: *resp, ProvedorUsado: "openrouter", Motivo: rt.motivo}, nil
	}

	req.Model = rt.model
	timeout := time.Duration(e.store.Settings.GetInt("llm_timeout_segundos", 30)) * time.Second
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, primaryErr := e.dispatcher.Chat(cctx, rt.provider, req)
	if err := e.store.Providers.RecordRequest(rt.provider.ID, primaryErr == nil, time.Since(start)); err != nil {
		e.logger.Warn("falha ao registrar estatísticas", "provedor", rt.provider.Nome, "err", err)
	}
	if primaryErr == nil {
		return &Result{ChatResponse: *resp, ProvedorUsado: rt.provider.Nome, Motivo: rt.motivo}, nil
	}

	e.logger.Warn("provedor principal falhou",
		"provedor", rt.provider.Nome, "modelo", req.Model, "err", primaryErr)

	key, _, _ := e.openRouterCreds()
	if !e.store.Settings.GetBool("llm_fallback_openrouter", true) || key == "" {
		return nil, primaryErr
	}

	fbModel := e.store.Settings.GetString("openrouter_modelo_padrao", "openai/gpt-4o-mini")
	fbResp, fbErr := e.chatOpenRouter(ctx, fbModel, req)
	if fbErr != nil {
		return nil, fmt.Errorf("erro no provedor principal e no fallback: %v | %v", primaryErr, fbErr)
	}
	return &Result{
		ChatResponse:  *fbResp,
		ProvedorUsado: "openrouter_fallback",
		Motivo:        rt.motivo,
		ErroOriginal:  primaryErr.Error(),
	}, nil
}

func (e *Engine) chatOpenRouter(ctx context.Context, model string, req ChatRequest) (*ChatResponse, error) {
	key, baseURL, providerID := e.openRouterCreds()
	if key == "" {
		return nil, ErrNoAPIKey
	}
	req.Model = model

	timeout := time.Duration(e.store.Settings.GetInt("openrouter_timeout_segundos", 60)) * time.Second
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := NewOpenRouterClient(baseURL, 0, e.logger)
	start := time.Now()
	resp, err := client.Chat(cctx, key, req)
	if providerID != 0 {
		if rerr := e.store.Providers.RecordRequest(providerID, err == nil, time.Since(start)); rerr != nil {
			e.logger.Warn("falha ao registrar estatísticas", "provedor_id", providerID, "err", rerr)
		}
	}
	return resp, err
}

// probeTimeout bounds connectivity tests and model listings.
const probeTimeout = 10 * time.Second

// RefreshProvider probes one provider, updates its health flag and swaps
// its cached model list. Used by the web ui and the scheduler sweep.
func (e *Engine) RefreshProvider(ctx context.Context, id int64) ([]store.CachedModel, error) {
	p, err := e.store.Providers.GetByID(id)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var models []ModelInfo
	if p.Tipo == store.ProviderOpenRouter {
		key := config.ResolveSecret("openrouter_api_key", p.APIKey)
		client := NewOpenRouterClient(p.BaseURL, 0, e.logger)
		models, err = client.ListModels(cctx, key)
	} else {
		models, err = e.dispatcher.ListModels(cctx, p)
	}

	if merr := e.store.Providers.MarkStatus(id, err == nil); merr != nil {
		e.logger.Warn("falha ao atualizar status do provedor", "provedor", p.Nome, "err", merr)
	}
	if err != nil {
		return nil, fmt.Errorf("atualizando modelos de %s: %w", p.Nome, err)
	}

	cached := make([]store.CachedModel, 0, len(models))
	for _, m := range models {
		cached = append(cached, store.CachedModel{
			ProvedorID:         id,
			ModeloID:           m.ID,
			Nome:               m.Nome,
			Contexto:           m.Contexto,
			SuportaImagens:     m.SuportaImagens,
			SuportaFerramentas: m.SuportaFerramentas,
			TamanhoBytes:       m.TamanhoBytes,
			Quantizacao:        m.Quantizacao,
		})
	}
	if err := e.store.Providers.ReplaceModels(id, cached); err != nil {
		return nil, err
	}
	return cached, nil
}

// TestProvider probes the provider and records the outcome on its row.
func (e *Engine) TestProvider(ctx context.Context, id int64) error {
	p, err := e.store.Providers.GetByID(id)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if p.Tipo == store.ProviderOpenRouter {
		key := config.ResolveSecret("openrouter_api_key", p.APIKey)
		client := NewOpenRouterClient(p.BaseURL, 0, e.logger)
		_, err = client.ListModels(cctx, key)
	} else {
		err = e.dispatcher.Probe(cctx, p)
	}

	if merr := e.store.Providers.MarkStatus(id, err == nil); merr != nil {
		e.logger.Warn("falha ao atualizar status do provedor", "provedor", p.Nome, "err", merr)
	}
	return err
}

// ListOpenRouterModels fetches the OpenRouter catalog live with the
// resolved credentials. The list is not cached; it works with a settings
// key alone, no provider row needed.
func (e *Engine) ListOpenRouterModels(ctx context.Context) ([]ModelInfo, error) {
	key, baseURL, _ := e.openRouterCreds()
	if key == "" {
		return nil, ErrNoAPIKey
	}

	cctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client := NewOpenRouterClient(baseURL, 0, e.logger)
	return client.ListModels(cctx, key)
}
