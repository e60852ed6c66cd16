package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/llm"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// newSetupCmd cria o comando `zapclaw setup` de configuração interativa.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Assistente interativo de configuração",
		Long: `Guia a configuração inicial: cria o config.yaml, define a senha do
painel web (guardada como hash bcrypt no banco) e opcionalmente cadastra
o primeiro provedor de LLM, já testando a conectividade.

Exemplos:
  zapclaw setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	err := runInteractiveSetup()
	if errors.Is(err, huh.ErrUserAborted) {
		fmt.Println("Setup cancelado.")
		return nil
	}
	return err
}

// runInteractiveSetup conduz o operador pela configuração passo a passo.
func runInteractiveSetup() error {
	cfg := config.DefaultConfig()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║            ZapClaw — Configuração            ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	// ── Infraestrutura ──
	if err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Arquivo do banco de dados").
			Description("Banco SQLite com sessões, agentes, provedores e histórico.").
			Value(&cfg.Database.Path).
			Validate(required("informe o caminho do banco")),
		huh.NewInput().
			Title("Diretório das sessões").
			Description("Guarda os arquivos de pareamento do WhatsApp (sessao_<id>.db).").
			Value(&cfg.Sessions.Dir).
			Validate(required("informe o diretório das sessões")),
		huh.NewInput().
			Title("Endereço do painel web").
			Description("Endereço de escuta da API de administração, ex: :8091.").
			Value(&cfg.WebUI.Address).
			Validate(required("informe o endereço do painel")),
		huh.NewConfirm().
			Title("Habilitar o painel web?").
			Affirmative("Sim").
			Negative("Não").
			Value(&cfg.WebUI.Enabled),
	)).Run(); err != nil {
		return err
	}

	// ── Senha do painel ──
	senha, err := askPanelPassword()
	if err != nil {
		return err
	}

	// ── Provedor inicial ──
	cadastrar := true
	if err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Cadastrar um provedor de LLM agora?").
			Description("Sem provedor o bot não responde; dá para cadastrar depois no painel.").
			Affirmative("Sim").
			Negative("Depois").
			Value(&cadastrar),
	)).Run(); err != nil {
		return err
	}

	var provider *store.Provider
	var apiKey string
	var useKeyring bool
	if cadastrar {
		provider, apiKey, useKeyring, err = askProvider()
		if err != nil {
			return err
		}
	}

	// ── Grava o config.yaml ──
	target := "config.yaml"
	if _, err := os.Stat(target); err == nil {
		overwrite := false
		if err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s já existe. Sobrescrever?", target)).
				Description("O arquivo atual é preservado em " + target + ".bak.").
				Affirmative("Sim").
				Negative("Não").
				Value(&overwrite),
		)).Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Setup cancelado. Arquivo existente mantido.")
			return nil
		}
	}
	if err := config.SaveToFile(cfg, target); err != nil {
		return err
	}

	// ── Aplica senha e provedor no banco ──
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("abrindo banco de dados: %w", err)
	}
	defer st.Close()

	if senha != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(senha), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("gerando hash da senha: %w", err)
		}
		if err := st.Settings.Set("webui_senha_hash", string(hash)); err != nil {
			return fmt.Errorf("gravando senha do painel: %w", err)
		}
	}

	if provider != nil {
		if useKeyring {
			if err := config.StoreKeyring("openrouter_api_key", apiKey); err != nil {
				fmt.Printf("   [!] Falha ao gravar no chaveiro (%v); a chave vai para o banco.\n", err)
				provider.APIKey = apiKey
			}
		} else {
			provider.APIKey = apiKey
		}
		if err := st.Providers.Create(provider); err != nil {
			return fmt.Errorf("cadastrando provedor: %w", err)
		}

		fmt.Printf("\nTestando conexão com %q...\n", provider.Nome)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := llm.NewEngine(st, logger).TestProvider(ctx, provider.ID); err != nil {
			fmt.Printf("   [!] Teste falhou: %v\n", err)
			fmt.Println("   O provedor ficou cadastrado; ajuste e teste de novo no painel.")
		} else {
			fmt.Println("   Provedor respondeu, conexão ok.")
		}
	}

	// ── Resumo ──
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────")
	fmt.Printf("  Banco:     %s\n", cfg.Database.Path)
	fmt.Printf("  Sessões:   %s\n", cfg.Sessions.Dir)
	fmt.Printf("  Painel:    %s (habilitado: %v)\n", cfg.WebUI.Address, cfg.WebUI.Enabled)
	if senha != "" {
		fmt.Println("  Senha:     **** (hash bcrypt no banco)")
	} else {
		fmt.Println("  Senha:     (painel sem autenticação)")
	}
	if provider != nil {
		fmt.Printf("  Provedor:  %s (%s)\n", provider.Nome, provider.Tipo)
	}
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println()
	fmt.Println("Próximos passos:")
	fmt.Println("  1. Rode: zapclaw serve")
	fmt.Printf("  2. Abra o painel em http://localhost%s\n", cfg.WebUI.Address)
	fmt.Println("  3. Crie uma sessão e escaneie o QR code com o WhatsApp")
	fmt.Println()

	return nil
}

// askPanelPassword pede a senha do painel duas vezes até conferirem.
// Vazio pula a autenticação.
func askPanelPassword() (string, error) {
	for {
		var senha, confirma string
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Senha do painel web").
				Description("Mínimo 8 caracteres. Deixe em branco para painel sem senha.").
				EchoMode(huh.EchoModePassword).
				Value(&senha).
				Validate(func(s string) error {
					if s != "" && len(s) < 8 {
						return errors.New("senha muito curta (mínimo 8 caracteres)")
					}
					return nil
				}),
			huh.NewInput().
				Title("Confirme a senha").
				EchoMode(huh.EchoModePassword).
				Value(&confirma),
		)).Run(); err != nil {
			return "", err
		}

		if senha == confirma {
			return senha, nil
		}
		fmt.Println("   [!] As senhas não conferem, tente novamente.")
	}
}

// askProvider coleta os dados do primeiro provedor. Devolve a linha a
// cadastrar, a chave digitada e se ela deve ir para o chaveiro do sistema.
func askProvider() (*store.Provider, string, bool, error) {
	p := &store.Provider{Ativo: true, Tipo: store.ProviderLocal}

	if err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Tipo do provedor").
			Options(
				huh.NewOption("Local (Ollama / LM Studio)", store.ProviderLocal),
				huh.NewOption("OpenRouter (agregador)", store.ProviderOpenRouter),
			).
			Value(&p.Tipo),
		huh.NewInput().
			Title("Nome do provedor").
			Placeholder("Ollama Local").
			Value(&p.Nome).
			Validate(required("informe um nome")),
	)).Run(); err != nil {
		return nil, "", false, err
	}
	p.Nome = strings.TrimSpace(p.Nome)

	var apiKey string
	var useKeyring bool
	if p.Tipo == store.ProviderOpenRouter {
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("API Key do OpenRouter").
				Description("Criada em openrouter.ai/keys.").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey).
				Validate(required("informe a API Key")),
		)).Run(); err != nil {
			return nil, "", false, err
		}

		if config.KeyringAvailable() {
			useKeyring = true
			if err := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title("Guardar a chave no chaveiro do sistema?").
					Description("Mais seguro que o banco; o banco guarda em texto puro.").
					Affirmative("Chaveiro").
					Negative("Banco").
					Value(&useKeyring),
			)).Run(); err != nil {
				return nil, "", false, err
			}
		}
	} else {
		p.BaseURL = "http://localhost:11434"
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Base URL do provedor").
				Description("Ollama usa http://localhost:11434, LM Studio http://localhost:1234.").
				Value(&p.BaseURL).
				Validate(required("informe a base URL")),
		)).Run(); err != nil {
			return nil, "", false, err
		}
		p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	}

	return p, apiKey, useKeyring, nil
}

// required valida que o campo não ficou em branco.
func required(msg string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(msg)
		}
		return nil
	}
}
