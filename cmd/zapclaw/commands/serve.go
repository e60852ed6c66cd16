package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/bot"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels/discord"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels/whatsapp"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/llm"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/scheduler"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/transcribe"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/webui"
)

// newServeCmd cria o comando `zapclaw serve` que inicia o daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Inicia o daemon com as sessões de atendimento",
		Long: `Inicia o ZapClaw como daemon: abre o banco, conecta as sessões
marcadas como ativas, sobe o painel web de administração e agenda as
varreduras de manutenção.

Exemplos:
  zapclaw serve
  zapclaw serve --config ./config.yaml
  zapclaw serve --no-webui`,
		RunE: runServe,
	}

	cmd.Flags().Bool("no-webui", false, "não sobe o painel web")
	cmd.Flags().Bool("no-autostart", false, "não conecta as sessões ativas ao subir")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Configuração ──
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := newLogger(cfg, verbose)

	// ── Banco ──
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("abrindo banco de dados: %w", err)
	}
	defer st.Close()

	// ── Pipeline de mensagens ──
	engine := llm.NewEngine(st, logger)
	transcriber := transcribe.New(st.Settings, logger)
	orch := bot.NewOrchestrator(st, engine, transcriber, logger)
	registry := bot.NewRegistry(st, orch, channelFactory(cfg, logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Sessões ativas ──
	noAutostart, _ := cmd.Flags().GetBool("no-autostart")
	if !noAutostart {
		if err := registry.StartAll(ctx); err != nil {
			logger.Error("falha ao iniciar sessões ativas", "err", err)
		}
	}

	// ── Painel web ──
	var panel *webui.Server
	noWebui, _ := cmd.Flags().GetBool("no-webui")
	if cfg.WebUI.Enabled && !noWebui {
		panel = webui.New(cfg.WebUI, st, registry, engine, logger)
		if err := panel.Start(ctx); err != nil {
			return fmt.Errorf("iniciando painel web: %w", err)
		}
	}

	// ── Varreduras de manutenção ──
	sched := scheduler.New(cfg.Scheduler, st, engine, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("iniciando varreduras: %w", err)
	}

	logger.Info("zapclaw no ar, Ctrl+C para encerrar",
		"banco", cfg.Database.Path,
		"painel", cfg.WebUI.Address,
	)

	// ── Aguarda sinal de término ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("sinal de término recebido, encerrando...")

	// Encerramento gracioso com limite de tempo.
	done := make(chan struct{})
	go func() {
		sched.Stop()
		if panel != nil {
			panel.Stop()
		}
		registry.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("encerramento concluído")
	case <-time.After(10 * time.Second):
		logger.Warn("encerramento expirou após 10s, saindo à força")
	}

	return nil
}

// channelFactory monta o adaptador de transporte de uma sessão conforme a
// coluna canal da sessão.
func channelFactory(cfg *config.Config, logger *slog.Logger) bot.ChannelFactory {
	return func(sess *store.Session, hooks bot.SessionHooks) (channels.Channel, error) {
		switch sess.Canal {
		case "discord":
			return discord.New(discord.Config{
				SessionID: sess.ID,
				Token:     sess.TokenBot,
				OnStatus:  hooks.OnStatus,
				OnPhone:   hooks.OnPhone,
			}, logger), nil
		case "", "whatsapp":
			return whatsapp.New(whatsapp.Config{
				SessionID: sess.ID,
				Dir:       cfg.Sessions.Dir,
				OnQR:      hooks.OnQR,
				OnStatus:  hooks.OnStatus,
				OnPhone:   hooks.OnPhone,
			}, logger), nil
		default:
			return nil, fmt.Errorf("canal desconhecido: %s", sess.Canal)
		}
	}
}
