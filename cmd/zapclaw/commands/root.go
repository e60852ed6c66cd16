// Package commands implementa os comandos CLI do ZapClaw usando cobra.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// NewRootCmd cria o comando raiz do CLI com todos os subcomandos registrados.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zapclaw",
		Short: "ZapClaw - Atendimento com IA para WhatsApp",
		Long: `ZapClaw conecta contas de WhatsApp (e bots de Discord) a agentes de IA.
Roda como daemon com painel web de administração, roteando as mensagens
recebidas para LLMs locais (Ollama, LM Studio) ou para o OpenRouter.

Exemplos:
  zapclaw setup
  zapclaw serve
  zapclaw chat "como funciona o atendimento?"
  zapclaw provider test 1`,
		Version: version,
	}

	// Registra subcomandos.
	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newChatCmd(),
		newSessionCmd(),
		newProviderCmd(),
		newConfigCmd(),
		newKeyringCmd(),
	)

	// Flags globais.
	rootCmd.PersistentFlags().StringP("config", "c", "", "caminho para o arquivo de configuração")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "habilita logs detalhados")

	return rootCmd
}

// loadConfig resolve a configuração: usa --config quando informado, procura
// nos caminhos padrão e, sem arquivo nenhum, fica com os defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	if found := config.FindConfigFile(); found != "" {
		return config.LoadFromFile(found)
	}
	return config.DefaultConfig(), nil
}

// cliEnv agrupa o que os subcomandos usam depois do bootstrap.
type cliEnv struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
}

func (e *cliEnv) Close() { e.store.Close() }

// bootstrap resolve a configuração, monta o logger e abre o banco.
func bootstrap(cmd *cobra.Command) (*cliEnv, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := newLogger(cfg, verbose)

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("abrindo banco de dados: %w", err)
	}
	return &cliEnv{cfg: cfg, logger: logger, store: st}, nil
}

// newLogger monta o slog.Logger do processo a partir da configuração.
// A flag --verbose força o nível debug.
func newLogger(cfg *config.Config, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
