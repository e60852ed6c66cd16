package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/llm"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// newChatCmd cria o comando `zapclaw chat` para conversar pelo terminal.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [mensagem]",
		Short: "Conversa com o agente pelo terminal",
		Long: `Conversa com o agente usando o mesmo roteamento de provedores do
daemon. Com uma mensagem como argumento responde uma vez e sai; sem
argumentos entra no modo interativo.

Comandos do modo interativo:
  /modelo [id]   mostra ou troca o modelo
  /provedor      lista os provedores e seus status
  /sair          encerra a conversa

Exemplos:
  zapclaw chat "qual o horário de atendimento?"
  zapclaw chat -m llama3.1
  zapclaw chat -a vendas`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().StringP("model", "m", "", "modelo LLM (ex: llama3.1, openai/gpt-4o-mini)")
	cmd.Flags().StringP("agente", "a", "", "código do agente cujas instruções usar")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Logs vão para stderr para não poluir a conversa.
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("abrindo banco de dados: %w", err)
	}
	defer st.Close()

	engine := llm.NewEngine(st, logger)

	model, _ := cmd.Flags().GetString("model")
	systemPrompt := st.Settings.GetString("agente_prompt_padrao", "")
	temperature := st.Settings.GetFloat("agente_temperatura_padrao", 0.7)
	maxTokens := st.Settings.GetInt("agente_max_tokens_padrao", 1000)

	if codigo, _ := cmd.Flags().GetString("agente"); codigo != "" {
		agent, err := st.Agents.GetByCode(codigo)
		if err != nil {
			return err
		}
		if agent.PromptSistema != "" {
			systemPrompt = agent.PromptSistema
		}
		if agent.ModeloLLM != "" && model == "" {
			model = agent.ModeloLLM
		}
		temperature = agent.Temperatura
		maxTokens = agent.MaxTokens
		fmt.Printf("Agente %q carregado.\n", agent.Nome)
	}

	session := &chatSession{
		engine:       engine,
		store:        st,
		model:        model,
		systemPrompt: systemPrompt,
		temperature:  temperature,
		maxTokens:    maxTokens,
	}

	// Modo mensagem única.
	if len(args) > 0 {
		return session.ask(args[0])
	}

	return session.repl()
}

// chatSession guarda o estado da conversa interativa.
type chatSession struct {
	engine       *llm.Engine
	store        *store.Store
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int
	history      []llm.Message
}

// ask envia uma mensagem e imprime a resposta com a rota usada.
func (c *chatSession) ask(text string) error {
	messages := make([]llm.Message, 0, len(c.history)+2)
	if c.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: c.systemPrompt})
	}
	messages = append(messages, c.history...)
	messages = append(messages, llm.Message{Role: "user", Content: text})

	// Os timeouts por rota (local e OpenRouter) são do próprio engine.
	res, err := c.engine.Chat(context.Background(), llm.ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return err
	}

	fmt.Println(res.Content)
	fmt.Printf("(%s • %s • %d tokens • %s)\n",
		res.ProvedorUsado, res.Model, res.TokensTotal, res.Elapsed.Round(time.Millisecond))

	c.history = append(c.history,
		llm.Message{Role: "user", Content: text},
		llm.Message{Role: "assistant", Content: res.Content},
	)
	// Conversas longas ficam com a mesma janela de contexto do daemon.
	limit := 2 * c.store.Settings.GetInt("agente_historico_mensagens", 10)
	if len(c.history) > limit {
		c.history = c.history[len(c.history)-limit:]
	}
	return nil
}

// repl roda o laço interativo com readline.
func (c *chatSession) repl() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "você> ",
		HistoryFile:     filepath.Join(os.TempDir(), "zapclaw_chat_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "/sair",
	})
	if err != nil {
		return fmt.Errorf("iniciando terminal interativo: %w", err)
	}
	defer rl.Close()

	fmt.Println("Conversa iniciada. /sair encerra, /modelo e /provedor ajudam no diagnóstico.")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if c.metaCommand(line) {
				return nil
			}
			continue
		}

		if err := c.ask(line); err != nil {
			fmt.Fprintf(os.Stderr, "Erro: %v\n", err)
		}
	}
}

// metaCommand trata os comandos /modelo, /provedor e /sair.
// Devolve true quando a conversa deve encerrar.
func (c *chatSession) metaCommand(line string) bool {
	parts := strings.Fields(line)
	switch parts[0] {
	case "/sair":
		return true

	case "/modelo":
		if len(parts) > 1 {
			c.model = parts[1]
			c.history = nil
			fmt.Printf("Modelo trocado para %q (histórico limpo).\n", c.model)
		} else if c.model == "" {
			fmt.Println("Sem modelo fixo; o roteamento escolhe pelo provedor.")
		} else {
			fmt.Printf("Modelo atual: %s\n", c.model)
		}

	case "/provedor":
		providers, err := c.store.Providers.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Erro: %v\n", err)
			return false
		}
		if len(providers) == 0 {
			fmt.Println("Nenhum provedor cadastrado. Use `zapclaw setup` ou o painel web.")
			return false
		}
		for _, p := range providers {
			ativo := "inativo"
			if p.Ativo {
				ativo = "ativo"
			}
			fmt.Printf("  %d) %s [%s] %s — %s\n", p.ID, p.Nome, p.Tipo, p.BaseURL, ativo)
		}

	default:
		fmt.Println("Comandos: /modelo [id], /provedor, /sair")
	}
	return false
}
