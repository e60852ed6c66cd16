package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/llm"
)

// newProviderCmd cria o grupo `zapclaw provider` de comandos de provedor.
func newProviderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Gerencia os provedores de LLM",
		Long: `Lista os provedores cadastrados e testa a conectividade de um deles,
atualizando o status e o cache de modelos no banco.

Exemplos:
  zapclaw provider list
  zapclaw provider test 1`,
	}

	cmd.AddCommand(newProviderListCmd(), newProviderTestCmd())
	return cmd
}

func newProviderListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lista os provedores cadastrados",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			providers, err := env.store.Providers.List()
			if err != nil {
				return err
			}
			if len(providers) == 0 {
				fmt.Println("Nenhum provedor cadastrado. Use `zapclaw setup` ou o painel web.")
				return nil
			}

			fmt.Printf("%-4s %-20s %-12s %-30s %-8s %-8s %s\n",
				"ID", "NOME", "TIPO", "BASE_URL", "ATIVO", "STATUS", "ÚLTIMO TESTE")
			for _, p := range providers {
				ativo := "não"
				if p.Ativo {
					ativo = "sim"
				}
				ultimoTeste := "nunca"
				if p.UltimoTeste != nil {
					ultimoTeste = p.UltimoTeste.Local().Format("02/01/2006 15:04")
				}
				fmt.Printf("%-4d %-20s %-12s %-30s %-8s %-8s %s\n",
					p.ID, truncate(p.Nome, 20), p.Tipo, truncate(p.BaseURL, 30),
					ativo, p.Status, ultimoTeste)
			}
			return nil
		},
	}
}

func newProviderTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Testa a conectividade de um provedor",
		Long: `Dispara uma sondagem no provedor: descobre o dialeto, lista os
modelos e grava o resultado no status do provedor.

Exemplos:
  zapclaw provider test 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("id inválido: %q", args[0])
			}

			env, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			p, err := env.store.Providers.GetByID(id)
			if err != nil {
				return err
			}

			fmt.Printf("Testando %q (%s)...\n", p.Nome, p.Tipo)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			engine := llm.NewEngine(env.store, env.logger)
			models, err := engine.RefreshProvider(ctx, id)
			if err != nil {
				return err
			}

			fmt.Printf("Conexão ok, %d modelo(s) disponíveis.\n", len(models))
			for _, m := range models {
				fmt.Printf("  - %s\n", m.ModeloID)
			}
			return nil
		},
	}
}
