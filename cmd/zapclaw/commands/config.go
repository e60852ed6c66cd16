package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// newConfigCmd cria o grupo `zapclaw config` para os ajustes de runtime,
// que vivem na tabela de configurações do banco.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Consulta e altera os ajustes de runtime",
		Long: `Consulta e altera os ajustes guardados no banco (roteamento de LLM,
transcrição, comportamento do agente). Valores de segredos aparecem
mascarados na listagem.

Exemplos:
  zapclaw config get
  zapclaw config get llm_provedor_padrao
  zapclaw config set llm_provedor_padrao openrouter`,
	}

	cmd.AddCommand(newConfigGetCmd(), newConfigSetCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [chave]",
		Short: "Mostra um ajuste ou lista todos",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			if len(args) == 1 {
				s, err := env.store.Settings.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Println(displayValue(s))
				return nil
			}

			categoria, _ := cmd.Flags().GetString("categoria")
			settings, err := env.store.Settings.List(categoria)
			if err != nil {
				return err
			}

			last := ""
			for _, s := range settings {
				if s.Categoria != last {
					fmt.Printf("\n[%s]\n", s.Categoria)
					last = s.Categoria
				}
				marca := ""
				if !s.Editavel {
					marca = " (somente leitura)"
				}
				fmt.Printf("  %-32s = %s%s\n", s.Chave, displayValue(&s), marca)
			}
			return nil
		},
	}

	cmd.Flags().String("categoria", "", "filtra por categoria (llm, agente, audio, sistema...)")
	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <chave> <valor>",
		Short: "Altera um ajuste editável",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.store.Settings.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("%s definido.\n", args[0])
			return nil
		},
	}
}

// displayValue mascara segredos na saída do terminal.
func displayValue(s *store.Setting) string {
	if strings.Contains(s.Chave, "api_key") || strings.Contains(s.Chave, "senha") {
		if s.Valor == "" {
			return "(não definido)"
		}
		return "****"
	}
	if s.Valor == "" {
		return "(vazio)"
	}
	return s.Valor
}
