package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
)

// newKeyringCmd cria o grupo `zapclaw keyring` para segredos no chaveiro
// do sistema operacional.
func newKeyringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Guarda segredos no chaveiro do sistema",
		Long: `Guarda chaves de API no chaveiro nativo do sistema (Secret Service no
Linux, Keychain no macOS, Credential Manager no Windows) em vez do banco.
Segredos no chaveiro têm prioridade sobre os do banco; variáveis de
ambiente têm prioridade sobre ambos.

Nomes usados pelo ZapClaw: openrouter_api_key, groq_api_key.

Exemplos:
  zapclaw keyring set openrouter_api_key
  zapclaw keyring get openrouter_api_key
  zapclaw keyring delete openrouter_api_key`,
	}

	cmd.AddCommand(newKeyringSetCmd(), newKeyringGetCmd(), newKeyringDeleteCmd())
	return cmd
}

func newKeyringSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <nome>",
		Short: "Grava um segredo no chaveiro",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			valor, err := config.ReadPassword(fmt.Sprintf("Valor de %s (oculto): ", args[0]))
			if err != nil {
				return err
			}
			if valor == "" {
				return fmt.Errorf("valor vazio, nada gravado")
			}
			if err := config.StoreKeyring(args[0], valor); err != nil {
				return fmt.Errorf("gravando no chaveiro: %w", err)
			}
			fmt.Printf("Segredo %q gravado no chaveiro do sistema.\n", args[0])
			return nil
		},
	}
}

func newKeyringGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <nome>",
		Short: "Lê um segredo do chaveiro",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			valor := config.GetKeyring(args[0])
			if valor == "" {
				return fmt.Errorf("segredo %q não encontrado no chaveiro", args[0])
			}
			fmt.Println(valor)
			return nil
		},
	}
}

func newKeyringDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <nome>",
		Short: "Remove um segredo do chaveiro",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := config.DeleteKeyring(args[0]); err != nil {
				return fmt.Errorf("removendo do chaveiro: %w", err)
			}
			fmt.Printf("Segredo %q removido do chaveiro.\n", args[0])
			return nil
		},
	}
}
