package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// newSessionCmd cria o grupo `zapclaw session` de comandos de sessão.
func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Gerencia as sessões de atendimento",
		Long: `Lista as sessões cadastradas e limpa restos de pareamento: QR codes
vencidos e arquivos de dispositivo órfãos no diretório de sessões.

Exemplos:
  zapclaw session list
  zapclaw session cleanup
  zapclaw session cleanup --dry-run`,
	}

	cmd.AddCommand(newSessionListCmd(), newSessionCleanupCmd())
	return cmd
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lista as sessões cadastradas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			sessions, err := env.store.Sessions.List()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("Nenhuma sessão cadastrada. Crie uma pelo painel web.")
				return nil
			}

			fmt.Printf("%-4s %-24s %-10s %-14s %-16s %s\n",
				"ID", "NOME", "CANAL", "STATUS", "TELEFONE", "ATIVA")
			for _, s := range sessions {
				ativa := "não"
				if s.Ativa {
					ativa = "sim"
				}
				fmt.Printf("%-4d %-24s %-10s %-14s %-16s %s\n",
					s.ID, truncate(s.Nome, 24), s.Canal, s.Status, s.Telefone, ativa)
			}
			return nil
		},
	}
}

// deviceFilePattern extrai o id da sessão de arquivos sessao_<id>.db,
// incluindo os anexos -wal e -shm do SQLite.
var deviceFilePattern = regexp.MustCompile(`^sessao_(\d+)\.db`)

func newSessionCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Limpa QR codes vencidos e arquivos de dispositivo órfãos",
		Long: `Remove QR codes de pareamento já vencidos e apaga arquivos
sessao_<id>.db cuja sessão não existe mais no banco.

Exemplos:
  zapclaw session cleanup
  zapclaw session cleanup --dry-run`,
		RunE: runSessionCleanup,
	}

	cmd.Flags().Bool("dry-run", false, "só mostra o que seria removido")
	return cmd
}

func runSessionCleanup(cmd *cobra.Command, _ []string) error {
	env, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	dryRun, _ := cmd.Flags().GetBool("dry-run")

	// ── QR codes vencidos ──
	if !dryRun {
		maxAge := time.Duration(env.store.Settings.GetInt("sistema_qr_validade_segundos", 60)) * time.Second
		n, err := env.store.Sessions.ClearExpiredQRCodes(maxAge)
		if err != nil {
			return err
		}
		fmt.Printf("%d QR code(s) vencido(s) limpo(s).\n", n)
	}

	// ── Arquivos de dispositivo órfãos ──
	entries, err := os.ReadDir(env.cfg.Sessions.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("Diretório de sessões ainda não existe, nada a remover.")
			return nil
		}
		return fmt.Errorf("lendo diretório de sessões: %w", err)
	}

	var removed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := deviceFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		// Só remove com a ausência confirmada; erro de banco não é órfão.
		if _, err := env.store.Sessions.GetByID(id); !errors.Is(err, store.ErrSessionNotFound) {
			continue
		}

		path := filepath.Join(env.cfg.Sessions.Dir, entry.Name())
		if dryRun {
			fmt.Printf("removeria %s (sessão %d não existe)\n", path, id)
			removed++
			continue
		}
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(os.Stderr, "falha ao remover %s: %v\n", path, err)
			continue
		}
		fmt.Printf("removido %s (sessão %d não existe)\n", path, id)
		removed++
	}

	if removed == 0 {
		fmt.Println("Nenhum arquivo órfão encontrado.")
	} else if dryRun {
		fmt.Printf("%d arquivo(s) seriam removidos.\n", removed)
	} else {
		fmt.Printf("%d arquivo(s) órfão(s) removido(s).\n", removed)
	}
	return nil
}

// truncate corta o texto no limite de colunas da listagem.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
