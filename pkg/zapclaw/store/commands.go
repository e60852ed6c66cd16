package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrCommandNotFound is returned when a command id is unknown to a session.
var ErrCommandNotFound = errors.New("comando não encontrado")

// Built-in command ids. Triggers and replies are per-session editable;
// the ids are what the resolver dispatches on.
const (
	CmdAtivar       = "ativar"
	CmdDesativar    = "desativar"
	CmdLimpar       = "limpar"
	CmdAjuda        = "ajuda"
	CmdStatus       = "status"
	CmdListar       = "listar"
	CmdTrocarAgente = "trocar_agente"
)

// CommandConfig is one session's configuration of a built-in command.
type CommandConfig struct {
	ID        int64
	SessaoID  int64
	ComandoID string
	Gatilho   string
	Descricao string
	Resposta  string
	Ativo     bool
}

// defaultCommands seeds each session the first time its commands are read.
// The trocar_agente trigger is the bare prefix: "#vendas" switches to the
// agent whose code is vendas.
var defaultCommands = []CommandConfig{
	{ComandoID: CmdAtivar, Gatilho: "#ativar", Descricao: "Ativa as respostas automáticas da IA", Resposta: "✅ Respostas automáticas ativadas!", Ativo: true},
	{ComandoID: CmdDesativar, Gatilho: "#desativar", Descricao: "Desativa as respostas automáticas da IA", Resposta: "🔕 Respostas automáticas desativadas.", Ativo: true},
	{ComandoID: CmdLimpar, Gatilho: "#limpar", Descricao: "Apaga o histórico de conversa deste contato", Resposta: "🧹 Histórico de conversa apagado.", Ativo: true},
	{ComandoID: CmdAjuda, Gatilho: "#ajuda", Descricao: "Mostra os comandos disponíveis", Ativo: true},
	{ComandoID: CmdStatus, Gatilho: "#status", Descricao: "Mostra o status da sessão", Ativo: true},
	{ComandoID: CmdListar, Gatilho: "#listar", Descricao: "Lista os agentes disponíveis", Ativo: true},
	{ComandoID: CmdTrocarAgente, Gatilho: "#", Descricao: "Troca o agente ativo (#codigo)", Resposta: "✅ Agente alterado para *%s*", Ativo: true},
}

// CommandRepo persists per-session command configuration.
type CommandRepo struct {
	db *sql.DB
}

// ListForSession returns the session's commands, seeding any built-in the
// session does not have yet. New built-ins therefore reach old sessions.
func (r *CommandRepo) ListForSession(sessaoID int64) ([]CommandConfig, error) {
	for _, c := range defaultCommands {
		_, err := r.db.Exec(`INSERT OR IGNORE INTO comandos_config
			(sessao_id, comando_id, gatilho, descricao, resposta, ativo)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sessaoID, c.ComandoID, c.Gatilho, c.Descricao, c.Resposta, c.Ativo)
		if err != nil {
			return nil, fmt.Errorf("seeding command %q: %w", c.ComandoID, err)
		}
	}

	rows, err := r.db.Query(`SELECT id, sessao_id, comando_id, gatilho,
		descricao, resposta, ativo FROM comandos_config
		WHERE sessao_id = ? ORDER BY id`, sessaoID)
	if err != nil {
		return nil, fmt.Errorf("listing commands: %w", err)
	}
	defer rows.Close()

	var out []CommandConfig
	for rows.Next() {
		var c CommandConfig
		err := rows.Scan(&c.ID, &c.SessaoID, &c.ComandoID, &c.Gatilho,
			&c.Descricao, &c.Resposta, &c.Ativo)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Update rewrites a command's trigger, reply and enabled flag. Triggers
// are stored trimmed; an empty trigger keeps the previous one.
func (r *CommandRepo) Update(sessaoID int64, comandoID, gatilho, resposta string, ativo bool) error {
	gatilho = strings.TrimSpace(gatilho)
	if gatilho == "" {
		var atual string
		err := r.db.QueryRow(`SELECT gatilho FROM comandos_config
			WHERE sessao_id = ? AND comando_id = ?`, sessaoID, comandoID).
			Scan(&atual)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCommandNotFound
		}
		if err != nil {
			return err
		}
		gatilho = atual
	}

	res, err := r.db.Exec(`UPDATE comandos_config SET gatilho = ?,
		resposta = ?, ativo = ? WHERE sessao_id = ? AND comando_id = ?`,
		gatilho, resposta, ativo, sessaoID, comandoID)
	if err != nil {
		return fmt.Errorf("updating command %q: %w", comandoID, err)
	}
	return requireRow(res, ErrCommandNotFound)
}
