package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrAgentNotFound is returned when an agent id or code does not exist.
var ErrAgentNotFound = errors.New("agente não encontrado")

// Agent is a persona the bot can answer as: a system prompt plus model
// parameters. Sessions point at one agent at a time.
type Agent struct {
	ID            int64
	Nome          string
	Codigo        string // short handle used by the #<codigo> chat command
	Descricao     string
	PromptSistema string
	ModeloLLM     string
	Temperatura   float64
	MaxTokens     int
	Ativo         bool
	CriadoEm      time.Time
}

// AgentRepo persists agents.
type AgentRepo struct {
	db *sql.DB
}

const agentColumns = `id, nome, codigo, descricao, prompt_sistema,
	modelo_llm, temperatura, max_tokens, ativo, criado_em`

func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.Nome, &a.Codigo, &a.Descricao, &a.PromptSistema,
		&a.ModeloLLM, &a.Temperatura, &a.MaxTokens, &a.Ativo, &a.CriadoEm)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new agent and fills in its id.
func (r *AgentRepo) Create(a *Agent) error {
	a.Codigo = strings.ToLower(strings.TrimSpace(a.Codigo))
	if a.Temperatura == 0 {
		a.Temperatura = 0.7
	}
	if a.MaxTokens == 0 {
		a.MaxTokens = 1000
	}
	a.CriadoEm = time.Now().UTC()
	res, err := r.db.Exec(`INSERT INTO agentes
		(nome, codigo, descricao, prompt_sistema, modelo_llm, temperatura,
		 max_tokens, ativo, criado_em)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Nome, a.Codigo, a.Descricao, a.PromptSistema, a.ModeloLLM,
		a.Temperatura, a.MaxTokens, a.Ativo, a.CriadoEm)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

// GetByID returns the agent or ErrAgentNotFound.
func (r *AgentRepo) GetByID(id int64) (*Agent, error) {
	row := r.db.QueryRow(`SELECT `+agentColumns+` FROM agentes WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent %d: %w", id, err)
	}
	return a, nil
}

// GetByCode resolves an agent by its chat handle, case-insensitively.
func (r *AgentRepo) GetByCode(codigo string) (*Agent, error) {
	codigo = strings.ToLower(strings.TrimSpace(codigo))
	row := r.db.QueryRow(`SELECT `+agentColumns+` FROM agentes
		WHERE lower(codigo) = ?`, codigo)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent %q: %w", codigo, err)
	}
	return a, nil
}

// List returns every agent ordered by name.
func (r *AgentRepo) List() ([]*Agent, error) {
	return r.list(`SELECT ` + agentColumns + ` FROM agentes ORDER BY nome`)
}

// ListActive returns the agents selectable from chat.
func (r *AgentRepo) ListActive() ([]*Agent, error) {
	return r.list(`SELECT ` + agentColumns + ` FROM agentes WHERE ativo = 1 ORDER BY nome`)
}

func (r *AgentRepo) list(query string) ([]*Agent, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Update persists the mutable agent fields.
func (r *AgentRepo) Update(a *Agent) error {
	a.Codigo = strings.ToLower(strings.TrimSpace(a.Codigo))
	res, err := r.db.Exec(`UPDATE agentes SET nome = ?, codigo = ?,
		descricao = ?, prompt_sistema = ?, modelo_llm = ?, temperatura = ?,
		max_tokens = ?, ativo = ? WHERE id = ?`,
		a.Nome, a.Codigo, a.Descricao, a.PromptSistema, a.ModeloLLM,
		a.Temperatura, a.MaxTokens, a.Ativo, a.ID)
	if err != nil {
		return fmt.Errorf("updating agent %d: %w", a.ID, err)
	}
	return requireRow(res, ErrAgentNotFound)
}

// Delete removes the agent; sessions pointing at it fall back to no agent.
func (r *AgentRepo) Delete(id int64) error {
	res, err := r.db.Exec(`DELETE FROM agentes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent %d: %w", id, err)
	}
	return requireRow(res, ErrAgentNotFound)
}
