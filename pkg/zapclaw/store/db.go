// Package store implements zapclaw persistence on SQLite: sessions,
// messages, agents, LLM providers with their cached models and statistics,
// per-session chat commands and message-type policies, and the typed
// runtime settings table.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// schema is executed on every open; all statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS sessoes (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    nome              TEXT NOT NULL,
    telefone          TEXT NOT NULL DEFAULT '',
    canal             TEXT NOT NULL DEFAULT 'whatsapp',
    token_bot         TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'desconectado',
    ativa             INTEGER NOT NULL DEFAULT 1,
    auto_responder    INTEGER NOT NULL DEFAULT 0,
    salvar_historico  INTEGER NOT NULL DEFAULT 1,
    agente_ativo_id   INTEGER REFERENCES agentes(id) ON DELETE SET NULL,
    modelo_llm        TEXT NOT NULL DEFAULT '',
    temperatura       REAL,
    max_tokens        INTEGER,
    top_p             REAL,
    qr_code           TEXT NOT NULL DEFAULT '',
    qr_code_gerado_em TIMESTAMP,
    criado_em         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    atualizado_em     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mensagens (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    sessao_id              INTEGER NOT NULL REFERENCES sessoes(id) ON DELETE CASCADE,
    telefone_cliente       TEXT NOT NULL,
    nome_cliente           TEXT NOT NULL DEFAULT '',
    mensagem_id_whatsapp   TEXT NOT NULL DEFAULT '',
    tipo                   TEXT NOT NULL DEFAULT 'texto',
    direcao                TEXT NOT NULL DEFAULT 'recebida',
    conteudo_texto         TEXT NOT NULL DEFAULT '',
    conteudo_midia_path    TEXT NOT NULL DEFAULT '',
    conteudo_imagem_base64 TEXT NOT NULL DEFAULT '',
    conteudo_mime_type     TEXT NOT NULL DEFAULT '',
    processada             INTEGER NOT NULL DEFAULT 0,
    respondida             INTEGER NOT NULL DEFAULT 0,
    resposta_texto         TEXT NOT NULL DEFAULT '',
    resposta_tokens_input  INTEGER,
    resposta_tokens_output INTEGER,
    resposta_tempo_ms      INTEGER,
    resposta_modelo        TEXT NOT NULL DEFAULT '',
    ferramentas_usadas     TEXT NOT NULL DEFAULT '',
    resposta_erro          TEXT NOT NULL DEFAULT '',
    criado_em              TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    processado_em          TIMESTAMP,
    respondido_em          TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_mensagens_conversa
    ON mensagens(sessao_id, telefone_cliente, criado_em);

CREATE TABLE IF NOT EXISTS agentes (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    nome           TEXT NOT NULL,
    codigo         TEXT NOT NULL UNIQUE,
    descricao      TEXT NOT NULL DEFAULT '',
    prompt_sistema TEXT NOT NULL DEFAULT '',
    modelo_llm     TEXT NOT NULL DEFAULT '',
    temperatura    REAL NOT NULL DEFAULT 0.7,
    max_tokens     INTEGER NOT NULL DEFAULT 1000,
    ativo          INTEGER NOT NULL DEFAULT 1,
    criado_em      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS provedores (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    nome         TEXT NOT NULL UNIQUE,
    tipo         TEXT NOT NULL DEFAULT 'local',
    base_url     TEXT NOT NULL,
    api_key      TEXT NOT NULL DEFAULT '',
    ativo        INTEGER NOT NULL DEFAULT 1,
    status       TEXT NOT NULL DEFAULT 'ativo',
    ultimo_teste TIMESTAMP,
    criado_em    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS provedor_modelos (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    provedor_id         INTEGER NOT NULL REFERENCES provedores(id) ON DELETE CASCADE,
    modelo_id           TEXT NOT NULL,
    nome                TEXT NOT NULL DEFAULT '',
    contexto            INTEGER NOT NULL DEFAULT 0,
    suporta_imagens     INTEGER NOT NULL DEFAULT 0,
    suporta_ferramentas INTEGER NOT NULL DEFAULT 0,
    tamanho_bytes       INTEGER NOT NULL DEFAULT 0,
    quantizacao         TEXT NOT NULL DEFAULT '',
    atualizado_em       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_provedor_modelos_provedor
    ON provedor_modelos(provedor_id);

CREATE TABLE IF NOT EXISTS provedor_stats (
    provedor_id       INTEGER PRIMARY KEY REFERENCES provedores(id) ON DELETE CASCADE,
    total_requisicoes INTEGER NOT NULL DEFAULT 0,
    total_sucessos    INTEGER NOT NULL DEFAULT 0,
    total_erros       INTEGER NOT NULL DEFAULT 0,
    tempo_medio_ms    REAL NOT NULL DEFAULT 0,
    ultima_requisicao TIMESTAMP
);

CREATE TABLE IF NOT EXISTS comandos_config (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    sessao_id INTEGER NOT NULL REFERENCES sessoes(id) ON DELETE CASCADE,
    comando_id TEXT NOT NULL,
    gatilho   TEXT NOT NULL,
    descricao TEXT NOT NULL DEFAULT '',
    resposta  TEXT NOT NULL DEFAULT '',
    ativo     INTEGER NOT NULL DEFAULT 1,
    UNIQUE(sessao_id, comando_id)
);

CREATE TABLE IF NOT EXISTS tipo_politicas (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    sessao_id     INTEGER NOT NULL REFERENCES sessoes(id) ON DELETE CASCADE,
    tipo          TEXT NOT NULL,
    acao          TEXT NOT NULL,
    resposta_fixa TEXT NOT NULL DEFAULT '',
    UNIQUE(sessao_id, tipo)
);

CREATE TABLE IF NOT EXISTS configuracoes (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    chave         TEXT NOT NULL UNIQUE,
    valor         TEXT NOT NULL DEFAULT '',
    tipo          TEXT NOT NULL DEFAULT 'string',
    descricao     TEXT NOT NULL DEFAULT '',
    categoria     TEXT NOT NULL DEFAULT 'geral',
    editavel      INTEGER NOT NULL DEFAULT 1,
    atualizado_em TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store bundles the database handle and the per-aggregate repositories.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	Sessions  *SessionRepo
	Messages  *MessageRepo
	Agents    *AgentRepo
	Providers *ProviderRepo
	Commands  *CommandRepo
	Policies  *PolicyRepo
	Settings  *Settings
}

// Open opens (creating if needed) the application database and applies the
// schema. Pass ":memory:" for an in-memory database (used by tests).
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}
	s.Sessions = &SessionRepo{db: db}
	s.Messages = &MessageRepo{db: db}
	s.Agents = &AgentRepo{db: db}
	s.Providers = &ProviderRepo{db: db}
	s.Commands = &CommandRepo{db: db}
	s.Policies = &PolicyRepo{db: db}
	s.Settings = &Settings{db: db}

	if err := s.Settings.SeedDefaults(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding settings: %w", err)
	}

	return s, nil
}

// DB exposes the raw handle for status probes.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
