package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSettingNotFound is returned for unknown setting keys.
	ErrSettingNotFound = errors.New("configuração não encontrada")
	// ErrNotEditable protects seeded rows flagged editavel = 0.
	ErrNotEditable = errors.New("configuração não editável")
	// ErrInvalidValue is returned when a value does not parse as the
	// setting's declared type.
	ErrInvalidValue = errors.New("valor inválido")
)

// Setting is one typed key/value row of runtime configuration.
type Setting struct {
	ID           int64
	Chave        string
	Valor        string
	Tipo         string // string | int | float | bool | json
	Descricao    string
	Categoria    string
	Editavel     bool
	AtualizadoEm time.Time
}

// Settings reads and writes the configuracoes table. It is the runtime
// counterpart of the yaml file: everything here is editable while the
// process runs.
type Settings struct {
	db *sql.DB
}

// defaultSettings is seeded once per database; existing rows are never
// overwritten, so operator edits survive restarts and upgrades.
var defaultSettings = []Setting{
	{Chave: "llm_provedor_padrao", Valor: "auto", Tipo: "string", Descricao: "Modo de seleção de provedor: auto, local ou openrouter", Categoria: "llm", Editavel: true},
	{Chave: "llm_provedor_local_id", Valor: "0", Tipo: "int", Descricao: "ID do provedor local preferido quando o modo é local", Categoria: "llm", Editavel: true},
	{Chave: "llm_fallback_openrouter", Valor: "true", Tipo: "bool", Descricao: "Tenta o OpenRouter quando o provedor principal falha", Categoria: "llm", Editavel: true},
	{Chave: "llm_timeout_segundos", Valor: "30", Tipo: "int", Descricao: "Timeout das chamadas de chat aos provedores locais", Categoria: "llm", Editavel: true},
	{Chave: "llm_modelo_padrao", Valor: "llama3.1", Tipo: "string", Descricao: "Modelo usado quando o agente não define um", Categoria: "llm", Editavel: true},

	{Chave: "openrouter_api_key", Valor: "", Tipo: "string", Descricao: "API Key do OpenRouter", Categoria: "openrouter", Editavel: true},
	{Chave: "openrouter_modelo_padrao", Valor: "openai/gpt-4o-mini", Tipo: "string", Descricao: "Modelo padrão no OpenRouter", Categoria: "openrouter", Editavel: true},
	{Chave: "openrouter_base_url", Valor: "https://openrouter.ai/api/v1", Tipo: "string", Descricao: "Endpoint da API do OpenRouter", Categoria: "openrouter", Editavel: true},
	{Chave: "openrouter_timeout_segundos", Valor: "60", Tipo: "int", Descricao: "Timeout das chamadas ao OpenRouter", Categoria: "openrouter", Editavel: true},

	{Chave: "agente_historico_mensagens", Valor: "10", Tipo: "int", Descricao: "Quantas mensagens anteriores entram no contexto do agente", Categoria: "agente", Editavel: true},
	{Chave: "agente_prompt_padrao", Valor: "Você é um assistente prestativo que responde em português.", Tipo: "string", Descricao: "Prompt de sistema usado quando a sessão não tem agente", Categoria: "agente", Editavel: true},
	{Chave: "agente_temperatura_padrao", Valor: "0.7", Tipo: "float", Descricao: "Temperatura padrão das respostas", Categoria: "agente", Editavel: true},
	{Chave: "agente_max_tokens_padrao", Valor: "1000", Tipo: "int", Descricao: "Limite padrão de tokens por resposta", Categoria: "agente", Editavel: true},
	{Chave: "agente_top_p_padrao", Valor: "0.9", Tipo: "float", Descricao: "Top-p padrão das respostas", Categoria: "agente", Editavel: true},
	{Chave: "agente_assinatura", Valor: "", Tipo: "string", Descricao: "Texto anexado ao final de cada resposta do agente", Categoria: "agente", Editavel: true},

	{Chave: "audio_transcricao_habilitada", Valor: "true", Tipo: "bool", Descricao: "Transcreve áudios recebidos antes de responder", Categoria: "audio", Editavel: true},
	{Chave: "audio_transcricao_provedor", Valor: "groq", Tipo: "string", Descricao: "Serviço de transcrição: groq ou openai", Categoria: "audio", Editavel: true},
	{Chave: "audio_transcricao_modelo", Valor: "whisper-large-v3", Tipo: "string", Descricao: "Modelo whisper usado na transcrição", Categoria: "audio", Editavel: true},
	{Chave: "audio_transcricao_idioma", Valor: "pt", Tipo: "string", Descricao: "Idioma esperado nos áudios", Categoria: "audio", Editavel: true},
	{Chave: "audio_transcricao_timeout", Valor: "60", Tipo: "int", Descricao: "Timeout da transcrição em segundos", Categoria: "audio", Editavel: true},
	{Chave: "audio_transcricao_temperatura", Valor: "0", Tipo: "float", Descricao: "Temperatura da transcrição", Categoria: "audio", Editavel: true},
	{Chave: "audio_transcricao_prompt", Valor: "", Tipo: "string", Descricao: "Prompt opcional enviado ao whisper", Categoria: "audio", Editavel: true},
	{Chave: "audio_transcricao_formato", Valor: "text", Tipo: "string", Descricao: "Formato de resposta pedido ao whisper: text ou json", Categoria: "audio", Editavel: true},
	{Chave: "audio_max_bytes", Valor: "16777216", Tipo: "int", Descricao: "Tamanho máximo de áudio aceito para download", Categoria: "audio", Editavel: true},
	{Chave: "groq_api_key", Valor: "", Tipo: "string", Descricao: "API Key do Groq para transcrição", Categoria: "audio", Editavel: true},
	{Chave: "openai_api_key", Valor: "", Tipo: "string", Descricao: "API Key da OpenAI para transcrição", Categoria: "audio", Editavel: true},

	{Chave: "sistema_nome", Valor: "ZapClaw", Tipo: "string", Descricao: "Nome exibido nas mensagens de status", Categoria: "sistema", Editavel: true},
	{Chave: "sistema_diretorio_uploads", Valor: "uploads", Tipo: "string", Descricao: "Diretório onde mídias recebidas são gravadas", Categoria: "sistema", Editavel: true},
	{Chave: "sistema_qr_validade_segundos", Valor: "60", Tipo: "int", Descricao: "Validade do QR code de pareamento", Categoria: "sistema", Editavel: true},
	{Chave: "sistema_timezone", Valor: "America/Sao_Paulo", Tipo: "string", Descricao: "Fuso horário usado nas mensagens de status", Categoria: "sistema", Editavel: true},
	{Chave: "sistema_versao_schema", Valor: "1", Tipo: "int", Descricao: "Versão do esquema do banco", Categoria: "sistema", Editavel: false},

	{Chave: "ferramenta_timeout_padrao", Valor: "30", Tipo: "int", Descricao: "Timeout padrão de ferramentas do agente", Categoria: "ferramentas", Editavel: true},
	{Chave: "ferramenta_timeout_http", Valor: "15", Tipo: "int", Descricao: "Timeout de ferramentas HTTP do agente", Categoria: "ferramentas", Editavel: true},

	{Chave: "webui_senha_hash", Valor: "", Tipo: "string", Descricao: "Hash bcrypt da senha do painel administrativo", Categoria: "webui", Editavel: true},
	{Chave: "webui_sessao_horas", Valor: "24", Tipo: "int", Descricao: "Validade dos tokens de login do painel", Categoria: "webui", Editavel: true},
}

// SeedDefaults inserts any missing default rows. Safe to run repeatedly.
func (s *Settings) SeedDefaults() error {
	for _, d := range defaultSettings {
		_, err := s.db.Exec(`INSERT OR IGNORE INTO configuracoes
			(chave, valor, tipo, descricao, categoria, editavel, atualizado_em)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.Chave, d.Valor, d.Tipo, d.Descricao, d.Categoria, d.Editavel,
			time.Now().UTC())
		if err != nil {
			return fmt.Errorf("seeding setting %q: %w", d.Chave, err)
		}
	}
	return nil
}

// Get returns the full row for a key.
func (s *Settings) Get(chave string) (*Setting, error) {
	var st Setting
	err := s.db.QueryRow(`SELECT id, chave, valor, tipo, descricao,
		categoria, editavel, atualizado_em FROM configuracoes
		WHERE chave = ?`, chave).
		Scan(&st.ID, &st.Chave, &st.Valor, &st.Tipo, &st.Descricao,
			&st.Categoria, &st.Editavel, &st.AtualizadoEm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSettingNotFound, chave)
	}
	if err != nil {
		return nil, fmt.Errorf("loading setting %q: %w", chave, err)
	}
	return &st, nil
}

// GetString returns the value for chave, or def when the key is missing.
func (s *Settings) GetString(chave, def string) string {
	st, err := s.Get(chave)
	if err != nil {
		return def
	}
	return st.Valor
}

// GetInt returns the value parsed as int, or def on a missing key or a
// value that does not parse.
func (s *Settings) GetInt(chave string, def int) int {
	st, err := s.Get(chave)
	if err != nil {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(st.Valor))
	if err != nil {
		return def
	}
	return v
}

// GetInt64 is GetInt for id-sized values.
func (s *Settings) GetInt64(chave string, def int64) int64 {
	st, err := s.Get(chave)
	if err != nil {
		return def
	}
	v, err := strconv.ParseInt(strings.TrimSpace(st.Valor), 10, 64)
	if err != nil {
		return def
	}
	return v
}

// GetFloat returns the value parsed as float64, or def.
func (s *Settings) GetFloat(chave string, def float64) float64 {
	st, err := s.Get(chave)
	if err != nil {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(st.Valor), 64)
	if err != nil {
		return def
	}
	return v
}

// GetBool returns the value as a boolean. Accepted truthy spellings are
// true, 1, sim and yes, case-insensitively; everything else is false.
func (s *Settings) GetBool(chave string, def bool) bool {
	st, err := s.Get(chave)
	if err != nil {
		return def
	}
	return truthy(st.Valor)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "sim", "yes":
		return true
	}
	return false
}

// Set updates an existing setting's value after validating it against the
// row's declared type. Rows flagged editavel = 0 refuse with ErrNotEditable.
func (s *Settings) Set(chave, valor string) error {
	st, err := s.Get(chave)
	if err != nil {
		return err
	}
	if !st.Editavel {
		return fmt.Errorf("%w: %s", ErrNotEditable, chave)
	}
	if err := validateValue(st.Tipo, valor); err != nil {
		return fmt.Errorf("%w para %s: %v", ErrInvalidValue, chave, err)
	}

	_, err = s.db.Exec(`UPDATE configuracoes SET valor = ?,
		atualizado_em = ? WHERE chave = ?`, valor, time.Now().UTC(), chave)
	if err != nil {
		return fmt.Errorf("saving setting %q: %w", chave, err)
	}
	return nil
}

func validateValue(tipo, valor string) error {
	switch tipo {
	case "int":
		_, err := strconv.ParseInt(strings.TrimSpace(valor), 10, 64)
		return err
	case "float":
		_, err := strconv.ParseFloat(strings.TrimSpace(valor), 64)
		return err
	case "bool":
		switch strings.ToLower(strings.TrimSpace(valor)) {
		case "true", "false", "1", "0", "sim", "nao", "não", "yes", "no":
			return nil
		}
		return fmt.Errorf("esperado booleano, recebido %q", valor)
	case "json":
		if !json.Valid([]byte(valor)) {
			return errors.New("json inválido")
		}
		return nil
	default:
		return nil
	}
}

// List returns every setting, optionally filtered by category.
func (s *Settings) List(categoria string) ([]Setting, error) {
	query := `SELECT id, chave, valor, tipo, descricao, categoria, editavel,
		atualizado_em FROM configuracoes`
	var args []any
	if categoria != "" {
		query += ` WHERE categoria = ?`
		args = append(args, categoria)
	}
	query += ` ORDER BY categoria, chave`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var st Setting
		err := rows.Scan(&st.ID, &st.Chave, &st.Valor, &st.Tipo,
			&st.Descricao, &st.Categoria, &st.Editavel, &st.AtualizadoEm)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
