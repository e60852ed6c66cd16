package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("sessão não encontrada")

// Session status values.
const (
	StatusDisconnected = "desconectado"
	StatusConnecting   = "conectando"
	StatusWaitingQR    = "aguardando_qr"
	StatusConnected    = "conectado"
	StatusError        = "erro"
)

// Session is one messaging account attached to the bot.
type Session struct {
	ID             int64
	Nome           string
	Telefone       string
	Canal          string // whatsapp | discord
	TokenBot       string // discord bot token (empty for whatsapp)
	Status         string
	Ativa          bool
	AutoResponder  bool
	SalvarHist     bool
	AgenteAtivoID  int64 // 0 when no agent is selected
	ModeloLLM      string
	Temperatura    *float64
	MaxTokens      *int
	TopP           *float64
	QRCode         string
	QRCodeGeradoEm *time.Time
	CriadoEm       time.Time
	AtualizadoEm   time.Time
}

// SessionRepo persists sessions.
type SessionRepo struct {
	db *sql.DB
}

const sessionColumns = `id, nome, telefone, canal, token_bot, status, ativa,
	auto_responder, salvar_historico, agente_ativo_id, modelo_llm,
	temperatura, max_tokens, top_p, qr_code, qr_code_gerado_em,
	criado_em, atualizado_em`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var (
		s        Session
		agenteID sql.NullInt64
		temp     sql.NullFloat64
		maxTok   sql.NullInt64
		topP     sql.NullFloat64
		qrEm     sql.NullTime
	)
	err := row.Scan(&s.ID, &s.Nome, &s.Telefone, &s.Canal, &s.TokenBot,
		&s.Status, &s.Ativa, &s.AutoResponder, &s.SalvarHist, &agenteID,
		&s.ModeloLLM, &temp, &maxTok, &topP, &s.QRCode, &qrEm,
		&s.CriadoEm, &s.AtualizadoEm)
	if err != nil {
		return nil, err
	}
	if agenteID.Valid {
		s.AgenteAtivoID = agenteID.Int64
	}
	if temp.Valid {
		s.Temperatura = &temp.Float64
	}
	if maxTok.Valid {
		v := int(maxTok.Int64)
		s.MaxTokens = &v
	}
	if topP.Valid {
		s.TopP = &topP.Float64
	}
	if qrEm.Valid {
		t := qrEm.Time
		s.QRCodeGeradoEm = &t
	}
	return &s, nil
}

// Create inserts a new session and fills in its id.
func (r *SessionRepo) Create(s *Session) error {
	if s.Canal == "" {
		s.Canal = "whatsapp"
	}
	if s.Status == "" {
		s.Status = StatusDisconnected
	}
	now := time.Now().UTC()
	res, err := r.db.Exec(`INSERT INTO sessoes
		(nome, telefone, canal, token_bot, status, ativa, auto_responder,
		 salvar_historico, agente_ativo_id, modelo_llm, temperatura,
		 max_tokens, top_p, criado_em, atualizado_em)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Nome, s.Telefone, s.Canal, s.TokenBot, s.Status, s.Ativa,
		s.AutoResponder, s.SalvarHist, nullID(s.AgenteAtivoID), s.ModeloLLM,
		s.Temperatura, s.MaxTokens, s.TopP, now, now)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	s.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}
	s.CriadoEm = now
	s.AtualizadoEm = now
	return nil
}

// GetByID returns the session or ErrSessionNotFound.
func (r *SessionRepo) GetByID(id int64) (*Session, error) {
	row := r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessoes WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %d: %w", id, err)
	}
	return s, nil
}

// List returns every session ordered by id.
func (r *SessionRepo) List() ([]*Session, error) {
	return r.list(`SELECT ` + sessionColumns + ` FROM sessoes ORDER BY id`)
}

// ListActive returns sessions flagged ativa, the ones the registry connects.
func (r *SessionRepo) ListActive() ([]*Session, error) {
	return r.list(`SELECT ` + sessionColumns + ` FROM sessoes WHERE ativa = 1 ORDER BY id`)
}

func (r *SessionRepo) list(query string, args ...any) ([]*Session, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update persists the mutable session fields.
func (r *SessionRepo) Update(s *Session) error {
	s.AtualizadoEm = time.Now().UTC()
	res, err := r.db.Exec(`UPDATE sessoes SET nome = ?, telefone = ?,
		canal = ?, token_bot = ?, ativa = ?, auto_responder = ?,
		salvar_historico = ?, agente_ativo_id = ?, modelo_llm = ?,
		temperatura = ?, max_tokens = ?, top_p = ?, atualizado_em = ?
		WHERE id = ?`,
		s.Nome, s.Telefone, s.Canal, s.TokenBot, s.Ativa, s.AutoResponder,
		s.SalvarHist, nullID(s.AgenteAtivoID), s.ModeloLLM, s.Temperatura,
		s.MaxTokens, s.TopP, s.AtualizadoEm, s.ID)
	if err != nil {
		return fmt.Errorf("updating session %d: %w", s.ID, err)
	}
	return requireRow(res, ErrSessionNotFound)
}

// UpdateStatus records the connection status reported by the channel.
func (r *SessionRepo) UpdateStatus(id int64, status string) error {
	res, err := r.db.Exec(`UPDATE sessoes SET status = ?, atualizado_em = ?
		WHERE id = ?`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return requireRow(res, ErrSessionNotFound)
}

// UpdateTelefone stores the account number learned after pairing.
func (r *SessionRepo) UpdateTelefone(id int64, telefone string) error {
	res, err := r.db.Exec(`UPDATE sessoes SET telefone = ?, atualizado_em = ?
		WHERE id = ?`, telefone, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating session phone: %w", err)
	}
	return requireRow(res, ErrSessionNotFound)
}

// SetQRCode stores a fresh pairing code and its generation time.
func (r *SessionRepo) SetQRCode(id int64, qr string) error {
	now := time.Now().UTC()
	res, err := r.db.Exec(`UPDATE sessoes SET qr_code = ?,
		qr_code_gerado_em = ?, status = ?, atualizado_em = ? WHERE id = ?`,
		qr, now, StatusWaitingQR, now, id)
	if err != nil {
		return fmt.Errorf("storing qr code: %w", err)
	}
	return requireRow(res, ErrSessionNotFound)
}

// ClearQRCode drops the stored pairing code (after scan or expiry).
func (r *SessionRepo) ClearQRCode(id int64) error {
	_, err := r.db.Exec(`UPDATE sessoes SET qr_code = '',
		qr_code_gerado_em = NULL, atualizado_em = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return err
}

// ClearExpiredQRCodes removes pairing codes older than maxAge and returns
// how many were cleared. Sessions stuck waiting are flagged disconnected.
func (r *SessionRepo) ClearExpiredQRCodes(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := r.db.Exec(`UPDATE sessoes SET qr_code = '',
		qr_code_gerado_em = NULL, status = ?, atualizado_em = ?
		WHERE qr_code != '' AND qr_code_gerado_em < ?`,
		StatusDisconnected, time.Now().UTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("clearing expired qr codes: %w", err)
	}
	return res.RowsAffected()
}

// SetAutoResponder toggles automatic replies for the session.
func (r *SessionRepo) SetAutoResponder(id int64, on bool) error {
	res, err := r.db.Exec(`UPDATE sessoes SET auto_responder = ?,
		atualizado_em = ? WHERE id = ?`, on, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("toggling auto responder: %w", err)
	}
	return requireRow(res, ErrSessionNotFound)
}

// SetActiveAgent points the session at an agent; 0 clears the selection.
func (r *SessionRepo) SetActiveAgent(id, agentID int64) error {
	res, err := r.db.Exec(`UPDATE sessoes SET agente_ativo_id = ?,
		atualizado_em = ? WHERE id = ?`, nullID(agentID), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("setting active agent: %w", err)
	}
	return requireRow(res, ErrSessionNotFound)
}

// Delete removes the session; messages, commands and policies cascade.
func (r *SessionRepo) Delete(id int64) error {
	res, err := r.db.Exec(`DELETE FROM sessoes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session %d: %w", id, err)
	}
	return requireRow(res, ErrSessionNotFound)
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
