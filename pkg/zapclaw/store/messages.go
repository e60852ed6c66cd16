package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrMessageNotFound is returned when a message id does not exist.
var ErrMessageNotFound = errors.New("mensagem não encontrada")

// Message is one inbound message and, once answered, its reply metadata.
type Message struct {
	ID                   int64
	SessaoID             int64
	TelefoneCliente      string
	NomeCliente          string
	MensagemIDWhatsApp   string
	Tipo                 string
	Direcao              string
	ConteudoTexto        string
	ConteudoMidiaPath    string
	ConteudoImagemBase64 string
	ConteudoMimeType     string
	Processada           bool
	Respondida           bool
	RespostaTexto        string
	RespostaTokensInput  *int
	RespostaTokensOutput *int
	RespostaTempoMs      *int
	RespostaModelo       string
	FerramentasUsadas    string
	RespostaErro         string
	CriadoEm             time.Time
	ProcessadoEm         *time.Time
	RespondidoEm         *time.Time
}

// MessageRepo persists conversation messages.
type MessageRepo struct {
	db *sql.DB
}

const messageColumns = `id, sessao_id, telefone_cliente, nome_cliente,
	mensagem_id_whatsapp, tipo, direcao, conteudo_texto,
	conteudo_midia_path, conteudo_imagem_base64, conteudo_mime_type,
	processada, respondida, resposta_texto, resposta_tokens_input,
	resposta_tokens_output, resposta_tempo_ms, resposta_modelo,
	ferramentas_usadas, resposta_erro, criado_em, processado_em,
	respondido_em`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var (
		m       Message
		tokIn   sql.NullInt64
		tokOut  sql.NullInt64
		tempoMs sql.NullInt64
		procEm  sql.NullTime
		respEm  sql.NullTime
	)
	err := row.Scan(&m.ID, &m.SessaoID, &m.TelefoneCliente, &m.NomeCliente,
		&m.MensagemIDWhatsApp, &m.Tipo, &m.Direcao, &m.ConteudoTexto,
		&m.ConteudoMidiaPath, &m.ConteudoImagemBase64, &m.ConteudoMimeType,
		&m.Processada, &m.Respondida, &m.RespostaTexto, &tokIn, &tokOut,
		&tempoMs, &m.RespostaModelo, &m.FerramentasUsadas, &m.RespostaErro,
		&m.CriadoEm, &procEm, &respEm)
	if err != nil {
		return nil, err
	}
	if tokIn.Valid {
		v := int(tokIn.Int64)
		m.RespostaTokensInput = &v
	}
	if tokOut.Valid {
		v := int(tokOut.Int64)
		m.RespostaTokensOutput = &v
	}
	if tempoMs.Valid {
		v := int(tempoMs.Int64)
		m.RespostaTempoMs = &v
	}
	if procEm.Valid {
		t := procEm.Time
		m.ProcessadoEm = &t
	}
	if respEm.Valid {
		t := respEm.Time
		m.RespondidoEm = &t
	}
	return &m, nil
}

// Create inserts an inbound message and fills in its id.
func (r *MessageRepo) Create(m *Message) error {
	if m.Direcao == "" {
		m.Direcao = "recebida"
	}
	if m.Tipo == "" {
		m.Tipo = "texto"
	}
	m.CriadoEm = time.Now().UTC()
	res, err := r.db.Exec(`INSERT INTO mensagens
		(sessao_id, telefone_cliente, nome_cliente, mensagem_id_whatsapp,
		 tipo, direcao, conteudo_texto, conteudo_midia_path,
		 conteudo_imagem_base64, conteudo_mime_type, criado_em)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessaoID, m.TelefoneCliente, m.NomeCliente, m.MensagemIDWhatsApp,
		m.Tipo, m.Direcao, m.ConteudoTexto, m.ConteudoMidiaPath,
		m.ConteudoImagemBase64, m.ConteudoMimeType, m.CriadoEm)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// GetByID returns the message or ErrMessageNotFound.
func (r *MessageRepo) GetByID(id int64) (*Message, error) {
	row := r.db.QueryRow(`SELECT `+messageColumns+` FROM mensagens WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading message %d: %w", id, err)
	}
	return m, nil
}

// MarkProcessed flags the message as having completed the pipeline.
func (r *MessageRepo) MarkProcessed(id int64) error {
	_, err := r.db.Exec(`UPDATE mensagens SET processada = 1,
		processado_em = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// Reply holds everything recorded when a message is answered.
type Reply struct {
	Texto             string
	Modelo            string
	TokensInput       int
	TokensOutput      int
	TempoMs           int
	FerramentasUsadas string
}

// RecordReply stores the agent's answer on the original inbound row.
func (r *MessageRepo) RecordReply(id int64, reply Reply) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`UPDATE mensagens SET processada = 1,
		respondida = 1, resposta_texto = ?, resposta_modelo = ?,
		resposta_tokens_input = ?, resposta_tokens_output = ?,
		resposta_tempo_ms = ?, ferramentas_usadas = ?,
		processado_em = COALESCE(processado_em, ?), respondido_em = ?
		WHERE id = ?`,
		reply.Texto, reply.Modelo, reply.TokensInput, reply.TokensOutput,
		reply.TempoMs, reply.FerramentasUsadas, now, now, id)
	if err != nil {
		return fmt.Errorf("recording reply: %w", err)
	}
	return nil
}

// RecordError stores the failure on the inbound row; the message still
// counts as processed so it is never retried.
func (r *MessageRepo) RecordError(id int64, errMsg string) error {
	_, err := r.db.Exec(`UPDATE mensagens SET processada = 1,
		resposta_erro = ?, processado_em = ? WHERE id = ?`,
		errMsg, time.Now().UTC(), id)
	return err
}

// History returns the most recent limit messages of one conversation in
// chronological order. Each answered row carries both sides of the turn.
func (r *MessageRepo) History(sessaoID int64, telefone string, limit int) ([]*Message, error) {
	rows, err := r.db.Query(`SELECT * FROM (
			SELECT `+messageColumns+` FROM mensagens
			WHERE sessao_id = ? AND telefone_cliente = ?
			ORDER BY criado_em DESC, id DESC LIMIT ?
		) ORDER BY criado_em ASC, id ASC`,
		sessaoID, telefone, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearHistory deletes the conversation with one contact and returns how
// many rows were removed.
func (r *MessageRepo) ClearHistory(sessaoID int64, telefone string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM mensagens
		WHERE sessao_id = ? AND telefone_cliente = ?`, sessaoID, telefone)
	if err != nil {
		return 0, fmt.Errorf("clearing history: %w", err)
	}
	return res.RowsAffected()
}

// CountBySession returns totals used by the status command and the web ui.
func (r *MessageRepo) CountBySession(sessaoID int64) (total, respondidas int64, err error) {
	err = r.db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN respondida = 1 THEN 1 ELSE 0 END), 0)
		FROM mensagens WHERE sessao_id = ?`, sessaoID).Scan(&total, &respondidas)
	if err != nil {
		return 0, 0, fmt.Errorf("counting messages: %w", err)
	}
	return total, respondidas, nil
}

// ListRecent returns the latest limit messages of a session, newest first,
// for the web ui conversation view.
func (r *MessageRepo) ListRecent(sessaoID int64, limit int) ([]*Message, error) {
	rows, err := r.db.Query(`SELECT `+messageColumns+` FROM mensagens
		WHERE sessao_id = ? ORDER BY criado_em DESC, id DESC LIMIT ?`,
		sessaoID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
