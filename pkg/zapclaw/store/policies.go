package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Policy actions for non-text message types.
const (
	AcaoIgnorar      = "ignorar"
	AcaoEnviarIA     = "enviar_ia"
	AcaoTranscricao  = "transcricao_apenas"
	AcaoRespostaFixa = "resposta_fixa"
)

// ErrUnknownAction rejects policy actions outside the known set.
var ErrUnknownAction = errors.New("ação desconhecida")

// TypePolicy decides what happens to one message type in one session.
// Text messages bypass policies entirely.
type TypePolicy struct {
	ID           int64
	SessaoID     int64
	Tipo         string
	Acao         string
	RespostaFixa string
}

// defaultPolicyActions applies when a session has no row for the type.
// Types not listed here (and unknown types) are ignored.
var defaultPolicyActions = map[string]string{
	"audio":       AcaoEnviarIA,
	"imagem":      AcaoEnviarIA,
	"video":       AcaoIgnorar,
	"sticker":     AcaoIgnorar,
	"localizacao": AcaoIgnorar,
	"documento":   AcaoIgnorar,
}

// PolicyRepo persists per-session message-type policies.
type PolicyRepo struct {
	db *sql.DB
}

// Effective returns the action for a message type, falling back to the
// built-in default when the session has no explicit row.
func (r *PolicyRepo) Effective(sessaoID int64, tipo string) (*TypePolicy, error) {
	var p TypePolicy
	err := r.db.QueryRow(`SELECT id, sessao_id, tipo, acao, resposta_fixa
		FROM tipo_politicas WHERE sessao_id = ? AND tipo = ?`,
		sessaoID, tipo).
		Scan(&p.ID, &p.SessaoID, &p.Tipo, &p.Acao, &p.RespostaFixa)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading policy for %q: %w", tipo, err)
	}

	acao, ok := defaultPolicyActions[tipo]
	if !ok {
		acao = AcaoIgnorar
	}
	return &TypePolicy{SessaoID: sessaoID, Tipo: tipo, Acao: acao}, nil
}

// ListForSession returns one policy per known type, merging stored rows
// over the defaults so the web ui always shows the full set.
func (r *PolicyRepo) ListForSession(sessaoID int64) ([]TypePolicy, error) {
	stored := map[string]TypePolicy{}
	rows, err := r.db.Query(`SELECT id, sessao_id, tipo, acao, resposta_fixa
		FROM tipo_politicas WHERE sessao_id = ?`, sessaoID)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p TypePolicy
		if err := rows.Scan(&p.ID, &p.SessaoID, &p.Tipo, &p.Acao, &p.RespostaFixa); err != nil {
			return nil, err
		}
		stored[p.Tipo] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	order := []string{"audio", "imagem", "video", "sticker", "localizacao", "documento"}
	out := make([]TypePolicy, 0, len(order))
	for _, tipo := range order {
		if p, ok := stored[tipo]; ok {
			out = append(out, p)
			continue
		}
		out = append(out, TypePolicy{
			SessaoID: sessaoID,
			Tipo:     tipo,
			Acao:     defaultPolicyActions[tipo],
		})
	}
	return out, nil
}

// Upsert stores or replaces the session's policy for one type.
func (r *PolicyRepo) Upsert(p *TypePolicy) error {
	if p.Acao != AcaoIgnorar && p.Acao != AcaoEnviarIA &&
		p.Acao != AcaoTranscricao && p.Acao != AcaoRespostaFixa {
		return fmt.Errorf("%w: %q", ErrUnknownAction, p.Acao)
	}
	_, err := r.db.Exec(`INSERT INTO tipo_politicas
		(sessao_id, tipo, acao, resposta_fixa) VALUES (?, ?, ?, ?)
		ON CONFLICT(sessao_id, tipo) DO UPDATE SET
			acao = excluded.acao, resposta_fixa = excluded.resposta_fixa`,
		p.SessaoID, p.Tipo, p.Acao, p.RespostaFixa)
	if err != nil {
		return fmt.Errorf("saving policy for %q: %w", p.Tipo, err)
	}
	return nil
}

// DeleteForSession drops the session's explicit policies, reverting every
// type to the defaults.
func (r *PolicyRepo) DeleteForSession(sessaoID int64) error {
	_, err := r.db.Exec(`DELETE FROM tipo_politicas WHERE sessao_id = ?`, sessaoID)
	return err
}
