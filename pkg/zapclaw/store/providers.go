package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProviderNotFound is returned when a provider id does not exist.
	ErrProviderNotFound = errors.New("provedor não encontrado")
	// ErrProviderInUse blocks deletion while agents still use the provider.
	ErrProviderInUse = errors.New("provedor em uso por agentes")
)

// Provider kinds.
const (
	ProviderLocal      = "local"
	ProviderOpenRouter = "openrouter"
)

// Provider is one configured LLM endpoint.
type Provider struct {
	ID          int64
	Nome        string
	Tipo        string // local | openrouter
	BaseURL     string
	APIKey      string
	Ativo       bool
	Status      string // ativo | erro
	UltimoTeste *time.Time
	CriadoEm    time.Time
}

// CachedModel is one model advertised by a provider, refreshed on demand
// and by the scheduler sweep.
type CachedModel struct {
	ID                 int64
	ProvedorID         int64
	ModeloID           string
	Nome               string
	Contexto           int
	SuportaImagens     bool
	SuportaFerramentas bool
	TamanhoBytes       int64
	Quantizacao        string
	AtualizadoEm       time.Time
}

// ProviderStats accumulates request outcomes per provider.
type ProviderStats struct {
	ProvedorID       int64
	TotalRequisicoes int64
	TotalSucessos    int64
	TotalErros       int64
	TempoMedioMs     float64
	UltimaRequisicao *time.Time
}

// ProviderRepo persists providers, their model caches and statistics.
type ProviderRepo struct {
	db *sql.DB
}

const providerColumns = `id, nome, tipo, base_url, api_key, ativo, status,
	ultimo_teste, criado_em`

func scanProvider(row interface{ Scan(...any) error }) (*Provider, error) {
	var (
		p     Provider
		teste sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Nome, &p.Tipo, &p.BaseURL, &p.APIKey,
		&p.Ativo, &p.Status, &teste, &p.CriadoEm)
	if err != nil {
		return nil, err
	}
	if teste.Valid {
		t := teste.Time
		p.UltimoTeste = &t
	}
	return &p, nil
}

// Create inserts a provider and fills in its id.
func (r *ProviderRepo) Create(p *Provider) error {
	if p.Tipo == "" {
		p.Tipo = ProviderLocal
	}
	if p.Status == "" {
		p.Status = "ativo"
	}
	p.CriadoEm = time.Now().UTC()
	res, err := r.db.Exec(`INSERT INTO provedores
		(nome, tipo, base_url, api_key, ativo, status, criado_em)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Nome, p.Tipo, p.BaseURL, p.APIKey, p.Ativo, p.Status, p.CriadoEm)
	if err != nil {
		return fmt.Errorf("inserting provider: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// GetByID returns the provider or ErrProviderNotFound.
func (r *ProviderRepo) GetByID(id int64) (*Provider, error) {
	row := r.db.QueryRow(`SELECT `+providerColumns+` FROM provedores WHERE id = ?`, id)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading provider %d: %w", id, err)
	}
	return p, nil
}

// List returns every provider ordered by id.
func (r *ProviderRepo) List() ([]*Provider, error) {
	return r.list(`SELECT ` + providerColumns + ` FROM provedores ORDER BY id`)
}

// ListActive returns the providers the router may pick from.
func (r *ProviderRepo) ListActive() ([]*Provider, error) {
	return r.list(`SELECT ` + providerColumns + ` FROM provedores WHERE ativo = 1 ORDER BY id`)
}

func (r *ProviderRepo) list(query string) ([]*Provider, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	defer rows.Close()

	var out []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update persists the mutable provider fields.
func (r *ProviderRepo) Update(p *Provider) error {
	res, err := r.db.Exec(`UPDATE provedores SET nome = ?, tipo = ?,
		base_url = ?, api_key = ?, ativo = ? WHERE id = ?`,
		p.Nome, p.Tipo, p.BaseURL, p.APIKey, p.Ativo, p.ID)
	if err != nil {
		return fmt.Errorf("updating provider %d: %w", p.ID, err)
	}
	return requireRow(res, ErrProviderNotFound)
}

// MarkStatus records the outcome of a health probe.
func (r *ProviderRepo) MarkStatus(id int64, ok bool) error {
	status := "ativo"
	if !ok {
		status = "erro"
	}
	_, err := r.db.Exec(`UPDATE provedores SET status = ?, ultimo_teste = ?
		WHERE id = ?`, status, time.Now().UTC(), id)
	return err
}

// Delete removes a provider. It refuses with ErrProviderInUse while any
// agent's model still belongs to the provider's cache or carries its name
// as a vendor prefix. Cached models and stats cascade.
func (r *ProviderRepo) Delete(id int64) error {
	p, err := r.GetByID(id)
	if err != nil {
		return err
	}

	var inUse int64
	err = r.db.QueryRow(`SELECT COUNT(*) FROM agentes
		WHERE modelo_llm != '' AND (
			modelo_llm IN (SELECT modelo_id FROM provedor_modelos WHERE provedor_id = ?)
			OR modelo_llm LIKE ? || '/%'
		)`, id, p.Nome).Scan(&inUse)
	if err != nil {
		return fmt.Errorf("checking provider usage: %w", err)
	}
	if inUse > 0 {
		return fmt.Errorf("%w: %d agente(s)", ErrProviderInUse, inUse)
	}

	res, err := r.db.Exec(`DELETE FROM provedores WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting provider %d: %w", id, err)
	}
	return requireRow(res, ErrProviderNotFound)
}

// ── model cache ──

// ReplaceModels swaps the provider's cached model list atomically.
func (r *ProviderRepo) ReplaceModels(provedorID int64, models []CachedModel) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM provedor_modelos WHERE provedor_id = ?`, provedorID); err != nil {
		return fmt.Errorf("clearing model cache: %w", err)
	}
	now := time.Now().UTC()
	for _, m := range models {
		_, err := tx.Exec(`INSERT INTO provedor_modelos
			(provedor_id, modelo_id, nome, contexto, suporta_imagens,
			 suporta_ferramentas, tamanho_bytes, quantizacao, atualizado_em)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			provedorID, m.ModeloID, m.Nome, m.Contexto, m.SuportaImagens,
			m.SuportaFerramentas, m.TamanhoBytes, m.Quantizacao, now)
		if err != nil {
			return fmt.Errorf("caching model %q: %w", m.ModeloID, err)
		}
	}
	return tx.Commit()
}

// Models returns the provider's cached model list.
func (r *ProviderRepo) Models(provedorID int64) ([]CachedModel, error) {
	rows, err := r.db.Query(`SELECT id, provedor_id, modelo_id, nome,
		contexto, suporta_imagens, suporta_ferramentas, tamanho_bytes,
		quantizacao, atualizado_em
		FROM provedor_modelos WHERE provedor_id = ? ORDER BY modelo_id`,
		provedorID)
	if err != nil {
		return nil, fmt.Errorf("listing cached models: %w", err)
	}
	defer rows.Close()

	var out []CachedModel
	for rows.Next() {
		var m CachedModel
		err := rows.Scan(&m.ID, &m.ProvedorID, &m.ModeloID, &m.Nome,
			&m.Contexto, &m.SuportaImagens, &m.SuportaFerramentas,
			&m.TamanhoBytes, &m.Quantizacao, &m.AtualizadoEm)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ── statistics ──

// RecordRequest folds one request outcome into the provider's stats. The
// running average halves toward each new sample; failures contribute a
// zero-duration sample.
func (r *ProviderRepo) RecordRequest(provedorID int64, success bool, elapsed time.Duration) error {
	sampleMs := float64(elapsed.Milliseconds())
	if !success {
		sampleMs = 0
	}

	if _, err := r.db.Exec(`INSERT OR IGNORE INTO provedor_stats
		(provedor_id) VALUES (?)`, provedorID); err != nil {
		return fmt.Errorf("initializing provider stats: %w", err)
	}

	_, err := r.db.Exec(`UPDATE provedor_stats SET
		total_requisicoes = total_requisicoes + 1,
		total_sucessos = total_sucessos + ?,
		total_erros = total_erros + ?,
		tempo_medio_ms = CASE WHEN tempo_medio_ms = 0 THEN ?
			ELSE (tempo_medio_ms + ?) / 2.0 END,
		ultima_requisicao = ?
		WHERE provedor_id = ?`,
		boolToInt(success), boolToInt(!success), sampleMs, sampleMs,
		time.Now().UTC(), provedorID)
	if err != nil {
		return fmt.Errorf("recording provider request: %w", err)
	}
	return nil
}

// Stats returns the provider's accumulated statistics; a provider that
// never served a request gets a zeroed row.
func (r *ProviderRepo) Stats(provedorID int64) (*ProviderStats, error) {
	var (
		st     ProviderStats
		ultima sql.NullTime
	)
	err := r.db.QueryRow(`SELECT provedor_id, total_requisicoes,
		total_sucessos, total_erros, tempo_medio_ms, ultima_requisicao
		FROM provedor_stats WHERE provedor_id = ?`, provedorID).
		Scan(&st.ProvedorID, &st.TotalRequisicoes, &st.TotalSucessos,
			&st.TotalErros, &st.TempoMedioMs, &ultima)
	if errors.Is(err, sql.ErrNoRows) {
		return &ProviderStats{ProvedorID: provedorID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading provider stats: %w", err)
	}
	if ultima.Valid {
		t := ultima.Time
		st.UltimaRequisicao = &t
	}
	return &st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
