// Package scheduler runs zapclaw's background maintenance sweeps on cron
// schedules: re-probing LLM providers, expiring stale pairing QR codes and
// pruning old media uploads. Uses robfig/cron for schedule parsing.
package scheduler

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// providerSweepParallel bounds how many providers are probed at once.
const providerSweepParallel = 4

// ProviderRefresher re-probes one LLM provider and refreshes its cached
// model list. Implemented by llm.Engine.
type ProviderRefresher interface {
	RefreshProvider(ctx context.Context, id int64) ([]store.CachedModel, error)
}

// Scheduler owns the cron runner and the maintenance sweeps.
type Scheduler struct {
	cfg    config.SchedulerConfig
	store  *store.Store
	engine ProviderRefresher
	logger *slog.Logger

	// cron is the runner from robfig/cron.
	cron *cron.Cron

	// cronIDs maps sweep names to their cron entries.
	cronIDs map[string]cron.EntryID

	// running tracks sweeps currently executing so a slow run that
	// outlasts its interval is not fired again on top of itself.
	running map[string]bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. The sweeps only start running after Start.
func New(cfg config.SchedulerConfig, st *store.Store, engine ProviderRefresher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cfg:     cfg,
		store:   st,
		engine:  engine,
		logger:  logger.With("component", "scheduler"),
		cronIDs: make(map[string]cron.EntryID),
		running: make(map[string]bool),
	}
}

// Start registers the configured sweeps and starts the cron runner.
// An empty schedule disables its sweep; a retention of zero days
// disables the upload cleanup.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	if err := s.register("provedores", s.cfg.ProviderSweep, s.sweepProviders); err != nil {
		return err
	}
	if err := s.register("qr", s.cfg.QRSweep, s.sweepQRCodes); err != nil {
		return err
	}
	if s.cfg.UploadRetentionDays > 0 {
		if err := s.register("uploads", s.cfg.UploadCleanup, s.sweepUploads); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("varreduras agendadas", "entradas", len(s.cron.Entries()))
	return nil
}

// Stop halts the cron runner and waits for in-flight sweeps to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("encerramento das varreduras expirou")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("varreduras encerradas")
}

// register adds one sweep to the cron runner, wrapped in the overlap guard.
func (s *Scheduler) register(name, schedule string, fn func(ctx context.Context)) error {
	if schedule == "" {
		s.logger.Info("varredura desativada", "varredura", name)
		return nil
	}

	id, err := s.cron.AddFunc(schedule, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("agenda inválida para varredura %s (%q): %w", name, schedule, err)
	}
	s.cronIDs[name] = id
	return nil
}

// run executes one sweep, skipping the fire when the previous run of the
// same sweep is still active. Panics are recovered so one bad sweep does
// not take the runner down.
func (s *Scheduler) run(name string, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn("varredura ainda em execução, pulando disparo", "varredura", name)
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()

		if r := recover(); r != nil {
			s.logger.Error("varredura entrou em pânico", "varredura", name, "panic", r)
		}
	}()

	fn(s.ctx)
}

// ── Sweeps ──

// sweepProviders re-probes every active provider and refreshes its model
// cache, at most providerSweepParallel at a time. Failures mark the
// provider row but never abort the sweep for the others.
func (s *Scheduler) sweepProviders(ctx context.Context) {
	providers, err := s.store.Providers.ListActive()
	if err != nil {
		s.logger.Error("varredura de provedores: falha ao listar", "err", err)
		return
	}
	if len(providers) == 0 {
		return
	}

	var failures atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(providerSweepParallel)
	for _, p := range providers {
		g.Go(func() error {
			if _, err := s.engine.RefreshProvider(gctx, p.ID); err != nil {
				failures.Add(1)
				s.logger.Warn("provedor falhou na varredura", "provedor", p.Nome, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("varredura de provedores concluída",
		"provedores", len(providers),
		"falhas", failures.Load(),
	)
}

// sweepQRCodes clears pairing codes older than the configured validity so
// the panel never shows a code the channel already rotated away from.
func (s *Scheduler) sweepQRCodes(ctx context.Context) {
	maxAge := time.Duration(s.store.Settings.GetInt("sistema_qr_validade_segundos", 60)) * time.Second

	n, err := s.store.Sessions.ClearExpiredQRCodes(maxAge)
	if err != nil {
		s.logger.Error("varredura de qr: falha ao limpar códigos", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("qr codes expirados removidos", "sessoes", n)
	}
}

// sweepUploads walks the uploads tree and deletes media files older than
// the retention window. Directories are left in place.
func (s *Scheduler) sweepUploads(ctx context.Context) {
	dir := s.store.Settings.GetString("sistema_diretorio_uploads", "uploads")
	cutoff := time.Now().AddDate(0, 0, -s.cfg.UploadRetentionDays)

	var removed, failed int
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if rerr := os.Remove(path); rerr != nil {
			failed++
			s.logger.Warn("falha ao remover upload antigo", "arquivo", path, "err", rerr)
			return nil
		}
		removed++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		s.logger.Error("varredura de uploads: falha ao percorrer diretório", "dir", dir, "err", err)
		return
	}

	if removed > 0 || failed > 0 {
		s.logger.Info("uploads antigos removidos",
			"arquivos", removed,
			"falhas", failed,
			"retencao_dias", s.cfg.UploadRetentionDays,
		)
	}
}
