package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

var (
	// ErrSessionRunning is returned when starting an already-live session.
	ErrSessionRunning = errors.New("sessão já está em execução")
	// ErrSessionNotRunning is returned when stopping a session with no
	// live channel.
	ErrSessionNotRunning = errors.New("sessão não está em execução")
)

// SessionHooks are the callbacks a channel adapter uses to report pairing
// and connection state back into the session row.
type SessionHooks struct {
	OnQR     func(code string)
	OnStatus func(status string)
	OnPhone  func(telefone string)
}

// ChannelFactory builds the transport adapter for one session, picked by
// its canal column.
type ChannelFactory func(sess *store.Session, hooks SessionHooks) (channels.Channel, error)

// Registry keeps one live channel per running session and pumps its
// messages through the orchestrator. Each message is handled in its own
// goroutine; ordering is whatever the transport delivers, and rapid
// messages from the same contact may interleave on session flags.
type Registry struct {
	store   *store.Store
	orch    *Orchestrator
	factory ChannelFactory
	logger  *slog.Logger

	mu     sync.RWMutex
	active map[int64]channels.Channel
	wg     sync.WaitGroup
}

// NewRegistry builds a registry using factory to create channel adapters.
func NewRegistry(st *store.Store, orch *Orchestrator, factory ChannelFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   st,
		orch:    orch,
		factory: factory,
		logger:  logger.With("component", "registry"),
		active:  make(map[int64]channels.Channel),
	}
}

// StartSession connects the session's channel and starts its message pump.
func (r *Registry) StartSession(ctx context.Context, id int64) error {
	r.mu.RLock()
	_, running := r.active[id]
	r.mu.RUnlock()
	if running {
		return ErrSessionRunning
	}

	sess, err := r.store.Sessions.GetByID(id)
	if err != nil {
		return err
	}

	hooks := SessionHooks{
		OnQR: func(code string) {
			if err := r.store.Sessions.SetQRCode(id, code); err != nil {
				r.logger.Warn("falha ao gravar qr code", "sessao", id, "err", err)
			}
		},
		OnStatus: func(status string) {
			if err := r.store.Sessions.UpdateStatus(id, status); err != nil {
				r.logger.Warn("falha ao gravar status", "sessao", id, "err", err)
			}
			if status == store.StatusConnected {
				if err := r.store.Sessions.ClearQRCode(id); err != nil {
					r.logger.Warn("falha ao limpar qr code", "sessao", id, "err", err)
				}
			}
		},
		OnPhone: func(telefone string) {
			if err := r.store.Sessions.UpdateTelefone(id, telefone); err != nil {
				r.logger.Warn("falha ao gravar telefone", "sessao", id, "err", err)
			}
		},
	}

	ch, err := r.factory(sess, hooks)
	if err != nil {
		return err
	}

	if err := r.store.Sessions.UpdateStatus(id, store.StatusConnecting); err != nil {
		r.logger.Warn("falha ao gravar status", "sessao", id, "err", err)
	}
	if err := ch.Connect(ctx); err != nil {
		if serr := r.store.Sessions.UpdateStatus(id, store.StatusError); serr != nil {
			r.logger.Warn("falha ao gravar status", "sessao", id, "err", serr)
		}
		return err
	}

	r.mu.Lock()
	if _, exists := r.active[id]; exists {
		r.mu.Unlock()
		ch.Disconnect()
		return ErrSessionRunning
	}
	r.active[id] = ch
	r.mu.Unlock()

	r.wg.Add(1)
	go r.pump(ctx, id, ch)

	r.logger.Info("sessão iniciada", "sessao", id, "canal", sess.Canal, "nome", sess.Nome)
	return nil
}

// pump fans the session's messages out to the orchestrator until the
// channel's receive stream closes. Per-message waitgroup slots are only
// added while the pump holds its own.
func (r *Registry) pump(ctx context.Context, id int64, ch channels.Channel) {
	defer r.wg.Done()
	for msg := range ch.Receive() {
		r.wg.Add(1)
		go func(msg *channels.IncomingMessage) {
			defer r.wg.Done()
			if err := r.orch.Handle(ctx, id, ch, msg); err != nil {
				r.logger.Error("falha ao processar mensagem", "sessao", id, "err", err)
			}
		}(msg)
	}
	r.logger.Info("canal encerrado", "sessao", id)
}

// StopSession disconnects the session's channel; the pump drains and exits.
func (r *Registry) StopSession(id int64) error {
	r.mu.Lock()
	ch, ok := r.active[id]
	delete(r.active, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotRunning
	}

	if err := ch.Disconnect(); err != nil {
		r.logger.Warn("falha ao desconectar canal", "sessao", id, "err", err)
	}
	if err := r.store.Sessions.UpdateStatus(id, store.StatusDisconnected); err != nil {
		r.logger.Warn("falha ao gravar status", "sessao", id, "err", err)
	}
	r.logger.Info("sessão encerrada", "sessao", id)
	return nil
}

// StartAll starts every session flagged ativa. A session that fails to
// start is logged and skipped so the others still come up.
func (r *Registry) StartAll(ctx context.Context) error {
	sessions, err := r.store.Sessions.ListActive()
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := r.StartSession(ctx, sess.ID); err != nil {
			r.logger.Error("falha ao iniciar sessão",
				"sessao", sess.ID, "nome", sess.Nome, "err", err)
		}
	}
	return nil
}

// Shutdown stops every session and waits for the pumps to drain.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if err := r.StopSession(id); err != nil && !errors.Is(err, ErrSessionNotRunning) {
			r.logger.Warn("falha ao encerrar sessão", "sessao", id, "err", err)
		}
	}
	r.wg.Wait()
}

// Running reports whether the session has a live channel.
func (r *Registry) Running(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[id]
	return ok
}

// Health returns the live channel's health, when the session is running.
func (r *Registry) Health(id int64) (channels.HealthStatus, bool) {
	r.mu.RLock()
	ch, ok := r.active[id]
	r.mu.RUnlock()
	if !ok {
		return channels.HealthStatus{}, false
	}
	return ch.Health(), true
}
