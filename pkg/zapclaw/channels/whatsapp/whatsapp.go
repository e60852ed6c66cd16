// Package whatsapp implements the WhatsApp channel for zapclaw using
// whatsmeow, a native Go WhatsApp Web API library. No Node.js bridge.
//
// Each zapclaw session owns one adapter instance with its own device
// store (SQLite file under Config.Dir). Pairing and connection state is
// reported upward through the Config callbacks; QR codes are delivered
// to the web UI, never to the terminal.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the device store.
)

// Config holds the per-session adapter configuration.
type Config struct {
	// SessionID is the zapclaw session this adapter serves.
	SessionID int64

	// Dir is the directory holding per-session device stores. The store
	// file is {Dir}/sessao_{SessionID}.db.
	Dir string

	// OnQR receives each QR code generated during pairing.
	OnQR func(code string)

	// OnStatus receives connection state changes.
	OnStatus func(status string)

	// OnPhone receives the account phone number once known.
	OnPhone func(telefone string)
}

// ConnectionState is the adapter connection state. The values match the
// session status vocabulary stored in the database.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "desconectado"
	StateConnecting   ConnectionState = "conectando"
	StateWaitingQR    ConnectionState = "aguardando_qr"
	StateConnected    ConnectionState = "conectado"
	StateError        ConnectionState = "erro"
)

// WhatsApp implements channels.Channel and channels.MediaChannel.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	state      atomic.Value // ConnectionState
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// messagesClosed guards against sending on the closed messages
	// channel after Disconnect.
	messagesClosed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a WhatsApp adapter for one session.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WhatsApp{
		cfg:      cfg,
		logger:   logger.With("component", "whatsapp", "sessao", cfg.SessionID),
		messages: make(chan *channels.IncomingMessage, 256),
	}
	w.state.Store(StateDisconnected)
	return w
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) getState() ConnectionState {
	if v := w.state.Load(); v != nil {
		return v.(ConnectionState)
	}
	return StateDisconnected
}

// setState updates the adapter state and reports it upward.
func (w *WhatsApp) setState(state ConnectionState) {
	w.state.Store(state)
	if w.cfg.OnStatus != nil {
		w.cfg.OnStatus(string(state))
	}
}

func (w *WhatsApp) notifyQR(code string) {
	if w.cfg.OnQR != nil {
		w.cfg.OnQR(code)
	}
}

func (w *WhatsApp) notifyPhone(telefone string) {
	if telefone == "" {
		return
	}
	if w.cfg.OnPhone != nil {
		w.cfg.OnPhone(telefone)
	}
}

// Connect opens the device store and establishes the WhatsApp Web
// connection. When the device is not paired yet, the QR login flow runs
// in the background so the caller is not blocked waiting for a scan.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.setState(StateConnecting)

	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		w.setState(StateError)
		return fmt.Errorf("criando diretório de sessões: %w", err)
	}
	dbPath := filepath.Join(w.cfg.Dir, fmt.Sprintf("sessao_%d.db", w.cfg.SessionID))

	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath),
		waLog.Noop)
	if err != nil {
		w.setState(StateError)
		return fmt.Errorf("abrindo armazenamento do dispositivo: %w", err)
	}

	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		w.setState(StateError)
		return fmt.Errorf("obtendo dispositivo: %w", err)
	}

	// Device name shown in the WhatsApp linked devices list.
	store.SetOSInfo("ZapClaw", [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		// Not paired yet. The QR flow streams codes to the web UI.
		w.logger.Info("dispositivo não pareado, iniciando fluxo de qr code")
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("pareamento não concluído", "err", err)
			}
		}()
		return nil
	}

	if err := w.client.Connect(); err != nil {
		w.setState(StateError)
		return fmt.Errorf("conectando: %w", err)
	}

	w.logger.Info("reconectando sessão existente", "jid", w.client.Store.ID.String())
	return nil
}

// getDevice returns the stored device or creates a fresh one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR runs the QR pairing loop until success, timeout or error.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("obtendo canal de qr: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("conectando para pareamento: %w", err)
	}

	w.setState(StateWaitingQR)

	for {
		select {
		case <-ctx.Done():
			w.setState(StateDisconnected)
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("canal de qr fechado")
			}
			switch evt.Event {
			case "code":
				w.logger.Info("qr code gerado")
				w.notifyQR(evt.Code)
			case "success":
				w.logger.Info("pareamento concluído")
				return nil
			case "timeout":
				w.setState(StateDisconnected)
				w.logger.Warn("qr code expirado sem leitura")
				return fmt.Errorf("qr code expirado")
			default:
				if evt.Error != nil {
					w.setState(StateError)
					return fmt.Errorf("erro no pareamento: %w", evt.Error)
				}
			}
		}
	}
}

// Disconnect closes the connection and the incoming messages channel.
func (w *WhatsApp) Disconnect() error {
	w.connected.Store(false)
	w.state.Store(StateDisconnected)

	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	if w.messagesClosed.CompareAndSwap(false, true) {
		close(w.messages)
	}

	w.logger.Info("desconectado")
	return nil
}

// Logout unpairs the device and clears the stored credentials. The next
// Connect starts a fresh QR flow.
func (w *WhatsApp) Logout(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	w.connected.Store(false)

	if err := w.client.Logout(ctx); err != nil {
		w.logger.Warn("logout falhou, limpando dispositivo localmente", "err", err)
		w.client.Disconnect()
		if w.client.Store != nil {
			if delErr := w.client.Store.Delete(ctx); delErr != nil {
				return fmt.Errorf("removendo dispositivo: %w", delErr)
			}
		}
	}

	w.setState(StateDisconnected)
	w.logger.Info("dispositivo despareado")
	return nil
}

// Send sends a text message to a phone number or full JID.
func (w *WhatsApp) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("destinatário inválido %q: %w", to, err)
	}

	if _, err := w.client.SendMessage(ctx, jid, buildTextMessage(msg)); err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("enviando mensagem: %w", err)
	}
	return nil
}

// buildTextMessage converts an outgoing message into the wire format.
// A reply carries the quoted message id in the context info.
func buildTextMessage(msg *channels.OutgoingMessage) *waE2E.Message {
	if msg.ReplyTo == "" {
		return &waE2E.Message{Conversation: proto.String(msg.Content)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(msg.Content),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID: proto.String(msg.ReplyTo),
			},
		},
	}
}

// Receive returns the incoming messages channel.
func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage {
	return w.messages
}

// IsConnected reports whether the session is logged in and online.
func (w *WhatsApp) IsConnected() bool {
	return w.connected.Load()
}

// Health returns the adapter health snapshot.
func (w *WhatsApp) Health() channels.HealthStatus {
	h := channels.HealthStatus{
		Connected:  w.connected.Load(),
		ErrorCount: int(w.errorCount.Load()),
		Details:    map[string]string{"estado": string(w.getState())},
	}
	if t, ok := w.lastMsg.Load().(time.Time); ok {
		h.LastMessageAt = t
	}
	if w.client != nil && w.client.Store.ID != nil {
		h.Details["jid"] = w.client.Store.ID.String()
	}
	return h
}

// DownloadMedia downloads and decrypts the media of an incoming message.
func (w *WhatsApp) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil {
		return nil, "", channels.ErrNoMedia
	}
	m := msg.Media

	mediaType, ok := mediaTypeFor(m.Type)
	if !ok {
		return nil, "", fmt.Errorf("tipo de mídia não suportado: %s", m.Type)
	}

	data, err := w.client.DownloadMediaWithPath(ctx,
		m.DirectPath, m.FileEncSHA256, m.FileSHA256, m.MediaKey,
		int(m.FileSize), mediaType, "")
	if err != nil {
		w.errorCount.Add(1)
		return nil, "", fmt.Errorf("baixando mídia: %w", err)
	}
	return data, m.MimeType, nil
}

// mediaTypeFor maps message types to whatsmeow media types. Stickers
// are downloaded through the image endpoint.
func mediaTypeFor(t channels.MessageType) (whatsmeow.MediaType, bool) {
	switch t {
	case channels.MessageAudio:
		return whatsmeow.MediaAudio, true
	case channels.MessageImage, channels.MessageSticker:
		return whatsmeow.MediaImage, true
	case channels.MessageVideo:
		return whatsmeow.MediaVideo, true
	case channels.MessageDocument:
		return whatsmeow.MediaDocument, true
	}
	return "", false
}

// emitMessage delivers a message to the pipeline, dropping it when the
// buffer is full rather than blocking the whatsmeow event loop.
func (w *WhatsApp) emitMessage(msg *channels.IncomingMessage) {
	if w.messagesClosed.Load() {
		return
	}
	select {
	case w.messages <- msg:
		w.lastMsg.Store(time.Now())
	default:
		w.logger.Warn("fila de mensagens cheia, descartando",
			"de", msg.From, "tipo", msg.Type)
	}
}
