// Package discord implements the Discord channel for zapclaw using
// discordgo. The adapter answers direct messages only: a zapclaw session
// is a customer-facing account, and guild chatter is out of its scope.
// Attachments are classified by MIME type; replies over 2000 characters
// are split to respect the Discord message limit.
package discord

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"
)

// discordMessageLimit is the maximum message length accepted by Discord.
const discordMessageLimit = 2000

// Config holds the per-session adapter configuration.
type Config struct {
	// SessionID is the zapclaw session this adapter serves.
	SessionID int64

	// Token is the Discord bot token.
	Token string

	// OnStatus receives connection state changes.
	OnStatus func(status string)

	// OnPhone receives the bot account identity once connected.
	OnPhone func(identity string)
}

// Discord implements channels.Channel and channels.MediaChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// httpClient downloads attachments, which Discord serves plainly.
	httpClient *http.Client

	messagesClosed atomic.Bool
}

// New creates a Discord adapter for one session.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord", "sessao", cfg.SessionID),
		messages:   make(chan *channels.IncomingMessage, 256),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("token do bot não configurado")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("criando sessão discord: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		d.notifyStatus("erro")
		return fmt.Errorf("conectando ao gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)
	d.notifyStatus("conectado")

	user := session.State.User
	if user != nil {
		d.notifyIdentity(user.Username)
		d.logger.Info("conectado", "bot", user.Username, "id", user.ID)
	}
	return nil
}

// Disconnect closes the gateway connection and the messages channel.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	if d.messagesClosed.CompareAndSwap(false, true) {
		close(d.messages)
	}
	d.logger.Info("desconectado")
	return nil
}

func (d *Discord) notifyStatus(status string) {
	if d.cfg.OnStatus != nil {
		d.cfg.OnStatus(status)
	}
}

func (d *Discord) notifyIdentity(identity string) {
	if identity == "" {
		return
	}
	if d.cfg.OnPhone != nil {
		d.cfg.OnPhone(identity)
	}
}

// Send delivers a text message to a user's direct message channel,
// splitting it when it exceeds the Discord limit.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if d.session == nil || !d.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	dm, err := d.session.UserChannelCreate(to)
	if err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("abrindo conversa direta: %w", err)
	}

	for i, chunk := range splitMessage(message.Content, discordMessageLimit) {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
		}
		if _, err := d.session.ChannelMessageSendComplex(dm.ID, msgSend); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("enviando mensagem: %w", err)
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected reports whether the gateway connection is open.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the adapter health snapshot.
func (d *Discord) Health() channels.HealthStatus {
	h := channels.HealthStatus{
		Connected:  d.connected.Load(),
		ErrorCount: int(d.errorCount.Load()),
		Details:    map[string]string{},
	}
	if t, ok := d.lastMsg.Load().(time.Time); ok {
		h.LastMessageAt = t
	}
	if d.session != nil && d.session.State.User != nil {
		h.Details["bot"] = d.session.State.User.Username
	}
	return h
}

// DownloadMedia fetches an attachment from the Discord CDN.
func (d *Discord) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil || msg.Media.URL == "" {
		return nil, "", channels.ErrNoMedia
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.Media.URL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.errorCount.Add(1)
		return nil, "", fmt.Errorf("baixando anexo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.errorCount.Add(1)
		return nil, "", fmt.Errorf("baixando anexo: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("lendo anexo: %w", err)
	}
	return data, msg.Media.MimeType, nil
}

// onMessageCreate converts incoming direct messages into the unified
// message type. Guild messages, bots and the account itself are skipped.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if m.Author.Bot {
		return
	}
	if m.GuildID != "" {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		Type:      channels.MessageText,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	switch {
	case len(m.Attachments) > 0:
		att := m.Attachments[0]
		mediaType := inferMediaType(att.ContentType)
		incoming.Type = mediaType
		incoming.Media = &channels.MediaInfo{
			Type:     mediaType,
			MimeType: att.ContentType,
			Filename: att.Filename,
			FileSize: uint64(att.Size),
			URL:      att.URL,
		}
	case len(m.StickerItems) > 0:
		incoming.Type = channels.MessageSticker
	}

	d.emitMessage(incoming)
}

// emitMessage delivers a message to the pipeline, dropping it when the
// buffer is full rather than blocking the gateway handler.
func (d *Discord) emitMessage(msg *channels.IncomingMessage) {
	if d.messagesClosed.Load() {
		return
	}
	select {
	case d.messages <- msg:
		d.lastMsg.Store(time.Now())
	default:
		d.logger.Warn("fila de mensagens cheia, descartando",
			"de", msg.From, "tipo", msg.Type)
	}
}

// inferMediaType maps attachment MIME types to message types.
func inferMediaType(contentType string) channels.MessageType {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return channels.MessageImage
	case strings.HasPrefix(ct, "audio/"):
		return channels.MessageAudio
	case strings.HasPrefix(ct, "video/"):
		return channels.MessageVideo
	default:
		return channels.MessageDocument
	}
}

// splitMessage splits text into chunks of at most maxLen, preferring to
// cut at a newline past the halfway point.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var (
	_ channels.Channel      = (*Discord)(nil)
	_ channels.MediaChannel = (*Discord)(nil)
)
