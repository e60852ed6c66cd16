package whatsapp

import (
	"fmt"
	"strings"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// handleEvent is the whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.handleConnected()

	case *events.PairSuccess:
		w.logger.Info("dispositivo pareado", "jid", evt.ID.String(), "plataforma", evt.Platform)
		w.notifyPhone(evt.ID.User)

	case *events.Disconnected:
		w.handleDisconnected()

	case *events.StreamReplaced:
		w.connected.Store(false)
		w.setState(StateDisconnected)
		w.logger.Error("conexão substituída por outro dispositivo")

	case *events.LoggedOut:
		w.connected.Store(false)
		w.setState(StateDisconnected)
		w.logger.Error("sessão invalidada, novo pareamento necessário",
			"motivo", evt.Reason.String())

	case *events.TemporaryBan:
		w.connected.Store(false)
		w.setState(StateError)
		w.logger.Error("conta temporariamente banida",
			"codigo", evt.Code.String(), "expira", evt.Expire.String())

	case *events.KeepAliveTimeout:
		w.errorCount.Add(1)
		w.logger.Warn("keep-alive sem resposta", "erros", evt.ErrorCount)

	case *events.KeepAliveRestored:
		w.errorCount.Store(0)
		w.logger.Info("keep-alive restabelecido")
	}
}

func (w *WhatsApp) handleConnected() {
	w.connected.Store(true)
	w.errorCount.Store(0)
	w.setState(StateConnected)

	if w.client != nil && w.client.Store.ID != nil {
		w.notifyPhone(w.client.Store.ID.User)
		w.logger.Info("conectado", "jid", w.client.Store.ID.String())
	}
}

func (w *WhatsApp) handleDisconnected() {
	// whatsmeow's auto reconnect takes over from here; the Connected
	// event restores the state once the socket is back.
	w.connected.Store(false)
	w.setState(StateDisconnected)
	w.logger.Warn("conexão perdida")
}

// handleMessageEvt converts an incoming WhatsApp event into the unified
// message type. Group chats, broadcasts and own messages are skipped:
// the session answers direct customer conversations only.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	if evt.Info.Chat.Server == types.BroadcastServer {
		return
	}

	// WhatsApp may report the sender as a LID (linked identity) instead
	// of the phone number. Resolve it so history stays keyed by phone.
	sender := evt.Info.Sender
	if sender.Server == types.HiddenUserServer && w.client != nil && w.client.Store != nil {
		if alt, err := w.client.Store.GetAltJID(w.ctx, sender); err == nil && !alt.IsEmpty() {
			sender = alt
		}
	}

	msg := &channels.IncomingMessage{
		ID:        string(evt.Info.ID),
		Channel:   "whatsapp",
		From:      sender.User,
		FromName:  evt.Info.PushName,
		Timestamp: evt.Info.Timestamp,
	}

	if !extractMessage(evt.Message, msg) {
		w.logger.Debug("mensagem de tipo não suportado ignorada", "de", msg.From)
		return
	}

	w.emitMessage(msg)
}

// extractMessage classifies the raw envelope and fills content and media
// details. Inspection order is fixed: text, audio, image, video,
// sticker, location, document. Returns false for unsupported kinds.
func extractMessage(waMsg *waE2E.Message, msg *channels.IncomingMessage) bool {
	if waMsg == nil {
		return false
	}

	if waMsg.Conversation != nil {
		msg.Type = channels.MessageText
		msg.Content = waMsg.GetConversation()
		return true
	}
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		msg.Type = channels.MessageText
		msg.Content = ext.GetText()
		return true
	}

	if audio := waMsg.AudioMessage; audio != nil {
		msg.Type = channels.MessageAudio
		msg.Media = &channels.MediaInfo{
			Type:          channels.MessageAudio,
			MimeType:      audio.GetMimetype(),
			FileSize:      audio.GetFileLength(),
			Duration:      audio.GetSeconds(),
			URL:           audio.GetURL(),
			DirectPath:    audio.GetDirectPath(),
			MediaKey:      audio.GetMediaKey(),
			FileSHA256:    audio.GetFileSHA256(),
			FileEncSHA256: audio.GetFileEncSHA256(),
		}
		return true
	}

	if img := waMsg.ImageMessage; img != nil {
		msg.Type = channels.MessageImage
		msg.Content = img.GetCaption()
		msg.Media = &channels.MediaInfo{
			Type:          channels.MessageImage,
			MimeType:      img.GetMimetype(),
			FileSize:      img.GetFileLength(),
			URL:           img.GetURL(),
			DirectPath:    img.GetDirectPath(),
			MediaKey:      img.GetMediaKey(),
			FileSHA256:    img.GetFileSHA256(),
			FileEncSHA256: img.GetFileEncSHA256(),
		}
		return true
	}

	if video := waMsg.VideoMessage; video != nil {
		msg.Type = channels.MessageVideo
		msg.Content = video.GetCaption()
		msg.Media = &channels.MediaInfo{
			Type:          channels.MessageVideo,
			MimeType:      video.GetMimetype(),
			FileSize:      video.GetFileLength(),
			Duration:      video.GetSeconds(),
			URL:           video.GetURL(),
			DirectPath:    video.GetDirectPath(),
			MediaKey:      video.GetMediaKey(),
			FileSHA256:    video.GetFileSHA256(),
			FileEncSHA256: video.GetFileEncSHA256(),
		}
		return true
	}

	if sticker := waMsg.StickerMessage; sticker != nil {
		msg.Type = channels.MessageSticker
		msg.Media = &channels.MediaInfo{
			Type:          channels.MessageSticker,
			MimeType:      sticker.GetMimetype(),
			FileSize:      sticker.GetFileLength(),
			URL:           sticker.GetURL(),
			DirectPath:    sticker.GetDirectPath(),
			MediaKey:      sticker.GetMediaKey(),
			FileSHA256:    sticker.GetFileSHA256(),
			FileEncSHA256: sticker.GetFileEncSHA256(),
		}
		return true
	}

	if loc := waMsg.LocationMessage; loc != nil {
		msg.Type = channels.MessageLocation
		msg.Content = fmt.Sprintf("[localização: %.6f, %.6f]",
			loc.GetDegreesLatitude(), loc.GetDegreesLongitude())
		return true
	}
	if loc := waMsg.LiveLocationMessage; loc != nil {
		msg.Type = channels.MessageLocation
		msg.Content = fmt.Sprintf("[localização ao vivo: %.6f, %.6f]",
			loc.GetDegreesLatitude(), loc.GetDegreesLongitude())
		return true
	}

	if doc := waMsg.DocumentMessage; doc != nil {
		msg.Type = channels.MessageDocument
		msg.Content = doc.GetCaption()
		msg.Media = &channels.MediaInfo{
			Type:          channels.MessageDocument,
			MimeType:      doc.GetMimetype(),
			Filename:      doc.GetFileName(),
			FileSize:      doc.GetFileLength(),
			URL:           doc.GetURL(),
			DirectPath:    doc.GetDirectPath(),
			MediaKey:      doc.GetMediaKey(),
			FileSHA256:    doc.GetFileSHA256(),
			FileEncSHA256: doc.GetFileEncSHA256(),
		}
		return true
	}

	return false
}

// parseJID converts a recipient string to a JID. Accepts a bare phone
// number ("5511999999999") or a full JID ("5511999999999@s.whatsapp.net").
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("destinatário vazio")
	}

	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("número de telefone muito curto: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}
