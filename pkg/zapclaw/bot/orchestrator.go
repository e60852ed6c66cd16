package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/llm"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// Transcriber is the slice of the transcription service the pipeline
// needs; *transcribe.Transcriber satisfies it.
type Transcriber interface {
	Enabled() bool
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Orchestrator runs one inbound message through the pipeline: commands,
// type policies, media handling, agent invocation, reply and persistence.
type Orchestrator struct {
	store       *store.Store
	engine      *llm.Engine
	transcriber Transcriber
	logger      *slog.Logger
}

// NewOrchestrator assembles the pipeline over its collaborators.
func NewOrchestrator(st *store.Store, engine *llm.Engine, tr Transcriber, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:       st,
		engine:      engine,
		transcriber: tr,
		logger:      logger.With("component", "bot"),
	}
}

// classify normalizes the channel's message type; anything unknown is
// treated as text.
func classify(msg *channels.IncomingMessage) string {
	switch msg.Type {
	case channels.MessageText, channels.MessageAudio, channels.MessageImage,
		channels.MessageVideo, channels.MessageSticker,
		channels.MessageLocation, channels.MessageDocument:
		return string(msg.Type)
	default:
		return string(channels.MessageText)
	}
}

// Handle processes one inbound message end to end. Agent failures are
// handled inside (apology sent, error recorded) and do not propagate;
// only infrastructure failures return an error.
func (o *Orchestrator) Handle(ctx context.Context, sessaoID int64, ch channels.Channel, msg *channels.IncomingMessage) error {
	// Reload the session row: flags and the active agent change at runtime.
	sess, err := o.store.Sessions.GetByID(sessaoID)
	if err != nil {
		return err
	}

	tipo := classify(msg)
	// Every log line of this message shares one correlation id.
	log := o.logger.With(
		"correlacao", uuid.New().String()[:8],
		"sessao", sess.ID,
		"de", msg.From,
		"tipo", tipo,
	)

	// Chat commands run before the auto responder and type policy gates;
	// they work even with everything else disabled.
	if tipo == string(channels.MessageText) {
		cmds, err := o.store.Commands.ListForSession(sess.ID)
		if err != nil {
			return err
		}
		if cmd := ResolveCommand(cmds, msg.Content); cmd != nil {
			reply, err := o.ExecuteCommand(sess, msg.From, cmd)
			if err != nil {
				return fmt.Errorf("executando comando %s: %w", cmd.Config.ComandoID, err)
			}
			log.Info("comando executado", "comando", cmd.Config.ComandoID)
			if reply == "" {
				return nil
			}
			return ch.Send(ctx, msg.From, &channels.OutgoingMessage{Content: reply, ReplyTo: msg.ID})
		}
	}

	content := strings.TrimSpace(msg.Content)
	var (
		audio audioResult
		image imageResult
	)

	if tipo != string(channels.MessageText) {
		pol, err := o.store.Policies.Effective(sess.ID, tipo)
		if err != nil {
			return err
		}
		switch pol.Acao {
		case store.AcaoIgnorar:
			log.Debug("mensagem ignorada por política")
			return nil

		case store.AcaoRespostaFixa:
			if pol.RespostaFixa == "" {
				return nil
			}
			log.Info("resposta fixa enviada")
			return ch.Send(ctx, msg.From, &channels.OutgoingMessage{Content: pol.RespostaFixa, ReplyTo: msg.ID})

		case store.AcaoTranscricao:
			if tipo != string(channels.MessageAudio) {
				return nil
			}
			return o.transcribeOnly(ctx, sess, ch, msg, log)

		case store.AcaoEnviarIA:
			switch tipo {
			case string(channels.MessageAudio):
				audio = o.processAudio(ctx, ch, sess.ID, msg)
				content = audio.Content
			case string(channels.MessageImage):
				image = o.processImage(ctx, ch, sess.ID, msg)
				content = image.Content
			default:
				if content == "" {
					content = "[" + tipo + "]"
				}
			}
		}
	}

	// With auto replies off the message is only archived.
	if !sess.AutoResponder {
		if sess.SalvarHist {
			rec := o.newRecord(sess.ID, msg, tipo, content, audio, image)
			if err := o.store.Messages.Create(rec); err != nil {
				log.Warn("falha ao persistir mensagem", "err", err)
			} else if err := o.store.Messages.MarkProcessed(rec.ID); err != nil {
				log.Warn("falha ao marcar mensagem", "err", err)
			}
		}
		log.Debug("respostas automáticas desativadas")
		return nil
	}

	// History is read before the current message is stored; the prompt
	// carries the current user turn exactly once.
	limit := o.store.Settings.GetInt("agente_historico_mensagens", 10)
	history, err := o.store.Messages.History(sess.ID, msg.From, limit)
	if err != nil {
		return err
	}

	var rec *store.Message
	if sess.SalvarHist {
		rec = o.newRecord(sess.ID, msg, tipo, content, audio, image)
		if err := o.store.Messages.Create(rec); err != nil {
			log.Warn("falha ao persistir mensagem", "err", err)
			rec = nil
		}
	}

	userMsg := llm.Message{Role: "user", Content: content}
	if image.Base64 != "" {
		userMsg.Images = []string{image.Base64}
	}

	result, err := o.invokeAgent(ctx, sess, history, userMsg)
	if err != nil {
		classe, apology := classifyError(err)
		log.Error("falha na invocação do agente", "classe", classe, "err", err)
		if rec != nil {
			if rerr := o.store.Messages.RecordError(rec.ID, err.Error()); rerr != nil {
				log.Warn("falha ao registrar erro", "err", rerr)
			}
		}
		if sendErr := ch.Send(ctx, msg.From, &channels.OutgoingMessage{Content: apology, ReplyTo: msg.ID}); sendErr != nil {
			log.Error("falha ao enviar desculpas", "err", sendErr)
		}
		return nil
	}

	reply := result.Content
	if assinatura := o.store.Settings.GetString("agente_assinatura", ""); assinatura != "" {
		reply += "\n\n" + assinatura
	}

	if err := ch.Send(ctx, msg.From, &channels.OutgoingMessage{Content: reply, ReplyTo: msg.ID}); err != nil {
		if rec != nil {
			if rerr := o.store.Messages.RecordError(rec.ID, "envio falhou: "+err.Error()); rerr != nil {
				log.Warn("falha ao registrar erro", "err", rerr)
			}
		}
		return fmt.Errorf("enviando resposta: %w", err)
	}

	if rec != nil {
		err := o.store.Messages.RecordReply(rec.ID, store.Reply{
			Texto:             reply,
			Modelo:            result.Model,
			TokensInput:       result.TokensInput,
			TokensOutput:      result.TokensOutput,
			TempoMs:           int(result.Elapsed.Milliseconds()),
			FerramentasUsadas: encodeTools(result.ToolCalls),
		})
		if err != nil {
			log.Warn("falha ao registrar resposta", "err", err)
		}
	}

	log.Info("mensagem respondida",
		"provedor", result.ProvedorUsado,
		"motivo", result.Motivo,
		"modelo", result.Model,
		"dialeto", result.Dialect,
		"tempo_ms", result.Elapsed.Milliseconds())
	return nil
}

// encodeTools serializes the requested tool names as the JSON array the
// message row stores.
func encodeTools(names []string) string {
	if len(names) == 0 {
		return ""
	}
	b, err := json.Marshal(names)
	if err != nil {
		return ""
	}
	return string(b)
}

// transcribeOnly answers an audio message with its transcription, without
// involving the agent.
func (o *Orchestrator) transcribeOnly(ctx context.Context, sess *store.Session, ch channels.Channel, msg *channels.IncomingMessage, log *slog.Logger) error {
	audio := o.processAudio(ctx, ch, sess.ID, msg)

	reply := audio.Content
	if audio.Transcript != "" {
		reply = "📝 *Transcrição do áudio:*\n\n" + audio.Transcript
	}

	var rec *store.Message
	if sess.SalvarHist {
		rec = o.newRecord(sess.ID, msg, string(channels.MessageAudio), audio.Content, audio, imageResult{})
		if err := o.store.Messages.Create(rec); err != nil {
			log.Warn("falha ao persistir mensagem", "err", err)
			rec = nil
		}
	}

	if err := ch.Send(ctx, msg.From, &channels.OutgoingMessage{Content: reply, ReplyTo: msg.ID}); err != nil {
		return fmt.Errorf("enviando transcrição: %w", err)
	}
	if rec != nil {
		if err := o.store.Messages.RecordReply(rec.ID, store.Reply{Texto: reply}); err != nil {
			log.Warn("falha ao registrar resposta", "err", err)
		}
	}
	log.Info("áudio transcrito e devolvido")
	return nil
}

// newRecord builds the inbound row from everything the pipeline learned.
func (o *Orchestrator) newRecord(sessaoID int64, msg *channels.IncomingMessage, tipo, content string, audio audioResult, image imageResult) *store.Message {
	rec := &store.Message{
		SessaoID:           sessaoID,
		TelefoneCliente:    msg.From,
		NomeCliente:        msg.FromName,
		MensagemIDWhatsApp: msg.ID,
		Tipo:               tipo,
		ConteudoTexto:      content,
	}
	switch {
	case audio.Path != "":
		rec.ConteudoMidiaPath = audio.Path
		rec.ConteudoMimeType = audio.MimeType
	case image.Path != "" || image.Base64 != "":
		rec.ConteudoMidiaPath = image.Path
		rec.ConteudoImagemBase64 = image.Base64
		rec.ConteudoMimeType = image.MimeType
	}
	return rec
}

// Error classes reported on agent failures.
const (
	errClassConfig    = "configuracao"
	errClassTransient = "transitorio"
	errClassThrottle  = "limite_requisicoes"
	errClassGeneric   = "generico"
)

// classifyError sorts an agent failure into a class and picks the apology
// sent back to the contact. Known classes hide the raw error; the generic
// class quotes at most its first 100 characters.
func classifyError(err error) (classe, apology string) {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key") || strings.Contains(msg, "openrouter"):
		return errClassConfig,
			"⚠️ O assistente está com um problema de configuração. Avise o administrador."
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "deadline exceeded"):
		return errClassTransient,
			"⏳ O assistente demorou para responder. Tente novamente em instantes."
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return errClassThrottle,
			"🚦 Muitas mensagens no momento. Aguarde um pouco e tente novamente."
	default:
		detail := err.Error()
		if len(detail) > 100 {
			detail = detail[:100]
		}
		return errClassGeneric,
			"❌ Erro ao processar sua mensagem: " + detail
	}
}
