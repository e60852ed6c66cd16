package bot

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/transcribe"
)

// Placeholder contents recorded when audio handling cannot produce text.
const (
	audioNotTranscribed = "[Áudio não transcrito]"
	audioProcessError   = "[Erro ao processar áudio]"
	transcribedPrefix   = "[Áudio transcrito]: "
)

// audioResult is what audio processing feeds back into the pipeline.
type audioResult struct {
	Content    string // what the agent sees and what is persisted
	Transcript string // bare transcription, empty on failure
	Path       string // saved file, empty when saving failed
	MimeType   string
}

// processAudio downloads, stores and transcribes a voice note. Failures
// never abort the pipeline; they degrade to placeholder content.
func (o *Orchestrator) processAudio(ctx context.Context, ch channels.Channel, sessaoID int64, msg *channels.IncomingMessage) audioResult {
	mc, ok := ch.(channels.MediaChannel)
	if !ok || msg.Media == nil {
		return audioResult{Content: audioProcessError}
	}

	data, mimeType, err := mc.DownloadMedia(ctx, msg)
	if err != nil {
		o.logger.Warn("falha ao baixar áudio", "sessao", sessaoID, "err", err)
		return audioResult{Content: audioProcessError}
	}

	res := audioResult{MimeType: mimeType}
	ext := transcribe.ExtensionForMIME(mimeType)
	path, err := o.saveMedia(sessaoID, msg.From, "audio", ext, data)
	if err != nil {
		o.logger.Warn("falha ao salvar áudio", "sessao", sessaoID, "err", err)
	} else {
		res.Path = path
	}

	if max := o.store.Settings.GetInt("audio_max_bytes", 16<<20); len(data) > max {
		o.logger.Warn("áudio acima do limite, transcrição ignorada",
			"sessao", sessaoID, "bytes", len(data), "limite", max)
		res.Content = audioNotTranscribed
		return res
	}
	if !o.transcriber.Enabled() {
		res.Content = audioNotTranscribed
		return res
	}

	text, err := o.transcriber.Transcribe(ctx, data, mimeType)
	if err != nil || text == "" {
		if err != nil {
			o.logger.Warn("falha na transcrição", "sessao", sessaoID, "err", err)
		}
		res.Content = audioNotTranscribed
		return res
	}

	res.Transcript = text
	res.Content = transcribedPrefix + text
	return res
}

// imageResult is what image processing feeds back into the pipeline.
type imageResult struct {
	Content  string
	Base64   string
	Path     string
	MimeType string
}

// processImage downloads and stores a picture. The base64 payload rides
// along to vision-capable models; the caption becomes the text content.
func (o *Orchestrator) processImage(ctx context.Context, ch channels.Channel, sessaoID int64, msg *channels.IncomingMessage) imageResult {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		content = "[Imagem]"
	}
	res := imageResult{Content: content}

	mc, ok := ch.(channels.MediaChannel)
	if !ok || msg.Media == nil {
		return res
	}

	data, mimeType, err := mc.DownloadMedia(ctx, msg)
	if err != nil {
		o.logger.Warn("falha ao baixar imagem", "sessao", sessaoID, "err", err)
		return res
	}
	res.MimeType = mimeType
	res.Base64 = base64.StdEncoding.EncodeToString(data)

	path, err := o.saveMedia(sessaoID, msg.From, "imagem", imageExtension(mimeType), data)
	if err != nil {
		o.logger.Warn("falha ao salvar imagem", "sessao", sessaoID, "err", err)
	} else {
		res.Path = path
	}
	return res
}

// saveMedia writes a media payload under the uploads tree:
// {uploads}/sessao_{id}/{telefone}/{kind}_{ts}.{ext}
func (o *Orchestrator) saveMedia(sessaoID int64, telefone, kind, ext string, data []byte) (string, error) {
	base := o.store.Settings.GetString("sistema_diretorio_uploads", "uploads")
	dir := filepath.Join(base, fmt.Sprintf("sessao_%d", sessaoID), sanitizeSegment(telefone))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("criando diretório de uploads: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%d.%s", kind, time.Now().UnixMilli(), ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("gravando arquivo de mídia: %w", err)
	}
	return path, nil
}

// sanitizeSegment keeps sender ids usable as a directory name.
func sanitizeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func imageExtension(mimeType string) string {
	mimeType = strings.ToLower(mimeType)
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}
