// Package transcribe turns voice notes into text through whisper-style
// APIs. Groq and OpenAI expose the same multipart endpoint, so one client
// covers both; which one is used, and with which model and language, comes
// from the runtime settings table.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

// ErrNotConfigured means the selected transcription provider has no key.
var ErrNotConfigured = errors.New("transcrição não configurada")

const (
	groqEndpoint   = "https://api.groq.com/openai/v1/audio/transcriptions"
	openaiEndpoint = "https://api.openai.com/v1/audio/transcriptions"
)

// Transcriber sends audio to the configured whisper endpoint.
type Transcriber struct {
	settings *store.Settings
	client   *http.Client
	logger   *slog.Logger

	groqURL   string
	openaiURL string
}

// New builds a transcriber reading its knobs from the settings table.
func New(settings *store.Settings, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{
		settings:  settings,
		client:    &http.Client{},
		logger:    logger.With("component", "transcribe"),
		groqURL:   groqEndpoint,
		openaiURL: openaiEndpoint,
	}
}

// Enabled reports whether audio transcription is turned on.
func (t *Transcriber) Enabled() bool {
	return t.settings.GetBool("audio_transcricao_habilitada", true)
}

// Transcribe sends the audio bytes and returns the recognized text.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	provider := t.settings.GetString("audio_transcricao_provedor", "groq")

	var url, key string
	switch provider {
	case "groq":
		url = t.groqURL
		key = config.ResolveSecret("groq_api_key", t.settings.GetString("groq_api_key", ""))
	case "openai":
		url = t.openaiURL
		key = config.ResolveSecret("openai_api_key", t.settings.GetString("openai_api_key", ""))
	default:
		return "", fmt.Errorf("provedor de transcrição desconhecido: %q", provider)
	}
	if key == "" {
		return "", fmt.Errorf("%w: falta a chave de %s", ErrNotConfigured, provider)
	}

	format := t.settings.GetString("audio_transcricao_formato", "text")
	body, contentType, err := t.buildForm(audio, mimeType, format)
	if err != nil {
		return "", err
	}

	timeout := time.Duration(t.settings.GetInt("audio_transcricao_timeout", 60)) * time.Second
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("erro na API de transcrição: %d - %s",
			resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if format == "text" {
		return strings.TrimSpace(string(raw)), nil
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

func (t *Transcriber) buildForm(audio []byte, mimeType, format string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("file", "audio."+ExtensionForMIME(mimeType))
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"model":           t.settings.GetString("audio_transcricao_modelo", "whisper-large-v3"),
		"response_format": format,
	}
	if lang := t.settings.GetString("audio_transcricao_idioma", "pt"); lang != "" {
		fields["language"] = lang
	}
	if temp := t.settings.GetFloat("audio_transcricao_temperatura", 0); temp > 0 {
		fields["temperature"] = strconv.FormatFloat(temp, 'f', -1, 64)
	}
	if prompt := t.settings.GetString("audio_transcricao_prompt", ""); prompt != "" {
		fields["prompt"] = prompt
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// ExtensionForMIME maps an audio MIME type to a file extension, dropping
// any parameters ("audio/ogg; codecs=opus" is just ogg). WhatsApp voice
// notes arrive as ogg, so that is the fallback.
func ExtensionForMIME(mimeType string) string {
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "audio/ogg", "application/ogg":
		return "ogg"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/webm":
		return "webm"
	case "audio/aac":
		return "aac"
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/amr":
		return "amr"
	default:
		return "ogg"
	}
}
