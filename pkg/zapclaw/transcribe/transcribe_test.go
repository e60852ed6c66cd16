package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/store"
)

func newTestTranscriber(t *testing.T) (*Transcriber, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	return New(st.Settings, slog.Default()), st
}

func TestExtensionForMIME(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"audio/ogg; codecs=opus", "ogg"},
		{"audio/ogg", "ogg"},
		{"audio/mpeg", "mp3"},
		{"audio/mp4", "m4a"},
		{"audio/wav", "wav"},
		{"AUDIO/WEBM", "webm"},
		{"video/mp4", "ogg"},
		{"", "ogg"},
	}
	for _, tt := range tests {
		if got := ExtensionForMIME(tt.mime); got != tt.want {
			t.Errorf("ExtensionForMIME(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestTranscribe(t *testing.T) {
	var (
		gotAuth     string
		gotModel    string
		gotLanguage string
		gotFilename string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotFilename = hdr.Filename
		io.Copy(io.Discard, f)
		io.WriteString(w, "  olá, bom dia \n")
	}))
	defer srv.Close()

	tr, st := newTestTranscriber(t)
	tr.groqURL = srv.URL
	if err := st.Settings.Set("groq_api_key", "gsk-teste"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	text, err := tr.Transcribe(context.Background(), []byte("OggS..."), "audio/ogg; codecs=opus")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "olá, bom dia" {
		t.Errorf("Transcribe() = %q, want trimmed text", text)
	}
	if gotAuth != "Bearer gsk-teste" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotModel != "whisper-large-v3" || gotLanguage != "pt" {
		t.Errorf("form = model:%q language:%q", gotModel, gotLanguage)
	}
	if gotFilename != "audio.ogg" {
		t.Errorf("filename = %q, want audio.ogg (params stripped)", gotFilename)
	}
}

func TestTranscribeJSONFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"transcrição em json"}`)
	}))
	defer srv.Close()

	tr, st := newTestTranscriber(t)
	tr.openaiURL = srv.URL
	if err := st.Settings.Set("audio_transcricao_provedor", "openai"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := st.Settings.Set("audio_transcricao_formato", "json"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := st.Settings.Set("openai_api_key", "sk-teste"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	text, err := tr.Transcribe(context.Background(), []byte("..."), "audio/mpeg")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "transcrição em json" {
		t.Errorf("Transcribe() = %q", text)
	}
}

func TestTranscribeErrors(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		tr, _ := newTestTranscriber(t)
		_, err := tr.Transcribe(context.Background(), []byte("..."), "audio/ogg")
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("Transcribe() error = %v, want ErrNotConfigured", err)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		tr, st := newTestTranscriber(t)
		if err := st.Settings.Set("audio_transcricao_provedor", "assemblyai"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		_, err := tr.Transcribe(context.Background(), []byte("..."), "audio/ogg")
		if err == nil || !strings.Contains(err.Error(), "desconhecido") {
			t.Errorf("Transcribe() error = %v, want unknown provider", err)
		}
	})

	t.Run("api failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		tr, st := newTestTranscriber(t)
		tr.groqURL = srv.URL
		if err := st.Settings.Set("groq_api_key", "gsk-teste"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		_, err := tr.Transcribe(context.Background(), []byte("..."), "audio/ogg")
		if err == nil || !strings.Contains(err.Error(), "429") {
			t.Errorf("Transcribe() error = %v, want the 429 surfaced", err)
		}
	})
}
