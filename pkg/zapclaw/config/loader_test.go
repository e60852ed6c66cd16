package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("ZAPCLAW_TEST_SET", "valor")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple set", "key: ${ZAPCLAW_TEST_SET}", "key: valor"},
		{"simple unset keeps placeholder", "key: ${ZAPCLAW_TEST_UNSET}", "key: ${ZAPCLAW_TEST_UNSET}"},
		{"default used when unset", "key: ${ZAPCLAW_TEST_UNSET:-padrao}", "key: padrao"},
		{"default ignored when set", "key: ${ZAPCLAW_TEST_SET:-padrao}", "key: valor"},
		{"bare var set", "key: $ZAPCLAW_TEST_SET", "key: valor"},
		{"bare var unset keeps placeholder", "key: $ZAPCLAW_TEST_UNSET", "key: $ZAPCLAW_TEST_UNSET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestExpandEnvVarsWithValidation(t *testing.T) {
	t.Run("required unset returns error", func(t *testing.T) {
		_, err := expandEnvVarsWithValidation("key: ${ZAPCLAW_TEST_UNSET:?variável obrigatória}")
		if err == nil {
			t.Fatal("expected error for unset required variable")
		}
		if !strings.Contains(err.Error(), "ZAPCLAW_TEST_UNSET") {
			t.Errorf("error should name the variable, got %v", err)
		}
	})

	t.Run("required set passes", func(t *testing.T) {
		t.Setenv("ZAPCLAW_TEST_REQ", "ok")
		out, err := expandEnvVarsWithValidation("key: ${ZAPCLAW_TEST_REQ:?obrigatória}")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "key: ok" {
			t.Errorf("expected expansion, got %q", out)
		}
	})
}

func TestParse(t *testing.T) {
	t.Run("empty input keeps defaults", func(t *testing.T) {
		cfg, err := Parse(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Database.Path != "zapclaw.db" {
			t.Errorf("expected default database path, got %q", cfg.Database.Path)
		}
		if cfg.WebUI.Address != ":8091" {
			t.Errorf("expected default webui address, got %q", cfg.WebUI.Address)
		}
		if cfg.Scheduler.QRSweep != "@every 1m" {
			t.Errorf("expected default qr sweep, got %q", cfg.Scheduler.QRSweep)
		}
	})

	t.Run("overlays yaml values", func(t *testing.T) {
		cfg, err := Parse([]byte("database:\n  path: outro.db\nlogging:\n  level: debug\n"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Database.Path != "outro.db" {
			t.Errorf("expected overridden path, got %q", cfg.Database.Path)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected debug level, got %q", cfg.Logging.Level)
		}
		if cfg.Sessions.Dir != "sessoes" {
			t.Errorf("untouched fields should keep defaults, got %q", cfg.Sessions.Dir)
		}
	})
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  path: data.db\nsessions:\n  dir: minhas_sessoes\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("relative paths resolve against config dir", func(t *testing.T) {
		want := filepath.Join(dir, "data.db")
		if cfg.Database.Path != want {
			t.Errorf("expected %q, got %q", want, cfg.Database.Path)
		}
		wantDir := filepath.Join(dir, "minhas_sessoes")
		if cfg.Sessions.Dir != wantDir {
			t.Errorf("expected %q, got %q", wantDir, cfg.Sessions.Dir)
		}
	})
}

func TestSaveToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.WebUI.Address = ":9000"
	if err := SaveToFile(cfg, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.WebUI.Address != ":9000" {
		t.Errorf("expected persisted address, got %q", loaded.WebUI.Address)
	}

	t.Run("backup created on overwrite", func(t *testing.T) {
		if err := SaveToFile(cfg, path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(path + ".bak"); err != nil {
			t.Errorf("expected backup file: %v", err)
		}
	})
}
