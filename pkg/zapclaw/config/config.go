// Package config defines the infrastructure configuration for zapclaw.
// Runtime/domain settings (LLM routing, transcription, agent behavior) live
// in the database settings store; this package covers only what the process
// needs before the database is open: logging, file locations, the admin API
// listener and the background sweep schedules.
package config

// Config holds all infrastructure configuration.
type Config struct {
	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// Database configures the central SQLite database.
	Database DatabaseConfig `yaml:"database"`

	// Sessions configures per-session WhatsApp device storage.
	Sessions SessionsConfig `yaml:"sessions"`

	// WebUI configures the admin HTTP API.
	WebUI WebUIConfig `yaml:"webui"`

	// Scheduler configures the background sweeps.
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format is the handler format: "text" or "json".
	Format string `yaml:"format"`
}

// DatabaseConfig configures the application database.
type DatabaseConfig struct {
	// Path is the SQLite database file (default: "zapclaw.db").
	Path string `yaml:"path"`
}

// SessionsConfig configures messaging-session storage.
type SessionsConfig struct {
	// Dir is the directory holding per-session device stores
	// (sessao_<id>.db files created by the WhatsApp pairing flow).
	Dir string `yaml:"dir"`
}

// WebUIConfig configures the admin HTTP API.
type WebUIConfig struct {
	// Enabled turns the admin API on/off.
	Enabled bool `yaml:"enabled"`

	// Address is the listen address (default: ":8091").
	Address string `yaml:"address"`
}

// SchedulerConfig configures background sweep schedules.
// Schedules accept standard 5-field cron expressions and the
// @every/@daily/@hourly descriptors.
type SchedulerConfig struct {
	// ProviderSweep re-tests connectivity of active LLM providers
	// and refreshes their model caches (default: "@every 30m").
	ProviderSweep string `yaml:"provider_sweep"`

	// QRSweep clears expired pairing QR codes (default: "@every 1m").
	QRSweep string `yaml:"qr_sweep"`

	// UploadCleanup removes old media files from the uploads directory
	// (default: "@daily").
	UploadCleanup string `yaml:"upload_cleanup"`

	// UploadRetentionDays is how long media files are kept.
	// Zero disables the cleanup sweep.
	UploadRetentionDays int `yaml:"upload_retention_days"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Database: DatabaseConfig{
			Path: "zapclaw.db",
		},
		Sessions: SessionsConfig{
			Dir: "sessoes",
		},
		WebUI: WebUIConfig{
			Enabled: true,
			Address: ":8091",
		},
		Scheduler: SchedulerConfig{
			ProviderSweep:       "@every 30m",
			QRSweep:             "@every 1m",
			UploadCleanup:       "@daily",
			UploadRetentionDays: 30,
		},
	}
}
