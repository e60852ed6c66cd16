// Secret storage via the operating system's native keyring
// (Linux: Secret Service/GNOME Keyring, macOS: Keychain, Windows:
// Credential Manager).
//
// Priority for resolving secrets:
//  1. Environment variable (OPENROUTER_API_KEY, GROQ_API_KEY, etc.)
//  2. OS keyring (encrypted by the OS, requires user session)
//  3. Database settings row (plaintext in zapclaw.db)

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "zapclaw"

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(name, value string) error {
	return keyring.Set(keyringService, name, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string when not found.
func GetKeyring(name string) string {
	val, err := keyring.Get(keyringService, name)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(name string) error {
	return keyring.Delete(keyringService, name)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__zapclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecret resolves a secret by priority: environment variable,
// OS keyring, then the stored value handed in by the caller (usually a
// database settings row). The environment variable name is derived from
// the secret name by uppercasing (openrouter_api_key → OPENROUTER_API_KEY).
func ResolveSecret(name, stored string) string {
	if val := os.Getenv(strings.ToUpper(name)); val != "" {
		return val
	}
	if val := GetKeyring(name); val != "" {
		return val
	}
	return stored
}

// ReadPassword prompts for a secret on the terminal without echoing it.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
