// Package copilot – keyring.go provides secure credential storage using the
// operating system's native keyring (Linux: Secret Service/GNOME Keyring,
// macOS: Keychain, Windows: Credential Manager).
//
// Priority for resolving secrets:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (ZOEY_BOT_TOKEN, OPENAI_API_KEY, ...)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value (plaintext on disk)
package copilot

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "zoey"

	// Keyring entries.
	KeyringAPIKey     = "api_key"
	KeyringBotToken   = "telegram_token"
	KeyringDiscord    = "discord_token"
	KeyringSpotifyKey = "spotify_key"
	KeyringPushover   = "pushover_token"
)

// KeyringKeys lists the entries `zoey config set-key` accepts.
var KeyringKeys = []string{KeyringAPIKey, KeyringBotToken, KeyringDiscord, KeyringSpotifyKey, KeyringPushover}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__zoey_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecrets overlays keyring entries onto cfg. Keyring values win over
// env and config values.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	targets := map[string]*string{
		KeyringAPIKey:     &cfg.API.APIKey,
		KeyringBotToken:   &cfg.Channels.Telegram.Token,
		KeyringDiscord:    &cfg.Channels.Discord.Token,
		KeyringSpotifyKey: &cfg.Integrations.SpotifyKey,
		KeyringPushover:   &cfg.Integrations.Pushover.Token,
	}
	for key, dst := range targets {
		if val := GetKeyring(key); val != "" {
			*dst = val
			logger.Debug("secret loaded from OS keyring", "key", key)
		}
	}

	if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		logger.Warn("no API key found, free-form replies are disabled. Set one with: zoey config set-key api_key")
	}
}

// MigrateKeyToKeyring stores a secret in the OS keyring.
func MigrateKeyToKeyring(key, value string, logger *slog.Logger) error {
	if err := StoreKeyring(key, value); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("secret stored in OS keyring",
		"service", keyringService,
		"key", key,
		"hint", "You can now remove it from .env and config.yaml")
	return nil
}

// ReadPassword reads hidden input from the terminal, falling back to a
// plain line read for piped input.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
