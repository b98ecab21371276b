// Package copilot – loader.go handles loading configuration from YAML files
// with secure credential management via environment variables and .env files.
package copilot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable patterns in config values:
//   - ${VAR}           - use VAR value, keep placeholder if unset
//   - ${VAR:-default}  - use VAR value, or default if unset
//   - ${VAR:?error}    - use VAR value, or fail loading if unset
//   - $VAR             - use VAR value, keep placeholder if unset
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Environment variables consulted for secrets.
const (
	EnvBotToken     = "ZOEY_BOT_TOKEN"
	EnvDiscordToken = "ZOEY_DISCORD_TOKEN"
	EnvAPIKey       = "OPENAI_API_KEY"
	EnvSpotifyKey   = "SPOTIFY_KEY"
	EnvPushover     = "PUSHOVER_TOKEN"
	EnvPushoverUser = "PUSHOVER_USER_KEY"
)

// LoadConfigFromFile reads and parses a YAML configuration file.
// Automatically loads .env files and expands environment variables.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, err
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig parses YAML bytes into a Config.
// Starts with defaults and overlays values from the YAML.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes a Config as YAML to the specified path.
// Secrets that came from the environment are written back as references.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.API.APIKey = sanitizeSecret(cfg.API.APIKey, EnvAPIKey)
	sanitized.Channels.Telegram.Token = sanitizeSecret(cfg.Channels.Telegram.Token, EnvBotToken)
	sanitized.Channels.Discord.Token = sanitizeSecret(cfg.Channels.Discord.Token, EnvDiscordToken)
	sanitized.Integrations.SpotifyKey = sanitizeSecret(cfg.Integrations.SpotifyKey, EnvSpotifyKey)
	sanitized.Integrations.Pushover.Token = sanitizeSecret(cfg.Integrations.Pushover.Token, EnvPushover)

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"zoey.yaml",
		"zoey.yml",
		"configs/config.yaml",
		"configs/zoey.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// AuditSecrets checks for hardcoded secrets and logs warnings.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	checks := []struct {
		value, env, field string
	}{
		{cfg.API.APIKey, EnvAPIKey, "api.api_key"},
		{cfg.Channels.Telegram.Token, EnvBotToken, "channels.telegram.token"},
		{cfg.Channels.Discord.Token, EnvDiscordToken, "channels.discord.token"},
	}
	for _, c := range checks {
		if c.value == "" || IsEnvReference(c.value) || os.Getenv(c.env) == c.value {
			continue
		}
		if looksLikeRealKey(c.value) {
			logger.Warn("secret appears to be hardcoded in config",
				"field", c.field,
				"hint", fmt.Sprintf("set '%s: ${%s}' or use zoey config set-key", c.field, c.env))
		}
	}
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from the working directory and the config
// directory. Existing environment variables are never overwritten.
func loadEnvFiles(configDir string) {
	envFiles := []string{".env", ".env.local"}
	if configDir != "" && configDir != "." {
		envFiles = append(envFiles,
			filepath.Join(configDir, ".env"),
			filepath.Join(configDir, ".env.local"))
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces variable references with their values. An unset
// ${VAR:?msg} becomes an "ERROR:VAR:msg" marker for the validating caller.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Groups: 1=name, 2=modifier (- or ?), 3=modifier value, 4=bare name.
		sub := envVarPattern.FindStringSubmatch(match)
		varName, modifier, modValue, bareVar := sub[1], sub[2], sub[3], sub[4]

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		switch modifier {
		case "?":
			if modValue == "" {
				modValue = "required environment variable not set"
			}
			return "ERROR:" + varName + ":" + modValue
		case "-":
			return modValue
		}
		return match
	})
}

// expandEnvVarsWithValidation is like expandEnvVars but fails when a
// ${VAR:?error} variable is unset.
func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	idx := strings.Index(result, "ERROR:")
	if idx < 0 {
		return result, nil
	}
	rest := result[idx+len("ERROR:"):]
	varName, msg, ok := strings.Cut(rest, ":")
	if !ok {
		return "", fmt.Errorf("config error: malformed error marker")
	}
	if nl := strings.IndexByte(msg, '\n'); nl >= 0 {
		msg = msg[:nl]
	}
	return "", fmt.Errorf("config error: %s - %s", varName, strings.TrimSpace(msg))
}

// resolveSecrets fills in config secrets from environment variables
// when the config value is empty or a placeholder.
func resolveSecrets(cfg *Config) {
	fill := func(dst *string, envs ...string) {
		if *dst != "" && !IsEnvReference(*dst) {
			return
		}
		for _, env := range envs {
			if v := os.Getenv(env); v != "" {
				*dst = v
				return
			}
		}
	}
	fill(&cfg.API.APIKey, EnvAPIKey)
	fill(&cfg.Channels.Telegram.Token, EnvBotToken)
	fill(&cfg.Channels.Discord.Token, EnvDiscordToken)
	fill(&cfg.Integrations.SpotifyKey, EnvSpotifyKey)
	fill(&cfg.Integrations.Pushover.Token, EnvPushover)
	fill(&cfg.Integrations.Pushover.UserKey, EnvPushoverUser)
}

// resolveRelativePaths makes data paths absolute against the config file's
// directory so zoey behaves the same from any working directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	configDir := filepath.Dir(configPath)
	cfg.Database.Path = resolvePathFromConfig(cfg.Database.Path, configDir)
	cfg.Scheduler.FilePath = resolvePathFromConfig(cfg.Scheduler.FilePath, configDir)
}

// resolvePathFromConfig converts a path to absolute, resolving relative paths
// against configDir. Expands ~ to the home directory.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// sanitizeSecret replaces a secret with an env var reference when the
// environment already holds the same value.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	if os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}

// looksLikeRealKey heuristically checks if a string looks like a real key.
func looksLikeRealKey(s string) bool {
	if IsEnvReference(s) {
		return false
	}
	if strings.HasPrefix(s, "sk-") {
		return true
	}
	// Telegram bot tokens are "<digits>:<secret>".
	if id, secret, ok := strings.Cut(s, ":"); ok && id != "" && len(secret) >= 30 {
		return true
	}
	return len(s) > 20
}

// checkFilePermissions warns if the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
