package copilot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte("name: Zo\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "Zo" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Scheduler.Storage != "sqlite" || cfg.Scheduler.Interval != 10*time.Second {
		t.Errorf("scheduler defaults = %+v", cfg.Scheduler)
	}
	if cfg.Flows.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.Flows.SessionTTL)
	}
	if cfg.API.Model == "" || cfg.Logging.Level != "info" {
		t.Errorf("defaults = %+v %+v", cfg.API, cfg.Logging)
	}
}

func TestParseConfig_Overrides(t *testing.T) {
	t.Parallel()

	data := `
timezone: America/New_York
admin_id: telegram:1
scheduler:
  storage: file
  file_path: rem.json
  interval: 5s
  delivery_retries: 2
flows:
  session_ttl: 10m
channels:
  telegram:
    allowed_chats: [1, 2]
integrations:
  pushover:
    token: t
    user_key: u
`
	cfg, err := ParseConfig([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Scheduler.Storage != "file" || cfg.Scheduler.Interval != 5*time.Second || cfg.Scheduler.Retries != 2 {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	// Unset inline fields keep their defaults.
	if cfg.Scheduler.DeliveryTimeout != 30*time.Second {
		t.Errorf("DeliveryTimeout = %v", cfg.Scheduler.DeliveryTimeout)
	}
	if cfg.Flows.SessionTTL != 10*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.Flows.SessionTTL)
	}
	if len(cfg.Channels.Telegram.AllowedChats) != 2 || !cfg.Integrations.Pushover.Enabled() {
		t.Errorf("channels/integrations = %+v %+v", cfg.Channels.Telegram, cfg.Integrations)
	}
	if cfg.Location().String() != "America/New_York" {
		t.Errorf("Location = %v", cfg.Location())
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad storage", func(c *Config) { c.Scheduler.Storage = "redis" }, false},
		{"file without path", func(c *Config) { c.Scheduler.Storage = "file"; c.Scheduler.FilePath = "" }, false},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, false},
		{"negative retries", func(c *Config) { c.Scheduler.Retries = -1 }, false},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.modify(cfg)
		if err := cfg.Validate(); (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("ZOEY_TEST_SET", "value")

	tests := []struct {
		in, want string
	}{
		{"a: ${ZOEY_TEST_SET}", "a: value"},
		{"a: $ZOEY_TEST_SET", "a: value"},
		{"a: ${ZOEY_TEST_UNSET}", "a: ${ZOEY_TEST_UNSET}"},
		{"a: ${ZOEY_TEST_UNSET:-fallback}", "a: fallback"},
		{"a: ${ZOEY_TEST_SET:-fallback}", "a: value"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	_, err := expandEnvVarsWithValidation("token: ${ZOEY_TEST_UNSET:?bot token required}\nname: x\n")
	if err == nil || !strings.Contains(err.Error(), "ZOEY_TEST_UNSET - bot token required") {
		t.Errorf("validation error = %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvBotToken, "123:from-env")
	t.Setenv(EnvAPIKey, "")

	path := filepath.Join(dir, "config.yaml")
	data := "channels:\n  telegram:\n    token: ${ZOEY_BOT_TOKEN}\ndatabase:\n  path: data/z.db\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channels.Telegram.Token != "123:from-env" {
		t.Errorf("token = %q", cfg.Channels.Telegram.Token)
	}
	if cfg.Database.Path != filepath.Join(dir, "data/z.db") {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if !filepath.IsAbs(cfg.Scheduler.FilePath) {
		t.Errorf("file path not resolved: %q", cfg.Scheduler.FilePath)
	}

	// Saving writes the env-backed secret back as a reference.
	out := filepath.Join(dir, "saved", "config.yaml")
	if err := SaveConfigToFile(cfg, out); err != nil {
		t.Fatal(err)
	}
	saved, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(saved), "from-env") || !strings.Contains(string(saved), "${ZOEY_BOT_TOKEN}") {
		t.Errorf("saved config leaks secret:\n%s", saved)
	}
	if info, _ := os.Stat(out); info.Mode().Perm() != 0o600 {
		t.Errorf("saved mode = %v", info.Mode().Perm())
	}
}

func TestResolvePathFromConfig(t *testing.T) {
	t.Parallel()

	home, _ := os.UserHomeDir()
	tests := []struct {
		path, dir, want string
	}{
		{"", "/etc/zoey", ""},
		{"/abs/z.db", "/etc/zoey", "/abs/z.db"},
		{"data/z.db", "/etc/zoey", "/etc/zoey/data/z.db"},
		{"~/z.db", "/etc/zoey", filepath.Join(home, "z.db")},
	}
	for _, tt := range tests {
		if got := resolvePathFromConfig(tt.path, tt.dir); got != tt.want {
			t.Errorf("resolvePathFromConfig(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestLooksLikeRealKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"${OPENAI_API_KEY}", false},
		{"sk-abc", true},
		{"123456:ABCdefGhIJKlmNoPQRsTUVwxyZ1234567", true},
		{"short", false},
	}
	for _, tt := range tests {
		if got := looksLikeRealKey(tt.in); got != tt.want {
			t.Errorf("looksLikeRealKey(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
