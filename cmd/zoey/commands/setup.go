package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jholhewres/zoey/pkg/zoey/copilot"
	"github.com/jholhewres/zoey/pkg/zoey/integrations/search"
)

const defaultConfigPath = "config.yaml"

// newSetupCmd creates the `zoey setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your config.yaml.
Asks for the assistant name, timezone, admin, model and tokens.
Tokens go to the OS keyring when one is available, otherwise to a
.env file next to the config. They are never written to config.yaml.

Examples:
  zoey setup
  zoey setup --output ./configs/zoey.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("output")
			_, err := runInteractiveSetup(out)
			return err
		},
	}
	cmd.Flags().StringP("output", "o", defaultConfigPath, "where to write the config file")
	return cmd
}

// setupAnswers holds the wizard fields.
type setupAnswers struct {
	name, timezone, adminID string
	model, baseURL, storage string
	apiKey, telegram        string
	discord, spotify        string
	gateway                 bool
}

// secretTarget maps a wizard secret to its keyring entry and env variable.
type secretTarget struct {
	value   string
	keyring string
	env     string
	field   *string
}

// runInteractiveSetup asks for the essentials, writes the config to path
// and stores the secrets. It returns the config path.
func runInteractiveSetup(path string) (string, error) {
	if path == "" {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		overwrite := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite it?", path)).
			Value(&overwrite).
			Run()
		if err != nil {
			return "", err
		}
		if !overwrite {
			return "", fmt.Errorf("setup aborted: %s left unchanged", path)
		}
	}

	cfg := copilot.DefaultConfig()
	ans := setupAnswers{
		name:     cfg.Name,
		timezone: localZone(),
		model:    cfg.API.Model,
		storage:  cfg.Scheduler.Storage,
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant name").
				Value(&ans.name),
			huh.NewInput().
				Title("Timezone").
				Description("IANA name used to read times like \"at 5pm\".").
				Value(&ans.timezone).
				Validate(func(s string) error {
					_, err := time.LoadLocation(strings.TrimSpace(s))
					return err
				}),
			huh.NewInput().
				Title("Admin user").
				Description("User key allowed to /broadcast, e.g. telegram:12345. /start shows yours.").
				Value(&ans.adminID),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model").
				Options(
					huh.NewOption("gpt-4o-mini (fast and cheap)", "gpt-4o-mini"),
					huh.NewOption("gpt-4o (great all-around)", "gpt-4o"),
					huh.NewOption("gpt-4.1-mini", "gpt-4.1-mini"),
				).
				Value(&ans.model),
			huh.NewInput().
				Title("API base URL").
				Description("Leave empty for api.openai.com, or any OpenAI-compatible endpoint.").
				Value(&ans.baseURL),
			huh.NewInput().
				Title("API key").
				Description("Optional. Without it Zoey still runs commands and flows.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.apiKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather. Leave empty to skip Telegram.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.telegram),
			huh.NewInput().
				Title("Discord bot token").
				Description("Leave empty to skip Discord.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.discord),
			huh.NewInput().
				Title("Spotify key").
				Description("client_id:client_secret, enables music search.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.spotify).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					_, err := search.ParseSpotifyKey(s)
					return err
				}),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Reminder storage").
				Options(
					huh.NewOption("SQLite (recommended)", "sqlite"),
					huh.NewOption("JSON file", "file"),
				).
				Value(&ans.storage),
			huh.NewConfirm().
				Title("Serve /health and /metrics on 127.0.0.1:8085?").
				Value(&ans.gateway),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", fmt.Errorf("setup cancelled")
		}
		return "", err
	}

	cfg.Name = strings.TrimSpace(ans.name)
	cfg.Timezone = strings.TrimSpace(ans.timezone)
	cfg.AdminID = strings.TrimSpace(ans.adminID)
	cfg.API.Model = ans.model
	cfg.API.BaseURL = strings.TrimSpace(ans.baseURL)
	cfg.Scheduler.Storage = ans.storage
	cfg.Gateway.Enabled = ans.gateway

	secrets := []secretTarget{
		{ans.apiKey, copilot.KeyringAPIKey, copilot.EnvAPIKey, &cfg.API.APIKey},
		{ans.telegram, copilot.KeyringBotToken, copilot.EnvBotToken, &cfg.Channels.Telegram.Token},
		{ans.discord, copilot.KeyringDiscord, copilot.EnvDiscordToken, &cfg.Channels.Discord.Token},
		{ans.spotify, copilot.KeyringSpotifyKey, copilot.EnvSpotifyKey, &cfg.Integrations.SpotifyKey},
	}
	if err := storeSecrets(secrets, filepath.Dir(path)); err != nil {
		return "", err
	}

	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if err := copilot.SaveConfigToFile(cfg, path); err != nil {
		return "", err
	}

	fmt.Println()
	fmt.Printf("Config written to %s\n", path)
	fmt.Println("Start the bot with: zoey serve")
	return path, nil
}

// storeSecrets puts each secret in the keyring, or in dir/.env when no
// keyring is available. The config field becomes an env reference in the
// second case and stays empty in the first.
func storeSecrets(secrets []secretTarget, dir string) error {
	useKeyring := copilot.KeyringAvailable()
	envPath := filepath.Join(dir, ".env")
	var env map[string]string

	for _, s := range secrets {
		value := strings.TrimSpace(s.value)
		if value == "" {
			continue
		}
		if useKeyring {
			if err := copilot.StoreKeyring(s.keyring, value); err == nil {
				fmt.Printf("  stored %s in the OS keyring\n", s.keyring)
				*s.field = ""
				continue
			}
		}
		if env == nil {
			existing, err := godotenv.Read(envPath)
			if err != nil {
				existing = make(map[string]string)
			}
			env = existing
		}
		env[s.env] = value
		*s.field = "${" + s.env + "}"
	}

	if env == nil {
		return nil
	}
	if err := godotenv.Write(env, envPath); err != nil {
		return fmt.Errorf("writing %s: %w", envPath, err)
	}
	if err := os.Chmod(envPath, 0o600); err != nil {
		return fmt.Errorf("restricting %s: %w", envPath, err)
	}
	fmt.Printf("  stored secrets in %s\n", envPath)
	return nil
}

// localZone guesses the IANA name of the local timezone.
func localZone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	return "UTC"
}
