package commands

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/zoey/pkg/zoey/copilot"
)

// newConfigCmd creates the `zoey config` command for managing configuration.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and stored secrets",
		Long: `Manage Zoey's configuration file and the secrets kept in the OS keyring.

Examples:
  zoey config init
  zoey config show
  zoey config validate
  zoey config set-key telegram_token
  zoey config delete-key api_key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("output")
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := copilot.DefaultConfig()
			cfg.API.APIKey = "${" + copilot.EnvAPIKey + "}"
			cfg.Channels.Telegram.Token = "${" + copilot.EnvBotToken + "}"
			if err := copilot.SaveConfigToFile(cfg, path); err != nil {
				return err
			}
			fmt.Printf("Configuration created in %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", defaultConfigPath, "where to write the config file")
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, false)
			if err != nil {
				return err
			}

			masked := *cfg
			masked.API.APIKey = maskSecret(cfg.API.APIKey)
			masked.Channels.Telegram.Token = maskSecret(cfg.Channels.Telegram.Token)
			masked.Channels.Discord.Token = maskSecret(cfg.Channels.Discord.Token)
			masked.Integrations.SpotifyKey = maskSecret(cfg.Integrations.SpotifyKey)
			masked.Integrations.Pushover.Token = maskSecret(cfg.Integrations.Pushover.Token)
			masked.Gateway.AuthToken = maskSecret(cfg.Gateway.AuthToken)

			data, err := yaml.Marshal(&masked)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report problems",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, false)
			if err != nil {
				return err
			}
			copilot.ResolveSecrets(cfg, newLogger(cmd, cfg, os.Stderr))

			fmt.Println("Configuration is valid.")
			if !hasSecret(cfg.Channels.Telegram.Token) && !hasSecret(cfg.Channels.Discord.Token) {
				fmt.Println("  note: no channel token set; only 'zoey chat' will work")
			}
			if !hasSecret(cfg.API.APIKey) {
				fmt.Println("  note: no API key; free-form answers are disabled")
			}
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-key <name>",
		Short:     "Store a secret in the OS keyring",
		Long:      "Store a secret in the OS keyring. Names: " + strings.Join(copilot.KeyringKeys, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: copilot.KeyringKeys,
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			if !slices.Contains(copilot.KeyringKeys, name) {
				return fmt.Errorf("unknown key %q (valid: %s)", name, strings.Join(copilot.KeyringKeys, ", "))
			}
			if !copilot.KeyringAvailable() {
				return fmt.Errorf("no OS keyring available; use environment variables or a .env file")
			}

			value, err := copilot.ReadPassword(fmt.Sprintf("%s: ", name))
			if err != nil {
				return fmt.Errorf("reading value: %w", err)
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return fmt.Errorf("empty value, nothing stored")
			}
			if err := copilot.StoreKeyring(name, value); err != nil {
				return fmt.Errorf("storing %s: %w", name, err)
			}
			fmt.Printf("Stored %s in the OS keyring.\n", name)
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "delete-key <name>",
		Short:     "Remove a secret from the OS keyring",
		Args:      cobra.ExactArgs(1),
		ValidArgs: copilot.KeyringKeys,
		RunE: func(_ *cobra.Command, args []string) error {
			if err := copilot.DeleteKeyring(args[0]); err != nil {
				return fmt.Errorf("deleting %s: %w", args[0], err)
			}
			fmt.Printf("Deleted %s from the OS keyring.\n", args[0])
			return nil
		},
	}
}

// maskSecret keeps env references and the last four characters.
func maskSecret(s string) string {
	if s == "" || copilot.IsEnvReference(s) {
		return s
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
