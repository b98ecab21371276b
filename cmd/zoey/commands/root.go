// Package commands implements the Zoey CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zoey",
		Short: "Zoey - reminders, contacts and relays over chat",
		Long: `Zoey is a personal assistant bot. It schedules reminders, keeps a
contact book, relays messages and answers questions over Telegram,
Discord or a local console.

Examples:
  zoey serve
  zoey chat
  zoey reminders list
  zoey config set-key api_key`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(version),
		newChatCmd(),
		newRemindersCmd(),
		newContactsCmd(),
		newSetupCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
