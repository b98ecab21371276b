package commands

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/zoey/pkg/zoey/channels/discord"
	"github.com/jholhewres/zoey/pkg/zoey/channels/telegram"
	"github.com/jholhewres/zoey/pkg/zoey/copilot"
	"github.com/jholhewres/zoey/pkg/zoey/gateway"
)

// newServeCmd creates the `zoey serve` command that starts the daemon.
func newServeCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bot on the configured channels",
		Long: `Start Zoey as a daemon, connecting to the enabled channels
(Telegram, Discord), delivering due reminders and serving the
health and metrics endpoints.

Examples:
  zoey serve
  zoey serve --channel telegram
  zoey serve --config ./config.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, version)
		},
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (telegram, discord)")
	return cmd
}

func runServe(cmd *cobra.Command, version string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd, true)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg, os.Stdout)
	slog.SetDefault(logger)

	// ── Resolve secrets ──
	// Audit before resolving so the raw config values are checked.
	copilot.AuditSecrets(cfg, logger)
	copilot.ResolveSecrets(cfg, logger)

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}

	// ── Register channels ──
	channelFilter, _ := cmd.Flags().GetStringSlice("channel")

	if hasSecret(cfg.Channels.Telegram.Token) && shouldEnable("telegram", channelFilter, true) {
		if err := rt.manager.Register(telegram.New(cfg.Channels.Telegram, logger)); err != nil {
			logger.Error("failed to register Telegram", "error", err)
		}
	}
	if hasSecret(cfg.Channels.Discord.Token) && shouldEnable("discord", channelFilter, true) {
		if err := rt.manager.Register(discord.New(cfg.Channels.Discord, logger)); err != nil {
			logger.Error("failed to register Discord", "error", err)
		}
	}
	if !rt.manager.HasChannels() {
		rt.close()
		return fmt.Errorf("no channel configured: set %s or %s (or run 'zoey chat')",
			copilot.EnvBotToken, copilot.EnvDiscordToken)
	}

	// ── Start ──
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.start(ctx); err != nil {
		rt.close()
		return fmt.Errorf("failed to start: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.assistant.Run(gctx, rt.manager.Messages())
		return nil
	})
	if cfg.Gateway.Enabled {
		gw := gateway.New(cfg.Gateway, rt.manager, rt.registry, rt.stats, version, logger)
		g.Go(func() error { return gw.Start(gctx) })
	}

	logger.Info("Zoey running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"timezone", cfg.Location().String(),
		"storage", cfg.Scheduler.Storage,
	)

	// ── Wait for shutdown ──
	<-gctx.Done()
	logger.Info("shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.stop(shutdownCtx)
	defer rt.close()

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// resolveConfig loads config from --config or the usual locations. Without
// a file it offers the setup wizard when offerSetup is set, and otherwise
// falls back to defaults.
func resolveConfig(cmd *cobra.Command, offerSetup bool) (*copilot.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	// Try explicit path first.
	if configPath != "" {
		cfg, err := copilot.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := copilot.FindConfigFile(); found != "" {
		cfg, err := copilot.LoadConfigFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Debug("config loaded", "path", found)
		return cfg, nil
	}

	if !offerSetup {
		cfg := copilot.DefaultConfig()
		return cfg, cfg.Validate()
	}

	// No config file: offer interactive setup before connecting.
	fmt.Println()
	fmt.Println("No configuration file found.")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Run interactive setup now? (y/n) [y]: ")
	answer := strings.TrimSpace(readInput(reader))

	if answer != "" && strings.ToLower(answer) != "y" {
		fmt.Println()
		fmt.Println("Run 'zoey setup' to create the configuration.")
		return nil, fmt.Errorf("configuration required before starting")
	}

	path, err := runInteractiveSetup(defaultConfigPath)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	cfg, err := copilot.LoadConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	return cfg, nil
}

// readInput reads a line from stdin.
func readInput(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return line
}

// shouldEnable checks if a channel should be enabled.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}
