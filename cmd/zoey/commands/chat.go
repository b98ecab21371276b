package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zoey/pkg/zoey/channels/console"
	"github.com/jholhewres/zoey/pkg/zoey/copilot"
)

// newChatCmd creates the `zoey chat` command: the same assistant on a
// local terminal.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to Zoey in the terminal",
		Long: `Start an interactive session with Zoey in the terminal. Commands,
flows and reminders work exactly as they do over Telegram; buttons
are printed as numbers you can type.

Examples:
  zoey chat
  zoey chat --user alice`,
		RunE: runChat,
	}

	cmd.Flags().String("user", "", "identity to chat as (default: $USER)")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd, false)
	if err != nil {
		return err
	}

	// Stdout belongs to the conversation; keep logs short and on stderr.
	cfg.Logging.Format = "text"
	if cfg.Logging.Level == "" || cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}
	logger := newLogger(cmd, cfg, os.Stderr)

	copilot.ResolveSecrets(cfg, logger)

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		user = os.Getenv("USER")
	}
	con := console.New(console.Config{
		User:        user,
		Prompt:      "you> ",
		HistoryFile: filepath.Join(filepath.Dir(cfg.Database.Path), "console_history"),
	}, logger)
	if err := rt.manager.Register(con); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := rt.start(ctx); err != nil {
		return err
	}

	fmt.Printf("%s is listening. Type /commands for help, \"exit\" to leave.\n", cfg.Name)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		rt.assistant.Run(ctx, rt.manager.Messages())
	}()

	select {
	case <-con.Done():
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.stop(shutdownCtx)
	<-runDone
	return nil
}
