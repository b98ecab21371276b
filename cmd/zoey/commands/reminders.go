package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zoey/pkg/zoey/copilot"
	"github.com/jholhewres/zoey/pkg/zoey/scheduler"
)

// newRemindersCmd creates `zoey reminders` for inspecting the reminder store.
func newRemindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reminders",
		Aliases: []string{"reminder"},
		Short:   "Manage stored reminders",
		Long: `Inspect and edit the reminder store used by the running bot.

Examples:
  zoey reminders list
  zoey reminders list --destination telegram:12345
  zoey reminders add telegram:12345 "in 2 hours" "call the dentist"
  zoey reminders remove <id>
  zoey reminders dead-letters`,
	}

	cmd.AddCommand(
		newRemindersListCmd(),
		newRemindersAddCmd(),
		newRemindersRemoveCmd(),
		newRemindersDeadLettersCmd(),
	)
	return cmd
}

// withStorage loads config, opens storage and runs fn.
func withStorage(cmd *cobra.Command, fn func(cfg *copilot.Config, st *storage) error) error {
	cfg, err := resolveConfig(cmd, false)
	if err != nil {
		return err
	}
	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}

func newRemindersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reminders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dest, _ := cmd.Flags().GetString("destination")
			return withStorage(cmd, func(cfg *copilot.Config, st *storage) error {
				var (
					list []*scheduler.Reminder
					err  error
				)
				if dest != "" {
					list, err = st.store.ListFor(dest)
				} else {
					list, err = st.store.All()
				}
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("No reminders.")
					return nil
				}

				loc := cfg.Location()
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tDESTINATION\tDUE\tSTATUS\tTASK")
				for _, r := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						r.ID, r.Destination, r.DueAt.In(loc).Format("2006-01-02 15:04"), r.Status, r.Task)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().String("destination", "", "only reminders for this destination (channel:chat_id)")
	return cmd
}

func newRemindersAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <destination> <when> <task>",
		Short: "Schedule a reminder",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(cfg *copilot.Config, st *storage) error {
				due, err := scheduler.ResolveTime(args[1], time.Now().In(cfg.Location()))
				if err != nil {
					return err
				}
				r, err := st.store.Add(args[0], strings.Join(args[2:], " "), due)
				if err != nil {
					return err
				}
				fmt.Printf("Reminder %s scheduled for %s\n", r.ID, r.DueAt.In(cfg.Location()).Format(time.RFC1123))
				return nil
			})
		},
	}
}

func newRemindersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Delete reminders by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(_ *copilot.Config, st *storage) error {
				n, err := st.store.Remove(scheduler.IDSet(args))
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d reminder(s).\n", n)
				return nil
			})
		},
	}
}

func newRemindersDeadLettersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dead-letters",
		Short: "List reminders whose delivery was abandoned",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStorage(cmd, func(cfg *copilot.Config, st *storage) error {
				list, err := st.dead.DeadLetters()
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("No dead letters.")
					return nil
				}

				loc := cfg.Location()
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "REMINDER\tDESTINATION\tFAILED\tERROR\tTASK")
				for _, d := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						d.ReminderID, d.Destination, d.FailedAt.In(loc).Format("2006-01-02 15:04"), d.Error, d.Task)
				}
				return w.Flush()
			})
		},
	}
}
