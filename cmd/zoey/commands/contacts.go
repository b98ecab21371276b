package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zoey/pkg/zoey/copilot"
)

// newContactsCmd creates `zoey contacts` for editing a user's contact book.
// Owners are user keys such as "telegram:12345".
func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contacts",
		Aliases: []string{"contact"},
		Short:   "Manage users' contact books",
		Long: `Inspect and edit contact books. The owner is the user key shown by
/start, for example telegram:12345.

Examples:
  zoey contacts list telegram:12345
  zoey contacts add telegram:12345 Mom telegram:67890
  zoey contacts remove telegram:12345 Mom`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <owner>",
			Short: "List an owner's contacts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStorage(cmd, func(_ *copilot.Config, st *storage) error {
					list, err := st.contacts.List(args[0])
					if err != nil {
						return err
					}
					if len(list) == 0 {
						fmt.Println("No contacts.")
						return nil
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "NAME\tDESTINATION")
					for _, c := range list {
						fmt.Fprintf(w, "%s\t%s\n", c.Name, c.Destination)
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "add <owner> <name> <destination>",
			Short: "Add or replace a contact",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStorage(cmd, func(_ *copilot.Config, st *storage) error {
					c, err := st.contacts.Add(args[0], args[1], args[2])
					if err != nil {
						return err
					}
					fmt.Printf("Saved %s (%s).\n", c.Name, c.Destination)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove <owner> <name>",
			Short: "Delete a contact by exact name",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStorage(cmd, func(_ *copilot.Config, st *storage) error {
					if err := st.contacts.Remove(args[0], args[1]); err != nil {
						return err
					}
					fmt.Printf("Deleted %s.\n", args[1])
					return nil
				})
			},
		},
	)
	return cmd
}
