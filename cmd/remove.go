package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/provmap/internal/provider"
	"github.com/zjrosen/provmap/internal/providermap"
)

var removeClass string

var removeCmd = &cobra.Command{
	Use:   "remove [authority]",
	Short: "Remove an authority mapping, or a dead provider by class",
	Long: `Remove the mapping of one authority, or with --class everything a provider
published: its class entry and the authorities still bound to it.

A global mapping is removed in preference to the user's own, matching what
lookup would resolve. Removing something that is not published does nothing.

Examples:
  provmap remove contacts
  provmap remove --class com.example.media/.MediaProvider --user 1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)

	removeCmd.Flags().StringVar(&removeClass, "class", "", "remove the provider published under this class")
}

func runRemove(cmd *cobra.Command, args []string) error {
	var (
		rec   *provider.Record
		found bool
		err   error
		what  string
	)
	switch {
	case removeClass != "" && len(args) == 0:
		cls, parseErr := providermap.ParseClassID(removeClass)
		if parseErr != nil {
			return parseErr
		}
		what = "class " + cls.ShortString()
		rec, found, err = mgr.Unpublish(cmd.Context(), cls, user())
	case removeClass == "" && len(args) == 1:
		what = fmt.Sprintf("authority %q", args[0])
		rec, found, err = mgr.RemoveAuthority(cmd.Context(), args[0], user())
	default:
		return errors.New("give exactly one of an authority or --class")
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !found {
		_, err = fmt.Fprintf(out, "nothing published for %s\n", what)
		return err
	}
	_, err = fmt.Fprintf(out, "removed %s\n", rec)
	return err
}
