package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/provmap/internal/providermap"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <package>",
	Short: "Remove every provider of a package",
	Long: `Remove every class and authority binding owned by a package.

Without --user the package is removed for all users and from the global
tables. With --user only that user's tables are touched, even where a global
provider shadows them.`,
	Args: cobra.ExactArgs(1),
	RunE: runUninstall,
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	var users []providermap.UserID
	if cmd.Flags().Changed("user") {
		u := user()
		if u < 0 {
			u = providermap.UserID(cfg.Caller.User)
		}
		users = append(users, u)
	}

	removed, err := mgr.RemovePackage(cmd.Context(), args[0], users...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(removed) == 0 {
		_, err = fmt.Fprintf(out, "no providers published by %s\n", args[0])
		return err
	}
	for _, rec := range removed {
		if _, err := fmt.Fprintf(out, "removed %s\n", rec); err != nil {
			return err
		}
	}
	return nil
}
