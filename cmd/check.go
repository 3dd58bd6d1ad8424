package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report bindings whose authority and class indices disagree",
	Long: `Walk the class and authority indices and report every binding that the
other index does not agree with, such as a class whose authority was removed
on its own. Exits non-zero when anything is reported.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	problems := mgr.Check()
	if len(problems) == 0 {
		_, err := fmt.Fprintln(out, "indices agree")
		return err
	}
	for _, p := range problems {
		if _, err := fmt.Fprintf(out, "  * %s\n", p); err != nil {
			return err
		}
	}
	return fmt.Errorf("%d divergent binding(s)", len(problems))
}
