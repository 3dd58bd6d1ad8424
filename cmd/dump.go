package cmd

import (
	"github.com/spf13/cobra"
)

var dumpAll bool

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the published providers",
	Long: `Print the published providers by class, global ones first and then per
user. With --all each provider is printed in full, followed by the authority
to provider mappings.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return mgr.Dump(cmd.Context(), cmd.OutOrStdout(), dumpAll)
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().BoolVarP(&dumpAll, "all", "a", false, "include details and authority mappings")
}
