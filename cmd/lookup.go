package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/provmap/internal/infrastructure/sqlite"
	"github.com/zjrosen/provmap/internal/provider"
	"github.com/zjrosen/provmap/internal/providermap"
)

var errNotFound = errors.New("no provider found")

var (
	lookupClass string
	lookupID    string
)

var lookupCmd = &cobra.Command{
	Use:   "lookup [authority]",
	Short: "Resolve an authority or class to its provider",
	Long: `Resolve an authority, or with --class a provider class, for a user.

Global providers win over the user's own. Exits non-zero when nothing is
published.

With --id the record is read straight from the database by its ID, which
also finds records that are stored but shadowed in the map.

Examples:
  provmap lookup contacts --user 0
  provmap lookup --class com.example.photos/.PhotosProvider
  provmap lookup --id 3f0c9a2e-6b1d-4c55-9d0e-1f2a3b4c5d6e`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLookup,
}

func init() {
	rootCmd.AddCommand(lookupCmd)

	lookupCmd.Flags().StringVar(&lookupClass, "class", "", "look up by provider class instead of authority")
	lookupCmd.Flags().StringVar(&lookupID, "id", "", "read the stored record with this ID")
}

func runLookup(cmd *cobra.Command, args []string) error {
	var (
		rec   *provider.Record
		found bool
		what  string
	)
	switch {
	case lookupID != "" && lookupClass == "" && len(args) == 0:
		what = "record " + lookupID
		stored, err := repo.FindRecord(lookupID)
		if errors.Is(err, sqlite.ErrRecordNotFound) {
			break
		}
		if err != nil {
			return err
		}
		rec, found = stored, true
	case lookupID != "":
		return errors.New("--id cannot be combined with an authority or --class")
	case lookupClass != "" && len(args) == 0:
		cls, err := providermap.ParseClassID(lookupClass)
		if err != nil {
			return err
		}
		what = "class " + cls.ShortString()
		rec, found = mgr.ResolveClass(cmd.Context(), cls, user())
	case lookupClass == "" && len(args) == 1:
		what = fmt.Sprintf("authority %q", args[0])
		rec, found = mgr.Resolve(cmd.Context(), args[0], user())
	default:
		return errors.New("give exactly one of an authority or --class")
	}
	if !found {
		return fmt.Errorf("%w for %s", errNotFound, what)
	}

	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintln(out, rec); err != nil {
		return err
	}
	return rec.DumpDetails(out, "  ")
}
