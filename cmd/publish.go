package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/provmap/internal/provider"
	"github.com/zjrosen/provmap/internal/providermap"
)

var (
	publishClass        string
	publishAuthorities  string
	publishUID          int
	publishApp          int
	publishProcess      string
	publishMultiprocess bool
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a content provider",
	Long: `Publish a content provider under its class and every authority it serves.

Providers owned by a system uid (below identity.first_application_uid) are
published globally and shadow per-user providers of the same name. All other
providers are published for the user that owns the uid.

Examples:
  # System provider, visible to every user
  provmap publish --class com.android.contacts/.ContactsProvider --authority contacts --uid 1000

  # Application provider for user 1 serving two authorities
  provmap publish --class com.example.media/.MediaProvider --authority "media;audio" --uid 110070

  # The same, giving the app id and the user instead of the uid
  provmap publish --class com.example.media/.MediaProvider --authority "media;audio" --app 10070 --user 1`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().StringVar(&publishClass, "class", "", "provider class, package/class or package/.Class")
	publishCmd.Flags().StringVarP(&publishAuthorities, "authority", "a", "", "authorities served, separated by ';'")
	publishCmd.Flags().IntVar(&publishUID, "uid", 0, "owner uid")
	publishCmd.Flags().IntVar(&publishApp, "app", 0, "owner app id, combined with --user into the uid")
	publishCmd.Flags().StringVar(&publishProcess, "process", "", "hosting process (default: the package)")
	publishCmd.Flags().BoolVar(&publishMultiprocess, "multiprocess", false, "provider may run in each client process")
	_ = publishCmd.MarkFlagRequired("class")
	publishCmd.MarkFlagsOneRequired("uid", "app")
	publishCmd.MarkFlagsMutuallyExclusive("uid", "app")
}

func runPublish(cmd *cobra.Command, _ []string) error {
	cls, err := providermap.ParseClassID(publishClass)
	if err != nil {
		return err
	}
	uid := publishUID
	if cmd.Flags().Changed("app") {
		if publishApp < 0 {
			return fmt.Errorf("app id must not be negative, got %d", publishApp)
		}
		owner := user()
		if owner < 0 {
			owner = providermap.UserID(cfg.Caller.User)
		}
		uid = cfg.Identity.Policy().UID(owner, publishApp)
	}
	rec, err := provider.New(provider.Spec{
		Class:        cls,
		Authorities:  provider.ParseAuthorities(publishAuthorities),
		UID:          uid,
		Process:      publishProcess,
		Multiprocess: publishMultiprocess,
	})
	if err != nil {
		return err
	}
	if err := mgr.Publish(cmd.Context(), rec); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", rec)
	return err
}
