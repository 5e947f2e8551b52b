package cli

import (
	"github.com/spf13/cobra"
)

func (a *App) rootCmd() *cobra.Command {

	root := &cobra.Command{
		Use:   "syncbox",
		Short: "Offline-first content client",
		Long: `syncbox keeps a local copy of your content, queues mutations made
while the server is unreachable, and reconciles both sides on sync.`,
		SilenceUsage: true,
	}

	// Accepted here so cobra does not reject the flags that the config
	// layer already consumed from os.Args.
	var ignored string
	root.PersistentFlags().StringVarP(&ignored, "config", "c", "", "path to JSON config file")
	root.PersistentFlags().StringVarP(&ignored, "server", "a", "", "base URL to access server")
	root.PersistentFlags().StringVarP(&ignored, "db", "f", "", "local database file")
	root.PersistentFlags().StringVarP(&ignored, "user", "u", "", "user id")
	root.PersistentFlags().StringVarP(&ignored, "token", "k", "", "access token")
	root.PersistentFlags().StringVarP(&ignored, "interval", "i", "", "online check interval (in seconds)")

	root.AddCommand(
		a.addCmd(),
		a.editCmd(),
		a.listCmd(),
		a.getCmd(),
		a.rmCmd(),
		a.syncCmd(),
		a.queueCmd(),
		a.statusCmd(),
	)

	return root
}
