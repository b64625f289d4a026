package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tkoskela/imagevault-go/cmd/ingest"
	"github.com/tkoskela/imagevault-go/cmd/serve"
	"github.com/tkoskela/imagevault-go/internal/conf"
)

// RootCommand creates and returns the root command with all subcommands
// attached.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "imagevault",
		Short: "ImageVault photo service CLI",
	}

	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")

	rootCmd.AddCommand(
		serve.Command(settings),
		ingest.Command(settings),
	)

	return rootCmd
}
