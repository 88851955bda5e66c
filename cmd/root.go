package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opendharma/archive-migrate/cmd/serve"
	"github.com/opendharma/archive-migrate/cmd/validate"
	"github.com/opendharma/archive-migrate/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "archive-migrate",
		Short: "Legacy archive migration pipeline",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		serve.Command(settings),
		validate.Command(settings),
	)
	return rootCmd
}

// setupFlags binds the global command-line flags onto viper so they take
// precedence over the config file.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "Control surface port")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("webserver.port", rootCmd.PersistentFlags().Lookup("port"))
}
