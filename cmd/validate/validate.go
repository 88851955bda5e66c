// Package validate implements the validate command, which checks the
// configuration and policy document without running anything.
package validate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opendharma/archive-migrate/internal/conf"
)

// Command creates the validate command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and policy document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.ValidateSettings(settings); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}
}
