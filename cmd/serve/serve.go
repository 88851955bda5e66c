// Package serve implements the serve command, which runs the migration
// service: datastore, object store client, and the HTTP control surface.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opendharma/archive-migrate/internal/api"
	"github.com/opendharma/archive-migrate/internal/conf"
	"github.com/opendharma/archive-migrate/internal/datastore"
	"github.com/opendharma/archive-migrate/internal/logging"
	"github.com/opendharma/archive-migrate/internal/objectstore"
	"github.com/opendharma/archive-migrate/internal/observability"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the migration service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
}

func run(settings *conf.Settings) error {
	logger := logging.ForService("serve")

	ds := datastore.New(settings)
	if ds == nil {
		return fmt.Errorf("no database output enabled in configuration")
	}
	if err := ds.Open(); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	store, err := objectstore.New(&settings.ObjectStore)
	if err != nil {
		return fmt.Errorf("failed to create object store client: %w", err)
	}
	if err := store.Validate(); err != nil {
		return fmt.Errorf("object store validation failed: %w", err)
	}

	controller, err := api.New(settings, ds, store, observability.NewMetrics())
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	// Pick up executions interrupted by a previous shutdown or crash.
	controller.ResumeInterrupted()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("archive migration service starting",
		"name", settings.Main.Name,
		"port", settings.WebServer.Port,
		"object_store", settings.ObjectStore.Backend)
	return controller.Start(ctx)
}
