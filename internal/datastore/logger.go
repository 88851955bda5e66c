package datastore

import (
	"log/slog"
	"sync"

	"github.com/opendharma/archive-migrate/internal/logging"
)

var (
	pkgLogger     *slog.Logger
	pkgLoggerOnce sync.Once
)

// getLogger returns the package-level logger, lazily bound to the
// datastore service name.
func getLogger() *slog.Logger {
	pkgLoggerOnce.Do(func() {
		pkgLogger = logging.ForService("datastore")
	})
	return pkgLogger
}
