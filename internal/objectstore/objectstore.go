// Package objectstore abstracts the object storage holding legacy archive media.
// The migration pipeline only lists, stats, copies and deletes objects; the
// store itself is an external service reached over SFTP (or the local
// filesystem in development and tests).
package objectstore

import (
	"context"
	"fmt"
	"time"

	"github.com/opendharma/archive-migrate/internal/conf"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key     string    // full object key relative to the store root
	Size    int64     // size in bytes
	ModTime time.Time // last modification time
}

// Client is the object store interface used by the analyzer and the
// execution engine. All operations take a context for cancellation.
type Client interface {
	// Name returns the backend name for logging.
	Name() string
	// List returns all objects under the given key prefix, recursively.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Stat returns info for a single object key.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	// Copy duplicates an object to a new key, creating parent prefixes.
	Copy(ctx context.Context, srcKey, dstKey string) error
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// Validate checks that the backend configuration is usable.
	Validate() error
}

// New creates the configured object store client, wrapped with retry
// handling for transient failures.
func New(settings *conf.ObjectStoreSettings) (Client, error) {
	var client Client
	var err error

	switch settings.Backend {
	case "sftp":
		client, err = NewSFTPClient(settings)
	case "local":
		client, err = NewLocalClient(settings.BasePath)
	default:
		return nil, fmt.Errorf("objectstore: unknown backend %q", settings.Backend)
	}
	if err != nil {
		return nil, err
	}

	if settings.MaxRetries > 0 {
		client = WithRetry(client, settings.MaxRetries)
	}
	return client, nil
}
