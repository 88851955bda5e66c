package objectstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opendharma/archive-migrate/internal/logging"
)

// retryClient wraps a Client with exponential backoff for transient
// failures. A failure is never fatal on its first occurrence: the
// operation is retried up to maxRetries times before the error is
// surfaced as a per-item failure.
type retryClient struct {
	inner      Client
	maxRetries uint64
	logger     *slog.Logger
}

// WithRetry wraps client so that List/Stat/Copy/Delete retry with
// exponential backoff.
func WithRetry(client Client, maxRetries int) Client {
	return &retryClient{
		inner:      client,
		maxRetries: uint64(maxRetries),
		logger:     logging.ForService("objectstore"),
	}
}

func (c *retryClient) Name() string {
	return c.inner.Name()
}

func (c *retryClient) Validate() error {
	return c.inner.Validate()
}

func (c *retryClient) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)
}

func (c *retryClient) retry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return backoff.RetryNotify(fn, c.newBackOff(ctx), func(err error, next time.Duration) {
		attempt++
		c.logger.Warn("object store operation failed, retrying",
			"operation", op,
			"backend", c.inner.Name(),
			"attempt", attempt,
			"retry_in", next.String(),
			"error", err)
	})
}

func (c *retryClient) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := c.retry(ctx, "list", func() error {
		var err error
		objects, err = c.inner.List(ctx, prefix)
		return err
	})
	return objects, err
}

func (c *retryClient) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	var info *ObjectInfo
	err := c.retry(ctx, "stat", func() error {
		var err error
		info, err = c.inner.Stat(ctx, key)
		return err
	})
	return info, err
}

func (c *retryClient) Copy(ctx context.Context, srcKey, dstKey string) error {
	return c.retry(ctx, "copy", func() error {
		return c.inner.Copy(ctx, srcKey, dstKey)
	})
}

func (c *retryClient) Delete(ctx context.Context, key string) error {
	return c.retry(ctx, "delete", func() error {
		return c.inner.Delete(ctx, key)
	})
}
