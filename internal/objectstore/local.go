package objectstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalClient implements Client against a local filesystem root. It is used
// in development and tests, where a directory tree stands in for the store.
type LocalClient struct {
	root string
}

// NewLocalClient creates a local filesystem client rooted at basePath.
func NewLocalClient(basePath string) (*LocalClient, error) {
	if basePath == "" {
		return nil, fmt.Errorf("local: base path is required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("local: failed to resolve base path: %w", err)
	}
	return &LocalClient{root: abs}, nil
}

// Name returns the backend name.
func (c *LocalClient) Name() string {
	return "local"
}

// Validate checks that the root directory exists.
func (c *LocalClient) Validate() error {
	info, err := os.Stat(c.root)
	if err != nil {
		return fmt.Errorf("local: base path %s not accessible: %w", c.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local: base path %s is not a directory", c.root)
	}
	return nil
}

// path maps an object key onto the filesystem, rejecting escapes from the root.
func (c *LocalClient) path(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("local: key %q escapes store root", key)
	}
	return filepath.Join(c.root, cleaned), nil
}

// List walks the directory tree under prefix and returns every regular file.
func (c *LocalClient) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	dir, err := c.path(prefix)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var objects []ObjectInfo
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{
			Key:     filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local: list %q failed: %w", prefix, err)
	}
	return objects, nil
}

// Stat returns info for a single object.
func (c *LocalClient) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	path, err := c.path(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("local: stat %q failed: %w", key, err)
	}
	return &ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Copy duplicates an object to a new key, creating parent directories.
func (c *LocalClient) Copy(ctx context.Context, srcKey, dstKey string) error {
	srcPath, err := c.path(srcKey)
	if err != nil {
		return err
	}
	dstPath, err := c.path(dstKey)
	if err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("local: open source %q failed: %w", srcKey, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("local: create target directory for %q failed: %w", dstKey, err)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("local: create target %q failed: %w", dstKey, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("local: copy %q to %q failed: %w", srcKey, dstKey, err)
	}
	return dst.Sync()
}

// Delete removes an object; a missing object is not an error.
func (c *LocalClient) Delete(ctx context.Context, key string) error {
	path, err := c.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("local: delete %q failed: %w", key, err)
	}
	return nil
}
