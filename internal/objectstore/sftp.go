package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/opendharma/archive-migrate/internal/conf"
)

// SFTPClient implements Client against an SFTP server. Connections are
// established per operation and closed when the operation completes.
type SFTPClient struct {
	host     string
	port     int
	username string
	password string
	keyFile  string
	basePath string
	timeout  time.Duration
}

// NewSFTPClient creates a new SFTP client from the object store settings.
func NewSFTPClient(settings *conf.ObjectStoreSettings) (*SFTPClient, error) {
	if settings.Host == "" {
		return nil, fmt.Errorf("sftp: host is required")
	}

	timeout := 30 * time.Second
	if settings.Timeout != "" {
		parsed, err := time.ParseDuration(settings.Timeout)
		if err != nil {
			return nil, fmt.Errorf("sftp: invalid timeout format: %w", err)
		}
		timeout = parsed
	}

	port := settings.Port
	if port <= 0 {
		port = 22
	}

	return &SFTPClient{
		host:     settings.Host,
		port:     port,
		username: settings.Username,
		password: settings.Password,
		keyFile:  settings.KeyFile,
		basePath: strings.TrimRight(settings.BasePath, "/"),
		timeout:  timeout,
	}, nil
}

// Name returns the backend name.
func (c *SFTPClient) Name() string {
	return "sftp"
}

// Validate checks the configuration and that a connection can be established.
func (c *SFTPClient) Validate() error {
	if c.host == "" {
		return fmt.Errorf("sftp: host is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	return client.Close()
}

// connect establishes an SFTP connection.
func (c *SFTPClient) connect(ctx context.Context) (*sftp.Client, error) {
	type connResult struct {
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		config := &ssh.ClientConfig{
			User:            c.username,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Note: In production, use ssh.FixedHostKey() or ssh.KnownHosts()
			Timeout:         c.timeout,
		}

		switch {
		case c.keyFile != "":
			key, err := os.ReadFile(c.keyFile)
			if err != nil {
				resultChan <- connResult{nil, fmt.Errorf("sftp: failed to read private key: %w", err)}
				return
			}
			signer, err := ssh.ParsePrivateKey(key)
			if err != nil {
				resultChan <- connResult{nil, fmt.Errorf("sftp: failed to parse private key: %w", err)}
				return
			}
			config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
		case c.password != "":
			config.Auth = []ssh.AuthMethod{ssh.Password(c.password)}
		default:
			resultChan <- connResult{nil, fmt.Errorf("sftp: no authentication method configured")}
			return
		}

		addr := fmt.Sprintf("%s:%d", c.host, c.port)
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{nil, fmt.Errorf("sftp: ssh connection failed: %w", err)}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			sshConn.Close()
			resultChan <- connResult{nil, fmt.Errorf("sftp: client creation failed: %w", err)}
			return
		}
		resultChan <- connResult{client, nil}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("sftp: connection cancelled: %w", ctx.Err())
	case result := <-resultChan:
		return result.client, result.err
	}
}

// remotePath maps an object key onto the remote filesystem.
func (c *SFTPClient) remotePath(key string) string {
	if c.basePath == "" {
		return key
	}
	return path.Join(c.basePath, key)
}

// List returns all objects under the given prefix, walking recursively.
func (c *SFTPClient) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	root := c.remotePath(prefix)
	if _, err := client.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sftp: stat %q failed: %w", prefix, err)
	}

	var objects []ObjectInfo
	walker := client.Walk(root)
	for walker.Step() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := walker.Err(); err != nil {
			return nil, fmt.Errorf("sftp: walk %q failed: %w", prefix, err)
		}
		info := walker.Stat()
		if info.IsDir() {
			continue
		}
		key := strings.TrimPrefix(walker.Path(), c.basePath)
		key = strings.TrimPrefix(key, "/")
		objects = append(objects, ObjectInfo{
			Key:     key,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return objects, nil
}

// Stat returns info for a single object key.
func (c *SFTPClient) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	info, err := client.Stat(c.remotePath(key))
	if err != nil {
		return nil, fmt.Errorf("sftp: stat %q failed: %w", key, err)
	}
	return &ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Copy duplicates an object to a new key on the remote side.
func (c *SFTPClient) Copy(ctx context.Context, srcKey, dstKey string) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	src, err := client.Open(c.remotePath(srcKey))
	if err != nil {
		return fmt.Errorf("sftp: open source %q failed: %w", srcKey, err)
	}
	defer src.Close()

	dstPath := c.remotePath(dstKey)
	if err := client.MkdirAll(path.Dir(dstPath)); err != nil {
		return fmt.Errorf("sftp: create target directory for %q failed: %w", dstKey, err)
	}

	dst, err := client.Create(dstPath)
	if err != nil {
		return fmt.Errorf("sftp: create target %q failed: %w", dstKey, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("sftp: copy %q to %q failed: %w", srcKey, dstKey, err)
	}
	return nil
}

// Delete removes an object; a missing object is not an error.
func (c *SFTPClient) Delete(ctx context.Context, key string) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Remove(c.remotePath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sftp: delete %q failed: %w", key, err)
	}
	return nil
}
