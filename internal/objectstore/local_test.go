package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) (*LocalClient, string) {
	t.Helper()
	root := t.TempDir()
	client, err := NewLocalClient(root)
	require.NoError(t, err)
	require.NoError(t, client.Validate())
	return client, root
}

func seed(t *testing.T, root, key, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLocalListRecursesUnderPrefix(t *testing.T) {
	client, root := newLocal(t)
	seed(t, root, "E1/audio/01 talk.mp3", "a")
	seed(t, root, "E1/legacy/02 talk.mp3", "b")
	seed(t, root, "E2/notes.pdf", "c")

	ctx := context.Background()
	objects, err := client.List(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	keys := []string{objects[0].Key, objects[1].Key}
	assert.Contains(t, keys, "E1/audio/01 talk.mp3")
	assert.Contains(t, keys, "E1/legacy/02 talk.mp3")

	// A missing prefix lists empty, not an error.
	objects, err = client.List(ctx, "E9")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestLocalCopyCreatesParents(t *testing.T) {
	client, root := newLocal(t)
	seed(t, root, "E1/audio/01 talk.mp3", "payload")

	ctx := context.Background()
	require.NoError(t, client.Copy(ctx, "E1/audio/01 talk.mp3", "media/E1/01 talk.mp3"))

	content, err := os.ReadFile(filepath.Join(root, "media", "E1", "01 talk.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	info, err := client.Stat(ctx, "media/E1/01 talk.mp3")
	require.NoError(t, err)
	assert.EqualValues(t, len("payload"), info.Size)
}

func TestLocalDeleteTolerant(t *testing.T) {
	client, root := newLocal(t)
	seed(t, root, "media/E1/01 talk.mp3", "payload")

	ctx := context.Background()
	require.NoError(t, client.Delete(ctx, "media/E1/01 talk.mp3"))
	require.NoError(t, client.Delete(ctx, "media/E1/01 talk.mp3"), "deleting a missing object is not an error")
}

func TestLocalRejectsRootEscape(t *testing.T) {
	client, _ := newLocal(t)
	_, err := client.Stat(context.Background(), "../outside.txt")
	require.Error(t, err)
}
