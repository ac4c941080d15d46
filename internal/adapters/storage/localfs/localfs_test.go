package localfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidrender/internal/ports"
)

func TestPutObject(t *testing.T) {
	root := t.TempDir()
	fs := New(root)

	out, err := fs.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey:   "renders/tok/intro-1.mp4",
		ContentType: "video/mp4",
		Reader:      strings.NewReader("FAKEMP4"),
		Size:        7,
	})
	require.NoError(t, err)
	assert.Equal(t, "renders/tok/intro-1.mp4", out.ObjectKey)
	assert.Equal(t, int64(7), out.Size)

	data, err := os.ReadFile(filepath.Join(root, "renders", "tok", "intro-1.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "FAKEMP4", string(data))

	// No temporary files left behind.
	entries, err := os.ReadDir(filepath.Join(root, "renders", "tok"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPutObjectRejectsEscapingKeys(t *testing.T) {
	fs := New(t.TempDir())
	for _, key := range []string{"", "../outside.mp4", "a/../../outside.mp4"} {
		_, err := fs.PutObject(context.Background(), ports.PutObjectInput{
			ObjectKey: key,
			Reader:    strings.NewReader("x"),
		})
		assert.Error(t, err, "key %q", key)
	}
}

func TestPutObjectShortWrite(t *testing.T) {
	fs := New(t.TempDir())
	_, err := fs.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey: "a.mp4",
		Reader:    strings.NewReader("abc"),
		Size:      10,
	})
	assert.Error(t, err)
}

func TestPutObjectCanceled(t *testing.T) {
	fs := New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fs.PutObject(ctx, ports.PutObjectInput{
		ObjectKey: "a.mp4",
		Reader:    strings.NewReader("abc"),
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheck(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive")
	fs := New(root)

	require.NoError(t, fs.Check(context.Background()))
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, "localfs", fs.Provider())
}
