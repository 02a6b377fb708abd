package objstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFSClientLifecycle(t *testing.T) {
	base := t.TempDir()
	client, err := newFSClient(base)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "src.png")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	require.NoError(t, client.Upload(context.Background(), "ingest", "toys/31000012_bear.png", src, "image/png"))

	tmp := t.TempDir()
	dst, size, notFound, err := client.Download(context.Background(), tmp, "ingest", "toys/31000012_bear.png")
	require.NoError(t, err)
	require.False(t, notFound)
	require.Equal(t, int64(5), size)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	require.NoError(t, client.Delete(context.Background(), "ingest", "toys/31000012_bear.png"))
	_, _, notFound, err = client.Download(context.Background(), tmp, "ingest", "toys/31000012_bear.png")
	require.NoError(t, err)
	require.True(t, notFound)
}

func TestFSClientMove(t *testing.T) {
	base := t.TempDir()
	client, err := newFSClient(base)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "src.png")
	require.NoError(t, os.WriteFile(src, []byte("image bytes"), 0o644))
	require.NoError(t, client.Upload(context.Background(), "ingest", "img-42.png", src, "image/png"))

	require.NoError(t, client.Move(context.Background(), "ingest", "img-42.png", "processed", "img-42.png"))

	// Source is gone, destination holds the bytes.
	_, _, notFound, err := client.Download(context.Background(), t.TempDir(), "ingest", "img-42.png")
	require.NoError(t, err)
	require.True(t, notFound)

	dst, size, notFound, err := client.Download(context.Background(), t.TempDir(), "processed", "img-42.png")
	require.NoError(t, err)
	require.False(t, notFound)
	require.Equal(t, int64(len("image bytes")), size)
	require.True(t, strings.HasSuffix(dst, "-img-42.png"))
}

func TestFSClientExists(t *testing.T) {
	client, err := newFSClient(t.TempDir())
	require.NoError(t, err)

	ok, err := client.Exists(context.Background(), "ingest", "img-42.png")
	require.NoError(t, err)
	require.False(t, ok)

	src := filepath.Join(t.TempDir(), "src.png")
	require.NoError(t, os.WriteFile(src, []byte("image bytes"), 0o644))
	require.NoError(t, client.Upload(context.Background(), "ingest", "img-42.png", src, "image/png"))

	ok, err = client.Exists(context.Background(), "ingest", "img-42.png")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFSClientDeleteAbsentIsNoError(t *testing.T) {
	client, err := newFSClient(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, client.Delete(context.Background(), "ingest", "missing.png"))
}

func TestFSClientRequiresRoot(t *testing.T) {
	_, err := newFSClient("")
	require.Error(t, err)
}
