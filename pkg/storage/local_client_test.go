package storage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalClientPutGet(t *testing.T) {
	client, err := NewLocalClient(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, client.Put(ctx, "documents/abc/draft.pdf", []byte("%PDF-1.7")))

	data, err := client.Get(ctx, "documents/abc/draft.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), data)

	exists, err := client.Exists(ctx, "documents/abc/draft.pdf")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalClientGetMissing(t *testing.T) {
	client, err := NewLocalClient(t.TempDir())
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "nope.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.Download(context.Background(), "nope.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalClientPutIfAbsent(t *testing.T) {
	client, err := NewLocalClient(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	created, err := client.PutIfAbsent(ctx, "pki/root_ca.key", []byte("first"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = client.PutIfAbsent(ctx, "pki/root_ca.key", []byte("second"))
	require.NoError(t, err)
	assert.False(t, created)

	data, err := client.Get(ctx, "pki/root_ca.key")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)
}

func TestLocalClientDownload(t *testing.T) {
	client, err := NewLocalClient(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, client.Put(ctx, "a/b.pdf", []byte("content")))

	reader, err := client.Download(ctx, "a/b.pdf")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)
}

func TestLocalClientRejectsTraversal(t *testing.T) {
	client, err := NewLocalClient(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Error(t, client.Put(ctx, "../escape.txt", []byte("x")))
	assert.Error(t, client.Put(ctx, "/etc/passwd", []byte("x")))
	_, err = client.Get(ctx, "..")
	assert.Error(t, err)
}
