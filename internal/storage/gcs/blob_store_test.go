package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{Bucket: " "})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b", Prefix: "/runs/"})
	require.NoError(t, err)
	assert.Equal(t, "runs/results.json", store.ObjectName("results.json"))
	assert.NoError(t, store.Close(), "borrowed client is not closed")
}

func TestObjectNameWithoutPrefix(t *testing.T) {
	t.Parallel()

	store := &BlobStore{bucket: "b"}
	assert.Equal(t, "a/b.json", store.ObjectName("a/b.json"))
}
