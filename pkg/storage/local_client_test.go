package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, err := NewLocalClient(t.TempDir(), "https://files.example.com/")
	require.NoError(t, err)

	key := "7/individual/CERT-7-1-ABCDEF.pdf"
	require.NoError(t, client.Upload(ctx, key, strings.NewReader("first"), "application/pdf"))
	require.NoError(t, client.Upload(ctx, key, strings.NewReader("second"), "application/pdf"))

	rc, err := client.Download(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	url, err := client.URL(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/7/individual/CERT-7-1-ABCDEF.pdf", url)

	require.NoError(t, client.Delete(ctx, key))
	_, err = client.Download(ctx, key)
	assert.True(t, errors.Is(err, ErrNotFound))

	// deleting twice is not an error
	assert.NoError(t, client.Delete(ctx, key))
}

func TestLocalClientKeepsKeysInsideBaseDir(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	client, err := NewLocalClient(base, "")
	require.NoError(t, err)

	require.NoError(t, client.Upload(ctx, "../../escape.txt", strings.NewReader("x"), "text/plain"))

	url, err := client.URL(ctx, "../../escape.txt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimPrefix(url, "file://"), strings.ReplaceAll(base, "\\", "/")))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentType("pdf"))
	assert.Equal(t, "image/png", ContentType(".PNG"))
	assert.Equal(t, "application/zip", ContentType("zip"))
	assert.Equal(t, "application/octet-stream", ContentType("bin"))
}
