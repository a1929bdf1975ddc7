package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *ObjectStore {
	t.Helper()
	store, err := NewObjectStore(t.TempDir(), "http://api.test/api/v1/", NewSignedURLSigner("secret", time.Hour))
	require.NoError(t, err)
	return store
}

func TestUploadAndDownloadURL(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "students/doc-1/picture.png", []byte("img"), "image/png"))

	url, expiresAt, err := store.DownloadURL(ctx, "students/doc-1/picture.png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://api.test/api/v1/files/doc-1."))
	assert.True(t, expiresAt.After(time.Now()))

	token := strings.TrimPrefix(url, "http://api.test/api/v1/files/")
	obj, err := store.OpenSigned(token)
	require.NoError(t, err)
	defer obj.Body.Close()
	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "img", string(body))
	assert.Equal(t, "image/png", obj.ContentType)
}

func TestDownloadURLMissingObject(t *testing.T) {
	store := newStore(t)
	_, _, err := store.DownloadURL(context.Background(), "students/doc-1/none.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestTraversalRejected(t *testing.T) {
	store := newStore(t)
	err := store.Upload(context.Background(), "", []byte("x"), "text/plain")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	obj, err := store.Open("../../etc/passwd")
	if err == nil {
		obj.Body.Close()
	}
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestUploadHonoursCancelledContext(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Upload(ctx, "students/doc-1/a.pdf", []byte("x"), "application/pdf"), context.Canceled)
}
