package localstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatify/internal/attach"
)

func TestPutOpenDelete(t *testing.T) {
	ctx := context.Background()
	c := New(t.TempDir(), "https://chat.example")

	res, err := c.Put(ctx, "ch1", "photo.png", "image/png", strings.NewReader("png-bytes"), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, int64(len("png-bytes")), res.Size)
	assert.True(t, strings.HasPrefix(res.StorePath, "uploads/ch1/"), "store_path=%s", res.StorePath)
	assert.Equal(t, "https://chat.example/api/files/"+res.StorePath, res.URL)

	f, err := c.Open(res.StorePath)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	require.NoError(t, c.Delete(ctx, res.StorePath))
	_, err = c.Open(res.StorePath)
	assert.ErrorIs(t, err, attach.ErrNotFound)
}

func TestPutRejectsOversized(t *testing.T) {
	ctx := context.Background()
	c := New(t.TempDir(), "")

	_, err := c.Put(ctx, "ch1", "big.bin", "application/octet-stream", strings.NewReader("0123456789"), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum size")
}

func TestPutRejectsBlockedExtension(t *testing.T) {
	ctx := context.Background()
	c := New(t.TempDir(), "")

	_, err := c.Put(ctx, "ch1", "malware.exe", "application/octet-stream", strings.NewReader("MZ"), 1<<20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestPathTraversalStaysInsideDir(t *testing.T) {
	// "../" в store_path не выводит за пределы Dir: путь пере-укореняется,
	// реальный /etc/passwd недостижим.
	c := New(t.TempDir(), "")

	_, err := c.Open("../../etc/passwd")
	assert.ErrorIs(t, err, attach.ErrNotFound)

	_, err = c.Open("..")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, attach.ErrNotFound)
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	c := New(t.TempDir(), "")
	err := c.Delete(context.Background(), "uploads/ch1/missing.png")
	assert.ErrorIs(t, err, attach.ErrNotFound)
}
