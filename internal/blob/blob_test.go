package blob

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func prep(t *testing.T) *FileSystem {
	dir := t.TempDir()
	return NewFileSystem(filepath.Join(dir, "images"), filepath.Join(dir, "staging"), 1024, "http://localhost:8080/")
}

func TestFileSystem_SaveCommitLoad(t *testing.T) {
	ctx := context.Background()
	fs := prep(t)

	id, err := fs.Save(ctx, "user1", "image/png", bytes.NewReader(pngData))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "user1/"), id)
	assert.True(t, fs.Exists(ctx, id))

	rd, meta, err := fs.Load(ctx, id)
	require.NoError(t, err)
	assert.False(t, meta.Committed)
	assert.Equal(t, "image/png", meta.ContentType)
	assert.Equal(t, int64(len(pngData)), meta.Size)
	require.NoError(t, rd.Close())

	require.NoError(t, fs.Commit(ctx, id))
	require.NoError(t, fs.Commit(ctx, id), "Повторный commit не должен падать")

	rd, meta, err = fs.Load(ctx, id)
	require.NoError(t, err)
	defer rd.Close()
	assert.True(t, meta.Committed)
	data, err := io.ReadAll(rd)
	require.NoError(t, err)
	assert.Equal(t, pngData, data)

	assert.Equal(t, "http://localhost:8080/images/"+id, fs.URL(id))
}

func TestFileSystem_SaveRejects(t *testing.T) {
	ctx := context.Background()
	fs := prep(t)

	_, err := fs.Save(ctx, "user1", "text/plain", bytes.NewReader(pngData))
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = fs.Save(ctx, "user1", "image/png", strings.NewReader("definitely not a picture"))
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = fs.Save(ctx, "user1", "image/png", bytes.NewReader(append(pngData, make([]byte, 2048)...)))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = fs.Save(ctx, "../etc", "image/png", bytes.NewReader(pngData))
	assert.ErrorIs(t, err, ErrBadID)
}

func TestFileSystem_Missing(t *testing.T) {
	ctx := context.Background()
	fs := prep(t)
	missing := "user1/9b2ef4a4-3b1c-4c7e-8d0c-1f6c5b9e2a11"

	_, _, err := fs.Load(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, fs.Commit(ctx, missing), ErrNotFound)
	assert.False(t, fs.Exists(ctx, missing))

	_, _, err = fs.Load(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrBadID)
	assert.False(t, fs.Exists(ctx, "user1/not-a-uuid"))
}

func TestFileSystem_Cleanup(t *testing.T) {
	ctx := context.Background()
	fs := prep(t)

	assert.NoError(t, fs.Cleanup(ctx, time.Minute), "Пустой staging не ошибка")

	oldID, err := fs.Save(ctx, "user1", "image/png", bytes.NewReader(pngData))
	require.NoError(t, err)
	freshID, err := fs.Save(ctx, "user1", "image/png", bytes.NewReader(pngData))
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(fs.location(fs.Staging, oldID), past, past))

	require.NoError(t, fs.Cleanup(ctx, time.Hour))
	assert.False(t, fs.Exists(ctx, oldID))
	assert.True(t, fs.Exists(ctx, freshID))
}
