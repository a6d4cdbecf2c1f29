package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseBackend 所有后端共用的行为检查
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, err := b.Get(ctx, "projects", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Put(ctx, "projects", "b", []byte(`{"id":"b"}`)))
	require.NoError(t, b.Put(ctx, "projects", "a", []byte(`{"id":"a"}`)))
	require.NoError(t, b.Put(ctx, "other", "c", []byte(`{"id":"c"}`)))

	got, err := b.Get(ctx, "projects", "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a"}`, string(got))

	require.NoError(t, b.Put(ctx, "projects", "a", []byte(`{"id":"a","v":2}`)))
	got, err = b.Get(ctx, "projects", "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a","v":2}`, string(got))

	list, err := b.List(ctx, "projects")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.JSONEq(t, `{"id":"a","v":2}`, string(list[0]))
	assert.JSONEq(t, `{"id":"b"}`, string(list[1]))

	require.NoError(t, b.Delete(ctx, "projects", "a"))
	require.NoError(t, b.Delete(ctx, "projects", "a"), "deleting twice is fine")
	_, err = b.Get(ctx, "projects", "a")
	assert.ErrorIs(t, err, ErrNotFound)

	empty, err := b.List(ctx, "nothing_here")
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.Error(t, b.Put(ctx, "projects", "../escape", []byte(`{}`)))
	_, err = b.Get(ctx, "..", "x")
	assert.Error(t, err)
}

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	defer b.Close()

	exerciseBackend(t, b)

	_, err = os.Stat(filepath.Join(dir, "projects", "b.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "projects", "b.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileBackendIgnoresStrayFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "projects", "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "projects", "notes.txt"), []byte("x"), 0644))
	require.NoError(t, b.Put(context.Background(), "projects", "p1", []byte(`{}`)))

	list, err := b.List(context.Background(), "projects")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFileBackendCacheInvalidatedOnWrite(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "projects", "p", []byte(`1`)))
	_, err = b.Get(ctx, "projects", "p")
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "projects", "p", []byte(`2`)))
	got, err := b.Get(ctx, "projects", "p")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))
}

func TestRedisBackend(t *testing.T) {
	s := miniredis.RunT(t)

	b, err := NewRedisBackend(context.Background(), "redis://"+s.Addr())
	require.NoError(t, err)
	defer b.Close()

	exerciseBackend(t, b)
	assert.True(t, s.Exists("storyboarder:projects"))
}

func TestRedisBackendBadURL(t *testing.T) {
	_, err := NewRedisBackend(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestPostgresBackend(t *testing.T) {
	url := os.Getenv("STORYBOARDER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STORYBOARDER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	b, err := NewPostgresBackend(ctx, url)
	require.NoError(t, err)
	defer b.Close()

	for _, ns := range []string{"projects", "other"} {
		_, err := b.pool.Exec(ctx, `DELETE FROM storyboard_blobs WHERE namespace = $1`, ns)
		require.NoError(t, err)
	}
	exerciseBackend(t, b)
}

func TestOpenUnknownKind(t *testing.T) {
	_, err := Open(context.Background(), Options{Kind: "s3"})
	assert.Error(t, err)

	b, err := Open(context.Background(), Options{Kind: KindFile, DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, b)
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("projects", "proj_1700000000000_ab12c"))
	assert.Error(t, ValidateKey(""))
	assert.Error(t, ValidateKey("a/b"))
	assert.Error(t, ValidateKey("a.json"))
}
