package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetKeyLayout(t *testing.T) {
	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	id := uuid.MustParse("b3c5a1f0-1234-5678-9abc-def012345678")

	key := AssetKey(at, id, "mix.wav")
	assert.Equal(t, "assets/2026/08/b3c5a1f0-1234-5678-9abc-def012345678/mix.wav", key)
}

func TestAssetUUIDForJobStable(t *testing.T) {
	a := AssetUUIDForJob("01JABCDEF")
	b := AssetUUIDForJob("01JABCDEF")
	c := AssetUUIDForJob("01JOTHER")

	assert.Equal(t, a, b, "same job must map to the same UUID across attempts")
	assert.NotEqual(t, a, c)
}

func TestLocalStorePutOpen(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	key := "assets/2026/08/test-uuid/preview.wav"
	payload := []byte("RIFF....WAVEdata")
	require.NoError(t, store.Put(ctx, key, payload, "audio/wav"))

	rc, info, err := store.Open(ctx, key)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(len(payload)), info.Size)
}

func TestLocalStoreOpenRange(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	key := "assets/2026/08/test-uuid/mix.wav"
	require.NoError(t, store.Put(ctx, key, []byte("0123456789"), "audio/wav"))

	rc, info, err := store.OpenRange(ctx, key, 2, 4)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(got))
	assert.Equal(t, int64(10), info.Size)

	// Open-ended range reads to EOF.
	rc2, _, err := store.OpenRange(ctx, key, 7, -1)
	require.NoError(t, err)
	defer rc2.Close()
	got, err = io.ReadAll(rc2)
	require.NoError(t, err)
	assert.Equal(t, "789", string(got))
}

func TestLocalStorePutFile(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "final.mp4")
	require.NoError(t, os.WriteFile(src, []byte("mp4-bytes"), 0o644))

	key := "assets/2026/08/test-uuid/final.mp4"
	require.NoError(t, store.PutFile(ctx, key, src, "video/mp4"))

	info, err := store.Stat(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(9), info.Size)
}

func TestLocalStoreNotFound(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Stat(ctx, "assets/2026/08/nope/mix.wav")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = store.Open(ctx, "assets/2026/08/nope/mix.wav")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	err = store.Put(ctx, "../outside.wav", []byte("x"), "")
	assert.Error(t, err)

	_, err = store.Stat(ctx, "/etc/passwd")
	assert.Error(t, err)
}

func TestProbeLocalStore(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	require.NoError(t, Probe(context.Background(), store))
}

func TestLocalStoreURL(t *testing.T) {
	plain, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, "/assets/a/b", plain.URL("assets/a/b"))

	base, err := NewLocalStore(t.TempDir(), "https://cdn.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/assets/a/b", base.URL("assets/a/b"))
}
