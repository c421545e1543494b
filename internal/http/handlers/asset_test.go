package handlers

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songforge/songforge/internal/models"
)

// seedAsset stores a blob and records its row, returning the asset ID.
func seedAsset(t *testing.T, env *apiEnv, content []byte) string {
	t.Helper()
	ctx := context.Background()

	const key = "assets/2026/08/0f43ae8e/mix.wav"
	require.NoError(t, env.store.Put(ctx, key, content, "audio/wav"))

	asset := &models.Asset{
		JobID:     models.NewULID(),
		Kind:      models.AssetKindWAV,
		Path:      key,
		URL:       env.store.URL(key),
		SizeBytes: int64(len(content)),
	}
	require.NoError(t, env.assetRepo.Create(ctx, asset))
	return asset.ID.String()
}

func getAsset(t *testing.T, env *apiEnv, method, id, rangeHeader string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, env.ts.URL+"/v1/assets/"+id, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServeAssetWholeObject(t *testing.T) {
	env := setupAPI(t)
	content := []byte("RIFF0123456789")
	id := seedAsset(t, env, content)

	resp := getAsset(t, env, http.MethodGet, id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, body)
}

func TestServeAssetPartialRange(t *testing.T) {
	env := setupAPI(t)
	content := []byte("RIFF0123456789")
	id := seedAsset(t, env, content)

	resp := getAsset(t, env, http.MethodGet, id, "bytes=0-3")
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 0-3/14", resp.Header.Get("Content-Range"))
	assert.Equal(t, "4", resp.Header.Get("Content-Length"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), body)
}

func TestServeAssetSuffixRange(t *testing.T) {
	env := setupAPI(t)
	content := []byte("RIFF0123456789")
	id := seedAsset(t, env, content)

	resp := getAsset(t, env, http.MethodGet, id, "bytes=-4")
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 10-13/14", resp.Header.Get("Content-Range"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("6789"), body)
}

func TestServeAssetUnsatisfiableRange(t *testing.T) {
	env := setupAPI(t)
	id := seedAsset(t, env, []byte("RIFF0123456789"))

	resp := getAsset(t, env, http.MethodGet, id, "bytes=999999-")
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "bytes */14", resp.Header.Get("Content-Range"))
}

func TestServeAssetHead(t *testing.T) {
	env := setupAPI(t)
	id := seedAsset(t, env, []byte("RIFF0123456789"))

	resp := getAsset(t, env, http.MethodHead, id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "14", resp.Header.Get("Content-Length"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestServeAssetNotFound(t *testing.T) {
	env := setupAPI(t)

	resp := getAsset(t, env, http.MethodGet, models.NewULID().String(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = getAsset(t, env, http.MethodGet, "not-a-ulid", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeAssetMissingBlob(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	// Row exists but the blob was never written.
	asset := &models.Asset{
		JobID: models.NewULID(),
		Kind:  models.AssetKindWAV,
		Path:  "assets/2026/08/gone/mix.wav",
	}
	require.NoError(t, env.assetRepo.Create(ctx, asset))

	resp := getAsset(t, env, http.MethodGet, asset.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestParseRange(t *testing.T) {
	const size = int64(100)

	cases := []struct {
		name   string
		header string
		offset int64
		length int64
		ok     bool
	}{
		{"empty selects whole object", "", 0, 100, true},
		{"closed range", "bytes=10-19", 10, 10, true},
		{"open-ended range", "bytes=90-", 90, 10, true},
		{"end clamped to size", "bytes=95-200", 95, 5, true},
		{"suffix range", "bytes=-25", 75, 25, true},
		{"suffix larger than object", "bytes=-500", 0, 100, true},
		{"multi-range falls back to whole", "bytes=0-1,5-6", 0, 100, true},
		{"missing unit falls back to whole", "0-10", 0, 100, true},
		{"start past end of object", "bytes=100-", 0, 0, false},
		{"inverted range", "bytes=20-10", 0, 0, false},
		{"zero suffix", "bytes=-0", 0, 0, false},
		{"garbage", "bytes=abc-def", 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			offset, length, ok := parseRange(tc.header, size)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.offset, offset)
				assert.Equal(t, tc.length, length)
			}
		})
	}
}
