package storage

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipatrol/patrol/internal/logger"
)

func setupTestStorage(t *testing.T) (*StorageService, string) {
	t.Helper()
	tmpDir := t.TempDir()

	svc, err := NewStorageService(StorageConfig{
		EventsDir:           filepath.Join(tmpDir, "events"),
		RecordingsDir:       filepath.Join(tmpDir, "recordings"),
		LiveDir:             filepath.Join(tmpDir, "live"),
		MaxDiskUsagePercent: 99.0,
	}, logger.NewNopLogger())
	require.NoError(t, err)

	return svc, tmpDir
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func TestNewStorageService_CreatesDirectories(t *testing.T) {
	svc, tmpDir := setupTestStorage(t)

	for _, dir := range []string{"events", "recordings", "live"} {
		info, err := os.Stat(filepath.Join(tmpDir, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, DefaultJPEGQuality, svc.JPEGQuality())
	assert.Equal(t, 99.0, svc.MaxDiskUsagePercent())
}

func TestNewStorageService_MissingDirectory(t *testing.T) {
	_, err := NewStorageService(StorageConfig{EventsDir: t.TempDir()}, nil)
	assert.Error(t, err)
}

func TestStorageService_GenerateClipPath(t *testing.T) {
	svc, tmpDir := setupTestStorage(t)
	ts := time.Unix(1700000000, 0)

	path := svc.GenerateClipPath(ts)
	assert.Equal(t, filepath.Join(tmpDir, "recordings", "record_1700000000.mp4"), path)

	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	assert.Equal(t, filepath.Join(tmpDir, "recordings", "record_1700000000_1.mp4"), svc.GenerateClipPath(ts))
}

func TestStorageService_SaveEventSnapshot(t *testing.T) {
	svc, tmpDir := setupTestStorage(t)
	ts := time.Unix(1700000000, 0)

	data, err := EncodeJPEG(testImage(64, 48), 70)
	require.NoError(t, err)

	path, err := svc.SaveEventSnapshot(context.Background(), data, "alice", ts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "events", "alice_1700000000.jpg"), path)

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())

	second, err := svc.SaveEventSnapshot(context.Background(), data, "alice", ts)
	require.NoError(t, err)
	assert.NotEqual(t, path, second)
}

func TestStorageService_SaveEventSnapshot_Empty(t *testing.T) {
	svc, _ := setupTestStorage(t)

	_, err := svc.SaveEventSnapshot(context.Background(), nil, "alice", time.Now())
	assert.Error(t, err)
}

func TestStorageService_ResolveMedia(t *testing.T) {
	svc, tmpDir := setupTestStorage(t)

	eventFile := filepath.Join(tmpDir, "events", "bob_1.jpg")
	clipFile := filepath.Join(tmpDir, "recordings", "record_1.mp4")
	require.NoError(t, os.WriteFile(eventFile, []byte("jpg"), 0644))
	require.NoError(t, os.WriteFile(clipFile, []byte("mp4"), 0644))

	path, err := svc.ResolveMedia("bob_1.jpg")
	require.NoError(t, err)
	assert.Equal(t, eventFile, path)

	path, err = svc.ResolveMedia("record_1.mp4")
	require.NoError(t, err)
	assert.Equal(t, clipFile, path)

	for _, name := range []string{"", "missing.jpg", "../events/bob_1.jpg", ".hidden", "events/bob_1.jpg"} {
		_, err := svc.ResolveMedia(name)
		assert.ErrorIs(t, err, ErrNotFound, name)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "live.jpg")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"alice":       "alice",
		" Bob Smith ": "Bob_Smith",
		"../etc":      "etc",
		"a/b":         "ab",
		"":            "",
		"   ":         "",
		"!!!":         "",
		"jean-luc_2":  "jean-luc_2",
		"dr. who":     "dr__who",
		"李":           "李",
		"Zoë":         "Zoë",
		"Zoe\u0308":   "Zo\u00eb",
		"José María":  "José_María",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeName(in), "input %q", in)
	}
}

func TestEncodeJPEG(t *testing.T) {
	data, err := EncodeJPEG(testImage(32, 16), 0)
	require.NoError(t, err)

	img, err := DecodeImage(data)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())

	_, err = EncodeJPEG(nil, 70)
	assert.Error(t, err)

	_, err = DecodeImage([]byte("not an image"))
	assert.Error(t, err)
}
