package spectrogram_test

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/tts/spectrogram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(mels, frames int) core.Spectrogram {
	data := make([]float32, mels*frames)
	for mel := range mels {
		for frame := range frames {
			data[mel*frames+frame] = float32(mel)
		}
	}

	return core.Spectrogram{Mels: mels, Frames: frames, Data: data}
}

func TestRender_WritesDecodablePNG(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	path, err := spectrogram.Render(ramp(4, 10), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	file, err := os.Open(path)
	require.NoError(t, err)

	defer file.Close()

	img, err := png.Decode(file)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())

	// Highest mel is drawn on the top row with the brightest color.
	topR, topG, _, _ := img.At(0, 0).RGBA()
	bottomR, bottomG, _, _ := img.At(0, 3).RGBA()
	assert.Greater(t, topR+topG, bottomR+bottomG)
}

func TestRender_UniquePaths(t *testing.T) {
	t.Parallel()

	writer := spectrogram.NewWriter(t.TempDir())
	seen := make(map[string]struct{})

	for range 5 {
		path, err := writer.Write(ramp(2, 2))
		require.NoError(t, err)

		_, dup := seen[path]
		assert.False(t, dup, "path %s reused", path)
		seen[path] = struct{}{}
	}
}

func TestRender_FlatSpectrogram(t *testing.T) {
	t.Parallel()

	spec := core.Spectrogram{Mels: 2, Frames: 2, Data: []float32{-3, -3, -3, -3}}

	_, err := spectrogram.Render(spec, t.TempDir())
	require.NoError(t, err)
}

func TestRender_InvalidShapes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := spectrogram.Render(core.Spectrogram{}, dir)
	require.ErrorIs(t, err, spectrogram.ErrEmptySpectrogram)

	_, err = spectrogram.Render(core.Spectrogram{Mels: 2, Frames: 3, Data: []float32{1}}, dir)
	require.ErrorIs(t, err, spectrogram.ErrShapeMismatch)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no file may be left behind")
}

func TestRender_MissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := spectrogram.Render(ramp(2, 2), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestJanitor_Sweep(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	log, err := logger.New(t.TempDir(), "janitor-test.log")
	require.NoError(t, err)

	defer log.Close()

	stale, err := spectrogram.Render(ramp(2, 2), dir)
	require.NoError(t, err)

	fresh, err := spectrogram.Render(ramp(2, 2), dir)
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	other := filepath.Join(dir, "keep.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(other, old, old))

	janitor := spectrogram.NewJanitor(dir, time.Hour, time.Minute, log)
	assert.Equal(t, 1, janitor.Sweep())

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}
