// Package spectrogram renders mel spectrograms to PNG files and reaps the
// files that callers never removed.
package spectrogram

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/book-expert/voiceclone-service/internal/core"
)

// FilePattern is the os.CreateTemp pattern for rendered images.
const FilePattern = "spectrogram-*.png"

// ErrEmptySpectrogram is returned for a spectrogram without data.
var ErrEmptySpectrogram = errors.New("spectrogram is empty")

// ErrShapeMismatch is returned when Data does not match Mels x Frames.
var ErrShapeMismatch = errors.New("spectrogram data does not match its shape")

// viridis anchor colors, sampled evenly from 0 to 1.
var palette = []color.RGBA{
	{R: 68, G: 1, B: 84, A: 255},
	{R: 59, G: 82, B: 139, A: 255},
	{R: 33, G: 145, B: 140, A: 255},
	{R: 94, G: 201, B: 98, A: 255},
	{R: 253, G: 231, B: 37, A: 255},
}

// Writer renders spectrograms into a fixed directory. It implements
// core.SpectrogramWriter.
type Writer struct {
	dir string
}

// NewWriter creates a Writer for dir. An empty dir means os.TempDir().
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write renders spec to a fresh unique file and returns its path.
func (w *Writer) Write(spec core.Spectrogram) (string, error) {
	return Render(spec, w.dir)
}

// Render writes spec as a PNG to a new file in dir. Time runs left to right
// and low mel bins are drawn at the bottom. The file is removed if encoding
// fails; on success the caller owns it.
func Render(spec core.Spectrogram, dir string) (string, error) {
	img, err := toImage(spec)
	if err != nil {
		return "", err
	}

	file, err := os.CreateTemp(dir, FilePattern)
	if err != nil {
		return "", fmt.Errorf("failed to create spectrogram file: %w", err)
	}

	path := file.Name()

	encodeErr := png.Encode(file, img)
	closeErr := file.Close()

	if encodeErr != nil || closeErr != nil {
		_ = os.Remove(path)

		return "", fmt.Errorf("failed to write spectrogram image: %w", errors.Join(encodeErr, closeErr))
	}

	return path, nil
}

func toImage(spec core.Spectrogram) (*image.RGBA, error) {
	if spec.Mels <= 0 || spec.Frames <= 0 {
		return nil, ErrEmptySpectrogram
	}

	if len(spec.Data) != spec.Mels*spec.Frames {
		return nil, fmt.Errorf("%w: %dx%d with %d values", ErrShapeMismatch, spec.Mels, spec.Frames, len(spec.Data))
	}

	low, high := spec.Data[0], spec.Data[0]
	for _, v := range spec.Data {
		low = min(low, v)
		high = max(high, v)
	}

	span := high - low
	img := image.NewRGBA(image.Rect(0, 0, spec.Frames, spec.Mels))

	for mel := range spec.Mels {
		y := spec.Mels - 1 - mel

		for frame := range spec.Frames {
			var norm float32
			if span > 0 {
				norm = (spec.At(mel, frame) - low) / span
			}

			img.SetRGBA(frame, y, colorAt(norm))
		}
	}

	return img, nil
}

func colorAt(norm float32) color.RGBA {
	if norm <= 0 {
		return palette[0]
	}

	if norm >= 1 {
		return palette[len(palette)-1]
	}

	pos := norm * float32(len(palette)-1)
	idx := int(pos)
	frac := pos - float32(idx)
	from, to := palette[idx], palette[idx+1]

	return color.RGBA{
		R: lerp(from.R, to.R, frac),
		G: lerp(from.G, to.G, frac),
		B: lerp(from.B, to.B, frac),
		A: 255,
	}
}

func lerp(from, to uint8, frac float32) uint8 {
	return uint8(float32(from) + (float32(to)-float32(from))*frac)
}
