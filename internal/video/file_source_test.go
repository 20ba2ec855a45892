package video

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/scheduler"
)

func writeJPEG(t *testing.T, dir, name string, w, h int, fill color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 100}))
}

func TestFileSourceReadsFramesInSortedOrder(t *testing.T) {
	dir := t.TempDir()
	writeJPEG(t, dir, "frame_000001.jpg", 4, 4, color.RGBA{R: 255, A: 255})
	writeJPEG(t, dir, "frame_000000.jpg", 4, 4, color.RGBA{G: 255, A: 255})
	// A non-JPEG file must be ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("hi"), 0o644))

	src := NewFileSource(dir)
	require.NoError(t, src.Open(""))

	fr0, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, 0, fr0.Index)
	assert.Equal(t, 4, fr0.Buffer.Width)
	assert.Equal(t, 4, fr0.Buffer.Height)
	assert.Equal(t, 3, fr0.Buffer.Channels)
	// frame_000000.jpg is the green one: BGR layout, so G is Pix[1].
	assert.Greater(t, fr0.Buffer.Pix[1], byte(200))
	assert.Less(t, fr0.Buffer.Pix[2], byte(50))

	fr1, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, 1, fr1.Index)

	_, err = src.Read()
	assert.True(t, xerrors.Is(err, scheduler.ErrSourceExhausted))

	require.NoError(t, src.Close())
}

func TestFileSourceOpenFailsOnMissingDirectory(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, src.Open(""))
}

func TestFileSourceReadOnEmptyDirectoryIsImmediatelyExhausted(t *testing.T) {
	src := NewFileSource(t.TempDir())
	require.NoError(t, src.Open(""))
	_, err := src.Read()
	assert.True(t, xerrors.Is(err, scheduler.ErrSourceExhausted))
}
