package video

import (
	"encoding/csv"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laned/laned/internal/frame"
)

func TestFileSinkWritesSteeringCSVAndJPEGs(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(filepath.Join(dir, "out"))
	require.NoError(t, sink.Open(""))

	buf := frame.NewBuffer(4, 4, 3)
	for i := range buf.Pix {
		buf.Pix[i] = 128
	}

	require.NoError(t, sink.Write(frame.Result{FrameIndex: 0, SteeringAngle: 0.5, Detected: true, Annotated: buf}))
	require.NoError(t, sink.Write(frame.Result{FrameIndex: 1, SteeringAngle: -0.25, Detected: false}))
	require.NoError(t, sink.Close())

	csvPath := filepath.Join(dir, "out", "steering.csv")
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + 2 rows
	assert.Equal(t, []string{"frame_index", "steering_angle", "detected"}, rows[0])
	assert.Equal(t, "0", rows[1][0])
	assert.Equal(t, "true", rows[1][2])
	assert.Equal(t, "1", rows[2][0])
	assert.Equal(t, "false", rows[2][2])

	jpegPath := filepath.Join(dir, "out", "frame_000000.jpg")
	jf, err := os.Open(jpegPath)
	require.NoError(t, err)
	defer jf.Close()
	img, err := jpeg.Decode(jf)
	require.NoError(t, err)
	b := img.Bounds()
	assert.Equal(t, 4, b.Dx())
	assert.Equal(t, 4, b.Dy())

	// Frame 1 had no annotated buffer, so no JPEG should exist for it.
	_, err = os.Stat(filepath.Join(dir, "out", "frame_000001.jpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSinkOpenCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	sink := NewFileSink(dir)
	require.NoError(t, sink.Open(""))
	require.NoError(t, sink.Close())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
