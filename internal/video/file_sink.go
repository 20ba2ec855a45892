package video

import (
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/frame"
	"github.com/laned/laned/internal/scheduler"
)

var _ scheduler.FrameSink = (*FileSink)(nil)

// FileSink writes annotated-frame JPEGs plus a steering.csv log to a
// directory, standing in for the dashboard/actuator output of the original
// program (spec.md §10.2).
type FileSink struct {
	dir string
	csv *csv.Writer
	f   *os.File
}

// NewFileSink returns a FrameSink rooted at dir. dir is created on Open if
// it does not already exist.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Open implements scheduler.FrameSink.
func (s *FileSink) Open(_ string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return xerrors.Errorf("creating sink directory %q: %w", s.dir, err)
	}
	f, err := os.Create(filepath.Join(s.dir, "steering.csv"))
	if err != nil {
		return xerrors.Errorf("creating steering log: %w", err)
	}
	s.f = f
	s.csv = csv.NewWriter(f)
	return s.csv.Write([]string{"frame_index", "steering_angle", "detected"})
}

// Write implements scheduler.FrameSink.
func (s *FileSink) Write(r frame.Result) error {
	if err := s.csv.Write([]string{
		fmt.Sprintf("%d", r.FrameIndex),
		fmt.Sprintf("%f", r.SteeringAngle),
		fmt.Sprintf("%t", r.Detected),
	}); err != nil {
		return xerrors.Errorf("writing steering row: %w", err)
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return xerrors.Errorf("flushing steering log: %w", err)
	}

	if r.Annotated == nil {
		return nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("frame_%06d.jpg", r.FrameIndex))
	out, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("creating %q: %w", path, err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, imageFromBuffer(r.Annotated), &jpeg.Options{Quality: 90}); err != nil {
		return xerrors.Errorf("encoding %q: %w", path, err)
	}
	return nil
}

// Close implements scheduler.FrameSink.
func (s *FileSink) Close() error {
	if s.csv != nil {
		s.csv.Flush()
	}
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}

func imageFromBuffer(buf *frame.Buffer) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, buf.Width, buf.Height))
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			i := buf.At(x, y)
			switch buf.Channels {
			case 3:
				img.Set(x, y, color.RGBA{R: buf.Pix[i+2], G: buf.Pix[i+1], B: buf.Pix[i+0], A: 0xff})
			default:
				v := buf.Pix[i]
				img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 0xff})
			}
		}
	}
	return img
}
