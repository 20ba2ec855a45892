// Package video provides FrameSource/FrameSink implementations that read
// and write a directory of JPEG frames, standing in for the camera/display
// I/O the original program performed through OpenCV (spec.md §6, §10.2).
package video

import (
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/frame"
	"github.com/laned/laned/internal/scheduler"
)

var _ scheduler.FrameSource = (*FileSource)(nil)

// FileSource reads frame_%06d.jpg files from a directory in index order.
// There is no pack library for image codecs (spec.md §9 Design Notes): this
// is the one part of the repository that leans on the standard library's
// image/jpeg package rather than an ecosystem dependency.
type FileSource struct {
	dir   string
	files []string
	next  int
}

// NewFileSource returns a FrameSource rooted at dir. The directory is
// scanned lazily, on Open, so construction cannot fail.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Open implements scheduler.FrameSource. id is accepted for parity with the
// interface (and logged by callers) but unused: the directory is fixed at
// construction.
func (s *FileSource) Open(_ string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return xerrors.Errorf("reading frame directory %q: %w", s.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".jpg" || ext == ".jpeg" {
			s.files = append(s.files, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(s.files)
	return nil
}

// Read implements scheduler.FrameSource.
func (s *FileSource) Read() (*frame.Frame, error) {
	if s.next >= len(s.files) {
		return nil, xerrors.Errorf("%w: %d frames read from %q", scheduler.ErrSourceExhausted, s.next, s.dir)
	}
	path := s.files[s.next]
	idx := s.next
	s.next++

	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("%w: opening %q: %v", scheduler.ErrSourceFailure, path, err)
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, xerrors.Errorf("%w: decoding %q: %v", scheduler.ErrSourceFailure, path, err)
	}

	return &frame.Frame{Index: idx, Buffer: bufferFromImage(img)}, nil
}

// Close implements scheduler.FrameSource.
func (s *FileSource) Close() error { return nil }

func bufferFromImage(img image.Image) *frame.Buffer {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	buf := frame.NewBuffer(width, height, 3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := (y*width + x) * 3
			buf.Pix[i+0] = byte(bl >> 8)
			buf.Pix[i+1] = byte(g >> 8)
			buf.Pix[i+2] = byte(r >> 8)
		}
	}
	return buf
}
