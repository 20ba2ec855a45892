package video

import (
	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/frame"
	"github.com/laned/laned/internal/scheduler"
)

var (
	_ scheduler.FrameSource = (*MemorySource)(nil)
	_ scheduler.FrameSink   = (*MemorySink)(nil)
)

// MemorySource serves a fixed, pre-built slice of Frames. It exists for
// tests that need a deterministic, in-process FrameSource without touching
// the filesystem.
type MemorySource struct {
	Frames []*frame.Frame
	next   int
}

// NewMemorySource returns a MemorySource over width x height x 3 blank
// frames, count of them.
func NewMemorySource(count, width, height int) *MemorySource {
	frames := make([]*frame.Frame, count)
	for i := 0; i < count; i++ {
		frames[i] = &frame.Frame{Index: i, Buffer: frame.NewBuffer(width, height, 3)}
	}
	return &MemorySource{Frames: frames}
}

// Open implements scheduler.FrameSource.
func (m *MemorySource) Open(string) error { return nil }

// Read implements scheduler.FrameSource.
func (m *MemorySource) Read() (*frame.Frame, error) {
	if m.next >= len(m.Frames) {
		return nil, xerrors.Errorf("%w: %d frames read", scheduler.ErrSourceExhausted, m.next)
	}
	fr := m.Frames[m.next]
	m.next++
	return fr, nil
}

// Close implements scheduler.FrameSource.
func (m *MemorySource) Close() error { return nil }

// MemorySink records every frame.Result it is given, in the order Write was
// called, for test assertions.
type MemorySink struct {
	Results []frame.Result
	opened  bool
	closed  bool
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Open implements scheduler.FrameSink.
func (m *MemorySink) Open(string) error { m.opened = true; return nil }

// Write implements scheduler.FrameSink.
func (m *MemorySink) Write(r frame.Result) error {
	m.Results = append(m.Results, r)
	return nil
}

// Close implements scheduler.FrameSink.
func (m *MemorySink) Close() error { m.closed = true; return nil }
