// Package frame defines the opaque frame buffer that flows through the
// pipelined stage scheduler.
package frame

import "time"

// Buffer is a minimal in-process stand-in for a decoded video frame. It
// stores BGR pixel data in the same row-major, channel-interleaved layout
// OpenCV's cv::Mat uses, so stage kernels can be swapped out for real
// implementations without changing the scheduler-facing shape.
type Buffer struct {
	Width  int
	Height int
	// Channels is the number of bytes per pixel. 3 for BGR frames, 1 for
	// the single-channel masks produced by the Threshold stage.
	Channels int
	Pix      []byte
}

// NewBuffer allocates a zeroed buffer of the given dimensions.
func NewBuffer(width, height, channels int) *Buffer {
	return &Buffer{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]byte, width*height*channels),
	}
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	cp := &Buffer{Width: b.Width, Height: b.Height, Channels: b.Channels}
	cp.Pix = make([]byte, len(b.Pix))
	copy(cp.Pix, b.Pix)
	return cp
}

// At returns the byte offset of pixel (x, y) within Pix.
func (b *Buffer) At(x, y int) int {
	return (y*b.Width + x) * b.Channels
}

// Frame is the unit of work that the scheduler ingresses from a FrameSource
// and, after annotation, hands off to a FrameSink.
type Frame struct {
	// Index is the monotonically increasing, 0-based position assigned by
	// the scheduler's ingress. It never changes once assigned.
	Index int
	// StartTime is the wall-clock moment the frame was admitted into the
	// pipeline, sourced from the scheduler's configured clock.
	StartTime time.Time
	// Buffer holds the raw pixel data read from the source.
	Buffer *Buffer
}

// Result is what the FindLanes stage hands to the sink: the annotated frame
// plus the steering angle computed (or carried forward) for it.
type Result struct {
	FrameIndex    int
	Annotated     *Buffer
	SteeringAngle float64
	// Detected is false when the FindLanes stage could not find lane
	// markings in this frame and the emitted angle/history were carried
	// forward from the last successful detection.
	Detected bool
}
