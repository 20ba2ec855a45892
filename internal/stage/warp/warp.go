// Package warp implements the StageInstance variants for the perspective
// warp stage: the first stage every frame passes through.
package warp

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/frame"
	"github.com/laned/laned/internal/stage"
)

var _ stage.Instance = (*instance)(nil)

// instance implements stage.Instance for both backends. RunWarp is the
// stage's single sub-step, so AdvanceWave always signals completion.
type instance struct {
	slot    int
	backend stage.Backend

	fr  *frame.Frame
	in  *frame.Buffer
	out *frame.Buffer
	ran bool
}

// NewCPU returns the CPU-backed Warp stage instance for pipeline slot.
func NewCPU(slot int) stage.Instance { return &instance{slot: slot, backend: stage.CPU} }

// NewCUDA returns the CUDA-backed Warp stage instance for pipeline slot.
func NewCUDA(slot int) stage.Instance { return &instance{slot: slot, backend: stage.CUDA} }

// Bind implements stage.Instance. Warp is the first stage, so its upstream
// output is the raw frame buffer read from the FrameSource rather than
// another stage's handle.
func (in *instance) Bind(_ context.Context, fr *frame.Frame, upstream stage.Output) error {
	buf, ok := upstream.(*frame.Buffer)
	if !ok || buf == nil {
		return xerrors.Errorf("warp: bind: unexpected upstream output type %T", upstream)
	}
	in.fr = fr
	in.in = buf
	in.out = frame.NewBuffer(buf.Width, buf.Height, buf.Channels)
	in.ran = false
	return nil
}

// AdvanceWave implements stage.Instance: RunWarp is the only sub-step, so
// the stage is complete the moment it has run.
func (in *instance) AdvanceWave() []stage.SubStep {
	return nil
}

// Execute implements stage.Instance. It applies a deterministic row
// -dependent horizontal shear as a stand-in for the real perspective
// transform (bird's-eye warp), out of scope per spec.md §1.
func (in *instance) Execute(_ context.Context, step stage.SubStep) error {
	if step != stage.RunWarp {
		return xerrors.Errorf("warp: unknown sub-step %q", step)
	}
	w, h, c := in.in.Width, in.in.Height, in.in.Channels
	for y := 0; y < h; y++ {
		shift := y / 8
		for x := 0; x < w; x++ {
			srcX := (x + shift) % w
			srcOff := (y*w + srcX) * c
			dstOff := (y*w + x) * c
			copy(in.out.Pix[dstOff:dstOff+c], in.in.Pix[srcOff:srcOff+c])
		}
	}
	in.ran = true
	return nil
}

// Output implements stage.Instance.
func (in *instance) Output() stage.Output {
	return in.out
}

// Release implements stage.Instance.
func (in *instance) Release() {
	in.fr = nil
	in.in = nil
	in.out = nil
	in.ran = false
}
