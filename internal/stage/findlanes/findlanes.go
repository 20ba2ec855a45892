// Package findlanes implements the FindLanes stage: a single opaque
// sub-step group (spec.md §3) that fits a lane curve to a binary threshold
// mask and derives a steering angle from it.
//
// Unlike Warp and Threshold, FindLanes is not backend-tagged in the source
// program (original_source/src/main.cpp instantiates ThreadManager with a
// CUDA Warp/ColorGradThresh pair but always the same FindLanes type), so
// there is a single implementation here rather than CPU/CUDA variants.
package findlanes

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/frame"
	"github.com/laned/laned/internal/stage"
)

// minPeakStrength is the minimum column-histogram weight a lane peak must
// carry before a frame counts as a successful detection.
const minPeakStrength = 8

// History carries the lane positions detected in the last successfully
// processed frame forward into the next FindLanes bind. Per spec.md §11 it
// is process-local only: it is never persisted across a scheduler restart.
type History struct {
	LeftX, RightX float64
	Initialized   bool
}

// Instance extends stage.Instance with the FindLanes-specific hand-off the
// Scheduler needs: feeding in the carried-forward lane history before Bind,
// and reading back the detection result and updated history after the
// stage completes. FindLanes has no CUDA/CPU tagged union (see package
// doc), so the Scheduler is free to hold a slice of this richer interface
// directly instead of the narrower stage.Instance.
type Instance interface {
	stage.Instance

	// SetHistory primes the instance with the lane history carried
	// forward from the last successful detection. Must be called before
	// Bind.
	SetHistory(h History)

	// Result returns the detection outcome of the last completed Execute.
	Result() frame.Result

	// History returns the (possibly updated) lane history after Execute
	// has run; unchanged from the value passed to SetHistory when
	// detection failed.
	History() History
}

var _ Instance = (*instance)(nil)

type instance struct {
	slot  int
	speed float64

	fr      *frame.Frame
	mask    *frame.Buffer
	history History
	result  frame.Result
}

// New returns a FindLanes stage instance for pipeline slot. speed is
// forwarded from configuration and used to scale the derived steering
// angle, mirroring the external "speed" option of spec.md §6.
func New(slot int, speed float64) Instance {
	return &instance{slot: slot, speed: speed}
}

// SetHistory implements Instance.
func (in *instance) SetHistory(h History) { in.history = h }

// Bind implements stage.Instance.
func (in *instance) Bind(_ context.Context, fr *frame.Frame, upstream stage.Output) error {
	buf, ok := upstream.(*frame.Buffer)
	if !ok || buf == nil {
		return xerrors.Errorf("findlanes: bind: unexpected upstream output type %T", upstream)
	}
	in.fr = fr
	in.mask = buf
	in.result = frame.Result{}
	return nil
}

// AdvanceWave implements stage.Instance: RunFindLanes is the stage's only
// sub-step, so completion of the initial wave ends the stage.
func (in *instance) AdvanceWave() []stage.SubStep { return nil }

// Execute implements stage.Instance. It builds a column histogram of the
// bottom half of the mask, locates the strongest peak on each half of the
// frame as the left/right lane markers, and derives a steering angle from
// how far their midpoint sits from the frame center.
func (in *instance) Execute(_ context.Context, step stage.SubStep) error {
	if step != stage.RunFindLanes {
		return xerrors.Errorf("findlanes: unknown sub-step %q", step)
	}

	w, h := in.mask.Width, in.mask.Height
	hist := make([]int, w)
	for y := h / 2; y < h; y++ {
		for x := 0; x < w; x++ {
			if in.mask.Pix[y*w+x] != 0 {
				hist[x]++
			}
		}
	}

	mid := w / 2
	leftX, leftPeak := peak(hist[:mid], 0)
	rightX, rightPeak := peak(hist[mid:], mid)

	annotated := in.mask.Clone()
	detected := leftPeak >= minPeakStrength && rightPeak >= minPeakStrength

	if detected {
		in.history = History{LeftX: float64(leftX), RightX: float64(rightX), Initialized: true}
	}

	var angle float64
	if in.history.Initialized {
		laneCenter := (in.history.LeftX + in.history.RightX) / 2
		frameCenter := float64(w) / 2
		offset := laneCenter - frameCenter
		angle = offset / frameCenter * in.speedGain()
	}

	in.result = frame.Result{
		FrameIndex:    in.fr.Index,
		Annotated:     annotated,
		SteeringAngle: angle,
		Detected:      detected,
	}
	return nil
}

// speedGain scales the steering angle inversely with speed: the faster the
// vehicle, the gentler the corrective angle for the same lateral offset.
func (in *instance) speedGain() float64 {
	if in.speed <= 0 {
		return 1
	}
	return 1000 / in.speed
}

func peak(hist []int, offset int) (x int, strength int) {
	for i, v := range hist {
		if v > strength {
			strength = v
			x = i + offset
		}
	}
	return x, strength
}

// Output implements stage.Instance. FindLanes is the last stage; its
// output handle carries the frame.Result the Scheduler hands to the sink.
func (in *instance) Output() stage.Output {
	return in.result
}

// Result implements Instance.
func (in *instance) Result() frame.Result { return in.result }

// History implements Instance.
func (in *instance) History() History { return in.history }

// Release implements stage.Instance.
func (in *instance) Release() {
	in.fr = nil
	in.mask = nil
	in.result = frame.Result{}
}
