// Package threshold implements the StageInstance variants for the combined
// color/gradient thresholding stage. Sub-step arithmetic is deliberately
// small and dependency-free: the image kernels themselves are out of scope
// for the scheduler this repository exists to demonstrate (spec.md §1), but
// real per-sub-step buffer work keeps the end-to-end tests honest about
// wave ordering and data dependencies instead of exercising pure no-ops.
package threshold

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/frame"
	"github.com/laned/laned/internal/stage"
)

const (
	redThresh    = 180
	satThresh    = 110
	sobelThresh  = 35
	channelCount = 3
)

var _ stage.Instance = (*instance)(nil)

// instance implements stage.Instance for both the CPU and CUDA backends;
// the two only differ in the backend value they record, since the actual
// kernels are stand-ins for the out-of-scope OpenCV/CUDA ones.
type instance struct {
	slot     int
	backend  stage.Backend
	parallel bool

	fr       *frame.Frame
	upstream *frame.Buffer // Warp's output: a 3-channel BGR buffer
	waveIdx  int

	rChan, gChan, bChan         []byte
	lChan, sChan                []byte
	redMask, satMask, sobelMask []byte
	combined                    []byte
}

// NewCPU returns the CPU-backed Threshold stage instance for pipeline slot.
func NewCPU(slot int, parallel bool) stage.Instance {
	return &instance{slot: slot, backend: stage.CPU, parallel: parallel}
}

// NewCUDA returns the CUDA-backed Threshold stage instance for pipeline slot.
func NewCUDA(slot int, parallel bool) stage.Instance {
	return &instance{slot: slot, backend: stage.CUDA, parallel: parallel}
}

// Bind implements stage.Instance.
func (in *instance) Bind(_ context.Context, fr *frame.Frame, upstream stage.Output) error {
	buf, ok := upstream.(*frame.Buffer)
	if !ok || buf == nil {
		return xerrors.Errorf("threshold: bind: unexpected upstream output type %T", upstream)
	}
	in.fr = fr
	in.upstream = buf
	in.waveIdx = 0

	n := buf.Width * buf.Height
	in.rChan, in.gChan, in.bChan = make([]byte, n), make([]byte, n), make([]byte, n)
	in.lChan, in.sChan = make([]byte, n), make([]byte, n)
	in.redMask, in.satMask, in.sobelMask = make([]byte, n), make([]byte, n), make([]byte, n)
	in.combined = make([]byte, n)
	return nil
}

// AdvanceWave implements stage.Instance.
func (in *instance) AdvanceWave() []stage.SubStep {
	waves := wavesFor(in.parallel)
	in.waveIdx++
	if in.waveIdx >= len(waves) {
		return nil
	}
	return waves[in.waveIdx]
}

// Execute implements stage.Instance.
func (in *instance) Execute(_ context.Context, step stage.SubStep) error {
	buf := in.upstream
	w, h := buf.Width, buf.Height

	switch step {
	case stage.SplitBGR:
		for i := 0; i < w*h; i++ {
			off := i * channelCount
			in.bChan[i] = buf.Pix[off]
			in.gChan[i] = buf.Pix[off+1]
			in.rChan[i] = buf.Pix[off+2]
		}
	case stage.ThreshRed:
		for i, r := range in.rChan {
			if r > redThresh {
				in.redMask[i] = 255
			}
		}
	case stage.SplitHLS:
		// Reads buf.Pix directly, the same raw upstream SplitBGR reads,
		// rather than SplitBGR's split-out channels: HLS conversion is an
		// independent view of the same BGR pixels, not a consumer of
		// SplitBGR's output, so it must not depend on SplitBGR completing
		// first (spec.md §4.3).
		for i := 0; i < w*h; i++ {
			off := i * channelCount
			b, g, r := buf.Pix[off], buf.Pix[off+1], buf.Pix[off+2]
			maxC, minC := maxByte(r, g, b), minByte(r, g, b)
			l := (int(maxC) + int(minC)) / 2
			in.lChan[i] = byte(l)

			var s int
			if maxC != minC {
				sum := int(maxC) + int(minC)
				if l <= 127 {
					s = (int(maxC) - int(minC)) * 255 / sum
				} else {
					s = (int(maxC) - int(minC)) * 255 / (510 - sum)
				}
			}
			in.sChan[i] = byte(clampInt(s, 0, 255))
		}
	case stage.ThreshSat:
		for i, s := range in.sChan {
			if s > satThresh {
				in.satMask[i] = 255
			}
		}
	case stage.SobelX:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				if x == 0 || x == w-1 {
					continue
				}
				grad := int(in.lChan[i+1]) - int(in.lChan[i-1])
				if grad < 0 {
					grad = -grad
				}
				// Reuse sobelMask as scratch storage for the raw
				// gradient magnitude; ThreshSobelX thresholds it in
				// place into the final mask.
				in.sobelMask[i] = byte(clampInt(grad, 0, 255))
			}
		}
	case stage.ThreshSobelX:
		for i, g := range in.sobelMask {
			if g > sobelThresh {
				in.sobelMask[i] = 255
			} else {
				in.sobelMask[i] = 0
			}
		}
	case stage.CombineThresh:
		for i := range in.combined {
			if in.redMask[i] != 0 || in.satMask[i] != 0 || in.sobelMask[i] != 0 {
				in.combined[i] = 255
			}
		}
	default:
		return xerrors.Errorf("threshold: unknown sub-step %q", step)
	}
	return nil
}

// Output implements stage.Instance.
func (in *instance) Output() stage.Output {
	return &frame.Buffer{
		Width:    in.upstream.Width,
		Height:   in.upstream.Height,
		Channels: 1,
		Pix:      in.combined,
	}
}

// Release implements stage.Instance.
func (in *instance) Release() {
	in.fr = nil
	in.upstream = nil
	in.waveIdx = 0
	in.rChan, in.gChan, in.bChan = nil, nil, nil
	in.lChan, in.sChan = nil, nil
	in.redMask, in.satMask, in.sobelMask = nil, nil, nil
	in.combined = nil
}

func maxByte(vs ...byte) byte {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minByte(vs ...byte) byte {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
