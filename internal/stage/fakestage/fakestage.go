// Package fakestage provides a deterministic StageInstance double that just
// copies its input to its output, for exercising the scheduler's
// correctness independently of the real image kernels (spec.md §8: "mocked
// stages that just copy input to output").
package fakestage

import (
	"context"
	"sync"

	"github.com/laned/laned/internal/frame"
	"github.com/laned/laned/internal/stage"
	"github.com/laned/laned/internal/stage/findlanes"
)

// Hook lets a test observe or delay a sub-step's execution. frameIndex is
// the index of the frame currently bound to the instance, which is more
// useful than slot for identifying a specific frame across stages since a
// frame's slot changes at every stage hand-off.
type Hook func(kind stage.Kind, slot int, step stage.SubStep, frameIndex int)

// Factory builds a stage.Instance for the given kind, slot and mode. Tests
// use it to wire up a full three-stage scheduler with instrumented fakes.
type Factory struct {
	mu        sync.Mutex
	preHooks  []Hook
	postHooks []Hook
}

// NewFactory returns a Factory with no hooks installed.
func NewFactory() *Factory { return &Factory{} }

// OnBeforeExecute registers a hook invoked synchronously just before a
// sub-step runs, on the Worker goroutine executing it.
func (f *Factory) OnBeforeExecute(h Hook) {
	f.mu.Lock()
	f.preHooks = append(f.preHooks, h)
	f.mu.Unlock()
}

// OnAfterExecute registers a hook invoked synchronously just after a
// sub-step completes, on the Worker goroutine executing it.
func (f *Factory) OnAfterExecute(h Hook) {
	f.mu.Lock()
	f.postHooks = append(f.postHooks, h)
	f.mu.Unlock()
}

// New returns a new instance for the given stage kind, pipeline slot and
// Threshold parallel-mode flag (ignored for Warp/FindLanes).
func (f *Factory) New(kind stage.Kind, slot int, parallel bool) stage.Instance {
	return &instance{f: f, kind: kind, slot: slot, parallel: parallel}
}

var (
	_ stage.Instance     = (*instance)(nil)
	_ findlanes.Instance = (*instance)(nil)
)

type instance struct {
	f        *Factory
	kind     stage.Kind
	slot     int
	parallel bool

	fr       *frame.Frame
	upstream stage.Output
	waveIdx  int

	history findlanes.History
	result  frame.Result
}

// SetHistory implements findlanes.Instance. Only meaningful when kind is
// stage.FindLanes; the Scheduler only calls it on such instances.
func (in *instance) SetHistory(h findlanes.History) { in.history = h }

// Result implements findlanes.Instance.
func (in *instance) Result() frame.Result { return in.result }

// History implements findlanes.Instance.
func (in *instance) History() findlanes.History { return in.history }

func (in *instance) Bind(_ context.Context, fr *frame.Frame, upstream stage.Output) error {
	in.fr = fr
	in.upstream = upstream
	in.waveIdx = 0
	in.result = frame.Result{}
	return nil
}

func (in *instance) AdvanceWave() []stage.SubStep {
	waves := testWaves(in.kind, in.parallel)
	in.waveIdx++
	if in.waveIdx >= len(waves) {
		return nil
	}
	return waves[in.waveIdx]
}

func (in *instance) Execute(_ context.Context, step stage.SubStep) error {
	in.f.mu.Lock()
	pre := append([]Hook(nil), in.f.preHooks...)
	post := append([]Hook(nil), in.f.postHooks...)
	in.f.mu.Unlock()

	frameIndex := -1
	if in.fr != nil {
		frameIndex = in.fr.Index
	}
	for _, h := range pre {
		h(in.kind, in.slot, step, frameIndex)
	}
	for _, h := range post {
		h(in.kind, in.slot, step, frameIndex)
	}

	if in.kind == stage.FindLanes {
		buf, _ := in.upstream.(*frame.Buffer)
		in.result = frame.Result{
			FrameIndex:    in.fr.Index,
			Annotated:     buf,
			SteeringAngle: float64(in.slot),
			Detected:      true,
		}
	}
	return nil
}

func (in *instance) Output() stage.Output {
	// Copy-through: downstream sees whatever this instance was bound with,
	// matching spec.md §8's "copy input to output" fake semantics.
	if buf, ok := in.upstream.(*frame.Buffer); ok {
		return buf
	}
	return in.upstream
}

func (in *instance) Release() {
	in.fr = nil
	in.upstream = nil
	in.waveIdx = 0
}

// testWaves returns the same wave shapes as the real stage packages so the
// scheduler exercises identical dispatch/dependency logic against the fake.
func testWaves(kind stage.Kind, parallel bool) [][]stage.SubStep {
	switch kind {
	case stage.Warp:
		return [][]stage.SubStep{{stage.RunWarp}}
	case stage.Threshold:
		if parallel {
			return [][]stage.SubStep{
				{stage.SplitBGR, stage.SplitHLS},
				{stage.ThreshRed, stage.ThreshSat, stage.SobelX},
				{stage.ThreshSobelX},
				{stage.CombineThresh},
			}
		}
		return [][]stage.SubStep{
			{stage.SplitBGR}, {stage.ThreshRed}, {stage.SplitHLS},
			{stage.ThreshSat}, {stage.SobelX}, {stage.ThreshSobelX}, {stage.CombineThresh},
		}
	case stage.FindLanes:
		return [][]stage.SubStep{{stage.RunFindLanes}}
	default:
		return nil
	}
}
