// Package stage defines the external interface the scheduler sees for a
// stage instance, and the closed set of stage kinds / sub-steps / backends
// the rest of the repository is built around.
package stage

import (
	"context"
	"fmt"

	"github.com/laned/laned/internal/frame"
)

// Kind identifies one of the three stages in the fixed linear succession
// Warp -> Threshold -> FindLanes.
type Kind int

const (
	Warp Kind = iota
	Threshold
	FindLanes
)

// numKinds is the size of the fixed stage succession.
const numKinds = 3

func (k Kind) String() string {
	switch k {
	case Warp:
		return "warp"
	case Threshold:
		return "threshold"
	case FindLanes:
		return "find_lanes"
	default:
		return fmt.Sprintf("stage(%d)", int(k))
	}
}

// Next returns the stage that follows k and true, or Kind(0) and false if k
// is the last stage in the succession.
func (k Kind) Next() (Kind, bool) {
	if k == FindLanes {
		return 0, false
	}
	return k + 1, true
}

// SubStep is a stage-local unit of work a Worker executes in one message.
type SubStep string

// The full sub-step catalog, by stage (spec.md §3).
const (
	RunWarp SubStep = "RunWarp"

	SplitBGR      SubStep = "SplitBGR"
	ThreshRed     SubStep = "ThreshRed"
	SplitHLS      SubStep = "SplitHLS"
	ThreshSat     SubStep = "ThreshSat"
	SobelX        SubStep = "SobelX"
	ThreshSobelX  SubStep = "ThreshSobelX"
	CombineThresh SubStep = "CombineThresh"

	RunFindLanes SubStep = "RunFindLanes"
)

// Backend selects the closed tagged union of stage implementations (spec.md
// §9.1): the scheduler never downcasts between them, it just asks a stage
// package for the constructor matching the configured backend.
type Backend int

const (
	CPU Backend = iota
	CUDA
)

func (b Backend) String() string {
	if b == CUDA {
		return "cuda"
	}
	return "cpu"
}

// Output is the opaque handle a stage instance passes to the downstream
// stage's Bind call. Its concrete type is only known to the pair of stages
// on either side of the hand-off.
type Output interface{}

// Instance is the external interface the Scheduler sees for one
// (StageKind, pipeline slot) pair (spec.md §4.2). A StageInstance holds the
// state of at most one frame at a time.
type Instance interface {
	// Bind attaches a frame (and the upstream stage's output handle) to
	// this instance and resets it to the initial wave for its configured
	// mode.
	Bind(ctx context.Context, fr *frame.Frame, upstream Output) error

	// Execute runs a single sub-step to completion. It is safe to call
	// concurrently with Execute calls for other sub-steps of the same
	// instance only when the current wave groups them together; it is
	// always safe across different instances.
	Execute(ctx context.Context, step SubStep) error

	// AdvanceWave computes the next wave of sub-steps once the current one
	// is done and returns it as a freshly Initialized set. It returns nil
	// when there is no further wave, i.e. the stage is complete for the
	// bound frame.
	AdvanceWave() []SubStep

	// Output produces the opaque handle the downstream stage needs.
	Output() Output

	// Release drops the frame binding so the instance can be reused.
	Release()
}

// InitialWave returns the Initialized sub-step set a freshly Bind-ed
// instance starts with, given its stage kind and whether parallel mode is
// enabled (only meaningful for Threshold).
func InitialWave(kind Kind, parallel bool) []SubStep {
	switch kind {
	case Warp:
		return []SubStep{RunWarp}
	case Threshold:
		if parallel {
			return []SubStep{SplitBGR, SplitHLS}
		}
		return []SubStep{SplitBGR}
	case FindLanes:
		return []SubStep{RunFindLanes}
	default:
		return nil
	}
}
