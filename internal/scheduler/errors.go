package scheduler

import (
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/stage"
)

// Sentinel errors, per spec.md §7.
var (
	// ErrSourceExhausted is a normal termination condition: the
	// FrameSource has no more frames to give.
	ErrSourceExhausted = xerrors.New("frame source exhausted")

	// ErrSourceFailure is fatal: the source could not be opened or failed
	// mid-stream for a reason other than exhaustion.
	ErrSourceFailure = xerrors.New("frame source failure")

	// ErrDrainTimeout is a warning-only condition: Stop's bounded drain
	// did not observe completion of every in-flight frame before its
	// poll budget ran out. It is recorded in RunSummary.Errors, not
	// returned as Run's error.
	ErrDrainTimeout = xerrors.New("drain timed out")

	// ErrNoWorkersLeft is fatal: every worker has exited via WorkerFatal
	// and the pool is empty.
	ErrNoWorkersLeft = xerrors.New("worker pool is empty")
)

// StageError reports a sub-step failure (spec.md §7). Recoverable failures
// cause the Scheduler to abandon just the affected frame; non-recoverable
// ones initiate shutdown.
type StageError struct {
	Stage       stage.Kind
	SubStep     stage.SubStep
	Recoverable bool
	Err         error
}

func (e *StageError) Error() string {
	return xerrors.Errorf("stage %s sub-step %s failed: %w", e.Stage, e.SubStep, e.Err).Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// RunSummary is the user-visible failure/success summary a Scheduler
// produces on shutdown (spec.md §7), and what internal/statsstore persists
// when a stats store is configured.
type RunSummary struct {
	RunID          uuid.UUID
	FramesIngested int
	FramesEmitted  int
	FramesDropped  int
	WorkersLost    int
	DrainTimedOut  bool
	Errors         error
}

func (s *RunSummary) appendError(err error) {
	if err == nil {
		return
	}
	s.Errors = multierror.Append(s.Errors, err)
}
