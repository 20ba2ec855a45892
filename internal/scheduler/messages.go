package scheduler

import "github.com/laned/laned/internal/stage"

// schedulerMsg is the closed set of messages the Scheduler's message loop
// consumes (spec.md §4.3).
type schedulerMsg interface {
	isSchedulerMsg()
}

// startMsg is acknowledged by sending nil on done. Run itself opens the
// source/sink and begins ingress; handling startMsg does neither.
type startMsg struct {
	done chan error
}

func (startMsg) isSchedulerMsg() {}

// completeStepMsg reports that a worker finished executing one sub-step on
// one stage instance.
type completeStepMsg struct {
	kind     stage.Kind
	slot     int
	subStep  stage.SubStep
	workerID int
	err      *StageError
}

func (completeStepMsg) isSchedulerMsg() {}

// workerFatalMsg reports that a worker goroutine is exiting unexpectedly.
type workerFatalMsg struct {
	workerID int
	err      error
}

func (workerFatalMsg) isSchedulerMsg() {}

// pokeMsg is a no-op trigger that re-enters drive logic for any stage left
// with a pending flag set. Coalesced: at most one outstanding Poke may be
// queued at a time (spec.md §5).
type pokeMsg struct{}

func (pokeMsg) isSchedulerMsg() {}

// stopMsg requests a drained shutdown; done receives the final RunSummary
// and is closed once the Scheduler has finished (or timed out) draining.
// Workers are stopped when Run returns, after done is closed.
type stopMsg struct {
	done chan RunSummary
}

func (stopMsg) isSchedulerMsg() {}

// workerMsg is what the Scheduler sends to a Worker's inbound channel.
type workerMsg interface {
	isWorkerMsg()
}

// runMsg asks a worker to execute one sub-step on one stage instance.
type runMsg struct {
	kind     stage.Kind
	slot     int
	instance stage.Instance
	subStep  stage.SubStep
}

func (runMsg) isWorkerMsg() {}

// workerStopMsg asks a worker to exit after its current Execute call (if
// any) returns.
type workerStopMsg struct{}

func (workerStopMsg) isWorkerMsg() {}
