package scheduler

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// worker is the goroutine side of a Worker (spec.md §4.1): it owns no
// pipeline state of its own and exists only to run one sub-step at a time
// and report the outcome back to the Scheduler's inbound channel. This
// mirrors bspgraph's stepWorker goroutines, which likewise do nothing but
// pull a unit of work, execute it, and push a completion message back.
type worker struct {
	id      int
	inbox   chan workerMsg
	toSched chan<- schedulerMsg
	log     *logrus.Entry
}

func newWorker(id int, toSched chan<- schedulerMsg, log *logrus.Entry) *worker {
	return &worker{
		id:      id,
		inbox:   make(chan workerMsg, 1),
		toSched: toSched,
		log:     log.WithField("worker", id),
	}
}

// run is the worker's goroutine body. It exits on workerStopMsg or if ctx is
// cancelled; an unexpected panic while executing a sub-step is converted
// into a workerFatalMsg instead of crashing the process, since a single bad
// frame must not take down the whole scheduler.
func (w *worker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			select {
			case w.toSched <- workerFatalMsg{workerID: w.id, err: xerrors.Errorf("worker panic: %v", r)}:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.inbox:
			switch m := msg.(type) {
			case workerStopMsg:
				return
			case runMsg:
				w.execute(ctx, m)
			}
		}
	}
}

func (w *worker) execute(ctx context.Context, m runMsg) {
	var stageErr *StageError
	if err := m.instance.Execute(ctx, m.subStep); err != nil {
		w.log.WithFields(logrus.Fields{
			"stage":    m.kind,
			"slot":     m.slot,
			"sub_step": m.subStep,
		}).WithError(err).Warn("sub-step failed")
		stageErr = &StageError{Stage: m.kind, SubStep: m.subStep, Recoverable: true, Err: err}
	}

	complete := completeStepMsg{
		kind:     m.kind,
		slot:     m.slot,
		subStep:  m.subStep,
		workerID: w.id,
		err:      stageErr,
	}
	select {
	case w.toSched <- complete:
	case <-ctx.Done():
	}
}
