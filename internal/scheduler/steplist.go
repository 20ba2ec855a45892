package scheduler

import (
	"strings"

	"github.com/laned/laned/internal/stage"
)

// stepState is the state of one sub-step within a StepList (spec.md §3
// invariant 5: Initialized -> Running -> Completed, monotonic).
type stepState int

const (
	stepInitialized stepState = iota
	stepRunning
	stepCompleted
)

func (s stepState) String() string {
	switch s {
	case stepInitialized:
		return "initialized"
	case stepRunning:
		return "running"
	case stepCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

type stepEntry struct {
	step  stage.SubStep
	state stepState
}

// stepList is an insertion-ordered set of (sub-step, state) pairs, unique
// on sub-step (spec.md §4.4). Traversal order is the order sub-steps were
// first added, which the Scheduler relies on to deterministically pick
// which Initialized step to dispatch first.
type stepList struct {
	entries []stepEntry
	index   map[stage.SubStep]int
}

func newStepList() *stepList {
	return &stepList{index: make(map[stage.SubStep]int)}
}

// add appends step with the given state if not already present, or updates
// its state in place otherwise.
func (l *stepList) add(step stage.SubStep, state stepState) {
	if i, ok := l.index[step]; ok {
		l.entries[i].state = state
		return
	}
	l.index[step] = len(l.entries)
	l.entries = append(l.entries, stepEntry{step: step, state: state})
}

// setState updates the state of an already-present step. It is a no-op if
// the step is not in the list.
func (l *stepList) setState(step stage.SubStep, state stepState) {
	if i, ok := l.index[step]; ok {
		l.entries[i].state = state
	}
}

// removeCompleted drops every Completed entry from the list.
func (l *stepList) removeCompleted() {
	kept := l.entries[:0]
	newIndex := make(map[stage.SubStep]int, len(l.index))
	for _, e := range l.entries {
		if e.state == stepCompleted {
			continue
		}
		newIndex[e.step] = len(kept)
		kept = append(kept, e)
	}
	l.entries = kept
	l.index = newIndex
}

// isDone reports whether every remaining entry is Completed. An empty list
// is considered done trivially but callers generally check isEmpty first
// since "done" and "idle" carry different meaning to the Scheduler.
func (l *stepList) isDone() bool {
	for _, e := range l.entries {
		if e.state != stepCompleted {
			return false
		}
	}
	return true
}

// isEmpty reports whether the list has no entries at all.
func (l *stepList) isEmpty() bool {
	return len(l.entries) == 0
}

// initialized returns the sub-steps currently Initialized, in insertion
// order.
func (l *stepList) initialized() []stage.SubStep {
	var out []stage.SubStep
	for _, e := range l.entries {
		if e.state == stepInitialized {
			out = append(out, e.step)
		}
	}
	return out
}

// clone returns a deep copy whose entries and index are independent of l.
// The Scheduler's drive() takes no snapshot; a stage whose downstream pool
// is full is parked in a backlog instead.
func (l *stepList) clone() *stepList {
	cp := &stepList{
		entries: append([]stepEntry(nil), l.entries...),
		index:   make(map[stage.SubStep]int, len(l.index)),
	}
	for k, v := range l.index {
		cp.index[k] = v
	}
	return cp
}

// dump renders a diagnostic, human-readable summary for logging.
func (l *stepList) dump() string {
	var sb strings.Builder
	for i, e := range l.entries {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(string(e.step))
		sb.WriteByte(':')
		sb.WriteString(e.state.String())
	}
	return sb.String()
}
