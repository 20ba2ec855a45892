package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/frame"
	"github.com/laned/laned/internal/stage"
	"github.com/laned/laned/internal/stage/fakestage"
)

// sliceSource serves a fixed slice of frames, for tests that need full
// control over ingress without touching the filesystem.
type sliceSource struct {
	frames []*frame.Frame
	next   int
}

func newSliceSource(n int) *sliceSource {
	frames := make([]*frame.Frame, n)
	for i := 0; i < n; i++ {
		frames[i] = &frame.Frame{Index: i, Buffer: frame.NewBuffer(4, 4, 3)}
	}
	return &sliceSource{frames: frames}
}

func (s *sliceSource) Open(string) error { return nil }

func (s *sliceSource) Read() (*frame.Frame, error) {
	if s.next >= len(s.frames) {
		return nil, xerrors.Errorf("%w: %d served", ErrSourceExhausted, s.next)
	}
	fr := s.frames[s.next]
	s.next++
	return fr, nil
}

func (s *sliceSource) Close() error { return nil }

// recordingSink records every Result it is given, guarded by a mutex since
// the Scheduler may call Write from its own goroutine while a test reads
// Results concurrently with a timeout watchdog.
type recordingSink struct {
	mu      sync.Mutex
	results []frame.Result
}

func (s *recordingSink) Open(string) error { return nil }

func (s *recordingSink) Write(r frame.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) snapshot() []frame.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame.Result(nil), s.results...)
}

func fakeInstanceFactory(f *fakestage.Factory, parallel bool) *instanceFactory {
	return &instanceFactory{
		NewWarp:      func(slot int) stage.Instance { return f.New(stage.Warp, slot, parallel) },
		NewThreshold: func(slot int) stage.Instance { return f.New(stage.Threshold, slot, parallel) },
		NewFindLanes: func(slot int) stage.Instance { return f.New(stage.FindLanes, slot, parallel) },
	}
}

func runScheduler(t *testing.T, cfg Config, src FrameSource, sink FrameSink, f *fakestage.Factory) RunSummary {
	t.Helper()
	sched, err := newWithFactory(cfg, src, sink, fakeInstanceFactory(f, cfg.ParallelMode))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary, err := sched.Run(ctx)
	require.NoError(t, err)
	return summary
}

func TestSchedulerEmitsEveryFrame(t *testing.T) {
	const n = 20
	sink := &recordingSink{}
	summary := runScheduler(t, Config{
		ThreadPoolSize: 4,
		PipelineDepth:  3,
		MaxFrames:      -1,
		StrictOrder:    true,
	}, newSliceSource(n), sink, fakestage.NewFactory())

	assert.Equal(t, n, summary.FramesIngested)
	assert.Equal(t, n, summary.FramesEmitted)
	assert.Zero(t, summary.FramesDropped)
	assert.Zero(t, summary.WorkersLost)
	assert.False(t, summary.DrainTimedOut)
	assert.Nil(t, summary.Errors)

	results := sink.snapshot()
	require.Len(t, results, n)
	for i, r := range results {
		assert.Equal(t, i, r.FrameIndex, "strict-order emission must match source order")
	}
}

func TestSchedulerRespectsMaxFrames(t *testing.T) {
	sink := &recordingSink{}
	summary := runScheduler(t, Config{
		ThreadPoolSize: 4,
		PipelineDepth:  2,
		MaxFrames:      5,
		StrictOrder:    true,
	}, newSliceSource(50), sink, fakestage.NewFactory())

	assert.Equal(t, 5, summary.FramesIngested)
	assert.Equal(t, 5, summary.FramesEmitted)
}

func TestSchedulerSingleWorkerStillDrains(t *testing.T) {
	const n = 10
	sink := &recordingSink{}
	summary := runScheduler(t, Config{
		ThreadPoolSize: 1,
		PipelineDepth:  3,
		MaxFrames:      -1,
		StrictOrder:    true,
	}, newSliceSource(n), sink, fakestage.NewFactory())

	assert.Equal(t, n, summary.FramesEmitted)
}

func TestSchedulerParallelModeRunsThresholdFanOutConcurrently(t *testing.T) {
	f := fakestage.NewFactory()

	var mu sync.Mutex
	inFlightByStep := map[stage.SubStep]int{}
	maxConcurrentSplit := 0

	f.OnBeforeExecute(func(kind stage.Kind, slot int, step stage.SubStep, frameIndex int) {
		if kind != stage.Threshold {
			return
		}
		mu.Lock()
		inFlightByStep[step]++
		concurrent := inFlightByStep[stage.SplitBGR] + inFlightByStep[stage.SplitHLS]
		if step == stage.SplitHLS && concurrent > maxConcurrentSplit {
			maxConcurrentSplit = concurrent
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
	})
	f.OnAfterExecute(func(kind stage.Kind, slot int, step stage.SubStep, frameIndex int) {
		if kind != stage.Threshold {
			return
		}
		mu.Lock()
		inFlightByStep[step]--
		mu.Unlock()
	})

	sink := &recordingSink{}
	summary := runScheduler(t, Config{
		ThreadPoolSize: 4,
		PipelineDepth:  2,
		MaxFrames:      -1,
		StrictOrder:    true,
		ParallelMode:   true,
	}, newSliceSource(6), sink, f)

	assert.Equal(t, 6, summary.FramesEmitted)
	assert.GreaterOrEqual(t, maxConcurrentSplit, 2,
		"parallel mode should run SplitBGR and SplitHLS concurrently within a wave")
}

func TestSchedulerSkipLateModeDropsStaleFrame(t *testing.T) {
	f := fakestage.NewFactory()

	// Frame 0 is artificially slow through Warp; skip-late mode must not
	// block emission of later frames behind it, and once nextEmit has moved
	// past frame 0 it must be dropped rather than emitted out of order.
	released := make(chan struct{})
	f.OnBeforeExecute(func(kind stage.Kind, slot int, step stage.SubStep, frameIndex int) {
		if kind == stage.Warp && step == stage.RunWarp && frameIndex == 0 {
			<-released
		}
	})

	sink := &recordingSink{}
	cfg := Config{
		ThreadPoolSize: 4,
		PipelineDepth:  4,
		MaxFrames:      -1,
		StrictOrder:    false,
	}
	sched, err := newWithFactory(cfg, newSliceSource(4), sink, fakeInstanceFactory(f, false))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type outcome struct {
		summary RunSummary
		err     error
	}
	runDone := make(chan outcome, 1)
	go func() {
		summary, runErr := sched.Run(ctx)
		runDone <- outcome{summary: summary, err: runErr}
	}()

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 3
	}, 2*time.Second, 10*time.Millisecond, "frames 1..3 should emit while frame 0 is stalled")

	close(released)
	out := <-runDone
	require.NoError(t, out.err)
	summary := out.summary

	assert.Equal(t, 3, summary.FramesEmitted, "frames 1..3 emit normally")
	assert.Equal(t, 1, summary.FramesDropped, "the stalled frame 0 arrives after nextEmit has passed it and is dropped")

	results := sink.snapshot()
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i+1, r.FrameIndex, "emitted frames must stay in non-decreasing source order")
	}
}
