// Package scheduler implements the pipelined stage scheduler: one Scheduler
// goroutine drives a fixed pool of Worker goroutines across three leased
// StageInstance pools (Warp, Threshold, FindLanes), generalizing bspgraph's
// superstep model into continuous per-stage waves over many concurrently
// in-flight frames (spec.md §2-§5).
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/frame"
	"github.com/laned/laned/internal/stage"
	"github.com/laned/laned/internal/stage/findlanes"
	"github.com/laned/laned/internal/stage/threshold"
	"github.com/laned/laned/internal/stage/warp"
)

// instanceFactory builds the three leased StageInstance pools for a run.
// Kept as a field (rather than hard-wired into New) so tests can substitute
// fakestage.Factory without the Scheduler knowing the difference.
type instanceFactory struct {
	NewWarp      func(slot int) stage.Instance
	NewThreshold func(slot int) stage.Instance
	NewFindLanes func(slot int) stage.Instance
}

func defaultFactory(cfg Config) instanceFactory {
	if cfg.Backend == stage.CUDA {
		return instanceFactory{
			NewWarp:      warp.NewCUDA,
			NewThreshold: func(slot int) stage.Instance { return threshold.NewCUDA(slot, cfg.ParallelMode) },
			NewFindLanes: func(slot int) stage.Instance { return findlanes.New(slot, cfg.Speed) },
		}
	}
	return instanceFactory{
		NewWarp:      warp.NewCPU,
		NewThreshold: func(slot int) stage.Instance { return threshold.NewCPU(slot, cfg.ParallelMode) },
		NewFindLanes: func(slot int) stage.Instance { return findlanes.New(slot, cfg.Speed) },
	}
}

// pipelineSlot is one leased StageInstance plus the bookkeeping the
// Scheduler needs to drive it: which frame it holds (if any) and the
// StepList tracking the current wave (spec.md §4.2, §4.4).
type pipelineSlot struct {
	inst  stage.Instance
	fr    *frame.Frame
	steps *stepList
	busy  bool
}

// Scheduler is the single goroutine that owns all pipeline state. Every
// field below is only ever touched from the goroutine running Run; workers
// and external callers communicate with it exclusively via inbox/pokeCh
// (spec.md §2: "no shared mutable state besides the StageInstance lease").
type Scheduler struct {
	cfg   Config
	src   FrameSource
	sink  FrameSink
	runID uuid.UUID
	log   *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	inbox  chan schedulerMsg
	pokeCh chan struct{}

	workers     []*worker
	freeWorkers []int

	warp   []pipelineSlot
	thresh []pipelineSlot
	find   []pipelineSlot

	freeWarp   []int
	freeThresh []int
	freeFind   []int

	// backlogs hold slots whose StageInstance has finished its frame but
	// found the downstream pool full; they are retried as soon as a
	// downstream slot frees (spec.md §4.3: handoff never blocks the
	// dispatch loop).
	warpToThresh []int
	threshToFind []int

	pendingWarp, pendingThresh, pendingFind bool

	sourceExhausted bool
	frameCnt        int
	inFlight        int

	strictOrder bool
	nextEmit    int
	pendingEmit map[int]frame.Result

	laneHistory findlanes.History
	frameSpans  map[int]opentracing.Span

	stopRequested  bool
	stopDone       chan RunSummary
	drainTimer     <-chan time.Time
	drainPollsLeft int
	drainStart     time.Time

	fatalErr error
	summary  RunSummary
}

// New builds a Scheduler ready to Run. src and sink are opened/closed by
// the Scheduler itself over the lifetime of one run.
func New(cfg Config, src FrameSource, sink FrameSink) (*Scheduler, error) {
	return newWithFactory(cfg, src, sink, nil)
}

// newWithFactory is New with an overridable instanceFactory, so tests can
// substitute fakestage.Factory (copy-through stages) for the real
// warp/threshold/findlanes kernels without the Scheduler knowing the
// difference (spec.md §8). A nil factory selects defaultFactory(cfg).
func newWithFactory(cfg Config, src FrameSource, sink FrameSink, factory *instanceFactory) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid scheduler config: %w", err)
	}

	runID := uuid.New()
	s := &Scheduler{
		cfg:         cfg,
		src:         src,
		sink:        sink,
		runID:       runID,
		log:         cfg.Logger.WithField("run_id", runID),
		inbox:       make(chan schedulerMsg, cfg.ThreadPoolSize*4),
		pokeCh:      make(chan struct{}, 1),
		strictOrder: cfg.StrictOrder,
		pendingEmit: make(map[int]frame.Result),
		frameSpans:  make(map[int]opentracing.Span),
	}

	if factory == nil {
		f := defaultFactory(cfg)
		factory = &f
	}
	s.warp = make([]pipelineSlot, cfg.PipelineDepth)
	s.thresh = make([]pipelineSlot, cfg.PipelineDepth)
	s.find = make([]pipelineSlot, cfg.PipelineDepth)
	for i := 0; i < cfg.PipelineDepth; i++ {
		s.warp[i].inst = factory.NewWarp(i)
		s.thresh[i].inst = factory.NewThreshold(i)
		s.find[i].inst = factory.NewFindLanes(i)
		s.freeWarp = append(s.freeWarp, i)
		s.freeThresh = append(s.freeThresh, i)
		s.freeFind = append(s.freeFind, i)
	}

	for i := 0; i < cfg.ThreadPoolSize; i++ {
		s.workers = append(s.workers, newWorker(i, s.inbox, s.log))
		s.freeWorkers = append(s.freeWorkers, i)
	}

	s.summary = RunSummary{RunID: runID}
	return s, nil
}

// Run opens the source/sink, starts the worker pool and drives the
// scheduling loop until the source is exhausted and every in-flight frame
// has drained, Stop is called, or a fatal error occurs. It blocks until the
// run is over and returns the resulting RunSummary.
func (s *Scheduler) Run(ctx context.Context) (RunSummary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx = runCtx
	s.cancel = cancel
	defer cancel()

	for _, w := range s.workers {
		go w.run(runCtx)
	}

	if err := s.src.Open(s.runID.String()); err != nil {
		return s.summary, xerrors.Errorf("opening frame source: %w", err)
	}
	if err := s.sink.Open(s.runID.String()); err != nil {
		_ = s.src.Close()
		return s.summary, xerrors.Errorf("opening frame sink: %w", err)
	}

	s.driveAll()
	s.reportGauges()

	for !s.done() {
		select {
		case msg := <-s.inbox:
			s.handle(msg)
		case <-s.pokeCh:
			s.driveAll()
		case <-s.drainTimer:
			s.onDrainTick()
		case <-ctx.Done():
			s.fail(ctx.Err())
		}
		s.reportGauges()
	}

	_ = s.src.Close()
	_ = s.sink.Close()

	s.summary.FramesIngested = s.frameCnt
	if s.fatalErr != nil {
		s.summary.appendError(s.fatalErr)
	}
	if s.stopDone != nil {
		s.stopDone <- s.summary
		close(s.stopDone)
	}
	return s.summary, s.fatalErr
}

// Stop requests an early, drained shutdown: no new frames are ingested and
// the Scheduler waits up to DrainMaxPolls x DrainPollInterval for in-flight
// frames to finish before forcing termination (spec.md §5).
func (s *Scheduler) Stop() <-chan RunSummary {
	done := make(chan RunSummary, 1)
	select {
	case s.inbox <- stopMsg{done: done}:
	case <-s.ctx.Done():
		done <- s.summary
		close(done)
	}
	return done
}

func (s *Scheduler) done() bool {
	if s.fatalErr != nil {
		return true
	}
	if s.stopRequested && s.inFlight == 0 {
		return true
	}
	return s.sourceExhausted && s.inFlight == 0 && len(s.warpToThresh) == 0 && len(s.threshToFind) == 0
}

func (s *Scheduler) poke() {
	select {
	case s.pokeCh <- struct{}{}:
		s.cfg.Metrics.IncPokes()
	default:
	}
}

// handle dispatches one message from the Scheduler's inbox.
func (s *Scheduler) handle(msg schedulerMsg) {
	switch m := msg.(type) {
	case completeStepMsg:
		s.handleComplete(m)
	case workerFatalMsg:
		s.handleWorkerFatal(m)
	case stopMsg:
		s.handleStop(m)
	case pokeMsg:
		s.driveAll()
	case startMsg:
		if m.done != nil {
			m.done <- nil
		}
	}
}

func (s *Scheduler) handleStop(m stopMsg) {
	s.stopRequested = true
	s.stopDone = m.done
	if s.inFlight == 0 {
		return
	}
	s.drainStart = s.cfg.Clock.Now()
	s.drainPollsLeft = s.cfg.DrainMaxPolls
	s.drainTimer = s.cfg.Clock.After(s.cfg.DrainPollInterval)
}

func (s *Scheduler) onDrainTick() {
	if s.inFlight == 0 {
		s.drainTimer = nil
		s.cfg.Metrics.ObserveDrainDuration(s.cfg.Clock.Now().Sub(s.drainStart))
		return
	}
	s.drainPollsLeft--
	if s.drainPollsLeft <= 0 {
		s.summary.DrainTimedOut = true
		s.cfg.Metrics.ObserveDrainDuration(s.cfg.Clock.Now().Sub(s.drainStart))
		// Forced shutdown: the frames still in flight are counted as
		// dropped and the timeout is recorded in the summary as a warning,
		// not returned as Run's error.
		s.log.WithField("in_flight", s.inFlight).Warn("drain timed out, dropping in-flight frames")
		s.summary.appendError(ErrDrainTimeout)
		s.summary.FramesDropped += s.inFlight
		s.inFlight = 0
		return
	}
	s.drainTimer = s.cfg.Clock.After(s.cfg.DrainPollInterval)
}

func (s *Scheduler) fail(err error) {
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	s.log.WithError(err).Error("scheduler shutting down")
}

func (s *Scheduler) handleWorkerFatal(m workerFatalMsg) {
	s.log.WithField("worker", m.workerID).WithError(m.err).Error("worker exited")
	s.summary.WorkersLost++
	s.cfg.Metrics.IncWorkersLost()
	// A lost worker's id is never returned to freeWorkers. Whatever it was
	// running is abandoned at whichever sub-step it last reported; the
	// frame it belonged to will never complete and is only cleared when
	// the run ends (spec.md §7: non-recoverable condition).
	if len(s.freeWorkers) == 0 && s.busyWorkerCount() == 0 {
		s.fail(ErrNoWorkersLeft)
	}
}

func (s *Scheduler) busyWorkerCount() int {
	return len(s.workers) - len(s.freeWorkers) - s.summary.WorkersLost
}

// handleComplete processes a worker's report of one finished sub-step, the
// Scheduler's single point of state mutation in response to work finishing
// (spec.md §4.3).
func (s *Scheduler) handleComplete(m completeStepMsg) {
	s.freeWorkers = append(s.freeWorkers, m.workerID)

	slots := s.slotsFor(m.kind)
	if m.slot < 0 || m.slot >= len(slots) {
		return
	}
	sl := &slots[m.slot]
	if sl.steps == nil || !sl.busy {
		// Stale completion for a slot already released (e.g. after a
		// fatal stage error). Ignore.
		s.poke()
		return
	}

	if m.err != nil {
		s.handleStageError(m.kind, m.slot, m.err)
		s.poke()
		return
	}

	sl.steps.setState(m.subStep, stepCompleted)
	if !sl.steps.isDone() {
		s.poke()
		return
	}

	next := sl.inst.AdvanceWave()
	if next == nil {
		s.handoffDownstream(m.kind, m.slot)
	} else {
		sl.steps = newStepListFromWave(next)
		// Tie-break: the completing stage is driven first; the poke below
		// re-drives any other pending stages downstream-first.
		s.drive(m.kind)
	}
	s.poke()
}

func (s *Scheduler) handleStageError(kind stage.Kind, slotIdx int, err *StageError) {
	s.log.WithFields(logrus.Fields{"stage": kind, "slot": slotIdx}).WithError(err).Warn("stage error")
	if !err.Recoverable {
		s.fail(err)
		return
	}
	// Recoverable: drop this frame and free the slot it occupies. The
	// frame never reaches the sink.
	s.summary.FramesDropped++
	s.cfg.Metrics.IncFramesDropped()
	s.inFlight--
	if sl := &s.slotsFor(kind)[slotIdx]; sl.fr != nil {
		s.finishSpan(sl.fr.Index, err)
	}
	s.releaseSlot(kind, slotIdx)
}

func (s *Scheduler) finishSpan(frameIdx int, err error) {
	span, ok := s.frameSpans[frameIdx]
	if !ok {
		return
	}
	if err != nil {
		span.SetTag("error", true)
	}
	span.Finish()
	delete(s.frameSpans, frameIdx)
}

// driveAll re-examines every stage with a pending flag set and dispatches
// as much Initialized work as free workers allow. Re-driven downstream
// first: spec.md's tie-break keeps frames closest to the sink moving ahead
// of frames still entering the pipeline, which bounds in-flight latency
// rather than bounding ingress latency.
func (s *Scheduler) driveAll() {
	// Ingest before dispatch: a frame bound here by tryStartFrames sets
	// pendingWarp, so the dispatch pass below sees and drives it in the
	// same call instead of waiting for a CompleteStep that may never come
	// (a cold start has no in-flight work to generate one).
	s.tryStartFrames()
	if s.pendingFind {
		s.drive(stage.FindLanes)
	}
	if s.pendingThresh {
		s.drive(stage.Threshold)
	}
	if s.pendingWarp {
		s.drive(stage.Warp)
	}
}

func (s *Scheduler) drive(kind stage.Kind) {
	slots := s.slotsFor(kind)
	starved := false
	for i := range slots {
		sl := &slots[i]
		if !sl.busy || sl.steps == nil {
			continue
		}
		for _, step := range sl.steps.initialized() {
			wID, ok := s.popFreeWorker()
			if !ok {
				starved = true
				break
			}
			sl.steps.setState(step, stepRunning)
			s.workers[wID].inbox <- runMsg{kind: kind, slot: i, instance: sl.inst, subStep: step}
		}
		if starved {
			break
		}
	}
	s.setPending(kind, starved)
}

func (s *Scheduler) popFreeWorker() (int, bool) {
	n := len(s.freeWorkers)
	if n == 0 {
		return 0, false
	}
	id := s.freeWorkers[n-1]
	s.freeWorkers = s.freeWorkers[:n-1]
	return id, true
}

func (s *Scheduler) setPending(kind stage.Kind, v bool) {
	switch kind {
	case stage.Warp:
		s.pendingWarp = v
	case stage.Threshold:
		s.pendingThresh = v
	case stage.FindLanes:
		s.pendingFind = v
	}
}

func (s *Scheduler) slotsFor(kind stage.Kind) []pipelineSlot {
	switch kind {
	case stage.Warp:
		return s.warp
	case stage.Threshold:
		return s.thresh
	case stage.FindLanes:
		return s.find
	default:
		return nil
	}
}

// tryStartFrames ingests as many new frames as the pipeline depth and a
// free Warp slot allow (spec.md §4.3 "ingress").
func (s *Scheduler) tryStartFrames() {
	if s.stopRequested || s.sourceExhausted {
		return
	}
	for s.inFlight < s.cfg.PipelineDepth && len(s.freeWarp) > 0 {
		if s.cfg.MaxFrames >= 0 && s.frameCnt >= s.cfg.MaxFrames {
			// Reaching the ingress cap ends ingress the same way source
			// exhaustion does, so the run finishes once these frames drain.
			s.sourceExhausted = true
			return
		}

		fr, err := s.src.Read()
		if err != nil {
			if xerrors.Is(err, ErrSourceExhausted) {
				s.sourceExhausted = true
				return
			}
			s.fail(xerrors.Errorf("%w: %v", ErrSourceFailure, err))
			return
		}

		slotIdx := s.freeWarp[len(s.freeWarp)-1]
		s.freeWarp = s.freeWarp[:len(s.freeWarp)-1]

		sl := &s.warp[slotIdx]
		if err := sl.inst.Bind(s.ctx, fr, fr.Buffer); err != nil {
			// The frame never entered the pipeline: count it as dropped
			// and free the slot without touching inFlight.
			s.log.WithField("frame", fr.Index).WithError(err).Warn("stage error")
			s.summary.FramesDropped++
			s.cfg.Metrics.IncFramesDropped()
			s.releaseSlot(stage.Warp, slotIdx)
			continue
		}
		fr.StartTime = s.cfg.Clock.Now()
		sl.fr = fr
		sl.busy = true
		sl.steps = newStepListFromWave(stage.InitialWave(stage.Warp, false))
		span := s.cfg.Tracer.StartSpan("frame")
		span.SetTag("frame.index", fr.Index)
		s.frameSpans[fr.Index] = span

		s.frameCnt++
		s.inFlight++
		s.pendingWarp = true
	}
}

// handoffDownstream is called once a StageInstance's AdvanceWave returns
// nil: the instance has nothing left to do for its current frame. Warp and
// Threshold hand their output buffer to the next stage's pool; FindLanes
// emits to the sink.
func (s *Scheduler) handoffDownstream(kind stage.Kind, slotIdx int) {
	switch kind {
	case stage.Warp:
		s.handoff(stage.Warp, slotIdx, stage.Threshold, &s.freeThresh, &s.warpToThresh,
			func(dst *pipelineSlot, fr *frame.Frame, out stage.Output) error {
				return dst.inst.Bind(s.ctx, fr, out)
			},
			func(dst *pipelineSlot) {
				dst.steps = newStepListFromWave(stage.InitialWave(stage.Threshold, s.cfg.ParallelMode))
			},
		)
	case stage.Threshold:
		s.handoff(stage.Threshold, slotIdx, stage.FindLanes, &s.freeFind, &s.threshToFind,
			func(dst *pipelineSlot, fr *frame.Frame, out stage.Output) error {
				if fi, ok := dst.inst.(findlanes.Instance); ok {
					fi.SetHistory(s.laneHistory)
				}
				return dst.inst.Bind(s.ctx, fr, out)
			},
			func(dst *pipelineSlot) {
				dst.steps = newStepListFromWave(stage.InitialWave(stage.FindLanes, false))
			},
		)
	case stage.FindLanes:
		s.finishFrame(slotIdx)
	}
}

// handoff binds the completed src slot's output onto a free slot in the
// next stage's pool, parking src in a backlog (without releasing it) if the
// downstream pool is currently full.
func (s *Scheduler) handoff(srcKind stage.Kind, srcIdx int, dstKind stage.Kind, dstFree *[]int, backlog *[]int,
	bind func(dst *pipelineSlot, fr *frame.Frame, out stage.Output) error,
	initWave func(dst *pipelineSlot),
) {
	src := &s.slotsFor(srcKind)[srcIdx]

	if len(*dstFree) == 0 {
		*backlog = append(*backlog, srcIdx)
		return
	}
	n := len(*dstFree)
	dstIdx := (*dstFree)[n-1]
	*dstFree = (*dstFree)[:n-1]

	dst := &s.slotsFor(dstKind)[dstIdx]
	out := src.inst.Output()
	if err := bind(dst, src.fr, out); err != nil {
		*dstFree = append(*dstFree, dstIdx)
		s.handleStageError(srcKind, srcIdx, &StageError{Stage: dstKind, Recoverable: true, Err: err})
		return
	}
	dst.fr = src.fr
	dst.busy = true
	initWave(dst)

	s.releaseSlot(srcKind, srcIdx)
	s.setPending(dstKind, true)
}

func (s *Scheduler) releaseSlot(kind stage.Kind, idx int) {
	slots := s.slotsFor(kind)
	sl := &slots[idx]
	sl.inst.Release()
	sl.fr = nil
	sl.steps = nil
	sl.busy = false

	switch kind {
	case stage.Warp:
		s.freeWarp = append(s.freeWarp, idx)
	case stage.Threshold:
		s.freeThresh = append(s.freeThresh, idx)
		s.drainBacklog(&s.warpToThresh, stage.Warp)
	case stage.FindLanes:
		s.freeFind = append(s.freeFind, idx)
		s.drainBacklog(&s.threshToFind, stage.Threshold)
	}
}

// drainBacklog retries one parked handoff now that fromKind just freed a
// slot downstream of it.
func (s *Scheduler) drainBacklog(backlog *[]int, fromKind stage.Kind) {
	if len(*backlog) == 0 {
		return
	}
	srcIdx := (*backlog)[0]
	*backlog = (*backlog)[1:]
	s.handoffDownstream(fromKind, srcIdx)
}

// finishFrame is called when a FindLanes instance completes: it updates
// lane history/steering continuity, emits the result to the sink honoring
// strict-order/skip-late mode, and releases the slot.
func (s *Scheduler) finishFrame(slotIdx int) {
	sl := &s.find[slotIdx]
	fi, ok := sl.inst.(findlanes.Instance)
	if !ok {
		s.releaseSlot(stage.FindLanes, slotIdx)
		s.inFlight--
		return
	}

	result := fi.Result()
	s.laneHistory = fi.History()
	frameIdx := sl.fr.Index

	s.releaseSlot(stage.FindLanes, slotIdx)
	s.inFlight--
	s.finishSpan(frameIdx, nil)

	if s.cfg.Delay > 0 {
		<-s.cfg.Clock.After(s.cfg.Delay)
	}
	s.emit(frameIdx, result)
}

func (s *Scheduler) emit(frameIdx int, result frame.Result) {
	if !s.strictOrder {
		if frameIdx < s.nextEmit {
			// A strictly-earlier frame finished after nextEmit already
			// advanced past it: discard rather than emit it out of order
			// (spec.md §4.3: the sink only ever sees non-decreasing
			// indices, even in skip-late mode).
			s.log.WithField("frame", frameIdx).Warn("dropping stale late frame")
			s.summary.FramesDropped++
			s.cfg.Metrics.IncFramesDropped()
			return
		}
		s.writeResult(result)
		s.nextEmit = frameIdx + 1
		return
	}

	s.pendingEmit[frameIdx] = result
	for {
		r, ok := s.pendingEmit[s.nextEmit]
		if !ok {
			break
		}
		delete(s.pendingEmit, s.nextEmit)
		s.writeResult(r)
		s.nextEmit++
	}
}

func (s *Scheduler) writeResult(r frame.Result) {
	if err := s.sink.Write(r); err != nil {
		s.log.WithError(err).Error("sink write failed")
		s.summary.FramesDropped++
		s.cfg.Metrics.IncFramesDropped()
		return
	}
	s.summary.FramesEmitted++
	s.cfg.Metrics.IncFramesEmitted()
}

func (s *Scheduler) reportGauges() {
	s.cfg.Metrics.SetInFlight(s.inFlight)
	s.cfg.Metrics.SetWorkersBusy(s.busyWorkerCount())
	s.cfg.Metrics.SetWorkersFree(len(s.freeWorkers))
}

func newStepListFromWave(wave []stage.SubStep) *stepList {
	l := newStepList()
	for _, step := range wave {
		l.add(step, stepInitialized)
	}
	return l
}
