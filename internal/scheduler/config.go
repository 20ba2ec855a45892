package scheduler

import (
	"time"

	"github.com/juju/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/frame"
	"github.com/laned/laned/internal/stage"
)

const (
	minPipelineDepth = 1
	maxPipelineDepth = 16
	minThreadPool    = 1
	maxThreadPool    = 64
)

// FrameSource is implemented by types that can produce Frames for ingress
// (spec.md §6). It is an external collaborator: video decoding is out of
// scope for the scheduler.
type FrameSource interface {
	Open(id string) error
	// Read returns the next frame, or a nil frame and an error wrapping
	// ErrSourceExhausted when no more frames are available.
	Read() (*frame.Frame, error)
	Close() error
}

// FrameSink is implemented by types that can consume annotated frame
// results emitted by the pipeline (spec.md §6).
type FrameSink interface {
	Open(id string) error
	Write(result frame.Result) error
	Close() error
}

// MetricsRecorder is the narrow set of observability hooks the Scheduler
// calls into; internal/telemetry supplies the Prometheus-backed
// implementation, and a no-op stands in when metrics are disabled.
type MetricsRecorder interface {
	SetInFlight(n int)
	SetWorkersBusy(n int)
	SetWorkersFree(n int)
	IncFramesEmitted()
	IncFramesDropped()
	IncWorkersLost()
	IncPokes()
	ObserveDrainDuration(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) SetInFlight(int)                    {}
func (noopMetrics) SetWorkersBusy(int)                 {}
func (noopMetrics) SetWorkersFree(int)                 {}
func (noopMetrics) IncFramesEmitted()                  {}
func (noopMetrics) IncFramesDropped()                  {}
func (noopMetrics) IncWorkersLost()                    {}
func (noopMetrics) IncPokes()                          {}
func (noopMetrics) ObserveDrainDuration(time.Duration) {}

// Config encapsulates the scheduler's tunables (spec.md §6).
type Config struct {
	// ThreadPoolSize is the number of Worker goroutines (1..64).
	ThreadPoolSize int
	// PipelineDepth is the number of concurrent in-flight frames and the
	// per-stage slot count (1..16, clamped).
	PipelineDepth int
	// MaxFrames caps ingress; -1 means unbounded.
	MaxFrames int
	// Speed is forwarded to the FindLanes stage.
	Speed float64
	// Delay pads emission at the FindLanes -> Sink boundary.
	Delay time.Duration
	// ParallelMode enables intra-stage fan-out in Threshold.
	ParallelMode bool
	// Backend selects the CPU or CUDA tagged-union variant for Warp and
	// Threshold.
	Backend stage.Backend
	// StrictOrder selects strict-order emission (true) or skip-late mode
	// (false).
	StrictOrder bool
	// Verbose is carried for callers; the Scheduler itself does not read
	// it. Log verbosity is whatever Logger is configured with, and there is
	// no preview output.
	Verbose bool

	// DrainMaxPolls x DrainPollInterval bounds how long Stop waits for
	// in-flight frames before forcing shutdown (spec.md §5 default:
	// 100 x 10ms = 1s).
	DrainMaxPolls     int
	DrainPollInterval time.Duration

	Clock   clock.Clock
	Logger  *logrus.Entry
	Metrics MetricsRecorder
	Tracer  opentracing.Tracer
}

// Validate checks the configuration and fills in defaults, aggregating
// every violation into a single multierror the way
// bspgraph.GraphConfig.validate does.
func (c *Config) Validate() error {
	var err error

	if c.ThreadPoolSize <= 0 {
		err = multierror.Append(err, xerrors.New("thread pool size must be > 0"))
	} else if c.ThreadPoolSize > maxThreadPool {
		err = multierror.Append(err, xerrors.Errorf("thread pool size must be <= %d", maxThreadPool))
	}

	if c.PipelineDepth <= 0 {
		err = multierror.Append(err, xerrors.New("pipeline depth must be > 0"))
	} else if c.PipelineDepth > maxPipelineDepth {
		c.PipelineDepth = maxPipelineDepth
	}

	if c.MaxFrames == 0 {
		err = multierror.Append(err, xerrors.New("max frames must be -1 (unbounded) or > 0"))
	}

	if c.DrainMaxPolls <= 0 {
		c.DrainMaxPolls = 100
	}
	if c.DrainPollInterval <= 0 {
		c.DrainPollInterval = 10 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.New())
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
	if c.Tracer == nil {
		c.Tracer = opentracing.NoopTracer{}
	}

	return err
}
