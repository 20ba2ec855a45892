// Package config parses and validates the external configuration surface
// of the laned binary (spec.md §6): CLI flags, mirrored by environment
// variables, covering both the Scheduler's tunables and the ambient
// stack's (telemetry, stats persistence) endpoints.
package config

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/scheduler"
	"github.com/laned/laned/internal/stage"
)

// AppConfig is the fully parsed, not-yet-validated configuration for one
// run of laned.
type AppConfig struct {
	VideoFile string
	OutputDir string

	ThreadPoolSize int
	PipelineDepth  int
	MaxFrames      int
	Speed          float64
	DelayMicros    int
	ParallelMode   bool
	GPUAccel       bool
	Verbose        bool
	StrictOrder    bool

	MetricsAddr    string
	StatsStoreURI  string
	JaegerEndpoint string
}

// Validate aggregates every configuration violation into a single
// multierror, the way Chapter08's GraphConfig.validate does, instead of
// failing fast on the first bad field.
func (c *AppConfig) Validate() error {
	var err error

	if c.VideoFile == "" {
		err = multierror.Append(err, xerrors.New("video file must be set"))
	}
	if c.OutputDir == "" {
		err = multierror.Append(err, xerrors.New("output dir must be set"))
	}
	if c.Speed < 0 {
		err = multierror.Append(err, xerrors.New("speed must be >= 0"))
	}
	if c.DelayMicros < 0 {
		err = multierror.Append(err, xerrors.New("delay must be >= 0"))
	}
	if c.MaxFrames == 0 {
		c.MaxFrames = -1
	}

	return err
}

// ToSchedulerConfig builds the scheduler.Config this run's flags describe.
// Ambient collaborators (Clock/Logger/Metrics/Tracer) are left at their
// zero values for the caller to fill in; Validate on the resulting
// scheduler.Config clamps the pipeline depth, rejects a thread pool size
// outside 1..64, and defaults the rest (spec.md §6).
func (c *AppConfig) ToSchedulerConfig() scheduler.Config {
	backend := stage.CPU
	if c.GPUAccel {
		backend = stage.CUDA
	}
	return scheduler.Config{
		ThreadPoolSize: c.ThreadPoolSize,
		PipelineDepth:  c.PipelineDepth,
		MaxFrames:      c.MaxFrames,
		Speed:          c.Speed,
		Delay:          time.Duration(c.DelayMicros) * time.Microsecond,
		ParallelMode:   c.ParallelMode,
		Backend:        backend,
		StrictOrder:    c.StrictOrder,
		Verbose:        c.Verbose,
	}
}
