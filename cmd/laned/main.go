package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/config"
	"github.com/laned/laned/internal/healthz"
	"github.com/laned/laned/internal/logging"
	"github.com/laned/laned/internal/scheduler"
	"github.com/laned/laned/internal/statsstore"
	"github.com/laned/laned/internal/telemetry"
	"github.com/laned/laned/internal/video"
)

const appName = "laned"

var logger *logrus.Entry

func main() {
	if err := makeApp().Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		_ = os.Stderr.Sync()
		os.Exit(1)
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Usage = "drive frames through the Warp / Threshold / FindLanes pipeline"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "video-file", Value: "project_video.mp4", EnvVar: "VIDEO_FILE",
			Usage: "directory of input frames (frame_NNNNNN.jpg)"},
		cli.StringFlag{Name: "output-dir", Value: "out", EnvVar: "OUTPUT_DIR",
			Usage: "directory annotated frames and steering.csv are written to"},
		cli.IntFlag{Name: "thread-pool-size", Value: runtime.NumCPU(), EnvVar: "THREAD_POOL_SIZE",
			Usage: "number of Worker goroutines (1..64)"},
		cli.IntFlag{Name: "pipeline-depth", Value: 3, EnvVar: "PIPELINE_DEPTH",
			Usage: "number of concurrently in-flight frames (1..16)"},
		cli.IntFlag{Name: "max-frames", Value: -1, EnvVar: "MAX_FRAMES",
			Usage: "stop after ingesting this many frames (-1 = unbounded)"},
		cli.Float64Flag{Name: "speed", Value: 1000, EnvVar: "SPEED",
			Usage: "vehicle speed forwarded to FindLanes' steering gain"},
		cli.IntFlag{Name: "delay", Value: 0, EnvVar: "DELAY_US",
			Usage: "artificial per-frame delay, in microseconds, applied before emission"},
		cli.BoolFlag{Name: "parallel-mode", EnvVar: "PARALLEL_MODE",
			Usage: "fan out independent Threshold sub-steps within a wave"},
		cli.BoolFlag{Name: "gpu-accel", EnvVar: "GPU_ACCEL",
			Usage: "select the CUDA stage-instance variants instead of CPU"},
		cli.BoolFlag{Name: "verbose", EnvVar: "VERBOSE",
			Usage: "enable debug logging"},
		cli.BoolTFlag{Name: "strict-order", EnvVar: "STRICT_ORDER",
			Usage: "emit frames in strict source order (disable for skip-late mode)"},
		cli.StringFlag{Name: "metrics-addr", Value: ":9090", EnvVar: "METRICS_ADDR",
			Usage: "listen address for the Prometheus /metrics endpoint"},
		cli.StringFlag{Name: "stats-store-uri", EnvVar: "STATS_STORE_URI",
			Usage: "postgresql://... DSN for persisting the run summary; empty disables it"},
		cli.StringFlag{Name: "jaeger-endpoint", EnvVar: "JAEGER_ENDPOINT",
			Usage: "Jaeger agent address for per-frame tracing; empty disables tracing"},
	}
	app.Action = runMain
	return app
}

func runMain(appCtx *cli.Context) error {
	appCfg := &config.AppConfig{
		VideoFile:      appCtx.String("video-file"),
		OutputDir:      appCtx.String("output-dir"),
		ThreadPoolSize: appCtx.Int("thread-pool-size"),
		PipelineDepth:  appCtx.Int("pipeline-depth"),
		MaxFrames:      appCtx.Int("max-frames"),
		Speed:          appCtx.Float64("speed"),
		DelayMicros:    appCtx.Int("delay"),
		ParallelMode:   appCtx.Bool("parallel-mode"),
		GPUAccel:       appCtx.Bool("gpu-accel"),
		Verbose:        appCtx.Bool("verbose"),
		StrictOrder:    appCtx.BoolT("strict-order"),
		MetricsAddr:    appCtx.String("metrics-addr"),
		StatsStoreURI:  appCtx.String("stats-store-uri"),
		JaegerEndpoint: appCtx.String("jaeger-endpoint"),
	}
	if err := appCfg.Validate(); err != nil {
		return xerrors.Errorf("invalid configuration: %w", err)
	}

	logger = logging.New(appName, appCfg.Verbose, !appCfg.Verbose)

	metrics := telemetry.NewMetrics()
	health := healthz.NewServer()

	var store statsstore.Store = statsstore.NullStore{}
	if appCfg.StatsStoreURI != "" {
		pg, err := statsstore.NewPostgresStore(appCfg.StatsStoreURI)
		if err != nil {
			return xerrors.Errorf("connecting stats store: %w", err)
		}
		store = pg
		defer func() { _ = store.Close() }()
	}

	var tracer opentracing.Tracer = opentracing.NoopTracer{}
	if appCfg.JaegerEndpoint != "" {
		t, err := telemetry.NewTracer(appName, appCfg.JaegerEndpoint)
		if err != nil {
			return xerrors.Errorf("building tracer: %w", err)
		}
		tracer = t
		defer func() { _ = telemetry.CloseTracers() }()
	}

	schedCfg := appCfg.ToSchedulerConfig()
	schedCfg.Logger = logger
	schedCfg.Metrics = metrics
	schedCfg.Tracer = tracer

	src := video.NewFileSource(appCfg.VideoFile)
	sink := video.NewFileSink(appCfg.OutputDir)

	sched, err := scheduler.New(schedCfg, src, sink)
	if err != nil {
		return xerrors.Errorf("building scheduler: %w", err)
	}

	go func() {
		logger.WithField("addr", appCfg.MetricsAddr).Info("serving metrics")
		if err := telemetry.Serve(appCfg.MetricsAddr); err != nil {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()
	go func() {
		healthAddr := fmt.Sprintf(":%d", 50051)
		logger.WithField("addr", healthAddr).Info("serving health checks")
		if err := health.Serve(healthAddr); err != nil {
			logger.WithError(err).Warn("health server stopped")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-sigCh:
			logger.WithField("signal", s.String()).Info("shutting down due to signal")
			health.SetServing(false)
			<-sched.Stop()
			cancel()
		case <-ctx.Done():
		}
	}()

	summary, err := sched.Run(ctx)
	health.SetServing(false)
	health.Stop()

	if saveErr := store.SaveRunSummary(summary); saveErr != nil {
		logger.WithError(saveErr).Warn("failed to persist run summary")
	}

	logger.WithFields(logrus.Fields{
		"frames_ingested": summary.FramesIngested,
		"frames_emitted":  summary.FramesEmitted,
		"frames_dropped":  summary.FramesDropped,
		"workers_lost":    summary.WorkersLost,
		"drain_timed_out": summary.DrainTimedOut,
	}).Info("run finished")

	return err
}
