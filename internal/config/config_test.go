package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/laned/laned/internal/stage"
)

func validConfig() AppConfig {
	return AppConfig{
		VideoFile:      "project_video.mp4",
		OutputDir:      "out",
		ThreadPoolSize: 4,
		PipelineDepth:  3,
		MaxFrames:      -1,
		Speed:          1000,
		DelayMicros:    0,
		StrictOrder:    true,
		MetricsAddr:    ":9090",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := validConfig()
	assert.NoError(t, c.Validate())
}

func TestValidateAggregatesEveryViolation(t *testing.T) {
	c := validConfig()
	c.VideoFile = ""
	c.OutputDir = ""
	c.Speed = -1
	c.DelayMicros = -1

	err := c.Validate()
	require := assert.New(t)
	require.Error(err)
	msg := err.Error()
	require.Contains(msg, "video file")
	require.Contains(msg, "output dir")
	require.Contains(msg, "speed")
	require.Contains(msg, "delay")
}

func TestValidateDefaultsZeroMaxFramesToUnlimited(t *testing.T) {
	c := validConfig()
	c.MaxFrames = 0
	assert.NoError(t, c.Validate())
	assert.Equal(t, -1, c.MaxFrames)
}

func TestValidateLeavesPositiveMaxFramesAlone(t *testing.T) {
	c := validConfig()
	c.MaxFrames = 42
	assert.NoError(t, c.Validate())
	assert.Equal(t, 42, c.MaxFrames)
}

func TestToSchedulerConfigMapsCPUBackendByDefault(t *testing.T) {
	c := validConfig()
	sc := c.ToSchedulerConfig()
	assert.Equal(t, stage.CPU, sc.Backend)
}

func TestToSchedulerConfigMapsGPUAccelToCUDA(t *testing.T) {
	c := validConfig()
	c.GPUAccel = true
	sc := c.ToSchedulerConfig()
	assert.Equal(t, stage.CUDA, sc.Backend)
}

func TestToSchedulerConfigConvertsDelayMicrosecondsToDuration(t *testing.T) {
	c := validConfig()
	c.DelayMicros = 250
	sc := c.ToSchedulerConfig()
	assert.Equal(t, 250*time.Microsecond, sc.Delay)
}

func TestToSchedulerConfigCopiesTunables(t *testing.T) {
	c := validConfig()
	c.ThreadPoolSize = 8
	c.PipelineDepth = 5
	c.MaxFrames = 100
	c.Speed = 500
	c.ParallelMode = true
	c.StrictOrder = false
	c.Verbose = true

	sc := c.ToSchedulerConfig()
	assert.Equal(t, 8, sc.ThreadPoolSize)
	assert.Equal(t, 5, sc.PipelineDepth)
	assert.Equal(t, 100, sc.MaxFrames)
	assert.Equal(t, 500.0, sc.Speed)
	assert.True(t, sc.ParallelMode)
	assert.False(t, sc.StrictOrder)
	assert.True(t, sc.Verbose)
}
