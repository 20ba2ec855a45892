package warp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laned/laned/internal/frame"
	"github.com/laned/laned/internal/stage"
)

func solidBuffer(w, h int, fill byte) *frame.Buffer {
	buf := frame.NewBuffer(w, h, 3)
	for i := range buf.Pix {
		buf.Pix[i] = fill
	}
	return buf
}

func TestWarpCPUShiftsRowsThenAdvanceWaveCompletes(t *testing.T) {
	in := NewCPU(0)
	fr := &frame.Frame{Index: 3, Buffer: solidBuffer(8, 8, 42)}

	require.NoError(t, in.Bind(context.Background(), fr, fr.Buffer))
	require.NoError(t, in.Execute(context.Background(), stage.RunWarp))

	out, ok := in.Output().(*frame.Buffer)
	require.True(t, ok)
	assert.Equal(t, fr.Buffer.Width, out.Width)
	assert.Equal(t, fr.Buffer.Height, out.Height)
	assert.Equal(t, fr.Buffer.Channels, out.Channels)
	// A uniform input shifts to itself regardless of row offset.
	for _, p := range out.Pix {
		assert.Equal(t, byte(42), p)
	}

	assert.Nil(t, in.AdvanceWave(), "warp has a single sub-step; AdvanceWave must signal completion")
}

func TestWarpBindRejectsWrongUpstreamType(t *testing.T) {
	in := NewCPU(0)
	err := in.Bind(context.Background(), &frame.Frame{Index: 0}, "not a buffer")
	assert.Error(t, err)
}

func TestWarpExecuteRejectsUnknownSubStep(t *testing.T) {
	in := NewCPU(0)
	fr := &frame.Frame{Index: 0, Buffer: solidBuffer(2, 2, 0)}
	require.NoError(t, in.Bind(context.Background(), fr, fr.Buffer))

	err := in.Execute(context.Background(), stage.SubStep("bogus"))
	assert.Error(t, err)
}

func TestWarpReleaseClearsState(t *testing.T) {
	in := NewCPU(0)
	fr := &frame.Frame{Index: 0, Buffer: solidBuffer(2, 2, 0)}
	require.NoError(t, in.Bind(context.Background(), fr, fr.Buffer))
	in.Release()

	// A released instance can be bound again without carrying over state.
	fr2 := &frame.Frame{Index: 1, Buffer: solidBuffer(4, 4, 7)}
	require.NoError(t, in.Bind(context.Background(), fr2, fr2.Buffer))
	require.NoError(t, in.Execute(context.Background(), stage.RunWarp))
	out := in.Output().(*frame.Buffer)
	assert.Equal(t, 4, out.Width)
}

func TestNewCUDAProducesSameShapeAsCPU(t *testing.T) {
	in := NewCUDA(1)
	fr := &frame.Frame{Index: 0, Buffer: solidBuffer(4, 4, 9)}
	require.NoError(t, in.Bind(context.Background(), fr, fr.Buffer))
	require.NoError(t, in.Execute(context.Background(), stage.RunWarp))
	out := in.Output().(*frame.Buffer)
	assert.Equal(t, 4, out.Width)
	assert.Equal(t, 4, out.Height)
}
