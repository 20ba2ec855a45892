package threshold

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laned/laned/internal/frame"
	"github.com/laned/laned/internal/stage"
)

func warpedBuffer(w, h int) *frame.Buffer {
	buf := frame.NewBuffer(w, h, 3)
	for i := 0; i < w*h; i++ {
		// A bright red column down the middle should survive ThreshRed and
		// CombineThresh; everything else stays dark.
		x := i % w
		off := i * 3
		if x == w/2 {
			buf.Pix[off], buf.Pix[off+1], buf.Pix[off+2] = 10, 10, 220 // BGR: strong red
		}
	}
	return buf
}

func runSequential(t *testing.T, in stage.Instance) {
	t.Helper()
	wave := stage.InitialWave(stage.Threshold, false)
	for wave != nil {
		for _, step := range wave {
			require.NoError(t, in.Execute(context.Background(), step))
		}
		wave = in.AdvanceWave()
	}
}

func TestThresholdSequentialCombinesRedColumn(t *testing.T) {
	in := NewCPU(0, false)
	fr := &frame.Frame{Index: 0}
	const w, h = 10, 3
	buf := warpedBuffer(w, h)
	require.NoError(t, in.Bind(context.Background(), fr, buf))

	runSequential(t, in)

	out := in.Output().(*frame.Buffer)
	require.Equal(t, 1, out.Channels)

	mid := w / 2 // the red column itself
	// SobelX's gradient also lights up the columns immediately adjacent to
	// the red/black edge; columns further away, and the two boundary
	// columns SobelX skips, must stay unset.
	lit := map[int]bool{mid - 1: true, mid: true, mid + 1: true}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			want := byte(0)
			if lit[x] {
				want = 255
			}
			assert.Equal(t, want, out.Pix[i], "unexpected mask value at (%d,%d)", x, y)
		}
	}
}

func TestThresholdParallelWavesRespectDataDependencies(t *testing.T) {
	waves := wavesFor(true)
	require.Len(t, waves, 4)

	produced := map[stage.SubStep]bool{}
	dependsOn := map[stage.SubStep][]stage.SubStep{
		stage.ThreshRed:     {stage.SplitBGR},
		stage.ThreshSat:     {stage.SplitHLS},
		stage.SobelX:        {stage.SplitHLS},
		stage.ThreshSobelX:  {stage.SobelX},
		stage.CombineThresh: {stage.ThreshRed, stage.ThreshSat, stage.ThreshSobelX},
	}
	for _, wave := range waves {
		for _, step := range wave {
			for _, dep := range dependsOn[step] {
				assert.True(t, produced[dep], "%s scheduled before its dependency %s is done", step, dep)
			}
		}
		for _, step := range wave {
			produced[step] = true
		}
	}
}

func TestThresholdBindRejectsWrongUpstreamType(t *testing.T) {
	in := NewCPU(0, false)
	err := in.Bind(context.Background(), &frame.Frame{Index: 0}, 42)
	assert.Error(t, err)
}

func TestThresholdExecuteRejectsUnknownSubStep(t *testing.T) {
	in := NewCPU(0, false)
	fr := &frame.Frame{Index: 0}
	require.NoError(t, in.Bind(context.Background(), fr, warpedBuffer(2, 2)))

	err := in.Execute(context.Background(), stage.SubStep("bogus"))
	assert.Error(t, err)
}
