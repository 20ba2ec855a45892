package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laned/laned/internal/stage"
)

func TestStepListAddIsUniqueOnSubStep(t *testing.T) {
	l := newStepList()
	l.add(stage.SplitBGR, stepInitialized)
	l.add(stage.SplitHLS, stepInitialized)
	l.add(stage.SplitBGR, stepRunning)

	require.Len(t, l.entries, 2)
	assert.Equal(t, stepRunning, l.entries[0].state)
	assert.Equal(t, []stage.SubStep{stage.SplitHLS}, l.initialized())
}

func TestStepListSetStateNoOpIfAbsent(t *testing.T) {
	l := newStepList()
	l.setState(stage.RunWarp, stepRunning)
	assert.True(t, l.isEmpty())
}

func TestStepListIsDone(t *testing.T) {
	l := newStepList()
	l.add(stage.RunWarp, stepInitialized)
	assert.False(t, l.isDone())

	l.setState(stage.RunWarp, stepRunning)
	assert.False(t, l.isDone())

	l.setState(stage.RunWarp, stepCompleted)
	assert.True(t, l.isDone())
}

func TestStepListRemoveCompleted(t *testing.T) {
	l := newStepList()
	l.add(stage.SplitBGR, stepCompleted)
	l.add(stage.SplitHLS, stepRunning)
	l.removeCompleted()

	require.Len(t, l.entries, 1)
	assert.Equal(t, stage.SplitHLS, l.entries[0].step)
	_, stillIndexed := l.index[stage.SplitBGR]
	assert.False(t, stillIndexed)
}

func TestStepListCloneIsIndependent(t *testing.T) {
	l := newStepList()
	l.add(stage.RunWarp, stepInitialized)

	cp := l.clone()
	cp.setState(stage.RunWarp, stepRunning)

	assert.Equal(t, stepInitialized, l.entries[0].state)
	assert.Equal(t, stepRunning, cp.entries[0].state)
}

func TestStepListInitializedPreservesInsertionOrder(t *testing.T) {
	l := newStepList()
	l.add(stage.ThreshRed, stepInitialized)
	l.add(stage.ThreshSat, stepInitialized)
	l.add(stage.SobelX, stepInitialized)

	assert.Equal(t, []stage.SubStep{stage.ThreshRed, stage.ThreshSat, stage.SobelX}, l.initialized())
}

func TestNewStepListFromWave(t *testing.T) {
	l := newStepListFromWave([]stage.SubStep{stage.SplitBGR, stage.SplitHLS})
	assert.ElementsMatch(t, []stage.SubStep{stage.SplitBGR, stage.SplitHLS}, l.initialized())
	assert.False(t, l.isDone())
}
