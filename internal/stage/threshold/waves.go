package threshold

import "github.com/laned/laned/internal/stage"

// sequentialWaves is the total order the sequential-mode Threshold stage
// advances through. Index 0 is the initial wave returned by
// stage.InitialWave; the remaining entries are what AdvanceWave yields in
// turn, with a nil wave following the last one.
var sequentialWaves = [][]stage.SubStep{
	{stage.SplitBGR},
	{stage.ThreshRed},
	{stage.SplitHLS},
	{stage.ThreshSat},
	{stage.SobelX},
	{stage.ThreshSobelX},
	{stage.CombineThresh},
}

// parallelWaves is the fan-out schedule for parallel-mode Threshold
// (spec.md §3/§4.3). SplitBGR and SplitHLS both read only the raw upstream
// buffer, so they fan out together in the first wave; ThreshRed, ThreshSat
// and SobelX each depend on exactly one of that wave's outputs (ThreshRed
// on SplitBGR's red channel, ThreshSat and SobelX on SplitHLS's saturation
// and lightness channels), so they fan out together once the first wave is
// done.
var parallelWaves = [][]stage.SubStep{
	{stage.SplitBGR, stage.SplitHLS},
	{stage.ThreshRed, stage.ThreshSat, stage.SobelX},
	{stage.ThreshSobelX},
	{stage.CombineThresh},
}

// wavesFor returns the wave table for the requested mode.
func wavesFor(parallel bool) [][]stage.SubStep {
	if parallel {
		return parallelWaves
	}
	return sequentialWaves
}
