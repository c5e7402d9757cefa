//go:build linux

// Package accumulate implements the accumulator/attribution stage:
// batch (whole-audit) accumulation and a bounded sliding-window variant
// for streaming attribution.
package accumulate

import (
	"github.com/ja7ad/energyaudit/internal/errs"
	"github.com/ja7ad/energyaudit/pkg/carbon"
)

// Attribution is the share/energy/carbon result derived from a set of
// running sums, shared by both the batch and sliding-window modes.
type Attribution struct {
	Share             float64
	ProcessEnergyJ    float64
	HostEnergyJ       float64
	ProcessCarbonGCO2e float64
	HostCarbonGCO2e   float64
	IsActive          bool
}

func deriveAttribution(sumHostEnergyJ float64, sumHostActiveTicks, sumProcessActiveTicks int64, emissionFactor float64) Attribution {
	var share float64
	if sumHostActiveTicks > 0 {
		share = float64(sumProcessActiveTicks) / float64(sumHostActiveTicks)
	}
	share = clamp01(share)

	processEnergyJ := sumHostEnergyJ * share

	return Attribution{
		Share:              share,
		ProcessEnergyJ:     processEnergyJ,
		HostEnergyJ:        sumHostEnergyJ,
		ProcessCarbonGCO2e: carbon.GramsCO2e(processEnergyJ, emissionFactor),
		HostCarbonGCO2e:    carbon.GramsCO2e(sumHostEnergyJ, emissionFactor),
		IsActive:           sumProcessActiveTicks > 0,
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// TickInput is what the controller pushes into the accumulator once per
// scheduler tick: the three reader samples already reduced to the values
// the accumulator needs.
type TickInput struct {
	EnergyOK, EnergyPrimed     bool
	EnergyDeltaJ               float64
	HostOK, HostPrimed         bool
	HostDeltaActiveTicks       uint64
	ProcessOK                  bool
	ProcessDeltaActiveTicks    int64
}

// Accumulator sums primed per-tick deltas over an audit window and
// finalises them into a report-ready attribution exactly once.
type Accumulator struct {
	emissionFactor float64

	startNanos int64
	endNanos   int64
	finalised  bool

	sumHostEnergyJ        float64
	sumHostActiveTicks    int64
	sumProcessActiveTicks int64

	ticksObserved int
}

// New constructs an Accumulator anchored at startNanos (the controller's
// monotone entry time) with the given emission factor (gCO2e/kWh).
func New(startNanos int64, emissionFactorGPerKWh float64) *Accumulator {
	return &Accumulator{
		emissionFactor: emissionFactorGPerKWh,
		startNanos:     startNanos,
	}
}

// Push folds one tick's samples into the running sums. Energy accumulates
// only when ok, primed and strictly positive; host ticks only when ok,
// primed and positive; process ticks only when ok and positive.
func (a *Accumulator) Push(in TickInput) {
	a.ticksObserved++

	if in.EnergyOK && in.EnergyPrimed && in.EnergyDeltaJ > 0 {
		a.sumHostEnergyJ += in.EnergyDeltaJ
	}
	if in.HostOK && in.HostPrimed && in.HostDeltaActiveTicks > 0 {
		a.sumHostActiveTicks += int64(in.HostDeltaActiveTicks)
	}
	if in.ProcessOK && in.ProcessDeltaActiveTicks > 0 {
		a.sumProcessActiveTicks += in.ProcessDeltaActiveTicks
	}
}

// Result is the finalised batch attribution, including duration.
type Result struct {
	Attribution
	DurationSeconds float64
}

// Finalize closes the accumulation window at endNanos and computes the
// final attribution. It may be called exactly once; a second call returns
// errs.ErrAlreadyFinalised.
func (a *Accumulator) Finalize(endNanos int64) (Result, error) {
	if a.finalised {
		return Result{}, errs.ErrAlreadyFinalised
	}
	a.finalised = true
	a.endNanos = endNanos

	durationSeconds := float64(endNanos-a.startNanos) / 1e9

	attribution := deriveAttribution(a.sumHostEnergyJ, a.sumHostActiveTicks, a.sumProcessActiveTicks, a.emissionFactor)

	return Result{Attribution: attribution, DurationSeconds: durationSeconds}, nil
}

// TicksObserved reports how many Push calls have occurred so far.
func (a *Accumulator) TicksObserved() int { return a.ticksObserved }
