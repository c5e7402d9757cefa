//go:build linux

package accumulate

import "github.com/ja7ad/energyaudit/internal/errs"

// DefaultWindowSize is the bounded ring buffer length used when the
// caller does not request a different window.
const DefaultWindowSize = 10

// tickContribution is one tick's already-filtered contribution to the
// window's running sums (zero fields for ticks that failed their guard).
type tickContribution struct {
	hostEnergyJ        float64
	hostActiveTicks    int64
	processActiveTicks int64
}

// Window is the sliding-window accumulator: a bounded ring buffer of the
// last W ticks' contributions, with an attribution recomputed after every
// push. Unlike Accumulator it has no single Finalize call; every Push
// yields the current windowed attribution.
type Window struct {
	emissionFactor float64

	buf   []tickContribution
	size  int
	next  int
	count int

	sumHostEnergyJ        float64
	sumHostActiveTicks    int64
	sumProcessActiveTicks int64
}

// NewWindow constructs a sliding-window accumulator holding up to size
// ticks. size <= 0 falls back to DefaultWindowSize.
func NewWindow(size int, emissionFactorGPerKWh float64) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{
		emissionFactor: emissionFactorGPerKWh,
		buf:            make([]tickContribution, size),
		size:           size,
	}
}

// WindowResult is what Push returns: either a successful windowed
// attribution (OK true) or, when the window's host-activity denominator
// is zero, {OK: false, Reason: "no_host_cpu_activity", Samples: <buffer
// size>} with a zero-value Attribution.
type WindowResult struct {
	Attribution
	OK      bool
	Reason  string
	Samples int
}

// Push folds one tick into the window, evicting the oldest contribution
// once the buffer is full. The ring buffer itself is always updated (the
// new sample must be in the window before activity can be judged), but it
// only yields a successful attribution once sumHostActiveTicks is
// nonzero; otherwise it reports the no_host_cpu_activity reason instead
// of a misleading zero-share attribution.
func (w *Window) Push(in TickInput) WindowResult {
	contribution := tickContribution{}
	if in.EnergyOK && in.EnergyPrimed && in.EnergyDeltaJ > 0 {
		contribution.hostEnergyJ = in.EnergyDeltaJ
	}
	if in.HostOK && in.HostPrimed && in.HostDeltaActiveTicks > 0 {
		contribution.hostActiveTicks = int64(in.HostDeltaActiveTicks)
	}
	if in.ProcessOK && in.ProcessDeltaActiveTicks > 0 {
		contribution.processActiveTicks = in.ProcessDeltaActiveTicks
	}

	var evicted tickContribution
	evicting := w.count == w.size
	if evicting {
		evicted = w.buf[w.next]
	}

	// Commit: update sums and ring state together.
	if evicting {
		w.sumHostEnergyJ -= evicted.hostEnergyJ
		w.sumHostActiveTicks -= evicted.hostActiveTicks
		w.sumProcessActiveTicks -= evicted.processActiveTicks
	} else {
		w.count++
	}
	w.buf[w.next] = contribution
	w.next = (w.next + 1) % w.size

	w.sumHostEnergyJ += contribution.hostEnergyJ
	w.sumHostActiveTicks += contribution.hostActiveTicks
	w.sumProcessActiveTicks += contribution.processActiveTicks

	if w.sumHostActiveTicks == 0 {
		return WindowResult{OK: false, Reason: string(errs.KindNoHostCPUActivity), Samples: w.count}
	}

	attribution := deriveAttribution(w.sumHostEnergyJ, w.sumHostActiveTicks, w.sumProcessActiveTicks, w.emissionFactor)
	return WindowResult{Attribution: attribution, OK: true, Samples: w.count}
}

// Len reports how many ticks are currently held in the window.
func (w *Window) Len() int { return w.count }
