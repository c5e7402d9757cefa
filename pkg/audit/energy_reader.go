//go:build linux

package audit

import (
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ja7ad/energyaudit/internal/errs"
	"github.com/ja7ad/energyaudit/pkg/system/procstat"
	"github.com/ja7ad/energyaudit/pkg/system/util"
)

// EmpiricalConfig configures the fallback power model used when no
// hardware energy counters are readable. Either PIdleW/PMaxW (recommended)
// or TDPW with fractions must be sufficient.
type EmpiricalConfig struct {
	PIdleW, PMaxW float64
	TDPW          float64
	IdleFraction  float64 // default 0.07
	MaxFraction   float64 // default 0.55
}

// DefaultIdleFraction and DefaultMaxFraction are the canonical fallback
// coefficients.
const (
	DefaultIdleFraction = 0.07
	DefaultMaxFraction  = 0.55
)

// resolved returns the idle/max watt bounds, deriving them from TDP and
// fractions when PIdleW/PMaxW are not given directly.
func (c EmpiricalConfig) resolved() (pIdle, pMax float64, ok bool) {
	if c.PIdleW > 0 && c.PMaxW >= c.PIdleW {
		return c.PIdleW, c.PMaxW, true
	}
	if c.TDPW > 0 {
		idleFrac := c.IdleFraction
		if idleFrac <= 0 {
			idleFrac = DefaultIdleFraction
		}
		maxFrac := c.MaxFraction
		if maxFrac <= 0 {
			maxFrac = DefaultMaxFraction
		}
		return c.TDPW * idleFrac, c.TDPW * maxFrac, true
	}
	return 0, 0, false
}

// PackageEnergySample is one package's contribution to an EnergySample.
type PackageEnergySample struct {
	Name    string
	DeltaUJ uint64
	Wraps   int
	OK      bool
}

// EnergySample is the energy reader's contract with the accumulator.
type EnergySample struct {
	OK              bool
	Primed          bool
	ClampedDTSecond float64
	DeltaUJ         uint64
	DeltaJoules     float64
	Wraps           int
	Packages        []PackageEnergySample
}

type energyMode int

const (
	modeNotReady energyMode = iota
	modeHardware
	modeFallback
)

// packageState tracks one package's wrap-aware counter baseline.
type packageState struct {
	pkg       PackagePath
	lastUJ    *uint64
}

// EnergyReader samples hardware RAPL/powercap counters with an
// empirical fallback. Sample is not re-entrant on a single reader.
type EnergyReader struct {
	mode energyMode

	packages  []*packageState
	lastNanos int64
	primed    bool

	// fallback mode
	pIdleW, pMaxW float64
	hostReader    *procstat.HostReader
}

// NewEnergyReader selects hardware or fallback mode from the probe result
// and an optional empirical configuration. When neither is viable the
// reader is constructed but Ready() reports false and Sample fails with
// errs.ErrEnergySourceUnavail.
func NewEnergyReader(probe ProbeResult, fallback *EmpiricalConfig, procStatPath string) *EnergyReader {
	if probe.Status == ProbeOK {
		states := make([]*packageState, 0, len(probe.Packages))
		for _, p := range probe.Packages {
			pkg := p
			states = append(states, &packageState{pkg: pkg})
		}
		return &EnergyReader{mode: modeHardware, packages: states}
	}

	if fallback != nil {
		if pIdle, pMax, ok := fallback.resolved(); ok {
			return &EnergyReader{
				mode:       modeFallback,
				pIdleW:     pIdle,
				pMaxW:      pMax,
				hostReader: procstat.NewHostReader(procStatPath),
			}
		}
	}

	return &EnergyReader{mode: modeNotReady}
}

// Ready reports whether the reader can produce samples.
func (r *EnergyReader) Ready() bool {
	return r.mode != modeNotReady
}

// Sample produces one tick's energy delta. nowNanos must come from the
// shared monotone clock used for all three readers in the same tick.
func (r *EnergyReader) Sample(nowNanos int64) (EnergySample, error) {
	switch r.mode {
	case modeHardware:
		return r.sampleHardware(nowNanos), nil
	case modeFallback:
		return r.sampleFallback(nowNanos), nil
	default:
		return EnergySample{}, errs.ErrEnergySourceUnavail
	}
}

func (r *EnergyReader) sampleHardware(nowNanos int64) EnergySample {
	if !r.primed {
		for _, ps := range r.packages {
			if v, err := readEnergyUJ(ps.pkg.EnergyUJPath); err == nil {
				vv := v
				ps.lastUJ = &vv
			}
		}
		r.primed = true
		r.lastNanos = nowNanos

		anyOK := false
		for _, ps := range r.packages {
			if ps.lastUJ != nil {
				anyOK = true
			}
		}
		return EnergySample{OK: anyOK, Primed: false}
	}

	dtSeconds := clampDT(float64(nowNanos-r.lastNanos) / 1e9)
	r.lastNanos = nowNanos

	wasPrimedBefore := false
	for _, ps := range r.packages {
		if ps.lastUJ != nil {
			wasPrimedBefore = true
			break
		}
	}

	var totalDeltaUJ uint64
	var totalWraps int
	anyOK := false
	pkgSamples := make([]PackageEnergySample, 0, len(r.packages))

	for _, ps := range r.packages {
		current, err := readEnergyUJ(ps.pkg.EnergyUJPath)
		if err != nil {
			pkgSamples = append(pkgSamples, PackageEnergySample{Name: ps.pkg.Name, OK: false})
			continue
		}
		anyOK = true

		if ps.lastUJ == nil {
			cv := current
			ps.lastUJ = &cv
			pkgSamples = append(pkgSamples, PackageEnergySample{Name: ps.pkg.Name, OK: true})
			continue
		}

		delta := int64(current) - int64(*ps.lastUJ)
		wraps := 0
		var deltaUJ uint64
		switch {
		case delta >= 0:
			deltaUJ = uint64(delta)
		case ps.pkg.MaxEnergyUJ != nil:
			deltaUJ = (*ps.pkg.MaxEnergyUJ - *ps.lastUJ) + current
			wraps = 1
		default:
			deltaUJ = 0
		}

		totalDeltaUJ += deltaUJ
		totalWraps += wraps
		cv := current
		ps.lastUJ = &cv
		pkgSamples = append(pkgSamples, PackageEnergySample{Name: ps.pkg.Name, DeltaUJ: deltaUJ, Wraps: wraps, OK: true})
	}

	return EnergySample{
		OK:              anyOK,
		Primed:          wasPrimedBefore,
		ClampedDTSecond: dtSeconds,
		DeltaUJ:         totalDeltaUJ,
		DeltaJoules:     float64(totalDeltaUJ) / 1e6,
		Wraps:           totalWraps,
		Packages:        pkgSamples,
	}
}

func (r *EnergyReader) sampleFallback(nowNanos int64) EnergySample {
	hostSample := r.hostReader.Sample(nowNanos)
	if !hostSample.OK || !hostSample.Primed {
		return EnergySample{OK: hostSample.OK, Primed: false}
	}

	u := util.Clamp01(hostSample.Utilisation)
	power := r.pIdleW + (r.pMaxW-r.pIdleW)*u
	deltaJoules := power * hostSample.ClampedDTSecond

	return EnergySample{
		OK:              true,
		Primed:          true,
		ClampedDTSecond: hostSample.ClampedDTSecond,
		DeltaUJ:         uint64(math.Max(0, deltaJoules*1e6)),
		DeltaJoules:     math.Max(0, deltaJoules),
	}
}

func readEnergyUJ(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// clampDT clamps a delta-time in seconds to [0.2, 5.0]; non-finite or
// non-positive inputs become 0.2.
func clampDT(dtSeconds float64) float64 {
	if math.IsNaN(dtSeconds) || math.IsInf(dtSeconds, 0) || dtSeconds <= 0 {
		return 0.2
	}
	if dtSeconds < 0.2 {
		return 0.2
	}
	if dtSeconds > 5.0 {
		return 5.0
	}
	return dtSeconds
}
