//go:build linux

// Package procstat implements the host-wide and per-process CPU tick
// readers: parsing /proc/stat and /proc/<pid>/stat into jiffy deltas.
package procstat

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ja7ad/energyaudit/pkg/system/util"
)

// DefaultStatPath is the kernel's aggregate CPU stat file.
const DefaultStatPath = "/proc/stat"

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

// CPULine holds the eight raw counters of one "cpu*" line of /proc/stat,
// plus the derived aggregates.
type CPULine struct {
	Label                                          string
	User, Nice, System, Idle                       uint64
	IOWait, IRQ, SoftIRQ, Steal                    uint64
	IdleTotal, ActiveTotal, GrandTotal              uint64
}

func (l *CPULine) deriveAggregates() {
	l.IdleTotal = l.Idle + l.IOWait
	l.ActiveTotal = l.User + l.Nice + l.System + l.IRQ + l.SoftIRQ + l.Steal
	l.GrandTotal = l.IdleTotal + l.ActiveTotal
}

// ParseStatFile parses every "cpu*" line of the given /proc/stat-formatted
// file. It returns the aggregate ("cpu") line and the per-core lines
// collected but unused for attribution (kept for diagnostics).
func ParseStatFile(path string) (aggregate *CPULine, perCore []CPULine, err error) {
	f, openErr := os.Open(path)
	if openErr != nil {
		return nil, nil, openErr
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "cpu") {
			continue
		}

		cl, parseErr := parseCPUFields(fields)
		if parseErr != nil {
			return nil, nil, parseErr
		}

		if fields[0] == "cpu" {
			aggregate = cl
			continue
		}
		perCore = append(perCore, *cl)
	}
	if scanErr := sc.Err(); scanErr != nil {
		return nil, nil, scanErr
	}
	if aggregate == nil {
		return nil, nil, fmt.Errorf("procstat: no aggregate cpu line in %s: %w", path, ErrInvalidStat)
	}
	return aggregate, perCore, nil
}

func parseCPUFields(fields []string) (*CPULine, error) {
	vals := make([]uint64, 8)
	for i := 1; i < 9; i++ {
		if i >= len(fields) {
			// missing trailing fields default to 0
			continue
		}
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("procstat: bad counter %q: %w", fields[i], ErrInvalidStat)
		}
		vals[i-1] = v
	}
	cl := &CPULine{
		Label: fields[0],
		User: vals[0], Nice: vals[1], System: vals[2], Idle: vals[3],
		IOWait: vals[4], IRQ: vals[5], SoftIRQ: vals[6], Steal: vals[7],
	}
	cl.deriveAggregates()
	return cl, nil
}

// HostTickDelta is the per-tick jiffy delta reported to the accumulator.
type HostTickDelta struct {
	DeltaIdle, DeltaActive, DeltaTotal uint64
}

// HostSample is the host reader's contract with the accumulator.
type HostSample struct {
	OK              bool
	Primed          bool
	ClampedDTSecond float64
	Ticks           HostTickDelta
	Utilisation     float64
}

// HostReader samples /proc/stat deltas, one call per scheduler tick.
// Sample is not re-entrant on a single reader.
type HostReader struct {
	path string

	primed     bool
	lastIdle   uint64
	lastTotal  uint64
	lastNanos  int64
}

// NewHostReader builds a reader against the given /proc/stat path.
func NewHostReader(path string) *HostReader {
	if path == "" {
		path = DefaultStatPath
	}
	return &HostReader{path: path}
}

// Sample reads the current aggregate CPU line and derives a tick delta.
// nowNanos must come from the shared monotone clock: all three readers
// observe the same tick timestamp.
func (r *HostReader) Sample(nowNanos int64) HostSample {
	aggregate, _, err := ParseStatFile(r.path)
	if err != nil {
		return HostSample{OK: false}
	}

	if !r.primed {
		r.primed = true
		r.lastIdle = aggregate.IdleTotal
		r.lastTotal = aggregate.GrandTotal
		r.lastNanos = nowNanos
		return HostSample{OK: true, Primed: false}
	}

	dtSeconds := clampDT(float64(nowNanos-r.lastNanos) / 1e9)
	r.lastNanos = nowNanos

	deltaTotal := util.DeltaU64(aggregate.GrandTotal, r.lastTotal)
	deltaIdle := util.DeltaU64(aggregate.IdleTotal, r.lastIdle)
	r.lastTotal = aggregate.GrandTotal
	r.lastIdle = aggregate.IdleTotal

	if deltaIdle > deltaTotal {
		deltaIdle = deltaTotal
	}
	deltaActive := deltaTotal - deltaIdle
	utilisation := util.Clamp01(util.SafeDiv(float64(deltaActive), float64(deltaTotal)))

	return HostSample{
		OK:              true,
		Primed:          true,
		ClampedDTSecond: dtSeconds,
		Ticks: HostTickDelta{
			DeltaIdle:   deltaIdle,
			DeltaActive: deltaActive,
			DeltaTotal:  deltaTotal,
		},
		Utilisation: utilisation,
	}
}
