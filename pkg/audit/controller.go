//go:build linux

package audit

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ja7ad/energyaudit/internal/errs"
	"github.com/ja7ad/energyaudit/pkg/accumulate"
	"github.com/ja7ad/energyaudit/pkg/clock"
	"github.com/ja7ad/energyaudit/pkg/schedule"
	"github.com/ja7ad/energyaudit/pkg/system/procstat"
)

// TickObserver receives a streaming sliding-window result after every
// tick, for callers that stream intermediate results (the CLI's --jsonl
// mode). It is optional; pass nil to skip it. The result carries OK=false
// and a no_host_cpu_activity reason instead of a misleading zero-share
// attribution when the window's host-activity denominator is zero.
type TickObserver func(tick schedule.Tick, result accumulate.WindowResult)

// Options configures one audit run.
type Options struct {
	PID int

	DurationSeconds float64
	TickMillis      float64
	Policy          schedule.Policy

	EmissionFactorGPerKWh float64

	PowercapRoot    string
	ProcStatPath    string
	ProcessStatPath string
	Fallback        *EmpiricalConfig

	// WindowSize, when > 0, also maintains a sliding-window attribution
	// reported via OnTick after every tick. It never affects the final
	// batch Report.
	WindowSize int
	OnTick     TickObserver

	IncludeMeta bool
}

func (o Options) validate() error {
	if o.PID <= 1 {
		return fmt.Errorf("audit: %w", errs.ErrInvalidPID)
	}
	if o.DurationSeconds <= 0 {
		return fmt.Errorf("audit: %w", errs.ErrInvalidDuration)
	}
	if o.TickMillis <= 0 {
		return fmt.Errorf("audit: %w", errs.ErrInvalidPeriod)
	}
	return nil
}

// Run executes one audit: it probes for energy counters, primes the three
// per-tick readers, drives a fixed-rate scheduler for the configured
// duration, and returns the finalised report.
func Run(ctx context.Context, clk clock.Monotonic, opts Options) (Report, error) {
	if err := opts.validate(); err != nil {
		return Report{}, err
	}

	probe := Probe(opts.PowercapRoot)
	energyReader := NewEnergyReader(probe, opts.Fallback, opts.ProcStatPath)
	if !energyReader.Ready() {
		return Report{}, fmt.Errorf("audit: %w", errs.ErrEnergySourceUnavail)
	}

	hostReader := procstat.NewHostReader(opts.ProcStatPath)

	processReader, err := procstat.NewProcessReader(opts.PID, opts.ProcessStatPath)
	if err != nil {
		return Report{}, fmt.Errorf("audit: %w", err)
	}

	sched, err := schedule.New(clk, opts.TickMillis, opts.Policy)
	if err != nil {
		return Report{}, fmt.Errorf("audit: %w", err)
	}

	emissionFactor := opts.EmissionFactorGPerKWh

	startNanos := clk.NowNanos()
	durationNanos := int64(opts.DurationSeconds * float64(time.Second))

	acc := accumulate.New(startNanos, emissionFactor)

	var window *accumulate.Window
	if opts.WindowSize > 0 {
		window = accumulate.NewWindow(opts.WindowSize, emissionFactor)
	}

	hostStatPath := opts.ProcStatPath
	if hostStatPath == "" {
		hostStatPath = procstat.DefaultStatPath
	}
	processStatPath := opts.ProcessStatPath
	if processStatPath == "" {
		processStatPath = procstat.DefaultStatPathFor(opts.PID)
	}
	tickPaths := []string{hostStatPath, processStatPath}
	for _, p := range probe.Packages {
		if p.Readable {
			tickPaths = append(tickPaths, p.EnergyUJPath)
		}
	}

	meta := &Meta{}
	endReason := "duration"

	for {
		tick, ok := sched.Next(ctx)
		if !ok {
			endReason = "aborted"
			break
		}
		if tick.StartNanos-startNanos >= durationNanos {
			endReason = "duration"
			break
		}

		meta.TicksObserved++
		meta.SkippedPeriodsTotal += int(tick.SkippedPeriods)

		now := tick.StartNanos

		var energySample EnergySample
		var hostSample procstat.HostSample
		var processSample procstat.ProcessSample

		g, _ := errgroup.WithContext(ctx)
		g.Go(func() error {
			var sampleErr error
			energySample, sampleErr = energyReader.Sample(now)
			return sampleErr
		})
		g.Go(func() error {
			hostSample = hostReader.Sample(now)
			return nil
		})
		g.Go(func() error {
			processSample = processReader.Sample()
			return nil
		})
		if err := g.Wait(); err != nil {
			return Report{}, fmt.Errorf("audit: energy sample: %w", err)
		}

		if energySample.OK && energySample.Primed {
			meta.EnergyPrimedSamples++
		}
		if hostSample.OK && hostSample.Primed {
			meta.HostPrimedSamples++
		}
		if processSample.OK {
			meta.ProcessOKSamples++
			if processSample.Primed {
				meta.ProcessPrimedSamples++
			}
		} else {
			meta.ProcessErrorSamples++
			if meta.FirstProcessErrorKind == "" && processSample.Err != nil {
				meta.FirstProcessErrorKind = string(errs.FromSyscall(processSample.Err))
			}
		}

		in := accumulate.TickInput{
			EnergyOK: energySample.OK, EnergyPrimed: energySample.Primed, EnergyDeltaJ: energySample.DeltaJoules,
			HostOK: hostSample.OK, HostPrimed: hostSample.Primed, HostDeltaActiveTicks: hostSample.Ticks.DeltaActive,
			ProcessOK: processSample.OK, ProcessDeltaActiveTicks: processSample.DeltaActive,
		}
		acc.Push(in)
		meta.BytesRead += sumFileSizes(tickPaths)

		if window != nil {
			result := window.Push(in)
			if opts.OnTick != nil {
				opts.OnTick(tick, result)
			}
		}
	}

	result, finalErr := acc.Finalize(clk.NowNanos())
	if finalErr != nil {
		return Report{}, fmt.Errorf("audit: %w", finalErr)
	}

	report := Report{
		PID:                   opts.PID,
		GeneratedAt:           time.Now(),
		DurationSeconds:       result.DurationSeconds,
		HostCPUEnergyJ:        result.HostEnergyJ,
		ProcessCPUEnergyJ:     result.ProcessEnergyJ,
		ProcessCPUEnergyShare: result.Share,
		HostCarbonGCO2e:       result.HostCarbonGCO2e,
		ProcessCarbonGCO2e:    result.ProcessCarbonGCO2e,
		IsActive:              result.IsActive,
		EndReason:             endReason,
		Notes:                 buildNotes(meta, probe, energyReader),
	}
	if opts.IncludeMeta {
		report.Meta = meta
	}

	return report, nil
}

// sumFileSizes totals the on-disk size of the stat/counter files sampled
// this tick, giving the report's Meta.BytesRead an approximate I/O-volume
// diagnostic ("bytes_read").
func sumFileSizes(paths []string) uint64 {
	var total uint64
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil {
			total += uint64(fi.Size())
		}
	}
	return total
}

func buildNotes(meta *Meta, probe ProbeResult, energyReader *EnergyReader) []string {
	var notes []string

	if probe.Status != ProbeOK {
		notes = append(notes, fmt.Sprintf("power domain probe: %s: %s", probe.Status, probe.Hint))
	}
	if energyReader.mode == modeFallback {
		notes = append(notes, "host energy estimated from the empirical fallback model, not hardware counters")
	}
	if meta.ProcessPrimedSamples == 0 && meta.TicksObserved > 0 {
		notes = append(notes, "process likely ended before priming")
	}
	if meta.SkippedPeriodsTotal > 0 {
		notes = append(notes, fmt.Sprintf("scheduler coalesced %d overrun period(s)", meta.SkippedPeriodsTotal))
	}

	return notes
}
