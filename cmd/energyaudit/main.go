//go:build linux

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ja7ad/energyaudit/pkg/accumulate"
	"github.com/ja7ad/energyaudit/pkg/audit"
	"github.com/ja7ad/energyaudit/pkg/carbon"
	"github.com/ja7ad/energyaudit/pkg/clock"
	"github.com/ja7ad/energyaudit/pkg/schedule"
	"github.com/ja7ad/energyaudit/pkg/types"
)

type cliOpts struct {
	duration       time.Duration
	tick           time.Duration
	burst          bool
	emissionFactor float64

	powercapRoot string
	procStat     string

	pIdle float64
	pMax  float64
	tdp   float64

	idleFraction float64
	maxFraction  float64

	jsonl     bool
	debugMeta bool
	jsonOut   bool
}

func main() {
	var o cliOpts

	root := &cobra.Command{
		Use:   "energyaudit PID",
		Short: "CPU energy audit and carbon attribution for a single process",
		Long: `energyaudit measures a process's share of host CPU energy over a fixed
window, using the kernel's RAPL/powercap counters when available and an
empirical linear power model otherwise, and converts the result to an
estimated carbon mass using a configurable grid emission factor.

* GitHub: https://github.com/ja7ad/energyaudit

Examples:
  energyaudit --duration 30s 12345
  energyaudit --duration 1m --tick 500ms --emission-factor 400 --jsonl 12345`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid pid %q: %w", args[0], err)
			}
			return run(cmd.Context(), o, pid)
		},
	}

	root.Flags().DurationVar(&o.duration, "duration", 30*time.Second, "total audit duration")
	root.Flags().DurationVar(&o.tick, "tick", time.Second, "scheduler tick period")
	root.Flags().BoolVar(&o.burst, "burst", false, "use burst overrun policy instead of the default coalesce policy")
	root.Flags().Float64Var(&o.emissionFactor, "emission-factor", carbon.DefaultEmissionFactorGPerKWh, "grid emission factor in gCO2e/kWh")

	root.Flags().StringVar(&o.powercapRoot, "powercap-root", audit.DefaultPowercapRoot, "powercap sysfs root")
	root.Flags().StringVar(&o.procStat, "proc-stat", "", "override path to /proc/stat (testing)")

	root.Flags().Float64Var(&o.pIdle, "p-idle", 0, "fallback idle power in Watts (used when hardware counters are unavailable)")
	root.Flags().Float64Var(&o.pMax, "p-max", 0, "fallback max power in Watts at 100% utilization")
	root.Flags().Float64Var(&o.tdp, "tdp", 0, "fallback TDP in Watts, used with --idle-fraction/--max-fraction when p-idle/p-max are not given")
	root.Flags().Float64Var(&o.idleFraction, "idle-fraction", audit.DefaultIdleFraction, "fraction of TDP treated as idle power")
	root.Flags().Float64Var(&o.maxFraction, "max-fraction", audit.DefaultMaxFraction, "fraction of TDP treated as max power")

	root.Flags().BoolVar(&o.jsonl, "jsonl", false, "stream a sliding-window attribution as JSON lines, one per tick")
	root.Flags().BoolVar(&o.debugMeta, "debug-meta", false, "include internal sampling counters in the final report")
	root.Flags().BoolVar(&o.jsonOut, "json", false, "print the final report as JSON instead of a table")

	if err := root.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error(err.Error())
		}
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

func run(ctx context.Context, o cliOpts, pid int) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy := schedule.Coalesce
	if o.burst {
		policy = schedule.Burst
	}

	var fallback *audit.EmpiricalConfig
	if o.pIdle > 0 || o.pMax > 0 || o.tdp > 0 {
		fallback = &audit.EmpiricalConfig{
			PIdleW: o.pIdle, PMaxW: o.pMax, TDPW: o.tdp,
			IdleFraction: o.idleFraction, MaxFraction: o.maxFraction,
		}
	}

	opts := audit.Options{
		PID:                   pid,
		DurationSeconds:       o.duration.Seconds(),
		TickMillis:            float64(o.tick.Milliseconds()),
		Policy:                policy,
		EmissionFactorGPerKWh: o.emissionFactor,
		PowercapRoot:          o.powercapRoot,
		ProcStatPath:          o.procStat,
		Fallback:              fallback,
		IncludeMeta:           o.debugMeta,
	}

	if o.jsonl {
		opts.WindowSize = accumulate.DefaultWindowSize
		enc := json.NewEncoder(os.Stdout)
		opts.OnTick = func(tick schedule.Tick, result accumulate.WindowResult) {
			row := jsonlRow{TickID: tick.TickID, OK: result.OK, Samples: result.Samples}
			if !result.OK {
				row.Reason = result.Reason
			} else {
				row.Share = result.Share
				row.ProcessEnergyJ = result.ProcessEnergyJ
				row.ProcessCarbonGCO2e = result.ProcessCarbonGCO2e
				row.IsActive = result.IsActive
			}
			_ = enc.Encode(row)
		}
	}

	clk := clock.NewSystem()
	report, err := audit.Run(ctx, clk, opts)
	if err != nil {
		return err
	}

	if o.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
	} else {
		printReport(report)
	}

	// A signal-initiated abort still yields a valid partial report (printed
	// above); report it to main as a cancellation so the process exits 130.
	if report.EndReason == "aborted" {
		return context.Canceled
	}
	return nil
}

type jsonlRow struct {
	TickID             int64   `json:"tick_id"`
	OK                 bool    `json:"ok"`
	Reason             string  `json:"reason,omitempty"`
	Samples            int     `json:"samples"`
	Share              float64 `json:"share,omitempty"`
	ProcessEnergyJ     float64 `json:"process_energy_j,omitempty"`
	ProcessCarbonGCO2e float64 `json:"process_carbon_gco2e,omitempty"`
	IsActive           bool    `json:"is_active,omitempty"`
}

func printReport(r audit.Report) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "pid:\t%d\n", r.PID)
	fmt.Fprintf(tw, "generated at:\t%s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "duration (s):\t%.3f\n", r.DurationSeconds)
	fmt.Fprintf(tw, "end reason:\t%s\n", r.EndReason)
	fmt.Fprintf(tw, "active:\t%t\n", r.IsActive)
	fmt.Fprintln(tw, "---\t---")
	fmt.Fprintf(tw, "host CPU energy (J):\t%.4f\n", r.HostCPUEnergyJ)
	fmt.Fprintf(tw, "process CPU energy (J):\t%.4f\n", r.ProcessCPUEnergyJ)
	fmt.Fprintf(tw, "process CPU share:\t%.4f\n", r.ProcessCPUEnergyShare)
	fmt.Fprintf(tw, "host carbon (gCO2e):\t%.6f\n", r.HostCarbonGCO2e)
	fmt.Fprintf(tw, "process carbon (gCO2e):\t%.6f\n", r.ProcessCarbonGCO2e)
	tw.Flush()

	for _, note := range r.Notes {
		fmt.Printf("note: %s\n", note)
	}

	if r.Meta != nil {
		fmt.Println()
		fmt.Printf("meta: ticks=%d energy_primed=%d host_primed=%d process_ok=%d process_err=%d skipped_periods=%d stat_bytes_read=%s\n",
			r.Meta.TicksObserved, r.Meta.EnergyPrimedSamples, r.Meta.HostPrimedSamples,
			r.Meta.ProcessOKSamples, r.Meta.ProcessErrorSamples, r.Meta.SkippedPeriodsTotal,
			types.Bytes(r.Meta.BytesRead).Humanized())
		if r.Meta.FirstProcessErrorKind != "" {
			fmt.Printf("meta: first process error kind=%s\n", r.Meta.FirstProcessErrorKind)
		}
	}
}
