//go:build linux

package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/energyaudit/internal/errs"
	"github.com/ja7ad/energyaudit/pkg/clock"
)

func TestRun_RejectsInvalidOptions(t *testing.T) {
	clk := clock.NewSystem()

	_, err := Run(context.Background(), clk, Options{PID: 0, DurationSeconds: 1, TickMillis: 100})
	assert.ErrorIs(t, err, errs.ErrInvalidPID)

	_, err = Run(context.Background(), clk, Options{PID: 1234, DurationSeconds: 0, TickMillis: 100})
	assert.ErrorIs(t, err, errs.ErrInvalidDuration)

	_, err = Run(context.Background(), clk, Options{PID: 1234, DurationSeconds: 1, TickMillis: 0})
	assert.ErrorIs(t, err, errs.ErrInvalidPeriod)
}

func TestRun_FailsWhenNoEnergySourceAvailable(t *testing.T) {
	clk := clock.NewSystem()
	_, err := Run(context.Background(), clk, Options{
		PID: 1234, DurationSeconds: 1, TickMillis: 100,
		PowercapRoot: filepath.Join(t.TempDir(), "missing"),
	})
	assert.ErrorIs(t, err, errs.ErrEnergySourceUnavail)
}

func writeProcessStatLine(t *testing.T, path string, pid int, utime, stime, startTime int64) {
	t.Helper()
	// State (field 3) is "R" and every other field after comm is zero;
	// only utime(14), stime(15) and starttime(22) carry real values here.
	fields := make([]string, 0, 22)
	fields = append(fields, "R", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0")
	fields = append(fields, itoa(utime), itoa(stime))
	for i := 0; i < 6; i++ {
		fields = append(fields, "0")
	}
	fields = append(fields, itoa(startTime))

	line := "1234 (test) "
	for i, f := range fields {
		if i > 0 {
			line += " "
		}
		line += f
	}
	line += "\n"
	require.NoError(t, os.WriteFile(path, []byte(line), 0o644))
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf []byte
	for v > 0 {
		buf = append([]byte{byte('0' + v%10)}, buf...)
		v /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func TestRun_StaticCountersYieldInactiveReport(t *testing.T) {
	dir := t.TempDir()

	statPath := filepath.Join(dir, "stat")
	require.NoError(t, os.WriteFile(statPath, []byte("cpu  100 0 0 100 0 0 0 0\n"), 0o644))

	procStatPath := filepath.Join(dir, "proc_stat")
	writeProcessStatLine(t, procStatPath, 1234, 10, 10, 500)

	clk := clock.NewSystem()
	report, err := Run(context.Background(), clk, Options{
		PID:                   1234,
		DurationSeconds:       0.3,
		TickMillis:            80,
		EmissionFactorGPerKWh: 475,
		PowercapRoot:          filepath.Join(dir, "no-powercap"),
		ProcStatPath:          statPath,
		ProcessStatPath:       procStatPath,
		Fallback:              &EmpiricalConfig{PIdleW: 8, PMaxW: 65},
		IncludeMeta:           true,
	})
	require.NoError(t, err)

	assert.Equal(t, "duration", report.EndReason)
	assert.False(t, report.IsActive)
	assert.Zero(t, report.ProcessCPUEnergyShare)
	assert.Zero(t, report.ProcessCPUEnergyJ)
	require.NotNil(t, report.Meta)
	assert.GreaterOrEqual(t, report.Meta.TicksObserved, 2)
	assert.GreaterOrEqual(t, report.Meta.ProcessOKSamples, 2)
}

func TestRun_ProcessPIDMismatchFailsFast(t *testing.T) {
	dir := t.TempDir()
	statPath := filepath.Join(dir, "stat")
	require.NoError(t, os.WriteFile(statPath, []byte("cpu  100 0 0 100 0 0 0 0\n"), 0o644))

	clk := clock.NewSystem()
	_, err := Run(context.Background(), clk, Options{
		PID: 1234, DurationSeconds: 1, TickMillis: 100,
		PowercapRoot:    filepath.Join(dir, "no-powercap"),
		ProcStatPath:    statPath,
		ProcessStatPath: "/proc/999999999/stat", // embedded pid disagrees with 1234
		Fallback:        &EmpiricalConfig{PIdleW: 8, PMaxW: 65},
	})
	require.Error(t, err)
}

func TestRun_HonoursContextCancellation(t *testing.T) {
	dir := t.TempDir()
	statPath := filepath.Join(dir, "stat")
	require.NoError(t, os.WriteFile(statPath, []byte("cpu  100 0 0 100 0 0 0 0\n"), 0o644))
	procStatPath := filepath.Join(dir, "proc_stat")
	writeProcessStatLine(t, procStatPath, 1234, 10, 10, 500)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	clk := clock.NewSystem()
	report, err := Run(ctx, clk, Options{
		PID: 1234, DurationSeconds: 10, TickMillis: 20,
		PowercapRoot:    filepath.Join(dir, "no-powercap"),
		ProcStatPath:    statPath,
		ProcessStatPath: procStatPath,
		Fallback:        &EmpiricalConfig{PIdleW: 8, PMaxW: 65},
	})
	require.NoError(t, err)
	assert.Equal(t, "aborted", report.EndReason)
}
