//go:build linux

package procstat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStat(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "stat")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseStatFile_AggregateAndPerCore(t *testing.T) {
	dir := t.TempDir()
	path := writeStat(t, dir, "cpu  100 10 50 800 20 0 5 0\ncpu0 50 5 25 400 10 0 2 0\ncpu1 50 5 25 400 10 0 3 0\nintr 12345\n")

	agg, perCore, err := ParseStatFile(path)
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, uint64(100+10+50+0+5+0), agg.ActiveTotal)
	assert.Equal(t, uint64(800+20), agg.IdleTotal)
	assert.Len(t, perCore, 2)
}

func TestParseStatFile_MissingTrailingFieldsDefaultZero(t *testing.T) {
	dir := t.TempDir()
	path := writeStat(t, dir, "cpu 10 0 0 90\n")

	agg, _, err := ParseStatFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), agg.ActiveTotal)
	assert.Equal(t, uint64(90), agg.IdleTotal)
}

func TestParseStatFile_EmptyOrNoCPULine(t *testing.T) {
	dir := t.TempDir()
	path := writeStat(t, dir, "intr 1 2 3\n")

	_, _, err := ParseStatFile(path)
	require.Error(t, err)
}

func TestParseStatFile_MissingFile(t *testing.T) {
	_, _, err := ParseStatFile(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestHostReader_PrimingThenDelta(t *testing.T) {
	dir := t.TempDir()
	path := writeStat(t, dir, "cpu 100 0 0 900 0 0 0 0\n")

	r := NewHostReader(path)

	s1 := r.Sample(0)
	assert.True(t, s1.OK)
	assert.False(t, s1.Primed)
	assert.Zero(t, s1.Ticks.DeltaActive)

	writeStat(t, dir, "cpu 150 0 0 950 0 0 0 0\n")
	s2 := r.Sample(int64(1 * 1e9))
	assert.True(t, s2.OK)
	assert.True(t, s2.Primed)
	assert.Equal(t, uint64(50), s2.Ticks.DeltaActive)
	assert.Equal(t, uint64(50), s2.Ticks.DeltaIdle)
	assert.Equal(t, uint64(100), s2.Ticks.DeltaTotal)
	assert.InDelta(t, 0.5, s2.Utilisation, 1e-9)
	assert.InDelta(t, 1.0, s2.ClampedDTSecond, 1e-9)
}

func TestHostReader_ClampsDT(t *testing.T) {
	dir := t.TempDir()
	path := writeStat(t, dir, "cpu 100 0 0 900 0 0 0 0\n")
	r := NewHostReader(path)
	r.Sample(0)

	writeStat(t, dir, "cpu 110 0 0 910 0 0 0 0\n")
	s := r.Sample(int64(50 * 1e6)) // 50ms, below the 0.2s floor
	assert.InDelta(t, 0.2, s.ClampedDTSecond, 1e-9)

	writeStat(t, dir, "cpu 120 0 0 920 0 0 0 0\n")
	s2 := r.Sample(int64(50*1e6 + 10*1e9)) // far beyond the 5s ceiling
	assert.InDelta(t, 5.0, s2.ClampedDTSecond, 1e-9)
}

func TestHostReader_CounterRegressionYieldsZeroDelta(t *testing.T) {
	dir := t.TempDir()
	path := writeStat(t, dir, "cpu 500 0 0 9500 0 0 0 0\n")
	r := NewHostReader(path)
	r.Sample(0)

	// Kernel re-export / container restart: counters go backwards.
	writeStat(t, dir, "cpu 10 0 0 90 0 0 0 0\n")
	s := r.Sample(int64(1e9))
	assert.Zero(t, s.Ticks.DeltaActive)
	assert.Zero(t, s.Ticks.DeltaIdle)
	assert.Zero(t, s.Ticks.DeltaTotal)
	assert.Zero(t, s.Utilisation)
}

func TestHostReader_ReadFailureYieldsNotOK(t *testing.T) {
	r := NewHostReader(filepath.Join(t.TempDir(), "missing"))
	s := r.Sample(0)
	assert.False(t, s.OK)
}
