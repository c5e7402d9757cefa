//go:build linux

package procstat

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildStatLine renders a synthetic /proc/<pid>/stat line with the given
// utime, stime and starttime placed at their real field offsets, and an
// arbitrary comm (possibly containing spaces/parens) to exercise the
// last-')' split.
func buildStatLine(pid int, comm string, utime, stime, startTime int64) string {
	rest := make([]string, 20)
	for i := range rest {
		rest[i] = "0"
	}
	rest[fieldUTime] = strconv.FormatInt(utime, 10)
	rest[fieldSTime] = strconv.FormatInt(stime, 10)
	rest[fieldStartTime] = strconv.FormatInt(startTime, 10)
	rest[fieldState] = "S"
	return fmt.Sprintf("%d (%s) %s\n", pid, comm, strings.Join(rest, " "))
}

func writeProcessStat(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stat")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewProcessReader_RejectsInvalidPID(t *testing.T) {
	for _, pid := range []int{0, -1, -42} {
		_, err := NewProcessReader(pid, "")
		require.ErrorIs(t, err, ErrInvalidPID)
	}
}

func TestNewProcessReader_PIDMismatch(t *testing.T) {
	// The check compares the pid embedded in a /proc/<pid>/stat path; the
	// file is not read at construction.
	_, err := NewProcessReader(123, DefaultStatPathFor(999))
	require.ErrorIs(t, err, ErrPIDMismatch)
}

func TestNewProcessReader_PIDMatchOK(t *testing.T) {
	path := writeProcessStat(t, buildStatLine(123, "proc", 1, 1, 100))
	r, err := NewProcessReader(123, path)
	require.NoError(t, err)
	require.NotNil(t, r)
}

func TestProcessReader_CommWithParensAndSpaces(t *testing.T) {
	path := writeProcessStat(t, buildStatLine(42, "my (weird) proc name", 5, 5, 10))
	r, err := NewProcessReader(42, path)
	require.NoError(t, err)

	s := r.Sample()
	assert.True(t, s.OK)
	assert.False(t, s.Primed)
}

func TestProcessReader_PrimingThenDelta(t *testing.T) {
	path := writeProcessStat(t, buildStatLine(42, "app", 10, 5, 100))
	r, err := NewProcessReader(42, path)
	require.NoError(t, err)

	s1 := r.Sample()
	assert.True(t, s1.OK)
	assert.False(t, s1.Primed)
	assert.Zero(t, s1.DeltaActive)

	require.NoError(t, os.WriteFile(path, []byte(buildStatLine(42, "app", 25, 10, 100)), 0o644))
	s2 := r.Sample()
	assert.True(t, s2.OK)
	assert.True(t, s2.Primed)
	assert.Equal(t, int64(20), s2.DeltaActive) // (25+10) - (10+5)
}

func TestProcessReader_RestartDetectedViaStartTime(t *testing.T) {
	path := writeProcessStat(t, buildStatLine(42, "app", 10, 5, 100))
	r, err := NewProcessReader(42, path)
	require.NoError(t, err)

	r.Sample() // primes

	// Same pid, new process (start_time changed) — e.g. pid reuse.
	require.NoError(t, os.WriteFile(path, []byte(buildStatLine(42, "app2", 1, 1, 500)), 0o644))
	s := r.Sample()
	assert.True(t, s.OK)
	assert.False(t, s.Primed)
	assert.Zero(t, s.DeltaActive)

	// Next tick resumes normal deltas from the post-restart baseline.
	require.NoError(t, os.WriteFile(path, []byte(buildStatLine(42, "app2", 4, 2, 500)), 0o644))
	s2 := r.Sample()
	assert.True(t, s2.Primed)
	assert.Equal(t, int64(4), s2.DeltaActive) // (4+2)-(1+1)
}

func TestProcessReader_MissingFileYieldsNotOK(t *testing.T) {
	r, err := NewProcessReader(99999, filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	s := r.Sample()
	assert.False(t, s.OK)
	assert.Error(t, s.Err)
}

func TestProcessReader_DeltaNeverNegative(t *testing.T) {
	path := writeProcessStat(t, buildStatLine(7, "app", 100, 50, 1))
	r, err := NewProcessReader(7, path)
	require.NoError(t, err)
	r.Sample()

	// utime+stime regresses without a start-time change — should clamp to 0.
	require.NoError(t, os.WriteFile(path, []byte(buildStatLine(7, "app", 10, 10, 1)), 0o644))
	s := r.Sample()
	assert.True(t, s.Primed)
	assert.Zero(t, s.DeltaActive)
}
