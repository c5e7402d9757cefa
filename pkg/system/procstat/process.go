//go:build linux

package procstat

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// DefaultStatPathFor returns the canonical /proc/<pid>/stat path.
func DefaultStatPathFor(pid int) string {
	return fmt.Sprintf("/proc/%d/stat", pid)
}

var embeddedPIDPattern = regexp.MustCompile(`/proc/(\d+)/stat$`)

// processStatFields are the 0-based indexes, relative to the field slice
// that begins right after the comm's closing parenthesis, of the fields
// procstat needs. Field numbering follows proc(5): state=3, ppid=4,
// utime=14, stime=15, starttime=22 overall; comm and pid are consumed
// separately, so these offsets are (overall - 3).
const (
	fieldState     = 0
	fieldPPID      = 1
	fieldUTime     = 11
	fieldSTime     = 12
	fieldStartTime = 19
)

// ProcessSample is the process reader's contract with the accumulator.
type ProcessSample struct {
	OK          bool
	Primed      bool
	PID         int
	DeltaActive int64
	Err         error
}

// ProcessReader samples /proc/<pid>/stat deltas for a single target
// process, detecting process-id reuse via the kernel start-time field.
type ProcessReader struct {
	pid  int
	path string

	primed             bool
	lastAppTicks       int64
	lastStartTimeTicks int64
}

// NewProcessReader validates pid and constructs a reader. A zero, negative
// or otherwise invalid pid fails construction with ErrInvalidPID
// (configuration error). When statPath is non-empty its
// embedded pid must equal pid, else construction fails with ErrPIDMismatch.
func NewProcessReader(pid int, statPath string) (*ProcessReader, error) {
	if pid <= 0 {
		return nil, ErrInvalidPID
	}
	if statPath == "" {
		statPath = DefaultStatPathFor(pid)
	} else if m := embeddedPIDPattern.FindStringSubmatch(statPath); m != nil {
		embedded, err := strconv.Atoi(m[1])
		if err != nil || embedded != pid {
			return nil, ErrPIDMismatch
		}
	}
	return &ProcessReader{pid: pid, path: statPath}, nil
}

// Sample reads the stat file once and derives the active-tick delta since
// the previous call, resetting state transparently when the process's
// start time changes (pid reuse / restart).
func (r *ProcessReader) Sample() ProcessSample {
	utime, stime, startTime, err := readProcessStat(r.path)
	if err != nil {
		return ProcessSample{OK: false, PID: r.pid, Err: err}
	}

	currentApp := utime + stime

	if !r.primed {
		r.primed = true
		r.lastAppTicks = currentApp
		r.lastStartTimeTicks = startTime
		return ProcessSample{OK: true, Primed: false, PID: r.pid}
	}

	if startTime != r.lastStartTimeTicks {
		// Process restart detected: reset baseline, no usable delta yet.
		r.lastAppTicks = currentApp
		r.lastStartTimeTicks = startTime
		return ProcessSample{OK: true, Primed: false, PID: r.pid}
	}

	delta := currentApp - r.lastAppTicks
	if delta < 0 {
		delta = 0
	}
	r.lastAppTicks = currentApp

	return ProcessSample{OK: true, Primed: true, PID: r.pid, DeltaActive: delta}
}

// readProcessStat parses pid, comm, state, ppid, utime, stime and
// starttime from a /proc/<pid>/stat-formatted file. comm is located by
// splitting on the LAST ')' since it may itself contain parentheses and
// whitespace.
func readProcessStat(path string) (utime, stime, startTime int64, err error) {
	f, openErr := os.Open(path)
	if openErr != nil {
		return 0, 0, 0, openErr
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, 0, 0, fmt.Errorf("procstat: empty stat file: %w", ErrInvalidStat)
	}
	line := sc.Text()

	i := strings.LastIndex(line, ")")
	if i < 0 {
		return 0, 0, 0, fmt.Errorf("procstat: no comm boundary: %w", ErrNoStatLine)
	}
	rest := strings.Fields(line[i+1:])

	get := func(idx int) (int64, error) {
		if idx >= len(rest) {
			return 0, ErrShortStat
		}
		return strconv.ParseInt(rest[idx], 10, 64)
	}

	ut, err1 := get(fieldUTime)
	st, err2 := get(fieldSTime)
	start, err3 := get(fieldStartTime)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, fmt.Errorf("procstat: %w", ErrShortStat)
	}
	return ut, st, start, nil
}
