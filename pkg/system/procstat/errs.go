//go:build linux

package procstat

import "errors"

var (
	// ErrInvalidStat indicates a malformed or empty stat file (host or process).
	ErrInvalidStat = errors.New("procstat: invalid_file_content")

	// ErrNoStatLine indicates /proc/<pid>/stat had no parseable comm boundary.
	ErrNoStatLine = errors.New("procstat: no stat line")

	// ErrShortStat indicates fewer fields than the process stat parser needs.
	ErrShortStat = errors.New("procstat: short stat")

	// ErrInvalidPID is returned at ProcessReader construction for a
	// non-positive or non-integer PID.
	ErrInvalidPID = errors.New("procstat: invalid_pid")

	// ErrPIDMismatch is returned at ProcessReader construction when an
	// explicit stat path's embedded PID disagrees with the constructor PID.
	ErrPIDMismatch = errors.New("procstat: pid_mismatch")
)
