// Package errs defines the canonical error kinds shared by the readers,
// scheduler, accumulator and controller, and the single lookup table that
// maps native filesystem errors onto them.
package errs

import (
	"errors"
	"os"
	"strings"
	"syscall"

	"github.com/ja7ad/energyaudit/pkg/system/procstat"
)

// Kind is a canonical error classification, stable across platforms and
// serializable in reports and JSONL meta blocks.
type Kind string

const (
	KindPermissionDenied      Kind = "permission_denied"
	KindFileNotFound          Kind = "file_not_found"
	KindNotADirectory         Kind = "not_a_directory"
	KindSymlinkLoop           Kind = "symlink_loop"
	KindOperationNotPermitted Kind = "operation_not_permitted"
	KindInvalidFileContent    Kind = "invalid_file_content"
	KindPIDMismatch           Kind = "pid_mismatch"
	KindInvalidPID            Kind = "invalid_pid"
	KindInvalidPeriod         Kind = "invalid_period"
	KindInvalidDuration       Kind = "invalid_duration"
	KindEnergySourceUnavail   Kind = "energy_source_unavailable"
	KindNoHostCPUActivity     Kind = "no_host_cpu_activity"
	KindAlreadyFinalised      Kind = "already_finalised"
	KindUnknown               Kind = "unknown"
)

// Sentinel errors for the configuration/programmer-error kinds. Transient
// I/O kinds are never sentinel errors: they are recorded as a Kind alongside
// a wrapped native error, since the native error carries the path/errno that
// is useful in a diagnostic hint.
var (
	ErrPIDMismatch         = errors.New("pid_mismatch")
	ErrInvalidPID          = errors.New("invalid_pid")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrInvalidDuration     = errors.New("invalid_duration")
	ErrEnergySourceUnavail = errors.New("energy_source_unavailable")
	ErrAlreadyFinalised    = errors.New("already_finalised")
)

// FromSyscall maps a native filesystem error to a canonical Kind. It is the
// single lookup table; readers must never
// branch on the native error code directly.
func FromSyscall(err error) Kind {
	if err == nil {
		return ""
	}

	if errors.Is(err, procstat.ErrInvalidStat) || errors.Is(err, procstat.ErrNoStatLine) || errors.Is(err, procstat.ErrShortStat) {
		return KindInvalidFileContent
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Err
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EACCES:
			return KindPermissionDenied
		case syscall.EPERM:
			return KindOperationNotPermitted
		case syscall.ENOENT:
			return KindFileNotFound
		case syscall.ENOTDIR:
			return KindNotADirectory
		case syscall.ELOOP:
			return KindSymlinkLoop
		}
	}

	if errors.Is(err, os.ErrPermission) {
		return KindPermissionDenied
	}
	if errors.Is(err, os.ErrNotExist) {
		return KindFileNotFound
	}

	// Fallback: lowercase the original message for unrecognised codes.
	return Kind(strings.ToLower(err.Error()))
}
