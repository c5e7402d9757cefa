//go:build linux

// Package audit implements the hardware/fallback energy reader, the
// startup power-domain probe, and the audit controller that orchestrates
// the scheduler and the three readers to produce a report.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultPowercapRoot is the kernel's powercap sysfs hierarchy.
const DefaultPowercapRoot = "/sys/class/powercap"

// Vendor classifies a package's directory-name prefix.
type Vendor string

const (
	VendorIntel   Vendor = "intel"
	VendorAMD     Vendor = "amd"
	VendorUnknown Vendor = "unknown"
)

// ProbeStatus summarises the probe's overall finding.
type ProbeStatus string

const (
	ProbeOK       ProbeStatus = "OK"
	ProbeDegraded ProbeStatus = "DEGRADED"
	ProbeFailed   ProbeStatus = "FAILED"
)

// PackagePath describes one discovered CPU-package energy domain.
type PackagePath struct {
	Name          string
	EnergyUJPath  string // resolved real path, falls back to nominal on failure
	Readable      bool
	MaxEnergyUJ   *uint64
	Vendor        Vendor
}

// ProbeResult is the never-failing result of a single probe run.
type ProbeResult struct {
	Status   ProbeStatus
	Packages []PackagePath
	Hint     string
}

// Probe discovers energy-counter packages exposed by the kernel under root.
// It never returns an error: filesystem problems are reflected in the
// result's Status and Hint. It is not cached and is
// meant to run exactly once, at audit start.
func Probe(root string) ProbeResult {
	if root == "" {
		root = DefaultPowercapRoot
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return ProbeResult{
			Status: ProbeFailed,
			Hint:   fmt.Sprintf("powercap root %q unreadable: %v", root, err),
		}
	}

	var packages []PackagePath
	for _, entry := range entries {
		dir := filepath.Join(root, entry.Name())
		nameBytes, err := os.ReadFile(filepath.Join(dir, "name"))
		if err != nil {
			continue
		}
		name := strings.TrimSpace(string(nameBytes))
		if !strings.Contains(name, "package-") {
			continue
		}

		packages = append(packages, buildPackagePath(dir, entry.Name(), name))
	}

	if len(packages) == 0 {
		return ProbeResult{
			Status: ProbeFailed,
			Hint:   fmt.Sprintf("no package-* energy domains found under %q", root),
		}
	}

	anyReadable := false
	for _, p := range packages {
		if p.Readable {
			anyReadable = true
			break
		}
	}
	if !anyReadable {
		return ProbeResult{
			Status:   ProbeDegraded,
			Packages: packages,
			Hint:     "package energy_uj files found but none are readable (check permissions)",
		}
	}

	return ProbeResult{Status: ProbeOK, Packages: packages}
}

func buildPackagePath(dir, dirName, name string) PackagePath {
	nominal := filepath.Join(dir, "energy_uj")

	resolved, err := filepath.EvalSymlinks(nominal)
	if err != nil {
		resolved = nominal
	}

	readable := false
	if f, err := os.Open(nominal); err == nil {
		_ = f.Close()
		readable = true
	}

	var maxEnergy *uint64
	if raw, err := os.ReadFile(filepath.Join(dir, "max_energy_uj")); err == nil {
		if v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64); err == nil {
			maxEnergy = &v
		}
	}

	return PackagePath{
		Name:         name,
		EnergyUJPath: resolved,
		Readable:     readable,
		MaxEnergyUJ:  maxEnergy,
		Vendor:       classifyVendor(dirName),
	}
}

func classifyVendor(dirName string) Vendor {
	switch {
	case strings.HasPrefix(dirName, "intel-rapl"):
		return VendorIntel
	case strings.HasPrefix(dirName, "amd-rapl"):
		return VendorAMD
	default:
		return VendorUnknown
	}
}
