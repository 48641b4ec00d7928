// Package version carries build information and the format version of the
// report documents offstore writes.
package version

import (
	"fmt"
	"runtime"
)

// Build information, set with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// PartitionFormat names the file format partitions are read and written in.
const PartitionFormat = "parquet (zstd)"

// Format versions for on-disk documents.
const (
	// ReportFormatVersionCurrent is the run/failure report version written.
	ReportFormatVersionCurrent = 1
	// ReportFormatVersionMin is the oldest report version readable.
	ReportFormatVersionMin = 1
)

// SupportedVersions is an inclusive readable range.
type SupportedVersions struct {
	CurrentVersion int
	MinVersion     int
}

// ReportVersions returns the readable report format versions.
func ReportVersions() SupportedVersions {
	return SupportedVersions{
		CurrentVersion: ReportFormatVersionCurrent,
		MinVersion:     ReportFormatVersionMin,
	}
}

// CanRead returns true if the given version is within range.
func (sv SupportedVersions) CanRead(version int) bool {
	return version >= sv.MinVersion && version <= sv.CurrentVersion
}

// ErrVersionTooOld indicates a format version is older than the minimum supported.
type ErrVersionTooOld struct {
	Format     string
	Version    int
	MinVersion int
}

func (e *ErrVersionTooOld) Error() string {
	return fmt.Sprintf("%s format version %d is too old (minimum: %d)", e.Format, e.Version, e.MinVersion)
}

// ErrVersionTooNew indicates a format version is newer than this build can read.
type ErrVersionTooNew struct {
	Format         string
	Version        int
	CurrentVersion int
}

func (e *ErrVersionTooNew) Error() string {
	return fmt.Sprintf("%s format version %d is too new for this build (current: %d)", e.Format, e.Version, e.CurrentVersion)
}

func check(format string, sv SupportedVersions, version int) error {
	if version < sv.MinVersion {
		return &ErrVersionTooOld{Format: format, Version: version, MinVersion: sv.MinVersion}
	}
	if version > sv.CurrentVersion {
		return &ErrVersionTooNew{Format: format, Version: version, CurrentVersion: sv.CurrentVersion}
	}
	return nil
}

// CheckReportVersion validates a report format version is readable.
func CheckReportVersion(version int) error {
	return check("report", ReportVersions(), version)
}

// String renders the build information for the version command.
func String() string {
	return fmt.Sprintf("offstore version %s\n  commit: %s\n  built:  %s\n  go:     %s\n  partition format: %s\n",
		Version, GitCommit, BuildTime, runtime.Version(), PartitionFormat)
}
