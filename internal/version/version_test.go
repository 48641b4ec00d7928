package version

import (
	"errors"
	"strings"
	"testing"
)

func TestCanRead(t *testing.T) {
	sv := SupportedVersions{CurrentVersion: 3, MinVersion: 2}
	tests := []struct {
		version int
		want    bool
	}{
		{1, false},
		{2, true},
		{3, true},
		{4, false},
	}
	for _, tc := range tests {
		if got := sv.CanRead(tc.version); got != tc.want {
			t.Errorf("CanRead(%d) = %v, want %v", tc.version, got, tc.want)
		}
	}
}

func TestCheckReportVersion(t *testing.T) {
	if err := CheckReportVersion(ReportFormatVersionCurrent); err != nil {
		t.Fatalf("current version should be readable: %v", err)
	}

	err := CheckReportVersion(ReportFormatVersionCurrent + 1)
	var tooNew *ErrVersionTooNew
	if !errors.As(err, &tooNew) {
		t.Fatalf("expected ErrVersionTooNew, got %v", err)
	}
	if tooNew.Format != "report" {
		t.Errorf("expected format report, got %s", tooNew.Format)
	}

	err = CheckReportVersion(0)
	var tooOld *ErrVersionTooOld
	if !errors.As(err, &tooOld) {
		t.Fatalf("expected ErrVersionTooOld, got %v", err)
	}
	if !strings.Contains(err.Error(), "too old") {
		t.Errorf("unexpected message: %s", err)
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, "offstore version "+Version) {
		t.Errorf("unexpected version string: %q", s)
	}
	if !strings.Contains(s, "partition format: parquet") {
		t.Errorf("expected partition format in %q", s)
	}
}
