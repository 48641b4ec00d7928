package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vexsearch/offstore/internal/version"
)

// Artifacts are the files written for one invocation.
type Artifacts struct {
	Run         string
	FailureJSON string
	FailureText string
}

// failureDocument is the structured failure report.
type failureDocument struct {
	FormatVersion int       `json:"format_version"`
	RunID         string    `json:"run_id"`
	Dataset       string    `json:"dataset"`
	Column        string    `json:"column"`
	GeneratedAt   time.Time `json:"generated_at"`
	Total         int       `json:"total"`
	Failed        int       `json:"failed"`
	Failures      []Failure `json:"failures"`
}

// BaseName derives the deterministic artifact prefix of a run.
func BaseName(dataset, column string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", sanitize(dataset), sanitize(column), at.UTC().Format("20060102_150405"))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// Write persists the run report under dir and, when any partition failed,
// the failure report pair.
func Write(dir string, r *Report) (Artifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifacts{}, err
	}
	base := filepath.Join(dir, BaseName(r.Dataset, r.Column, r.StartedAt))
	out := Artifacts{Run: base + "_run.json"}

	r.FormatVersion = version.ReportFormatVersionCurrent
	if err := writeJSON(out.Run, r); err != nil {
		return out, err
	}
	if len(r.Failures) == 0 {
		return out, nil
	}

	out.FailureJSON = base + "_failures.json"
	doc := failureDocument{
		FormatVersion: version.ReportFormatVersionCurrent,
		RunID:         r.RunID,
		Dataset:       r.Dataset,
		Column:        r.Column,
		GeneratedAt:   r.FinishedAt.UTC(),
		Total:         r.Total(),
		Failed:        len(r.Failures),
		Failures:      r.Failures,
	}
	if err := writeJSON(out.FailureJSON, doc); err != nil {
		return out, err
	}

	out.FailureText = base + "_failures.txt"
	var b strings.Builder
	fmt.Fprintf(&b, "failure report for %s.%s (run %s)\n", r.Dataset, r.Column, r.RunID)
	fmt.Fprintf(&b, "%d of %d partitions failed\n\n", len(r.Failures), max(r.Total(), len(r.Failures)))
	byClass := make(map[string]int)
	for _, f := range r.Failures {
		byClass[string(f.Class)]++
	}
	for _, c := range sortedClasses(byClass) {
		fmt.Fprintf(&b, "%-8s %d\n", c, byClass[c])
	}
	b.WriteString("\n")
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "%s [%s/%s] %s\n    %s\n", f.Time.UTC().Format(time.RFC3339), f.Pass, f.Class, f.Path, f.Message)
	}
	if err := os.WriteFile(out.FailureText, []byte(b.String()), 0o644); err != nil {
		return out, err
	}
	return out, nil
}

func sortedClasses(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ErrNotRunReport is returned by Load for documents that are not run reports.
var ErrNotRunReport = errors.New("not a run report")

// Load reads a run report written by Write.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotRunReport, path, err)
	}
	if r.RunID == "" {
		return nil, fmt.Errorf("%w: %s has no run id", ErrNotRunReport, path)
	}
	if err := version.CheckReportVersion(r.FormatVersion); err != nil {
		return nil, err
	}
	return &r, nil
}
