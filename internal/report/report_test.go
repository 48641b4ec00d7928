package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vexsearch/offstore/internal/backup"
	"github.com/vexsearch/offstore/internal/mutate"
)

var started = time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)

func sample() *Report {
	r := &Report{
		RunID:      "run-1",
		Dataset:    "orders",
		Column:     "status",
		Change:     "status: ABNORMAL -> NORMAL",
		Mode:       ModeMutate,
		StartedAt:  started,
		Partitions: 3,
		Counted:    7,
		KeyCounts:  map[string]int{"ABNORMAL": 7},
	}
	r.Add(mutate.Result{Path: "p0", Status: mutate.StatusUpdated, Matched: 4, Updated: 4,
		Backup: &backup.Record{Location: "p0_backup_1", Size: 2048, Mode: "local"}}, started)
	r.Add(mutate.Result{Path: "p1", Status: mutate.StatusNoUpdates}, started)
	r.Add(mutate.Result{Path: "p2", Status: mutate.StatusError, ErrorClass: mutate.ClassParse, Error: "bad magic"}, started)
	r.FinishedAt = started.Add(90 * time.Second)
	return r
}

func TestAddTotals(t *testing.T) {
	r := sample()
	if r.Total() != 3 || r.Succeeded != 2 || r.Failed != 1 {
		t.Fatalf("unexpected totals %d/%d/%d", r.Total(), r.Succeeded, r.Failed)
	}
	if r.Updated != 4 || len(r.Backups) != 1 {
		t.Errorf("updated=%d backups=%d", r.Updated, len(r.Backups))
	}
	if len(r.Failures) != 1 || r.Failures[0].Class != mutate.ClassParse || r.Failures[0].Pass != mutate.PassMutate {
		t.Errorf("unexpected failures %+v", r.Failures)
	}
	if r.Elapsed() != 90*time.Second {
		t.Errorf("elapsed = %v", r.Elapsed())
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sample()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"3 total, 2 succeeded, 1 failed",
		"4 updated",
		"backups:     1 (2.0 KiB, local)",
		"[mutate/parse] p2: bad magic",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "DRY RUN") {
		t.Error("mutating run must not claim to be a dry run")
	}
}

func TestRenderDryRun(t *testing.T) {
	r := &Report{Mode: ModeDryRun, Dataset: "d", Column: "c", StartedAt: started, FinishedAt: started,
		Estimate: EstimateRun([]int{100, 50_000}, 2)}
	var buf bytes.Buffer
	if err := Render(&buf, r); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "DRY RUN: no changes were made") {
		t.Errorf("dry run guarantee missing:\n%s", out)
	}
	if !strings.Contains(out, "advisory") {
		t.Errorf("estimate must be labeled advisory:\n%s", out)
	}
}

func TestRenderValidationMismatch(t *testing.T) {
	r := sample()
	r.Validation = &Validation{OldValue: "ABNORMAL", NewValue: "NORMAL", OldCount: 1, NewCount: 3, Expected: 4, Mismatch: true}
	var buf bytes.Buffer
	if err := Render(&buf, r); err != nil {
		t.Fatal(err)
	}
	want := `validation:  WARNING "NORMAL" now counts 3, expected 4; "ABNORMAL" counts 1`
	if !strings.Contains(buf.String(), want) {
		t.Errorf("report missing %q:\n%s", want, buf.String())
	}
}

func TestAddCountFailure(t *testing.T) {
	r := &Report{Mode: ModeMutate, StartedAt: started}
	r.Add(mutate.Result{Path: "p0", Status: mutate.StatusNoUpdates}, started)
	r.AddCountFailure(mutate.Result{Path: "p1", Status: mutate.StatusError, ErrorClass: mutate.ClassParse, Error: "bad"}, started)
	if r.Total() != 2 || r.Failed != 1 || r.Uncounted != 1 {
		t.Fatalf("total=%d failed=%d uncounted=%d", r.Total(), r.Failed, r.Uncounted)
	}
	if r.Failures[0].Pass != mutate.PassCount {
		t.Errorf("failure pass = %s", r.Failures[0].Pass)
	}
}

func TestRenderTruncatesFailures(t *testing.T) {
	r := &Report{Mode: ModeMutate, StartedAt: started}
	for i := 0; i < MaxInlineFailures+5; i++ {
		r.Add(mutate.Result{Path: "p", Status: mutate.StatusError, ErrorClass: mutate.ClassAccess, Error: "denied"}, started)
	}
	var buf bytes.Buffer
	_ = Render(&buf, r)
	if !strings.Contains(buf.String(), "and 5 more") {
		t.Errorf("expected truncation notice:\n%s", buf.String())
	}
}

func TestEstimateRun(t *testing.T) {
	tests := []struct {
		name    string
		rows    []int
		workers int
		tiers   map[string]int
		want    time.Duration
	}{
		// 1s per small file, two files on two workers: 1s * 1.3.
		{"small parallel", []int{10, 20}, 2, map[string]int{"small": 2}, time.Second},
		// 3.5s medium + 1s small on one worker: 4.5s * 1.3 = 5.85s.
		{"mixed serial", []int{5, 20_000}, 1, map[string]int{"small": 1, "medium": 1}, 6 * time.Second},
		{"huge", []int{5_000_000}, 4, map[string]int{"huge": 1}, 69 * time.Second},
		{"empty", nil, 4, map[string]int{}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := EstimateRun(tc.rows, tc.workers)
			if e.Duration != tc.want {
				t.Errorf("duration = %v, want %v", e.Duration, tc.want)
			}
			for k, v := range tc.tiers {
				if e.Tiers[k] != v {
					t.Errorf("tier %s = %d, want %d", k, e.Tiers[k], v)
				}
			}
			if e.Multiplier != SafetyMultiplier {
				t.Errorf("multiplier = %v", e.Multiplier)
			}
		})
	}
}

func TestWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	r := sample()
	arts, err := Write(dir, r)
	if err != nil {
		t.Fatal(err)
	}
	wantBase := filepath.Join(dir, "orders_status_20240305_103000")
	if arts.Run != wantBase+"_run.json" || arts.FailureJSON != wantBase+"_failures.json" || arts.FailureText != wantBase+"_failures.txt" {
		t.Fatalf("unexpected artifact names %+v", arts)
	}

	data, err := os.ReadFile(arts.FailureJSON)
	if err != nil {
		t.Fatal(err)
	}
	var doc failureDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Failed != 1 || doc.Failures[0].Path != "p2" || doc.Failures[0].Class != mutate.ClassParse {
		t.Errorf("unexpected failure document %+v", doc)
	}
	text, err := os.ReadFile(arts.FailureText)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(text), "1 of 3 partitions failed") {
		t.Errorf("unexpected failure summary:\n%s", text)
	}

	loaded, err := Load(arts.Run)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RunID != "run-1" || len(loaded.Backups) != 1 || loaded.Backups[0].Location != "p0_backup_1" {
		t.Errorf("unexpected loaded report %+v", loaded)
	}
}

func TestWriteWithoutFailures(t *testing.T) {
	r := &Report{RunID: "r", Dataset: "d/x", Column: "c", StartedAt: started}
	arts, err := Write(t.TempDir(), r)
	if err != nil {
		t.Fatal(err)
	}
	if arts.FailureJSON != "" || arts.FailureText != "" {
		t.Errorf("no failure artifacts expected, got %+v", arts)
	}
	if filepath.Base(arts.Run) != "d_x_c_20240305_103000_run.json" {
		t.Errorf("unexpected run artifact %s", arts.Run)
	}
}

func TestLoadRejectsOtherDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	if err := os.WriteFile(path, []byte(`{"failures": []}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrNotRunReport) {
		t.Fatalf("expected ErrNotRunReport, got %v", err)
	}
}
