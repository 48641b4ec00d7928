package report

import "time"

// Tier groups partitions by row count for the dry-run estimate.
type Tier struct {
	Name    string
	MaxRows int // exclusive; 0 means unbounded
	// Per-file costs of a real run.
	Process time.Duration
	Backup  time.Duration
	Upload  time.Duration
}

// Tiers are ordered by MaxRows.
var Tiers = []Tier{
	{Name: "small", MaxRows: 10_000, Process: 500 * time.Millisecond, Backup: 200 * time.Millisecond, Upload: 300 * time.Millisecond},
	{Name: "medium", MaxRows: 100_000, Process: 2 * time.Second, Backup: 500 * time.Millisecond, Upload: time.Second},
	{Name: "large", MaxRows: 1_000_000, Process: 8 * time.Second, Backup: 2 * time.Second, Upload: 4 * time.Second},
	{Name: "huge", Process: 30 * time.Second, Backup: 8 * time.Second, Upload: 15 * time.Second},
}

// SafetyMultiplier covers overhead the tiers do not model.
const SafetyMultiplier = 1.3

// Estimate is the advisory duration of a real run, computed in a dry run.
type Estimate struct {
	Files      int            `json:"files"`
	Rows       int            `json:"rows"`
	Workers    int            `json:"workers"`
	Tiers      map[string]int `json:"tiers"`
	Multiplier float64        `json:"multiplier"`
	Duration   time.Duration  `json:"duration"`
}

func tierFor(rows int) Tier {
	for _, t := range Tiers {
		if t.MaxRows == 0 || rows < t.MaxRows {
			return t
		}
	}
	return Tiers[len(Tiers)-1]
}

// EstimateRun estimates a real run over partitions with the given row
// counts. Only partitions that would change should be passed.
func EstimateRun(rowCounts []int, workers int) *Estimate {
	if workers <= 0 {
		workers = 1
	}
	est := &Estimate{
		Files:      len(rowCounts),
		Workers:    workers,
		Tiers:      make(map[string]int),
		Multiplier: SafetyMultiplier,
	}
	var total time.Duration
	for _, rows := range rowCounts {
		t := tierFor(rows)
		est.Rows += rows
		est.Tiers[t.Name]++
		total += t.Process + t.Backup + t.Upload
	}
	parallel := float64(total) / float64(min(workers, max(len(rowCounts), 1)))
	est.Duration = time.Duration(parallel * SafetyMultiplier).Round(time.Second)
	return est
}
