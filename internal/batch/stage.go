package batch

// Stage is a state of the orchestrator.
type Stage int32

const (
	StageIdle Stage = iota
	StageSampleSchema
	StageCounting
	StageConfirming
	StageMutating
	StageReporting
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageIdle:         "idle",
	StageSampleSchema: "sample_schema",
	StageCounting:     "counting",
	StageConfirming:   "confirming",
	StageMutating:     "mutating",
	StageReporting:    "reporting",
	StageDone:         "done",
	StageFailed:       "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Terminal reports whether s ends a run.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}
