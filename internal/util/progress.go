package util

import "fmt"

// StageCounts holds how many articles of a run currently sit in each stage.
// Failed articles count as finished work.
type StageCounts struct {
	Total     int64
	Pending   int64
	Fetched   int64
	Parsed    int64
	Embedded  int64
	Persisted int64
	Failed    int64
}

type RunStepProgress struct {
	Pending   string `json:"pending,omitempty"`
	Fetched   string `json:"fetched,omitempty"`
	Parsed    string `json:"parsed,omitempty"`
	Embedded  string `json:"embedded,omitempty"`
	Persisted string `json:"persisted,omitempty"`
	Failed    string `json:"failed,omitempty"`
}

type RunProgress struct {
	Step       *RunStepProgress `json:"step,omitempty"`
	Percentage int32            `json:"percentage"`
}

const articleStageCount int64 = 4

func BuildRunProgress(c StageCounts) RunProgress {
	if c.Total <= 0 {
		return RunProgress{}
	}

	step := RunStepProgress{}
	hasStep := false
	set := func(dst *string, n int64) {
		if n > 0 {
			*dst = fmt.Sprintf("%d/%d", n, c.Total)
			hasStep = true
		}
	}
	set(&step.Pending, c.Pending)
	set(&step.Fetched, c.Fetched)
	set(&step.Parsed, c.Parsed)
	set(&step.Embedded, c.Embedded)
	set(&step.Persisted, c.Persisted)
	set(&step.Failed, c.Failed)

	progress := RunProgress{Percentage: CalculateRunPercentage(c)}
	if hasStep {
		progress.Step = &step
	}
	return progress
}

// CalculateRunPercentage weights every article by the number of stages it
// has passed. Failed articles count as complete.
func CalculateRunPercentage(c StageCounts) int32 {
	if c.Total <= 0 {
		return 0
	}
	totalWork := c.Total * articleStageCount
	done := min(c.Fetched+
		c.Parsed*2+
		c.Embedded*3+
		(c.Persisted+c.Failed)*4, totalWork)
	return int32(done * 100 / totalWork)
}
