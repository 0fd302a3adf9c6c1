package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/pubgraph/backend/internal/util"
	"github.com/pubgraph/backend/pkg/common"
)

type Stage string

const (
	StageFetch   Stage = "fetch"
	StageParse   Stage = "parse"
	StageEmbed   Stage = "embed"
	StagePersist Stage = "persist"
)

// State is the position of one article in the pipeline. Every article ends
// in StatePersisted or StateFailed.
type State string

const (
	StatePending   State = "pending"
	StateFetched   State = "fetched"
	StateParsed    State = "parsed"
	StateEmbedded  State = "embedded"
	StatePersisted State = "persisted"
	StateFailed    State = "failed"
)

type Failure struct {
	ID     string      `json:"id"`
	Stage  Stage       `json:"stage"`
	Kind   common.Kind `json:"kind"`
	Detail string      `json:"detail"`
}

func newFailure(id string, stage Stage, err error) Failure {
	return Failure{ID: id, Stage: stage, Kind: common.KindOf(err), Detail: err.Error()}
}

// Report is the outcome of one run. Succeeded and Failed are in completion
// order.
type Report struct {
	RunID           string        `json:"run_id"`
	Succeeded       []string      `json:"succeeded"`
	Failed          []Failure     `json:"failed"`
	SimilarityEdges int           `json:"similarity_edges"`
	SimilarityError string        `json:"similarity_error,omitempty"`
	Duration        time.Duration `json:"duration"`
}

func (r *Report) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// FailuresByKind counts failures per kind.
func (r *Report) FailuresByKind() map[common.Kind]int {
	out := make(map[common.Kind]int)
	for _, f := range r.Failed {
		out[f.Kind]++
	}
	return out
}

func (r *Report) Progress() util.RunProgress {
	return util.BuildRunProgress(util.StageCounts{
		Total:     int64(r.Total()),
		Persisted: int64(len(r.Succeeded)),
		Failed:    int64(len(r.Failed)),
	})
}

// Summary renders the report for terminals and logs.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d/%d articles persisted, %d failed, %d similarity edges in %s",
		r.RunID, len(r.Succeeded), r.Total(), len(r.Failed), r.SimilarityEdges, r.Duration.Round(time.Millisecond))
	if r.SimilarityError != "" {
		fmt.Fprintf(&b, "\nsimilarity failed: %s", r.SimilarityError)
	}
	for _, f := range r.Failed {
		fmt.Fprintf(&b, "\n  %s  %-7s  %-18s  %s", f.ID, f.Stage, f.Kind, f.Detail)
	}
	return b.String()
}
