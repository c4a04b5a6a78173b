package extract

import (
	"sort"
	"time"

	"github.com/jirametrics/jx/internal/types"
)

// Report summarizes one extraction run.
type Report struct {
	RunID          string             `json:"run_id"`
	Started        time.Time          `json:"started"`
	Duration       time.Duration      `json:"duration"`
	Output         string             `json:"output"`
	Workers        int                `json:"workers"`
	WorkersStarted int                `json:"workers_started"`
	Enqueued       int                `json:"enqueued"`
	Processed      int                `json:"processed"`
	Failed         int                `json:"failed"`
	Unprocessed    int                `json:"unprocessed"`
	Fetched        int                `json:"issues_fetched"`
	Stored         int                `json:"issues_stored"`
	SprintsFetched int64              `json:"sprints_fetched"`
	Errors         []string           `json:"errors,omitempty"`
	Results        []types.TaskResult `json:"results"`
}

// OK reports whether every enqueued task was processed without error.
func (r *Report) OK() bool {
	return r.Failed == 0 && r.Unprocessed == 0 && len(r.Errors) == 0
}

// FailedResults returns the failed task results.
func (r *Report) FailedResults() []types.TaskResult {
	var out []types.TaskResult
	for _, res := range r.Results {
		if res.Failed() {
			out = append(out, res)
		}
	}
	return out
}

func (r *Report) addResults(results []types.TaskResult) {
	r.Results = append(r.Results, results...)
	// Workers finish in any order; report in a stable one.
	sort.SliceStable(r.Results, func(i, j int) bool {
		a, b := r.Results[i].Task, r.Results[j].Task
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		return a.Version < b.Version
	})
	for _, res := range results {
		r.Processed++
		r.Fetched += res.Fetched
		r.Stored += res.Stored
		if res.Failed() {
			r.Failed++
		}
	}
	r.Unprocessed = r.Enqueued - r.Processed
}
