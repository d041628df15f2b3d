package model

import (
	"sort"
	"time"
)

// Outcome is the final state of one document in a run.
type Outcome struct {
	Document   Document       `json:"document"`
	Status     DocumentStatus `json:"status"` // done or failed
	JobID      string         `json:"job_id,omitempty"`
	OutputPath string         `json:"output_path,omitempty"`
	Bytes      int64          `json:"bytes,omitempty"`
	Err        error          `json:"-"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Succeeded reports whether the document was watermarked and written.
func (o Outcome) Succeeded() bool {
	return o.Status == DocDone
}

// Reason returns the failure message, or "" on success.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// BatchResult is the run-level outcome. Every candidate document appears
// exactly once in Outcomes and every rejected file exactly once in Skipped.
type BatchResult struct {
	RunID    string    `json:"run_id"`
	Mode     Mode      `json:"mode"`
	Outcomes []Outcome `json:"outcomes"`
	Skipped  []Skip    `json:"skipped"`
}

// Sort orders outcomes and skips by relative path.
func (r *BatchResult) Sort() {
	sort.Slice(r.Outcomes, func(i, j int) bool {
		return r.Outcomes[i].Document.RelPath < r.Outcomes[j].Document.RelPath
	})
	sort.Slice(r.Skipped, func(i, j int) bool {
		return r.Skipped[i].RelPath < r.Skipped[j].RelPath
	})
}

// Succeeded returns the outcomes of documents that were written.
func (r BatchResult) Succeeded() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the outcomes of documents that failed.
func (r BatchResult) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// HasFailures reports whether at least one document failed.
func (r BatchResult) HasFailures() bool {
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			return true
		}
	}
	return false
}
