package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a remote watermarking job.
//
// Transitions: created -> submitted -> processing -> done | failed.
// done and failed are terminal.
type JobStatus string

const (
	JobCreated    JobStatus = "created"
	JobSubmitted  JobStatus = "submitted"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// Mode selects how documents are grouped into jobs for a run.
type Mode string

const (
	ModeIndividual Mode = "individual" // one job per document
	ModeAggregated Mode = "aggregated" // one job for all documents
)

// Job is one submit/poll/fetch cycle against the watermarking service.
type Job struct {
	ID         uuid.UUID  `json:"id"`
	Documents  []Document `json:"documents"`
	OutputName string     `json:"output_name"`
	Token      string     `json:"token,omitempty"`       // remote handle, set after submission
	ResultURL  string     `json:"result_url,omitempty"`  // reported by the service once done
	ResultPath string     `json:"result_path,omitempty"` // where the output was written
	Bytes      int64      `json:"bytes,omitempty"`
	Status     JobStatus  `json:"status"`
	Retries    int        `json:"retries"`
	Err        error      `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
}

// docStatus is the document state matching each job state.
var docStatus = map[JobStatus]DocumentStatus{
	JobCreated:    DocPending,
	JobSubmitted:  DocSubmitted,
	JobProcessing: DocProcessing,
	JobDone:       DocDone,
	JobFailed:     DocFailed,
}

// NewJob creates a job in the created state for the given documents. The job
// owns a copy of docs, so the caller's slice is never updated.
func NewJob(docs []Document, outputName string, now time.Time) *Job {
	j := &Job{
		ID:         uuid.New(),
		Documents:  append([]Document(nil), docs...),
		OutputName: outputName,
		Status:     JobCreated,
		CreatedAt:  now,
	}
	j.setDocuments(JobCreated)
	return j
}

// Advance moves the job and its documents to next. Transitions out of a
// terminal state are ignored and reported as false.
func (j *Job) Advance(next JobStatus) bool {
	if j.Status.Terminal() {
		return false
	}
	j.Status = next
	j.setDocuments(next)
	return true
}

func (j *Job) setDocuments(s JobStatus) {
	for i := range j.Documents {
		j.Documents[i].Status = docStatus[s]
	}
}

// Fail moves the job to failed with the given cause.
func (j *Job) Fail(err error, now time.Time) {
	if j.Advance(JobFailed) {
		j.Err = err
		j.FinishedAt = now
	}
}

// Complete moves the job to done.
func (j *Job) Complete(now time.Time) {
	if j.Advance(JobDone) {
		j.FinishedAt = now
	}
}
