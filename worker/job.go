package worker

import (
	"time"

	"github.com/gofhir/shorthand"
	"github.com/gofhir/shorthand/fsh"
)

// Job is one instance export handed to a worker.
type Job struct {
	// ID identifies the job in results and logs.
	ID string

	// Seq is the submission ordinal, used to restore submission order
	// after parallel processing.
	Seq int

	// Instance is the instance to export.
	Instance *fsh.Instance
}

// JobResult is the outcome of one export job.
type JobResult struct {
	// JobID matches the Job.ID that produced this result.
	JobID string

	// Seq matches the Job.Seq.
	Seq int

	// Name is the instance name, kept even when the export fails.
	Name string

	// Document is the finished document, nil when the export failed
	// outright.
	Document *shorthand.Document

	// Result carries the export diagnostics.
	Result *shorthand.Result

	// Err is an operational failure such as cancellation. Rule and
	// schema problems are diagnostics on Result, not errors here.
	Err error

	// Duration is the time the export took.
	Duration time.Duration
}

// BatchResult aggregates the results a pool produced before closing.
type BatchResult struct {
	// Results in completion order.
	Results []*JobResult

	// TotalJobs is the number of jobs submitted.
	TotalJobs int

	// CompletedJobs is the number of jobs that produced a result.
	CompletedJobs int

	// FailedJobs is the number of jobs that ended with an Err.
	FailedJobs int

	// TotalDuration is the summed export time across all jobs.
	TotalDuration time.Duration
}

// HasErrors reports whether any job failed or produced error
// diagnostics.
func (br *BatchResult) HasErrors() bool {
	for _, r := range br.Results {
		if r.Err != nil {
			return true
		}
		if r.Result != nil && r.Result.HasErrors() {
			return true
		}
	}
	return false
}

// ErrorCount returns the total error diagnostics across all results.
func (br *BatchResult) ErrorCount() int {
	count := 0
	for _, r := range br.Results {
		if r.Result != nil {
			count += r.Result.ErrorCount()
		}
	}
	return count
}
