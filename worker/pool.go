package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofhir/shorthand"
	"github.com/gofhir/shorthand/fsh"
)

// ExportFunc materializes one instance into a document. Rule and schema
// problems belong in the Result; the error is for operational failures.
type ExportFunc func(ctx context.Context, inst *fsh.Instance) (*shorthand.Document, *shorthand.Result, error)

// Pool runs exports on a fixed set of worker goroutines. It suits
// long-lived servers that export documents as they arrive; one-shot
// batches are simpler through BatchExporter.
type Pool struct {
	workers int
	export  ExportFunc
	jobs    chan Job
	results chan *JobResult
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool

	jobsSubmitted atomic.Uint64
	jobsCompleted atomic.Uint64
	totalDuration atomic.Uint64
}

// NewPool creates a pool and starts its workers. workers <= 0 defaults
// to runtime.NumCPU().
func NewPool(export ExportFunc, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		workers: workers,
		export:  export,
		jobs:    make(chan Job, workers*2),
		results: make(chan *JobResult, workers*2),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

// Submit queues a job, blocking while the queue is full. Returns false
// once the pool is closed.
func (p *Pool) Submit(job Job) bool {
	if p.closed.Load() {
		return false
	}

	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- job:
		p.jobsSubmitted.Add(1)
		return true
	}
}

// SubmitAsync queues a job without blocking. Returns false when the
// queue is full or the pool is closed.
func (p *Pool) SubmitAsync(job Job) bool {
	if p.closed.Load() {
		return false
	}

	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- job:
		p.jobsSubmitted.Add(1)
		return true
	default:
		return false
	}
}

// Results returns the channel job results arrive on.
func (p *Pool) Results() <-chan *JobResult {
	return p.results
}

// Close stops the workers and discards any results nobody consumed.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}

	p.cancel()
	close(p.jobs)

	// Drain in the background so workers blocked on the results
	// channel can finish.
	done := make(chan struct{})
	go func() {
		for range p.results {
		}
		close(done)
	}()

	p.wg.Wait()
	close(p.results)
	<-done
}

// CloseAndWait stops accepting jobs, waits for in-flight exports, and
// returns everything still queued on the results channel.
func (p *Pool) CloseAndWait() *BatchResult {
	if p.closed.Swap(true) {
		return &BatchResult{}
	}

	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(p.results)
		close(done)
	}()

	results := make([]*JobResult, 0)
	failed := 0
	for jr := range p.results {
		results = append(results, jr)
		if jr.Err != nil {
			failed++
		}
	}
	<-done
	p.cancel()

	return &BatchResult{
		Results:       results,
		TotalJobs:     int(p.jobsSubmitted.Load()),
		CompletedJobs: int(p.jobsCompleted.Load()),
		FailedJobs:    failed,
		TotalDuration: time.Duration(p.totalDuration.Load()),
	}
}

// Stats returns current pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:       p.workers,
		JobsSubmitted: p.jobsSubmitted.Load(),
		JobsCompleted: p.jobsCompleted.Load(),
		AvgDuration:   p.averageDuration(),
	}
}

// PoolStats contains pool counters.
type PoolStats struct {
	Workers       int
	JobsSubmitted uint64
	JobsCompleted uint64
	AvgDuration   time.Duration
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobs {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		jr := p.processJob(job)
		p.jobsCompleted.Add(1)
		p.totalDuration.Add(uint64(jr.Duration))

		select {
		case <-p.ctx.Done():
			return
		case p.results <- jr:
		}
	}
}

func (p *Pool) processJob(job Job) *JobResult {
	start := time.Now()

	jr := &JobResult{JobID: job.ID, Seq: job.Seq}
	if job.Instance != nil {
		jr.Name = job.Instance.Name
	}

	if p.export == nil {
		jr.Err = ErrNoExporter
		jr.Duration = time.Since(start)
		return jr
	}

	jr.Document, jr.Result, jr.Err = p.export(p.ctx, job.Instance)
	jr.Duration = time.Since(start)
	return jr
}

func (p *Pool) averageDuration() time.Duration {
	completed := p.jobsCompleted.Load()
	if completed == 0 {
		return 0
	}
	return time.Duration(p.totalDuration.Load() / completed)
}

// ErrNoExporter is returned when the pool has no export function.
var ErrNoExporter = poolError("no export function configured")

type poolError string

func (e poolError) Error() string {
	return string(e)
}
