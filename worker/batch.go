package worker

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gofhir/shorthand/fsh"
)

// BatchExporter exports a fixed set of instances with bounded
// parallelism and returns the results in submission order.
type BatchExporter struct {
	export  ExportFunc
	workers int
}

// NewBatchExporter creates a batch exporter. workers <= 0 defaults to
// runtime.NumCPU().
func NewBatchExporter(workers int, export ExportFunc) *BatchExporter {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &BatchExporter{
		export:  export,
		workers: workers,
	}
}

// ExportAll exports every instance. Results come back in input order
// regardless of which worker finished first. The error reports
// cancellation or a missing export function; per-instance failures stay
// on their JobResult.
func (be *BatchExporter) ExportAll(ctx context.Context, instances []*fsh.Instance) ([]*JobResult, error) {
	if len(instances) == 0 {
		return nil, nil
	}
	if be.export == nil {
		return nil, ErrNoExporter
	}

	// Small batches are not worth the goroutine traffic.
	if be.workers <= 1 || len(instances) <= 2 {
		return be.exportSequential(ctx, instances)
	}
	return be.exportParallel(ctx, instances)
}

func (be *BatchExporter) exportSequential(ctx context.Context, instances []*fsh.Instance) ([]*JobResult, error) {
	results := make([]*JobResult, 0, len(instances))

	for i, inst := range instances {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, be.exportOne(ctx, Job{
			ID:       uuid.NewString(),
			Seq:      i,
			Instance: inst,
		}))
	}

	return results, nil
}

func (be *BatchExporter) exportParallel(ctx context.Context, instances []*fsh.Instance) ([]*JobResult, error) {
	workers := be.workers
	if workers > len(instances) {
		workers = len(instances)
	}

	jobs := make(chan Job, len(instances))
	out := make(chan *JobResult, len(instances))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for job := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				out <- be.exportOne(ctx, job)
			}
		}()
	}

	// The jobs channel holds the whole batch, so submission never
	// blocks.
	for i, inst := range instances {
		jobs <- Job{
			ID:       uuid.NewString(),
			Seq:      i,
			Instance: inst,
		}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(out)
	}()

	bySeq := make([]*JobResult, len(instances))
	for jr := range out {
		bySeq[jr.Seq] = jr
	}

	// Cancellation leaves holes where workers bailed out early.
	results := make([]*JobResult, 0, len(instances))
	for _, jr := range bySeq {
		if jr != nil {
			results = append(results, jr)
		}
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (be *BatchExporter) exportOne(ctx context.Context, job Job) *JobResult {
	start := time.Now()

	jr := &JobResult{JobID: job.ID, Seq: job.Seq}
	if job.Instance != nil {
		jr.Name = job.Instance.Name
	}

	jr.Document, jr.Result, jr.Err = be.export(ctx, job.Instance)
	jr.Duration = time.Since(start)
	return jr
}

// ExportAllSimple is a convenience wrapper using default parallelism.
func ExportAllSimple(ctx context.Context, export ExportFunc, instances []*fsh.Instance) ([]*JobResult, error) {
	be := NewBatchExporter(runtime.NumCPU(), export)
	return be.ExportAll(ctx, instances)
}
