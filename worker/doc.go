// Package worker provides worker pools for parallel instance export.
//
// BatchExporter handles the common case, a fixed set of instances
// exported with bounded parallelism and results in submission order:
//
//	be := worker.NewBatchExporter(4, exportFn)
//	results, err := be.ExportAll(ctx, instances)
//
// Pool serves long-lived processes that export documents as requests
// arrive:
//
//	pool := worker.NewPool(exportFn, 4)
//	defer pool.Close()
//
//	pool.Submit(worker.Job{ID: "job-1", Instance: inst})
//
//	for jr := range pool.Results() {
//	    if jr.Err != nil {
//	        // operational failure
//	    }
//	    // jr.Document, jr.Result
//	}
package worker
