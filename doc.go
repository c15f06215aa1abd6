// Package shorthand materializes FHIR resource instances from shorthand
// authoring rules.
//
// An author describes an instance as a sequence of path-addressed
// assignment rules against a resource schema; this package turns that
// description into a fully populated, schema-consistent JSON document
// plus structured diagnostics for everything that could not be applied.
//
// # Quick Start
//
//	import (
//	    sh "github.com/gofhir/shorthand"
//	    "github.com/gofhir/shorthand/export"
//	)
//
//	exporter, err := export.New(ctx, sh.R4)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	doc, result, err := exporter.Export(ctx, instance)
//	if result.HasErrors() {
//	    for _, diag := range result.Errors() {
//	        fmt.Println(diag.Message)
//	    }
//	}
//	result.Release() // Return to pool for better performance
//
// # Performance Features
//
//   - Worker Pool: Parallel batch export using runtime.NumCPU() workers
//   - Inline Memo: Each inline instance is materialized at most once per batch
//   - sync.Pool: Reduces GC pressure through Result reuse
//   - Generic Cache: Type-safe LRU caches without interface{} overhead
//
// # Functional Options
//
//	exporter, err := export.New(ctx, sh.R4,
//	    sh.WithMetaProfile(true),
//	    sh.WithWorkerCount(runtime.NumCPU()),
//	    sh.WithMaxErrors(100),
//	)
//
// # Export Stages
//
// Each document is produced in stages, each handling one aspect of
// materialization:
//
//   - Linearize: Flatten insert rules into a single assignment sequence
//   - Assign: Resolve paths against the schema and build the value tree
//   - Slicing: Seed discriminator values for addressed slices
//   - References: Rewrite references to known and inline instances
//   - Containment: Embed inline instances in contained
//   - Cardinality: Fill required elements from declared patterns
//
// # Architecture
//
//   - Small interfaces (1-2 methods each) for schema and entity resolution
//   - Deterministic left-to-right rule folding per document
//   - Single-flight memoization for shared inline instances
//   - Context-based cancellation and timeout
package shorthand
