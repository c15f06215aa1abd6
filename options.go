package shorthand

import (
	"runtime"
)

// Option configures the Exporter.
type Option func(*Options)

// Options holds all configuration for the Exporter.
type Options struct {
	// Behavior flags
	SetMetaProfile  bool // declare the source profile in meta.profile
	CheckLocalCodes bool // verify codes against locally defined systems
	StrictMode      bool // treat warnings as errors when judging results

	// Performance
	MaxErrors     int // per document; 0 = unlimited
	WorkerCount   int // parallel documents during batch export
	EnablePooling bool

	// Cache sizes
	StructureDefCacheSize int
	ExpressionCacheSize   int
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		SetMetaProfile:  true,
		CheckLocalCodes: true,
		StrictMode:      false,

		MaxErrors:     0, // unlimited
		WorkerCount:   runtime.NumCPU(),
		EnablePooling: true,

		StructureDefCacheSize: 1000,
		ExpressionCacheSize:   2000,
	}
}

// --- Behavior Options ---

// WithMetaProfile controls whether documents exported from a profile
// declare that profile in meta.profile.
func WithMetaProfile(enable bool) Option {
	return func(o *Options) {
		o.SetMetaProfile = enable
	}
}

// WithLocalCodeCheck controls whether assigned codes are checked against
// code systems defined in the catalog or loaded packages.
func WithLocalCodeCheck(enable bool) Option {
	return func(o *Options) {
		o.CheckLocalCodes = enable
	}
}

// WithStrictMode treats warnings as errors.
func WithStrictMode(enable bool) Option {
	return func(o *Options) {
		o.StrictMode = enable
	}
}

// --- Performance Options ---

// WithMaxErrors caps the number of error diagnostics per document before
// the exporter abandons the remaining rules. Use 0 for unlimited.
func WithMaxErrors(max int) Option {
	return func(o *Options) {
		o.MaxErrors = max
	}
}

// WithWorkerCount sets the number of workers for batch export.
// Defaults to runtime.NumCPU().
func WithWorkerCount(count int) Option {
	return func(o *Options) {
		if count > 0 {
			o.WorkerCount = count
		}
	}
}

// WithPooling enables or disables object pooling.
// Pooling reduces GC pressure but requires calling Release() on results.
func WithPooling(enable bool) Option {
	return func(o *Options) {
		o.EnablePooling = enable
	}
}

// --- Cache Options ---

// WithCacheSize configures cache sizes.
func WithCacheSize(structureDefs, expressions int) Option {
	return func(o *Options) {
		if structureDefs > 0 {
			o.StructureDefCacheSize = structureDefs
		}
		if expressions > 0 {
			o.ExpressionCacheSize = expressions
		}
	}
}

// WithStructureDefCache sets the StructureDefinition cache size.
func WithStructureDefCache(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.StructureDefCacheSize = size
		}
	}
}

// WithExpressionCache sets the FHIRPath expression cache size.
func WithExpressionCache(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.ExpressionCacheSize = size
		}
	}
}

// --- Presets ---

// FastOptions returns options optimized for speed: larger caches, no
// local code checks.
func FastOptions() []Option {
	return []Option{
		WithLocalCodeCheck(false),
		WithCacheSize(2000, 5000),
		WithPooling(true),
		WithWorkerCount(runtime.NumCPU()),
	}
}

// StrictOptions returns options for strict authoring: local code checks
// on and warnings treated as errors.
func StrictOptions() []Option {
	return []Option{
		WithLocalCodeCheck(true),
		WithStrictMode(true),
	}
}

// DebugOptions returns options useful for debugging: no pooling, capped
// error count, sequential export.
func DebugOptions() []Option {
	return []Option{
		WithPooling(false),
		WithMaxErrors(100),
		WithWorkerCount(1),
	}
}
