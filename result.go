package shorthand

import (
	"sync"
)

// Result collects the diagnostics of exporting one document.
// Use Release() to return it to the pool when done.
type Result struct {
	// Valid is true if no error or fatal diagnostics were recorded.
	Valid bool `json:"valid"`

	// Diagnostics in emission order, which follows rule order.
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`

	// JobID correlates results during batch export.
	JobID string `json:"jobId,omitempty"`

	// Instance is the name of the exported instance.
	Instance string `json:"instance,omitempty"`

	// ResourceType is the resolved type of the document.
	ResourceType string `json:"resourceType,omitempty"`

	// mu protects concurrent access to Diagnostics
	mu sync.Mutex
}

// resultPool holds reusable Result instances.
var resultPool = sync.Pool{
	New: func() any {
		return &Result{
			Diagnostics: make([]Diagnostic, 0, 16),
		}
	},
}

// AcquireResult gets a Result from the pool.
// The result starts valid with no diagnostics.
func AcquireResult() *Result {
	r := resultPool.Get().(*Result)
	r.Reset()
	return r
}

// Release returns the Result to the pool.
// After calling Release, the Result must not be used.
func (r *Result) Release() {
	if r == nil {
		return
	}
	// Don't pool results that grew unusually large
	if cap(r.Diagnostics) <= 1024 {
		resultPool.Put(r)
	}
}

// Reset clears the result for reuse.
func (r *Result) Reset() {
	r.Valid = true
	r.Diagnostics = r.Diagnostics[:0]
	r.JobID = ""
	r.Instance = ""
	r.ResourceType = ""
}

// Add appends a diagnostic. This method is thread-safe.
func (r *Result) Add(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.Instance == "" {
		d.Instance = r.Instance
	}
	r.Diagnostics = append(r.Diagnostics, d)
	if d.IsError() {
		r.Valid = false
	}
}

// AddAll appends multiple diagnostics. This method is thread-safe.
func (r *Result) AddAll(ds []Diagnostic) {
	if len(ds) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range ds {
		if d.Instance == "" {
			d.Instance = r.Instance
		}
		r.Diagnostics = append(r.Diagnostics, d)
		if d.IsError() {
			r.Valid = false
		}
	}
}

// AddError is a convenience method to add an error diagnostic.
func (r *Result) AddError(code Code, message, path string) {
	r.Add(Diagnostic{
		Severity: SeverityError,
		Code:     code,
		Message:  message,
		Path:     path,
	})
}

// AddWarning is a convenience method to add a warning diagnostic.
func (r *Result) AddWarning(code Code, message, path string) {
	r.Add(Diagnostic{
		Severity: SeverityWarning,
		Code:     code,
		Message:  message,
		Path:     path,
	})
}

// HasErrors reports whether any error or fatal diagnostics were recorded.
func (r *Result) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.Diagnostics {
		if d.IsError() {
			return true
		}
	}
	return false
}

// HasWarnings reports whether any warning diagnostics were recorded.
func (r *Result) HasWarnings() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.Diagnostics {
		if d.IsWarning() {
			return true
		}
	}
	return false
}

// ErrorCount returns the number of error and fatal diagnostics.
func (r *Result) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, d := range r.Diagnostics {
		if d.IsError() {
			count++
		}
	}
	return count
}

// WarningCount returns the number of warning diagnostics.
func (r *Result) WarningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, d := range r.Diagnostics {
		if d.IsWarning() {
			count++
		}
	}
	return count
}

// Errors returns all error and fatal diagnostics.
func (r *Result) Errors() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.IsError() {
			out = append(out, d)
		}
	}
	return out
}

// Warnings returns all warning diagnostics.
func (r *Result) Warnings() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.IsWarning() {
			out = append(out, d)
		}
	}
	return out
}

// Merge combines another result's diagnostics into this one.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}

	other.mu.Lock()
	ds := make([]Diagnostic, len(other.Diagnostics))
	copy(ds, other.Diagnostics)
	other.mu.Unlock()

	r.AddAll(ds)
}

// Clone creates a copy of the result (not pooled).
func (r *Result) Clone() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := &Result{
		Valid:        r.Valid,
		Diagnostics:  make([]Diagnostic, len(r.Diagnostics)),
		JobID:        r.JobID,
		Instance:     r.Instance,
		ResourceType: r.ResourceType,
	}
	copy(clone.Diagnostics, r.Diagnostics)
	return clone
}

// NewResult creates a new (non-pooled) result.
// Prefer AcquireResult() when exporting many documents.
func NewResult() *Result {
	return &Result{
		Valid:       true,
		Diagnostics: make([]Diagnostic, 0, 8),
	}
}
