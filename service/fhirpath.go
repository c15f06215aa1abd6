package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/types"

	"github.com/gofhir/shorthand/cache"
)

// FHIRPathEvaluator evaluates FHIRPath expressions against documents.
// The exporter's test harness uses it to assert on exported output;
// callers can use it to post-process documents.
type FHIRPathEvaluator interface {
	// Evaluate evaluates a FHIRPath expression against a resource.
	// Returns the expression's truthiness.
	Evaluate(ctx context.Context, expression string, resource any) (bool, error)
}

// FHIRPathAdapter adapts the fhirpath package to the FHIRPathEvaluator
// interface, caching compiled expressions in an LRU cache.
type FHIRPathAdapter struct {
	cache *cache.Cache[string, *fhirpath.Expression]
}

// NewFHIRPathAdapter creates a new FHIRPath adapter. cacheSize bounds
// the number of compiled expressions kept.
func NewFHIRPathAdapter(cacheSize int) *FHIRPathAdapter {
	return &FHIRPathAdapter{
		cache: cache.New[string, *fhirpath.Expression](cacheSize),
	}
}

// Evaluate evaluates a FHIRPath expression against a resource and
// reduces the result to a boolean using FHIRPath truthiness rules:
// empty collection is false, a single boolean is itself, any other
// non-empty collection is true.
func (a *FHIRPathAdapter) Evaluate(_ context.Context, expression string, resource any) (bool, error) {
	resourceBytes, err := a.toJSON(resource)
	if err != nil {
		return false, fmt.Errorf("failed to convert resource to JSON: %w", err)
	}

	compiled, err := a.getOrCompile(expression)
	if err != nil {
		return false, fmt.Errorf("failed to compile FHIRPath expression '%s': %w", expression, err)
	}

	result, err := compiled.Evaluate(resourceBytes)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate FHIRPath expression '%s': %w", expression, err)
	}

	return a.toBool(result), nil
}

// toJSON converts a resource to JSON bytes.
func (a *FHIRPathAdapter) toJSON(resource any) ([]byte, error) {
	switch v := resource.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

// getOrCompile returns a cached compiled expression or compiles a new one.
func (a *FHIRPathAdapter) getOrCompile(expression string) (*fhirpath.Expression, error) {
	if compiled, ok := a.cache.Get(expression); ok {
		return compiled, nil
	}

	compiled, err := fhirpath.Compile(expression)
	if err != nil {
		return nil, err
	}

	a.cache.Set(expression, compiled)
	return compiled, nil
}

// toBool reduces a FHIRPath result collection to a boolean.
func (a *FHIRPathAdapter) toBool(result types.Collection) bool {
	if len(result) == 0 {
		return false
	}

	if len(result) == 1 {
		if b, ok := result[0].(types.Boolean); ok {
			return b.Bool()
		}
	}

	return true
}

// CacheSize returns the number of cached expressions.
func (a *FHIRPathAdapter) CacheSize() int {
	return a.cache.Len()
}

// Verify interface compliance
var _ FHIRPathEvaluator = (*FHIRPathAdapter)(nil)
