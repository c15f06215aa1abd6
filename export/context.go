package export

import (
	"sync"

	"github.com/gofhir/shorthand"
	"github.com/gofhir/shorthand/fsh"
)

// BatchContext holds the state shared by every document of one export
// batch. It is safe for concurrent use by multiple export workers.
type BatchContext struct {
	catalog *fsh.Catalog

	mu       sync.Mutex
	memo     map[string]*memoEntry
	registry map[string]string // "ResourceType/id" -> owning instance name
}

// memoEntry is the single-flight slot for one inline instance. The
// goroutine that creates the entry exports the instance, stores the
// document, and closes ready; later readers use the stored document.
type memoEntry struct {
	ready chan struct{}
	doc   *shorthand.Document
}

// NewBatchContext creates a context over a catalog. A nil catalog is
// replaced with an empty one.
func NewBatchContext(catalog *fsh.Catalog) *BatchContext {
	if catalog == nil {
		catalog = fsh.NewCatalog()
	}
	return &BatchContext{
		catalog:  catalog,
		memo:     make(map[string]*memoEntry),
		registry: make(map[string]string),
	}
}

// Catalog returns the entity catalog the batch resolves names against.
func (b *BatchContext) Catalog() *fsh.Catalog {
	return b.catalog
}

// claim returns the memo entry for an inline instance. The second result
// is true when the caller created the entry and therefore owns the
// export; it must store the document and close ready when done.
func (b *BatchContext) claim(name string) (*memoEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.memo[name]; ok {
		return e, false
	}
	e := &memoEntry{ready: make(chan struct{})}
	b.memo[name] = e
	return e, true
}

// MemoSize reports how many inline instances have been claimed so far.
func (b *BatchContext) MemoSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.memo)
}

// RegisterID claims a (resource type, id) pair for an instance. When the
// pair is already taken it returns the prior owner's name and false.
func (b *BatchContext) RegisterID(resourceType, id, instance string) (string, bool) {
	key := resourceType + "/" + id
	b.mu.Lock()
	defer b.mu.Unlock()
	if prior, ok := b.registry[key]; ok && prior != instance {
		return prior, false
	}
	b.registry[key] = instance
	return "", true
}

// registerDocument claims the document's (type, id) pair and reports a
// duplicate against the result when another document got there first.
func (b *BatchContext) registerDocument(doc *shorthand.Document, result *shorthand.Result) {
	if doc == nil || doc.ID == "" {
		return
	}
	if prior, ok := b.RegisterID(doc.ResourceType, doc.ID, doc.Name); !ok {
		result.Add(shorthand.Error(shorthand.CodeDuplicateID).
			Messagef("id %s/%s is already used by instance %q", doc.ResourceType, doc.ID, prior).
			At("id").
			Build())
	}
}
