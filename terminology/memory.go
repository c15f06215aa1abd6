package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/gofhir/fhir/r4"
	"github.com/gofhir/shorthand/service"
)

// MemoryStore holds locally defined CodeSystems and ValueSets. It resolves
// system names to canonical URLs and answers code membership questions for
// the systems it knows. Systems it does not know are treated permissively:
// membership checks succeed so that externally defined terminologies never
// produce diagnostics.
type MemoryStore struct {
	mu       sync.RWMutex
	systems  map[string]*codeSystem // by canonical URL
	sysNames map[string]string      // name or id -> URL
	sets     map[string]*valueSet   // by canonical URL
	setNames map[string]string      // name or id -> URL
}

// codeSystem holds one locally defined code system.
type codeSystem struct {
	url   string
	name  string
	id    string
	codes map[string]string // code -> display
}

// valueSet holds the identity of a locally defined value set. The exporter
// only needs value sets for canonical resolution, not for expansion.
type valueSet struct {
	url  string
	name string
	id   string
}

// NewMemoryStore creates a store pre-loaded with a small set of common FHIR
// code systems so that typos in everyday codes are caught out of the box.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		systems:  make(map[string]*codeSystem),
		sysNames: make(map[string]string),
		sets:     make(map[string]*valueSet),
		setNames: make(map[string]string),
	}
	s.loadCommonCodeSystems()
	return s
}

// AddCodeSystem registers a code system. name and id may be empty; codes
// maps code to display text.
func (s *MemoryStore) AddCodeSystem(url, name, id string, codes map[string]string) {
	if url == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCodeSystem(url, name, id, codes)
}

// addCodeSystem must be called with the write lock held.
func (s *MemoryStore) addCodeSystem(url, name, id string, codes map[string]string) {
	cs := &codeSystem{
		url:   url,
		name:  name,
		id:    id,
		codes: make(map[string]string, len(codes)),
	}
	for code, display := range codes {
		cs.codes[code] = display
	}
	s.systems[url] = cs

	if name != "" {
		s.sysNames[name] = url
	}
	if id != "" {
		s.sysNames[id] = url
	}
}

// AddValueSet registers a value set identity for canonical resolution.
func (s *MemoryStore) AddValueSet(url, name, id string) {
	if url == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sets[url] = &valueSet{url: url, name: name, id: id}
	if name != "" {
		s.setNames[name] = url
	}
	if id != "" {
		s.setNames[id] = url
	}
}

// LoadR4CodeSystem loads a decoded R4 CodeSystem. Concepts are flattened
// recursively; nested concepts become ordinary codes.
func (s *MemoryStore) LoadR4CodeSystem(cs *r4.CodeSystem) error {
	if cs == nil || cs.Url == nil {
		return fmt.Errorf("codesystem is nil or has no URL")
	}

	codes := make(map[string]string)
	collectConcepts(cs.Concept, codes)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCodeSystem(*cs.Url, "", "", codes)
	return nil
}

// LoadR4ValueSet loads a decoded R4 ValueSet.
func (s *MemoryStore) LoadR4ValueSet(vs *r4.ValueSet) error {
	if vs == nil || vs.Url == nil {
		return fmt.Errorf("valueset is nil or has no URL")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	url := *vs.Url
	s.sets[url] = &valueSet{url: url}
	return nil
}

// LoadJSON loads a CodeSystem or ValueSet from its JSON form. Unlike the
// typed loaders it also captures name and id, so rule values can refer to
// the definition either way.
func (s *MemoryStore) LoadJSON(data []byte) error {
	resourceType, err := jsonparser.GetString(data, "resourceType")
	if err != nil {
		return fmt.Errorf("invalid JSON: missing resourceType")
	}

	url, _ := jsonparser.GetString(data, "url")
	if url == "" {
		return fmt.Errorf("%s has no url", resourceType)
	}
	name, _ := jsonparser.GetString(data, "name")
	id, _ := jsonparser.GetString(data, "id")

	switch resourceType {
	case "CodeSystem":
		var cs r4.CodeSystem
		if err := json.Unmarshal(data, &cs); err != nil {
			return fmt.Errorf("failed to parse CodeSystem: %w", err)
		}
		codes := make(map[string]string)
		collectConcepts(cs.Concept, codes)

		s.mu.Lock()
		s.addCodeSystem(url, name, id, codes)
		s.mu.Unlock()
		return nil

	case "ValueSet":
		s.AddValueSet(url, name, id)
		return nil

	default:
		return fmt.Errorf("unsupported resourceType: %s", resourceType)
	}
}

// collectConcepts flattens a concept tree into a code -> display map.
func collectConcepts(concepts []r4.CodeSystemConcept, out map[string]string) {
	for i := range concepts {
		concept := &concepts[i]
		if concept.Code == nil {
			continue
		}

		display := ""
		if concept.Display != nil {
			display = *concept.Display
		}
		out[*concept.Code] = display

		if len(concept.Concept) > 0 {
			collectConcepts(concept.Concept, out)
		}
	}
}

// ResolveSystem implements service.CodeSystemResolver. The argument may be
// a system name, a definition id, or a canonical URL already.
func (s *MemoryStore) ResolveSystem(_ context.Context, name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.systems[name]; ok {
		return name, true
	}
	if url, ok := s.sysNames[name]; ok {
		return url, true
	}
	return "", false
}

// SystemHasCode implements service.CodeSystemResolver. Unknown systems are
// permissive: only locally loaded systems can reject a code.
func (s *MemoryStore) SystemHasCode(_ context.Context, systemURL, code string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.systems[stripVersion(systemURL)]
	if !ok {
		return true
	}
	_, ok = cs.codes[code]
	return ok
}

// Display returns the display text a local system records for a code.
func (s *MemoryStore) Display(systemURL, code string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.systems[stripVersion(systemURL)]
	if !ok {
		return "", false
	}
	display, ok := cs.codes[code]
	if !ok || display == "" {
		return "", false
	}
	return display, true
}

// ResolveValueSet maps a value set name, id, or URL to its canonical URL.
func (s *MemoryStore) ResolveValueSet(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sets[name]; ok {
		return name, true
	}
	if url, ok := s.setNames[name]; ok {
		return url, true
	}
	return "", false
}

// CountSystems returns the number of loaded code systems.
func (s *MemoryStore) CountSystems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.systems)
}

// CountValueSets returns the number of loaded value sets.
func (s *MemoryStore) CountValueSets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets)
}

// stripVersion removes a "|version" suffix from a canonical URL.
func stripVersion(url string) string {
	if i := strings.LastIndex(url, "|"); i != -1 {
		return url[:i]
	}
	return url
}

// Verify interface compliance
var _ service.CodeSystemResolver = (*MemoryStore)(nil)
