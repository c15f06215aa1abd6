package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/gofhir/fhir/r4"
	"github.com/gofhir/shorthand/cache"
	"github.com/gofhir/shorthand/service"
)

// fhirCoreBase is the canonical URL prefix for core FHIR definitions.
const fhirCoreBase = "http://hl7.org/fhir/StructureDefinition/"

// DefaultIndexCacheSize bounds the element index cache when no size is given.
const DefaultIndexCacheSize = 256

// ProfileStore implements service.ProfileResolver using in-memory storage.
// Definitions are indexed by URL, name, and id, so instance declarations can
// name their target type any of the three ways. Base type definitions are
// additionally indexed by type. Element indexes built from stored
// definitions are kept in an LRU cache.
type ProfileStore struct {
	mu        sync.RWMutex
	byURL     map[string]*service.StructureDefinition
	byName    map[string]*service.StructureDefinition
	byID      map[string]*service.StructureDefinition
	byType    map[string]*service.StructureDefinition
	indexes   *cache.Cache[string, *service.ElementIndex]
	converter *R4Converter
}

// NewProfileStore creates an empty store. indexCacheSize bounds the number
// of cached element indexes; non-positive values use DefaultIndexCacheSize.
func NewProfileStore(indexCacheSize int) *ProfileStore {
	if indexCacheSize <= 0 {
		indexCacheSize = DefaultIndexCacheSize
	}
	return &ProfileStore{
		byURL:     make(map[string]*service.StructureDefinition),
		byName:    make(map[string]*service.StructureDefinition),
		byID:      make(map[string]*service.StructureDefinition),
		byType:    make(map[string]*service.StructureDefinition),
		indexes:   cache.New[string, *service.ElementIndex](indexCacheSize),
		converter: NewR4Converter(),
	}
}

// Add indexes a converted StructureDefinition.
func (s *ProfileStore) Add(sd *service.StructureDefinition) error {
	if sd == nil {
		return fmt.Errorf("structure definition is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sd.URL != "" {
		s.byURL[sd.URL] = sd
	}
	if sd.Name != "" {
		s.byName[sd.Name] = sd
	}
	if sd.ID != "" {
		s.byID[sd.ID] = sd
	}

	// Only THE base definition for each type goes into byType. A profile of
	// Patient must not shadow Patient itself.
	if sd.Type != "" && (sd.Kind == "resource" || sd.Kind == "complex-type" || sd.Kind == "primitive-type") {
		if isBaseTypeDefinition(sd.URL, sd.Type) {
			s.byType[sd.Type] = sd
		}
	}

	return nil
}

// AddR4 converts and indexes an r4.StructureDefinition.
func (s *ProfileStore) AddR4(sd *r4.StructureDefinition) error {
	converted := s.converter.ConvertStructureDefinition(sd)
	if converted == nil {
		return fmt.Errorf("structure definition is nil")
	}
	return s.Add(converted)
}

// FetchStructureDefinition implements service.StructureDefinitionFetcher.
// The argument may be a canonical URL, a definition name, or a definition id.
func (s *ProfileStore) FetchStructureDefinition(ctx context.Context, nameOrURL string) (*service.StructureDefinition, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if sd, ok := s.byURL[nameOrURL]; ok {
		return sd, nil
	}
	if sd, ok := s.byName[nameOrURL]; ok {
		return sd, nil
	}
	if sd, ok := s.byID[nameOrURL]; ok {
		return sd, nil
	}
	return nil, fmt.Errorf("structure definition %q: %w", nameOrURL, service.ErrNotFound)
}

// FetchStructureDefinitionByType implements service.StructureDefinitionByTypeFetcher.
// It tries the base type index first, then the canonical core URL, which
// covers complex types that were loaded without kind information.
func (s *ProfileStore) FetchStructureDefinitionByType(ctx context.Context, fhirType string) (*service.StructureDefinition, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if sd, ok := s.byType[fhirType]; ok {
		return sd, nil
	}
	if sd, ok := s.byURL[fhirCoreBase+fhirType]; ok {
		return sd, nil
	}
	return nil, fmt.Errorf("structure definition for type %q: %w", fhirType, service.ErrNotFound)
}

// Index returns the element index for a definition, building and caching it
// on first use. Builds are single-flight per definition URL.
func (s *ProfileStore) Index(sd *service.StructureDefinition) *service.ElementIndex {
	key := sd.URL
	if key == "" {
		key = sd.Name
	}
	if key == "" {
		return service.BuildElementIndex(sd)
	}
	return s.indexes.GetOrSet(key, func() *service.ElementIndex {
		return service.BuildElementIndex(sd)
	})
}

// IndexStats reports hit/miss counts for the element index cache.
func (s *ProfileStore) IndexStats() cache.Stats {
	return s.indexes.Stats()
}

// Count returns the number of stored StructureDefinitions.
func (s *ProfileStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byURL)
}

// URLs returns all stored canonical URLs.
func (s *ProfileStore) URLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	urls := make([]string, 0, len(s.byURL))
	for url := range s.byURL {
		urls = append(urls, url)
	}
	return urls
}

// Clear removes all stored definitions and cached indexes.
func (s *ProfileStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byURL = make(map[string]*service.StructureDefinition)
	s.byName = make(map[string]*service.StructureDefinition)
	s.byID = make(map[string]*service.StructureDefinition)
	s.byType = make(map[string]*service.StructureDefinition)
	s.indexes.Clear()
}

// isBaseTypeDefinition checks if a URL is THE base definition for its type.
// http://hl7.org/fhir/StructureDefinition/Patient is the base for Patient;
// a profile of Patient carries a different URL.
func isBaseTypeDefinition(url, typeName string) bool {
	if typeName == "" {
		return false
	}
	return url == fhirCoreBase+typeName
}

// LoadFile loads StructureDefinitions from a JSON file. Single definitions
// and Bundles are both accepted.
func (s *ProfileStore) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return s.LoadJSON(data)
}

// LoadJSON loads StructureDefinitions from JSON data. The resource type is
// probed before decoding so non-definition resources fail cheaply.
func (s *ProfileStore) LoadJSON(data []byte) (int, error) {
	resourceType, err := jsonparser.GetString(data, "resourceType")
	if err != nil {
		return 0, fmt.Errorf("invalid JSON: missing resourceType")
	}

	switch resourceType {
	case "Bundle":
		return s.LoadBundle(data)
	case "StructureDefinition":
		if err := s.loadOne(data); err != nil {
			return 0, err
		}
		return 1, nil
	default:
		return 0, fmt.Errorf("unsupported resourceType: %s", resourceType)
	}
}

// loadOne decodes, converts, annotates, and indexes one StructureDefinition.
func (s *ProfileStore) loadOne(data []byte) error {
	var sd r4.StructureDefinition
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("failed to parse StructureDefinition: %w", err)
	}

	converted := s.converter.ConvertStructureDefinition(&sd)
	AnnotateFromJSON(converted, data)
	return s.Add(converted)
}

// LoadBundle loads StructureDefinitions from a FHIR Bundle. Entries of
// other resource types are skipped.
func (s *ProfileStore) LoadBundle(data []byte) (int, error) {
	if rt, _ := jsonparser.GetString(data, "resourceType"); rt != "Bundle" {
		return 0, fmt.Errorf("expected Bundle, got %s", rt)
	}

	count := 0
	_, err := jsonparser.ArrayEach(data, func(entry []byte, _ jsonparser.ValueType, _ int, _ error) {
		resource, _, _, err := jsonparser.Get(entry, "resource")
		if err != nil {
			return
		}
		if rt, _ := jsonparser.GetString(resource, "resourceType"); rt != "StructureDefinition" {
			return
		}
		if err := s.loadOne(resource); err != nil {
			return
		}
		count++
	}, "entry")
	if err != nil && err != jsonparser.KeyPathNotFoundError {
		return count, fmt.Errorf("failed to parse Bundle: %w", err)
	}

	return count, nil
}

// LoadDirectory loads all StructureDefinition JSON files from a directory.
// Files must be named StructureDefinition-*.json to be loaded.
func (s *ProfileStore) LoadDirectory(dirPath string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dirPath, "StructureDefinition-*.json"))
	if err != nil {
		return 0, fmt.Errorf("failed to glob directory: %w", err)
	}

	total := 0
	for _, file := range files {
		count, err := s.LoadFile(file)
		if err != nil {
			// Skip files that fail to load
			continue
		}
		total += count
	}

	return total, nil
}

// Verify interface compliance
var _ service.ProfileResolver = (*ProfileStore)(nil)
