package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/buger/jsonparser"
	"github.com/gofhir/shorthand/terminology"
)

// LoadStats counts what a load pass ingested.
type LoadStats struct {
	StructureDefinitions int64
	CodeSystems          int64
	ValueSets            int64
	Errors               int64
	PackagesLoaded       int
}

// PackageLoader loads FHIR package directories into a profile store and a
// terminology store. Either store may be nil; matching resources are then
// skipped.
type PackageLoader struct {
	profiles *ProfileStore
	terms    *terminology.MemoryStore
}

// NewPackageLoader creates a new package loader.
func NewPackageLoader(profiles *ProfileStore, terms *terminology.MemoryStore) *PackageLoader {
	return &PackageLoader{
		profiles: profiles,
		terms:    terms,
	}
}

// LoadPackage loads a single package from a directory. FHIR packages keep
// their content under package/; a flat directory of JSON files also works.
// CodeSystems are loaded before ValueSets and other files.
func (l *PackageLoader) LoadPackage(packageDir string) (*LoadStats, error) {
	stats := &LoadStats{}

	contentDir := packageDir
	packageSubDir := filepath.Join(packageDir, "package")
	if _, err := os.Stat(packageSubDir); err == nil {
		contentDir = packageSubDir
	}

	entries, err := os.ReadDir(contentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	// FHIR packages name files by resource type; load definitions first,
	// then terminology, then anything else (Bundles and the like).
	var structureDefs, codeSystems, valueSets, others []string

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if entry.Name() == "package.json" || entry.Name() == ".index.json" {
			continue
		}

		filePath := filepath.Join(contentDir, entry.Name())
		switch {
		case strings.HasPrefix(entry.Name(), "StructureDefinition-"):
			structureDefs = append(structureDefs, filePath)
		case strings.HasPrefix(entry.Name(), "CodeSystem-"):
			codeSystems = append(codeSystems, filePath)
		case strings.HasPrefix(entry.Name(), "ValueSet-"):
			valueSets = append(valueSets, filePath)
		default:
			others = append(others, filePath)
		}
	}

	for _, group := range [][]string{structureDefs, codeSystems, valueSets, others} {
		for _, filePath := range group {
			if err := l.loadFile(filePath, stats); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
			}
		}
	}

	stats.PackagesLoaded = 1
	return stats, nil
}

// LoadPackages loads multiple package directories, merging their stats.
func (l *PackageLoader) LoadPackages(packageDirs []string) (*LoadStats, error) {
	total := &LoadStats{}
	for _, dir := range packageDirs {
		stats, err := l.LoadPackage(dir)
		if err != nil {
			return total, fmt.Errorf("failed to load package %s: %w", dir, err)
		}
		mergeStats(total, stats)
	}
	return total, nil
}

// LoadPackageParallel loads a package using parallel file processing. File
// order is not preserved, so lazily resolved references between files must
// not depend on it.
func (l *PackageLoader) LoadPackageParallel(packageDir string, workers int) (*LoadStats, error) {
	stats := &LoadStats{}

	contentDir := packageDir
	packageSubDir := filepath.Join(packageDir, "package")
	if _, err := os.Stat(packageSubDir); err == nil {
		contentDir = packageSubDir
	}

	entries, err := os.ReadDir(contentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var jsonFiles []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if entry.Name() == "package.json" || entry.Name() == ".index.json" {
			continue
		}
		jsonFiles = append(jsonFiles, filepath.Join(contentDir, entry.Name()))
	}

	if workers <= 0 {
		workers = 4
	}

	fileChan := make(chan string, len(jsonFiles))
	for _, f := range jsonFiles {
		fileChan <- f
	}
	close(fileChan)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for filePath := range fileChan {
				if err := l.loadFile(filePath, stats); err != nil {
					atomic.AddInt64(&stats.Errors, 1)
				}
			}
		}()
	}

	wg.Wait()
	stats.PackagesLoaded = 1
	return stats, nil
}

// loadFile loads a single JSON file into the appropriate store.
func (l *PackageLoader) loadFile(filePath string, stats *LoadStats) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return l.loadResource(data, stats)
}

// loadResource dispatches a resource to a store by its probed type.
func (l *PackageLoader) loadResource(data []byte, stats *LoadStats) error {
	resourceType, err := jsonparser.GetString(data, "resourceType")
	if err != nil {
		return fmt.Errorf("invalid JSON: missing resourceType")
	}

	switch resourceType {
	case "StructureDefinition":
		if l.profiles != nil {
			if err := l.profiles.loadOne(data); err != nil {
				return err
			}
			atomic.AddInt64(&stats.StructureDefinitions, 1)
		}

	case "CodeSystem":
		if l.terms != nil {
			if err := l.terms.LoadJSON(data); err != nil {
				return err
			}
			atomic.AddInt64(&stats.CodeSystems, 1)
		}

	case "ValueSet":
		if l.terms != nil {
			if err := l.terms.LoadJSON(data); err != nil {
				return err
			}
			atomic.AddInt64(&stats.ValueSets, 1)
		}

	case "Bundle":
		return l.loadBundle(data, stats)
	}

	return nil
}

// loadBundle dispatches each Bundle entry resource. Entries that fail are
// counted but do not stop the rest of the bundle.
func (l *PackageLoader) loadBundle(data []byte, stats *LoadStats) error {
	_, err := jsonparser.ArrayEach(data, func(entry []byte, _ jsonparser.ValueType, _ int, _ error) {
		resource, _, _, err := jsonparser.Get(entry, "resource")
		if err != nil {
			return
		}
		if err := l.loadResource(resource, stats); err != nil {
			atomic.AddInt64(&stats.Errors, 1)
		}
	}, "entry")
	if err != nil && err != jsonparser.KeyPathNotFoundError {
		return fmt.Errorf("failed to parse Bundle: %w", err)
	}
	return nil
}

// mergeStats merges source counts into target.
func mergeStats(target, source *LoadStats) {
	atomic.AddInt64(&target.StructureDefinitions, source.StructureDefinitions)
	atomic.AddInt64(&target.CodeSystems, source.CodeSystems)
	atomic.AddInt64(&target.ValueSets, source.ValueSets)
	atomic.AddInt64(&target.Errors, source.Errors)
	target.PackagesLoaded += source.PackagesLoaded
}
