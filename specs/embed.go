// Package specs embeds a curated subset of the FHIR R4 definition
// bundles so an exporter works without any external definition files.
//
// The embedded set covers the resource StructureDefinitions most
// instance catalogs declare (Patient, Observation, Organization,
// Practitioner, Condition, Bundle), the complex datatypes they
// reference, and the code systems behind their required bindings.
// Definition packages loaded at runtime sit on top of this seed and
// take precedence for anything they redefine.
//
// Usage:
//
//	profiles := loader.NewProfileStore(0)
//	codes := terminology.NewMemoryStore()
//	stats, err := specs.Load(specs.R4, profiles, codes)
package specs

import (
	"embed"
	"fmt"

	"github.com/buger/jsonparser"

	"github.com/gofhir/shorthand/loader"
	"github.com/gofhir/shorthand/terminology"
)

//go:embed r4/*.json
var r4Files embed.FS

// FHIRVersion identifies a FHIR release of the embedded definitions.
type FHIRVersion string

const (
	R4  FHIRVersion = "R4"
	R4B FHIRVersion = "R4B"
	R5  FHIRVersion = "R5"
)

// SpecFiles names the files present in each version directory.
var SpecFiles = struct {
	ProfilesResources string
	ProfilesTypes     string
	CodeSystems       string
}{
	ProfilesResources: "profiles-resources.json",
	ProfilesTypes:     "profiles-types.json",
	CodeSystems:       "codesystems.json",
}

// LoadStats reports what Load fed into the target stores.
type LoadStats struct {
	StructureDefinitions int
	CodeSystems          int
	ValueSets            int
}

// Dir returns the embedded directory for a FHIR version. R4B reuses
// the R4 definitions; the differences between the two releases do not
// touch the embedded subset. No R5 bundle ships with the module.
func Dir(version FHIRVersion) (string, error) {
	switch version {
	case R4, R4B:
		return "r4", nil
	case R5:
		return "", fmt.Errorf("no embedded R5 definitions; load a definition package instead")
	default:
		return "", fmt.Errorf("unsupported FHIR version: %s", version)
	}
}

// Files lists the embedded file names available for a FHIR version.
func Files(version FHIRVersion) ([]string, error) {
	dir, err := Dir(version)
	if err != nil {
		return nil, err
	}

	entries, err := r4Files.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}

	return files, nil
}

// ReadFile reads a file from the embedded definitions for a given version.
func ReadFile(version FHIRVersion, filename string) ([]byte, error) {
	dir, err := Dir(version)
	if err != nil {
		return nil, err
	}

	path := dir + "/" + filename
	data, err := r4Files.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return data, nil
}

// Load feeds the embedded definition bundles for a version into the
// given stores. Either store may be nil to skip that half of the set.
func Load(version FHIRVersion, profiles *loader.ProfileStore, codes *terminology.MemoryStore) (*LoadStats, error) {
	stats := &LoadStats{}

	if profiles != nil {
		for _, name := range []string{SpecFiles.ProfilesTypes, SpecFiles.ProfilesResources} {
			data, err := ReadFile(version, name)
			if err != nil {
				return stats, err
			}
			n, err := profiles.LoadJSON(data)
			if err != nil {
				return stats, fmt.Errorf("failed to load %s: %w", name, err)
			}
			stats.StructureDefinitions += n
		}
	}

	if codes != nil {
		data, err := ReadFile(version, SpecFiles.CodeSystems)
		if err != nil {
			return stats, err
		}
		if err := loadTerminologyBundle(data, codes, stats); err != nil {
			return stats, fmt.Errorf("failed to load %s: %w", SpecFiles.CodeSystems, err)
		}
	}

	return stats, nil
}

// loadTerminologyBundle walks a Bundle of CodeSystem and ValueSet
// resources and feeds each one into the store.
func loadTerminologyBundle(data []byte, codes *terminology.MemoryStore, stats *LoadStats) error {
	var loadErr error
	_, err := jsonparser.ArrayEach(data, func(entry []byte, _ jsonparser.ValueType, _ int, _ error) {
		if loadErr != nil {
			return
		}
		resource, _, _, err := jsonparser.Get(entry, "resource")
		if err != nil {
			return
		}
		kind, _ := jsonparser.GetString(resource, "resourceType")
		switch kind {
		case "CodeSystem":
			if err := codes.LoadJSON(resource); err != nil {
				loadErr = err
				return
			}
			stats.CodeSystems++
		case "ValueSet":
			if err := codes.LoadJSON(resource); err != nil {
				loadErr = err
				return
			}
			stats.ValueSets++
		}
	}, "entry")
	if err != nil {
		return err
	}
	return loadErr
}
