package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofhir/fhir/r4"
	"github.com/gofhir/shorthand/service"
)

func TestProfileStore(t *testing.T) {
	t.Run("new store", func(t *testing.T) {
		store := NewProfileStore(0)
		if store == nil {
			t.Fatal("expected non-nil store")
		}
		if store.Count() != 0 {
			t.Errorf("Count() = %d; want 0", store.Count())
		}
		if got := store.IndexStats().Capacity; got != DefaultIndexCacheSize {
			t.Errorf("IndexStats().Capacity = %d; want %d", got, DefaultIndexCacheSize)
		}
	})

	t.Run("add nil", func(t *testing.T) {
		store := NewProfileStore(0)
		if err := store.Add(nil); err == nil {
			t.Error("expected error for nil input")
		}
	})

	t.Run("fetch by url, name, and id", func(t *testing.T) {
		store := NewProfileStore(0)
		sd := &service.StructureDefinition{
			URL:  "http://example.org/StructureDefinition/TestPatient",
			ID:   "test-patient",
			Name: "TestPatient",
			Type: "Patient",
			Kind: "resource",
		}
		if err := store.Add(sd); err != nil {
			t.Fatalf("Add() error = %v", err)
		}

		ctx := context.Background()
		for _, key := range []string{sd.URL, sd.Name, sd.ID} {
			result, err := store.FetchStructureDefinition(ctx, key)
			if err != nil {
				t.Fatalf("FetchStructureDefinition(%q) error = %v", key, err)
			}
			if result != sd {
				t.Errorf("FetchStructureDefinition(%q) returned a different definition", key)
			}
		}
	})

	t.Run("fetch missing wraps ErrNotFound", func(t *testing.T) {
		store := NewProfileStore(0)
		_, err := store.FetchStructureDefinition(context.Background(), "http://example.org/nonexistent")
		if !errors.Is(err, service.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		_, err = store.FetchStructureDefinitionByType(context.Background(), "NonExistent")
		if !errors.Is(err, service.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		store := NewProfileStore(0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := store.FetchStructureDefinition(ctx, "anything"); err == nil {
			t.Error("expected error for cancelled context")
		}
		if _, err := store.FetchStructureDefinitionByType(ctx, "Patient"); err == nil {
			t.Error("expected error for cancelled context")
		}
	})

	t.Run("profiles do not shadow base types", func(t *testing.T) {
		store := NewProfileStore(0)
		profile := &service.StructureDefinition{
			URL:  "http://example.org/StructureDefinition/MyPatient",
			Name: "MyPatient",
			Type: "Patient",
			Kind: "resource",
		}
		_ = store.Add(profile)

		ctx := context.Background()
		if _, err := store.FetchStructureDefinitionByType(ctx, "Patient"); !errors.Is(err, service.ErrNotFound) {
			t.Fatalf("profile should not be indexed by type, got err = %v", err)
		}

		base := &service.StructureDefinition{
			URL:  "http://hl7.org/fhir/StructureDefinition/Patient",
			Name: "Patient",
			Type: "Patient",
			Kind: "resource",
		}
		_ = store.Add(base)

		result, err := store.FetchStructureDefinitionByType(ctx, "Patient")
		if err != nil {
			t.Fatalf("FetchStructureDefinitionByType() error = %v", err)
		}
		if result != base {
			t.Error("expected the base definition, not the profile")
		}
	})

	t.Run("fetch by type falls back to canonical url", func(t *testing.T) {
		store := NewProfileStore(0)
		// No kind set, so the type index is not populated.
		sd := &service.StructureDefinition{
			URL:  "http://hl7.org/fhir/StructureDefinition/Quantity",
			Name: "Quantity",
			Type: "Quantity",
		}
		_ = store.Add(sd)

		result, err := store.FetchStructureDefinitionByType(context.Background(), "Quantity")
		if err != nil {
			t.Fatalf("FetchStructureDefinitionByType() error = %v", err)
		}
		if result != sd {
			t.Error("expected the canonical definition")
		}
	})

	t.Run("add R4 StructureDefinition", func(t *testing.T) {
		store := NewProfileStore(0)
		kind := r4.StructureDefinitionKindResource

		sd := &r4.StructureDefinition{
			Url:  strPtr("http://hl7.org/fhir/StructureDefinition/Observation"),
			Name: strPtr("Observation"),
			Type: strPtr("Observation"),
			Kind: &kind,
		}
		if err := store.AddR4(sd); err != nil {
			t.Fatalf("AddR4() error = %v", err)
		}
		if store.Count() != 1 {
			t.Errorf("Count() = %d; want 1", store.Count())
		}

		result, err := store.FetchStructureDefinitionByType(context.Background(), "Observation")
		if err != nil {
			t.Fatalf("FetchStructureDefinitionByType() error = %v", err)
		}
		if result.Name != "Observation" {
			t.Errorf("Name = %q; want %q", result.Name, "Observation")
		}
	})

	t.Run("index is built once per definition", func(t *testing.T) {
		store := NewProfileStore(0)
		sd := &service.StructureDefinition{
			URL:  "http://hl7.org/fhir/StructureDefinition/Patient",
			Name: "Patient",
			Type: "Patient",
			Kind: "resource",
			Snapshot: []service.ElementDefinition{
				{ID: "Patient", Path: "Patient"},
				{ID: "Patient.active", Path: "Patient.active", Max: "1",
					Types: []service.TypeRef{{Code: "boolean"}}},
			},
		}
		_ = store.Add(sd)

		idx1 := store.Index(sd)
		idx2 := store.Index(sd)
		if idx1 != idx2 {
			t.Error("expected the cached index on the second call")
		}
		if idx1.Get("Patient.active") == nil {
			t.Error("index is missing Patient.active")
		}

		stats := store.IndexStats()
		if stats.Misses != 1 {
			t.Errorf("Misses = %d; want 1", stats.Misses)
		}
		if stats.Hits != 1 {
			t.Errorf("Hits = %d; want 1", stats.Hits)
		}
		if stats.Size != 1 {
			t.Errorf("Size = %d; want 1", stats.Size)
		}
	})

	t.Run("index without url or name is not cached", func(t *testing.T) {
		store := NewProfileStore(0)
		sd := &service.StructureDefinition{
			Type: "Patient",
			Snapshot: []service.ElementDefinition{
				{ID: "Patient", Path: "Patient"},
			},
		}

		idx1 := store.Index(sd)
		idx2 := store.Index(sd)
		if idx1 == idx2 {
			t.Error("anonymous definitions should get a fresh index per call")
		}
		if store.IndexStats().Size != 0 {
			t.Errorf("IndexStats().Size = %d; want 0", store.IndexStats().Size)
		}
	})

	t.Run("URLs and Clear", func(t *testing.T) {
		store := NewProfileStore(0)
		_ = store.Add(&service.StructureDefinition{
			URL:  "http://example.org/SD/One",
			Name: "One",
			Type: "Patient",
			Kind: "resource",
		})
		_ = store.Add(&service.StructureDefinition{
			URL:  "http://example.org/SD/Two",
			Name: "Two",
			Type: "Observation",
			Kind: "resource",
		})

		if urls := store.URLs(); len(urls) != 2 {
			t.Errorf("len(URLs()) = %d; want 2", len(urls))
		}

		store.Clear()
		if store.Count() != 0 {
			t.Errorf("Count() after Clear = %d; want 0", store.Count())
		}
		if _, err := store.FetchStructureDefinition(context.Background(), "One"); err == nil {
			t.Error("expected error after Clear")
		}
	})
}

const testPatientProfileJSON = `{
	"resourceType": "StructureDefinition",
	"id": "my-patient",
	"url": "http://example.org/StructureDefinition/MyPatient",
	"name": "MyPatient",
	"status": "active",
	"kind": "resource",
	"abstract": false,
	"type": "Patient",
	"baseDefinition": "http://hl7.org/fhir/StructureDefinition/Patient",
	"derivation": "constraint",
	"snapshot": {
		"element": [
			{"id": "Patient", "path": "Patient", "min": 0, "max": "*"},
			{
				"id": "Patient.contact.name",
				"path": "Patient.contact.name",
				"min": 0,
				"max": "1",
				"contentReference": "#Patient.name"
			}
		]
	}
}`

func TestProfileStore_LoadJSON(t *testing.T) {
	t.Run("structure definition", func(t *testing.T) {
		store := NewProfileStore(0)
		count, err := store.LoadJSON([]byte(testPatientProfileJSON))
		if err != nil {
			t.Fatalf("LoadJSON() error = %v", err)
		}
		if count != 1 {
			t.Errorf("count = %d; want 1", count)
		}

		// The raw-document annotations must survive the load path.
		sd, err := store.FetchStructureDefinition(context.Background(), "my-patient")
		if err != nil {
			t.Fatalf("fetch by id failed: %v", err)
		}
		if sd.Derivation != "constraint" {
			t.Errorf("Derivation = %q; want %q", sd.Derivation, "constraint")
		}
		if got, want := sd.Snapshot[1].ContentReference, "#Patient.name"; got != want {
			t.Errorf("ContentReference = %q; want %q", got, want)
		}
	})

	t.Run("bundle", func(t *testing.T) {
		store := NewProfileStore(0)
		bundle := `{
			"resourceType": "Bundle",
			"type": "collection",
			"entry": [
				{"resource": {"resourceType": "StructureDefinition", "url": "http://example.org/SD/A", "name": "A", "status": "active", "kind": "resource", "abstract": false, "type": "Patient"}},
				{"resource": {"resourceType": "Patient", "id": "skipped"}},
				{"fullUrl": "urn:uuid:no-resource"},
				{"resource": {"resourceType": "StructureDefinition", "url": "http://example.org/SD/B", "name": "B", "status": "active", "kind": "resource", "abstract": false, "type": "Observation"}}
			]
		}`

		count, err := store.LoadJSON([]byte(bundle))
		if err != nil {
			t.Fatalf("LoadJSON() error = %v", err)
		}
		if count != 2 {
			t.Errorf("count = %d; want 2", count)
		}
		if store.Count() != 2 {
			t.Errorf("Count() = %d; want 2", store.Count())
		}
	})

	t.Run("empty bundle", func(t *testing.T) {
		store := NewProfileStore(0)
		count, err := store.LoadJSON([]byte(`{"resourceType": "Bundle", "type": "collection"}`))
		if err != nil {
			t.Fatalf("LoadJSON() error = %v", err)
		}
		if count != 0 {
			t.Errorf("count = %d; want 0", count)
		}
	})

	t.Run("unsupported resource type", func(t *testing.T) {
		store := NewProfileStore(0)
		if _, err := store.LoadJSON([]byte(`{"resourceType": "Patient"}`)); err == nil {
			t.Error("expected error for unsupported resource type")
		}
	})

	t.Run("missing resourceType", func(t *testing.T) {
		store := NewProfileStore(0)
		if _, err := store.LoadJSON([]byte(`{"url": "http://example.org"}`)); err == nil {
			t.Error("expected error for missing resourceType")
		}
	})
}

func TestProfileStore_LoadDirectory(t *testing.T) {
	dir := t.TempDir()

	writeFile := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	writeFile("StructureDefinition-Alpha.json",
		`{"resourceType": "StructureDefinition", "url": "http://example.org/SD/Alpha", "name": "Alpha", "status": "active", "kind": "resource", "abstract": false, "type": "Patient"}`)
	writeFile("StructureDefinition-Beta.json",
		`{"resourceType": "StructureDefinition", "url": "http://example.org/SD/Beta", "name": "Beta", "status": "active", "kind": "resource", "abstract": false, "type": "Observation"}`)
	writeFile("StructureDefinition-Broken.json", `{not json`)
	writeFile("ValueSet-ignored.json", `{"resourceType": "ValueSet", "url": "http://example.org/vs"}`)
	writeFile("package.json", `{"name": "example.pkg", "version": "1.0.0"}`)

	store := NewProfileStore(0)
	count, err := store.LoadDirectory(dir)
	if err != nil {
		t.Fatalf("LoadDirectory() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d; want 2", count)
	}

	if _, err := store.FetchStructureDefinition(context.Background(), "Alpha"); err != nil {
		t.Errorf("Alpha not loaded: %v", err)
	}
	if _, err := store.FetchStructureDefinition(context.Background(), "Beta"); err != nil {
		t.Errorf("Beta not loaded: %v", err)
	}
}

func strPtr(s string) *string {
	return &s
}
