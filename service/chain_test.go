package service

import (
	"context"
	"errors"
	"testing"
)

// mockProfileFetcher is a test implementation
type mockProfileFetcher struct {
	profiles map[string]*StructureDefinition
	err      error
}

func (m *mockProfileFetcher) FetchStructureDefinition(ctx context.Context, nameOrURL string) (*StructureDefinition, error) {
	if m.err != nil {
		return nil, m.err
	}
	if sd, ok := m.profiles[nameOrURL]; ok {
		return sd, nil
	}
	return nil, ErrNotFound
}

func (m *mockProfileFetcher) FetchStructureDefinitionByType(ctx context.Context, fhirType string) (*StructureDefinition, error) {
	for _, sd := range m.profiles {
		if sd.Type == fhirType {
			return sd, nil
		}
	}
	return nil, ErrNotFound
}

func TestProfileChain(t *testing.T) {
	fetcher1 := &mockProfileFetcher{
		profiles: map[string]*StructureDefinition{
			"http://example.com/profile1": {URL: "http://example.com/profile1", Name: "Profile1"},
		},
	}
	fetcher2 := &mockProfileFetcher{
		profiles: map[string]*StructureDefinition{
			"http://example.com/profile2": {URL: "http://example.com/profile2", Name: "Profile2"},
		},
	}

	chain := NewProfileChain(fetcher1, fetcher2)

	// Test finding in first fetcher
	sd, err := chain.FetchStructureDefinition(context.Background(), "http://example.com/profile1")
	if err != nil {
		t.Fatalf("FetchStructureDefinition failed: %v", err)
	}
	if sd.Name != "Profile1" {
		t.Errorf("Name = %q; want %q", sd.Name, "Profile1")
	}

	// Test finding in second fetcher (fallback)
	sd, err = chain.FetchStructureDefinition(context.Background(), "http://example.com/profile2")
	if err != nil {
		t.Fatalf("FetchStructureDefinition failed: %v", err)
	}
	if sd.Name != "Profile2" {
		t.Errorf("Name = %q; want %q", sd.Name, "Profile2")
	}

	// Test not found
	_, err = chain.FetchStructureDefinition(context.Background(), "http://example.com/nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestProfileChain_ByType(t *testing.T) {
	fetcher1 := &mockProfileFetcher{profiles: map[string]*StructureDefinition{}}
	fetcher2 := &mockProfileFetcher{
		profiles: map[string]*StructureDefinition{
			"http://hl7.org/fhir/StructureDefinition/Patient": {Type: "Patient", Name: "Patient"},
		},
	}

	chain := NewProfileChain(fetcher1, fetcher2)

	sd, err := chain.FetchStructureDefinitionByType(context.Background(), "Patient")
	if err != nil {
		t.Fatalf("FetchStructureDefinitionByType failed: %v", err)
	}
	if sd.Name != "Patient" {
		t.Errorf("Name = %q; want %q", sd.Name, "Patient")
	}

	_, err = chain.FetchStructureDefinitionByType(context.Background(), "Medication")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestProfileChain_Add(t *testing.T) {
	chain := NewProfileChain()

	fetcher := &mockProfileFetcher{
		profiles: map[string]*StructureDefinition{
			"http://example.com/profile": {URL: "http://example.com/profile"},
		},
	}

	chain.Add(fetcher)

	sd, err := chain.FetchStructureDefinition(context.Background(), "http://example.com/profile")
	if err != nil {
		t.Fatalf("FetchStructureDefinition failed: %v", err)
	}
	if sd == nil {
		t.Error("Expected non-nil StructureDefinition")
	}
}

func TestProfileChain_Error(t *testing.T) {
	customErr := errors.New("custom error")
	fetcher := &mockProfileFetcher{err: customErr}

	chain := NewProfileChain(fetcher)

	_, err := chain.FetchStructureDefinition(context.Background(), "http://example.com/profile")
	if !errors.Is(err, customErr) {
		t.Errorf("Expected custom error, got %v", err)
	}
}

// mockProfileCache is a test implementation
type mockProfileCache struct {
	cache map[string]*StructureDefinition
}

func (m *mockProfileCache) Get(url string) (*StructureDefinition, bool) {
	sd, ok := m.cache[url]
	return sd, ok
}

func (m *mockProfileCache) Set(url string, profile *StructureDefinition) {
	m.cache[url] = profile
}

func TestCachingProfileResolver(t *testing.T) {
	fetcher := &mockProfileFetcher{
		profiles: map[string]*StructureDefinition{
			"http://example.com/profile": {URL: "http://example.com/profile", Name: "TestProfile"},
		},
	}
	cache := &mockProfileCache{cache: make(map[string]*StructureDefinition)}

	resolver := NewCachingProfileResolver(fetcher, cache)

	// First call should fetch and cache
	sd, err := resolver.FetchStructureDefinition(context.Background(), "http://example.com/profile")
	if err != nil {
		t.Fatalf("FetchStructureDefinition failed: %v", err)
	}
	if sd.Name != "TestProfile" {
		t.Errorf("Name = %q; want %q", sd.Name, "TestProfile")
	}

	// Verify it was cached
	cached, ok := cache.Get("http://example.com/profile")
	if !ok {
		t.Error("Profile should be cached")
	}
	if cached.Name != "TestProfile" {
		t.Errorf("Cached Name = %q; want %q", cached.Name, "TestProfile")
	}

	// Remove from fetcher to prove cache is used
	delete(fetcher.profiles, "http://example.com/profile")

	// Second call should use cache
	sd, err = resolver.FetchStructureDefinition(context.Background(), "http://example.com/profile")
	if err != nil {
		t.Fatalf("FetchStructureDefinition failed on cached: %v", err)
	}
	if sd.Name != "TestProfile" {
		t.Errorf("Cached Name = %q; want %q", sd.Name, "TestProfile")
	}
}

func TestCachingProfileResolver_ByType(t *testing.T) {
	fetcher := &mockProfileFetcher{
		profiles: map[string]*StructureDefinition{
			"http://hl7.org/fhir/StructureDefinition/Patient": {Type: "Patient", Name: "Patient"},
		},
	}
	cache := &mockProfileCache{cache: make(map[string]*StructureDefinition)}

	resolver := NewCachingProfileResolver(fetcher, cache)

	if _, err := resolver.FetchStructureDefinitionByType(context.Background(), "Patient"); err != nil {
		t.Fatalf("FetchStructureDefinitionByType failed: %v", err)
	}

	// Type keys are prefixed so they never collide with URLs
	if _, ok := cache.Get("type:Patient"); !ok {
		t.Error("Type lookup should be cached under type: prefix")
	}
	if _, ok := cache.Get("Patient"); ok {
		t.Error("Type lookup should not occupy the bare name key")
	}
}

func TestNullImplementations(t *testing.T) {
	// Test NullProfileResolver
	npr := NullProfileResolver{}
	_, err := npr.FetchStructureDefinition(context.Background(), "url")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("NullProfileResolver.FetchStructureDefinition should return ErrNotFound")
	}
	_, err = npr.FetchStructureDefinitionByType(context.Background(), "type")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("NullProfileResolver.FetchStructureDefinitionByType should return ErrNotFound")
	}

	// Test NullEntityResolver
	ner := NullEntityResolver{}
	_, err = ner.ResolveEntity(context.Background(), "SomeInstance")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("NullEntityResolver.ResolveEntity should return ErrNotFound")
	}

	// Test NullCodeSystemResolver
	ncr := NullCodeSystemResolver{}
	if _, ok := ncr.ResolveSystem(context.Background(), "local"); ok {
		t.Error("NullCodeSystemResolver.ResolveSystem should not resolve")
	}
	if !ncr.SystemHasCode(context.Background(), "http://example.com/cs", "any") {
		t.Error("NullCodeSystemResolver.SystemHasCode should be permissive")
	}
}

func TestServices(t *testing.T) {
	services := NewServices()

	// Should have null implementations by default
	_, err := services.Profile.FetchStructureDefinition(context.Background(), "url")
	if !errors.Is(err, ErrNotFound) {
		t.Error("Default Profile should return ErrNotFound")
	}

	// Test fluent API
	customProfile := &mockProfileFetcher{
		profiles: map[string]*StructureDefinition{
			"url": {Name: "Custom"},
		},
	}
	services.WithProfile(customProfile)

	sd, err := services.Profile.FetchStructureDefinition(context.Background(), "url")
	if err != nil {
		t.Fatalf("Custom Profile.FetchStructureDefinition failed: %v", err)
	}
	if sd.Name != "Custom" {
		t.Errorf("Name = %q; want %q", sd.Name, "Custom")
	}
}

func BenchmarkProfileChain(b *testing.B) {
	fetcher1 := &mockProfileFetcher{profiles: make(map[string]*StructureDefinition)}
	fetcher2 := &mockProfileFetcher{
		profiles: map[string]*StructureDefinition{
			"http://example.com/profile": {Name: "Profile"},
		},
	}

	chain := NewProfileChain(fetcher1, fetcher2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		chain.FetchStructureDefinition(context.Background(), "http://example.com/profile")
	}
}

func BenchmarkCachingProfileResolver(b *testing.B) {
	fetcher := &mockProfileFetcher{
		profiles: map[string]*StructureDefinition{
			"http://example.com/profile": {Name: "Profile"},
		},
	}
	cache := &mockProfileCache{cache: make(map[string]*StructureDefinition)}

	resolver := NewCachingProfileResolver(fetcher, cache)

	// Warm up cache
	resolver.FetchStructureDefinition(context.Background(), "http://example.com/profile")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resolver.FetchStructureDefinition(context.Background(), "http://example.com/profile")
	}
}
