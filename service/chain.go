package service

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a definition or entity cannot be found.
var ErrNotFound = errors.New("not found")

// ErrNotSupported is returned when an operation is not supported.
var ErrNotSupported = errors.New("operation not supported")

// --- Profile Chain ---

// ProfileChain implements ProfileResolver by trying multiple resolvers
// in order. The CLI chains loaded packages in front of the embedded
// core definitions.
type ProfileChain struct {
	resolvers []ProfileResolver
}

// NewProfileChain creates a new profile chain.
func NewProfileChain(resolvers ...ProfileResolver) *ProfileChain {
	return &ProfileChain{resolvers: resolvers}
}

// FetchStructureDefinition tries each resolver until one succeeds.
func (c *ProfileChain) FetchStructureDefinition(ctx context.Context, nameOrURL string) (*StructureDefinition, error) {
	for _, resolver := range c.resolvers {
		sd, err := resolver.FetchStructureDefinition(ctx, nameOrURL)
		if err == nil && sd != nil {
			return sd, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// FetchStructureDefinitionByType tries each resolver until one succeeds.
func (c *ProfileChain) FetchStructureDefinitionByType(ctx context.Context, fhirType string) (*StructureDefinition, error) {
	for _, resolver := range c.resolvers {
		sd, err := resolver.FetchStructureDefinitionByType(ctx, fhirType)
		if err == nil && sd != nil {
			return sd, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// Add appends a resolver to the chain.
func (c *ProfileChain) Add(resolver ProfileResolver) {
	c.resolvers = append(c.resolvers, resolver)
}

// --- Caching Wrapper ---

// CachingProfileResolver wraps a ProfileResolver with caching.
type CachingProfileResolver struct {
	resolver ProfileResolver
	cache    ProfileCache
}

// NewCachingProfileResolver creates a caching wrapper.
func NewCachingProfileResolver(resolver ProfileResolver, cache ProfileCache) *CachingProfileResolver {
	return &CachingProfileResolver{
		resolver: resolver,
		cache:    cache,
	}
}

// FetchStructureDefinition checks the cache first, then calls the
// wrapped resolver.
func (c *CachingProfileResolver) FetchStructureDefinition(ctx context.Context, nameOrURL string) (*StructureDefinition, error) {
	if sd, ok := c.cache.Get(nameOrURL); ok {
		return sd, nil
	}

	sd, err := c.resolver.FetchStructureDefinition(ctx, nameOrURL)
	if err != nil {
		return nil, err
	}

	c.cache.Set(nameOrURL, sd)
	return sd, nil
}

// FetchStructureDefinitionByType checks the cache first, then calls the
// wrapped resolver.
func (c *CachingProfileResolver) FetchStructureDefinitionByType(ctx context.Context, fhirType string) (*StructureDefinition, error) {
	// Type keys get a prefix to keep them apart from URLs and names.
	cacheKey := "type:" + fhirType

	if sd, ok := c.cache.Get(cacheKey); ok {
		return sd, nil
	}

	sd, err := c.resolver.FetchStructureDefinitionByType(ctx, fhirType)
	if err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, sd)
	return sd, nil
}

// --- Null Implementations ---

// NullProfileResolver is a no-op implementation that always returns
// ErrNotFound.
type NullProfileResolver struct{}

// FetchStructureDefinition always returns ErrNotFound.
func (NullProfileResolver) FetchStructureDefinition(_ context.Context, _ string) (*StructureDefinition, error) {
	return nil, ErrNotFound
}

// FetchStructureDefinitionByType always returns ErrNotFound.
func (NullProfileResolver) FetchStructureDefinitionByType(_ context.Context, _ string) (*StructureDefinition, error) {
	return nil, ErrNotFound
}

// NullEntityResolver is a no-op implementation that always returns
// ErrNotFound.
type NullEntityResolver struct{}

// ResolveEntity always returns ErrNotFound.
func (NullEntityResolver) ResolveEntity(_ context.Context, _ string) (*EntityInfo, error) {
	return nil, ErrNotFound
}

// NullCodeSystemResolver is a permissive no-op implementation.
type NullCodeSystemResolver struct{}

// ResolveSystem never resolves a name.
func (NullCodeSystemResolver) ResolveSystem(_ context.Context, _ string) (string, bool) {
	return "", false
}

// SystemHasCode accepts every code.
func (NullCodeSystemResolver) SystemHasCode(_ context.Context, _, _ string) bool {
	return true
}

// --- Service Aggregator ---

// Services aggregates the resolvers the exporter depends on.
type Services struct {
	Profile    ProfileResolver
	Entity     EntityResolver
	CodeSystem CodeSystemResolver
}

// NewServices creates a Services with null implementations.
func NewServices() *Services {
	return &Services{
		Profile:    NullProfileResolver{},
		Entity:     NullEntityResolver{},
		CodeSystem: NullCodeSystemResolver{},
	}
}

// WithProfile sets the profile resolver.
func (s *Services) WithProfile(p ProfileResolver) *Services {
	s.Profile = p
	return s
}

// WithEntity sets the entity resolver.
func (s *Services) WithEntity(e EntityResolver) *Services {
	s.Entity = e
	return s
}

// WithCodeSystem sets the code system resolver.
func (s *Services) WithCodeSystem(c CodeSystemResolver) *Services {
	s.CodeSystem = c
	return s
}
