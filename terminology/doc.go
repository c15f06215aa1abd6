// Package terminology stores locally defined CodeSystems and ValueSets.
//
// The exporter uses the store for two things: resolving a code system name
// or id in a coded value to its canonical URL, and checking that codes from
// locally defined systems actually exist. Systems the store does not know
// are accepted without comment, so external terminologies never produce
// diagnostics.
//
// Example usage:
//
//	store := terminology.NewMemoryStore()
//	store.AddCodeSystem("http://example.org/cs", "ExampleCS", "example-cs", map[string]string{
//		"a1": "Alpha One",
//	})
//
//	url, ok := store.ResolveSystem(ctx, "ExampleCS") // "http://example.org/cs", true
//	store.SystemHasCode(ctx, url, "a1")              // true
//	store.SystemHasCode(ctx, "http://other.org", "x") // true: unknown system
package terminology
