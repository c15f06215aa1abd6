// Package service defines small, composable interfaces for export services.
// Following Go's philosophy of small interfaces, each interface has 1-2 methods.
package service

import (
	"context"
	"strconv"
	"strings"
)

// StructureDefinition represents a FHIR StructureDefinition.
// This is a simplified internal representation.
type StructureDefinition struct {
	URL            string
	ID             string
	Name           string
	Type           string
	Kind           string
	Abstract       bool
	BaseDefinition string
	Derivation     string // "specialization" (base types) or "constraint" (profiles)
	FHIRVersion    string
	Snapshot       []ElementDefinition
}

// IsProfile reports whether this definition constrains another type rather
// than defining one. Instances of a profile carry its URL in meta.profile.
func (sd *StructureDefinition) IsProfile() bool {
	return sd.Derivation == "constraint"
}

// IsResource reports whether this definition describes a resource type.
func (sd *StructureDefinition) IsResource() bool {
	return sd.Kind == "resource"
}

// ElementDefinition represents a FHIR ElementDefinition.
//
// Fixed and Pattern hold the decoded fixed[x]/pattern[x] value: a string,
// bool, or json.Number for primitives, or a map[string]any for complex
// types (with numbers as json.Number throughout).
type ElementDefinition struct {
	ID               string
	Path             string
	SliceName        string
	Min              int
	Max              string
	Types            []TypeRef
	Fixed            any
	Pattern          any
	Slicing          *Slicing
	ContentReference string // e.g. "#Questionnaire.item"
}

// IsChoice reports whether the element is a choice element (value[x]).
func (e *ElementDefinition) IsChoice() bool {
	return strings.HasSuffix(e.Path, "[x]")
}

// IsArray reports whether the element can repeat.
func (e *ElementDefinition) IsArray() bool {
	return e.Max == "*" || e.MaxCount() > 1
}

// MaxCount returns the maximum cardinality, or -1 for unbounded.
func (e *ElementDefinition) MaxCount() int {
	if e.Max == "*" {
		return -1
	}
	n, err := strconv.Atoi(e.Max)
	if err != nil {
		return 1
	}
	return n
}

// TypeCode returns the code of the first type, or "" if untyped.
func (e *ElementDefinition) TypeCode() string {
	if len(e.Types) == 0 {
		return ""
	}
	return e.Types[0].Code
}

// TypeRef represents a type reference in an ElementDefinition.
type TypeRef struct {
	Code          string
	Profile       []string
	TargetProfile []string
}

// Slicing represents element slicing rules.
type Slicing struct {
	Discriminator []Discriminator
	Description   string
	Ordered       bool
	Rules         string
}

// Discriminator defines how slices are differentiated.
type Discriminator struct {
	Type string
	Path string
}

// --- Small Interfaces (Go idiom: 1-2 methods per interface) ---

// StructureDefinitionFetcher fetches StructureDefinitions by name, id, or URL.
type StructureDefinitionFetcher interface {
	FetchStructureDefinition(ctx context.Context, nameOrURL string) (*StructureDefinition, error)
}

// StructureDefinitionByTypeFetcher fetches StructureDefinitions by FHIR type.
type StructureDefinitionByTypeFetcher interface {
	FetchStructureDefinitionByType(ctx context.Context, fhirType string) (*StructureDefinition, error)
}

// ProfileResolver resolves profile names or URLs to StructureDefinitions.
// This is a common combined interface.
type ProfileResolver interface {
	StructureDefinitionFetcher
	StructureDefinitionByTypeFetcher
}

// ProfileCache caches resolved profiles.
type ProfileCache interface {
	Get(url string) (*StructureDefinition, bool)
	Set(url string, profile *StructureDefinition)
}

// --- Entity Resolution ---

// EntityKind classifies what a name refers to.
type EntityKind string

// Entity kinds.
const (
	EntityInstance   EntityKind = "instance"
	EntityProfile    EntityKind = "profile"
	EntityCodeSystem EntityKind = "code-system"
	EntityValueSet   EntityKind = "value-set"
)

// EntityInfo describes a named entity visible to the exporter: another
// instance in the batch, or a definition with a canonical URL.
type EntityInfo struct {
	Name         string
	Kind         EntityKind
	ResourceType string // instances: the resolved resource type
	ID           string // instances: the document id
	URL          string // definitions: the canonical URL
	Inline       bool   // instances authored for inline use only
}

// EntityResolver resolves names used in Reference() and Canonical() values.
type EntityResolver interface {
	ResolveEntity(ctx context.Context, name string) (*EntityInfo, error)
}

// --- Code Systems ---

// CodeSystemResolver resolves locally defined code systems. Codes from
// systems it does not know are accepted without comment.
type CodeSystemResolver interface {
	// ResolveSystem maps a code system name or id to its canonical URL.
	ResolveSystem(ctx context.Context, name string) (string, bool)

	// SystemHasCode reports whether a locally defined system contains the
	// code. Returns true for systems that are not locally defined.
	SystemHasCode(ctx context.Context, systemURL, code string) bool
}
