package loader

import (
	"encoding/json"
	"strconv"

	"github.com/buger/jsonparser"
	"github.com/gofhir/fhir/r4"
	"github.com/gofhir/shorthand/service"
)

// R4Converter converts R4 FHIR models to internal service models.
type R4Converter struct{}

// NewR4Converter creates a new R4 converter.
func NewR4Converter() *R4Converter {
	return &R4Converter{}
}

// ConvertStructureDefinition converts an r4.StructureDefinition to a
// service.StructureDefinition. Only the snapshot is carried over: the
// exporter materializes against fully resolved element trees. The resource
// id, derivation mode, and per-element content references live outside the
// typed mapping; AnnotateFromJSON fills them from the raw document.
func (c *R4Converter) ConvertStructureDefinition(sd *r4.StructureDefinition) *service.StructureDefinition {
	if sd == nil {
		return nil
	}

	result := &service.StructureDefinition{
		URL:            derefString(sd.Url),
		Name:           derefString(sd.Name),
		Type:           derefString(sd.Type),
		Kind:           c.convertKind(sd.Kind),
		Abstract:       derefBool(sd.Abstract),
		BaseDefinition: derefString(sd.BaseDefinition),
		FHIRVersion:    c.convertFHIRVersion(sd.FhirVersion),
	}

	if sd.Snapshot != nil {
		result.Snapshot = c.convertElementDefinitions(sd.Snapshot.Element)
	}

	return result
}

// AnnotateFromJSON fills the fields the typed mapping leaves empty: the
// resource id, the derivation mode, and contentReference targets. Snapshot
// elements are matched by position, which the JSON array order guarantees.
func AnnotateFromJSON(sd *service.StructureDefinition, data []byte) {
	if sd == nil || len(data) == 0 {
		return
	}

	if id, err := jsonparser.GetString(data, "id"); err == nil {
		sd.ID = id
	}
	if derivation, err := jsonparser.GetString(data, "derivation"); err == nil {
		sd.Derivation = derivation
	}

	i := 0
	jsonparser.ArrayEach(data, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if i < len(sd.Snapshot) {
			if ref, err := jsonparser.GetString(value, "contentReference"); err == nil {
				sd.Snapshot[i].ContentReference = ref
			}
		}
		i++
	}, "snapshot", "element")
}

// convertElementDefinitions converts a slice of r4.ElementDefinition to service.ElementDefinition.
func (c *R4Converter) convertElementDefinitions(elements []r4.ElementDefinition) []service.ElementDefinition {
	if len(elements) == 0 {
		return nil
	}

	result := make([]service.ElementDefinition, 0, len(elements))
	for i := range elements {
		result = append(result, c.convertElementDefinition(&elements[i]))
	}
	return result
}

// convertElementDefinition converts a single r4.ElementDefinition to service.ElementDefinition.
func (c *R4Converter) convertElementDefinition(ed *r4.ElementDefinition) service.ElementDefinition {
	return service.ElementDefinition{
		ID:        derefString(ed.Id),
		Path:      derefString(ed.Path),
		SliceName: derefString(ed.SliceName),
		Min:       c.convertMin(ed.Min),
		Max:       derefString(ed.Max),
		Types:     c.convertTypes(ed.Type),
		Slicing:   c.convertSlicing(ed.Slicing),
		Fixed:     c.extractFixedValue(ed),
		Pattern:   c.extractPatternValue(ed),
	}
}

// convertTypes converts r4.ElementDefinitionType slice to service.TypeRef slice.
func (c *R4Converter) convertTypes(types []r4.ElementDefinitionType) []service.TypeRef {
	if len(types) == 0 {
		return nil
	}

	result := make([]service.TypeRef, 0, len(types))
	for i := range types {
		t := &types[i]
		result = append(result, service.TypeRef{
			Code:          derefString(t.Code),
			Profile:       t.Profile,
			TargetProfile: t.TargetProfile,
		})
	}
	return result
}

// convertSlicing converts r4.ElementDefinitionSlicing to service.Slicing.
func (c *R4Converter) convertSlicing(slicing *r4.ElementDefinitionSlicing) *service.Slicing {
	if slicing == nil {
		return nil
	}

	return &service.Slicing{
		Discriminator: c.convertDiscriminators(slicing.Discriminator),
		Description:   derefString(slicing.Description),
		Ordered:       derefBool(slicing.Ordered),
		Rules:         c.convertSlicingRules(slicing.Rules),
	}
}

// convertDiscriminators converts r4.ElementDefinitionSlicingDiscriminator slice.
func (c *R4Converter) convertDiscriminators(discriminators []r4.ElementDefinitionSlicingDiscriminator) []service.Discriminator {
	if len(discriminators) == 0 {
		return nil
	}

	result := make([]service.Discriminator, 0, len(discriminators))
	for i := range discriminators {
		d := &discriminators[i]
		result = append(result, service.Discriminator{
			Type: c.convertDiscriminatorType(d.Type),
			Path: derefString(d.Path),
		})
	}
	return result
}

// Type conversion helpers

func (c *R4Converter) convertKind(kind *r4.StructureDefinitionKind) string {
	if kind == nil {
		return ""
	}
	return string(*kind)
}

func (c *R4Converter) convertFHIRVersion(version *r4.FHIRVersion) string {
	if version == nil {
		return ""
	}
	return string(*version)
}

func (c *R4Converter) convertSlicingRules(rules *r4.SlicingRules) string {
	if rules == nil {
		return ""
	}
	return string(*rules)
}

func (c *R4Converter) convertDiscriminatorType(dtype *r4.DiscriminatorType) string {
	if dtype == nil {
		return ""
	}
	return string(*dtype)
}

func (c *R4Converter) convertMin(minVal *uint32) int {
	if minVal == nil {
		return 0
	}
	return int(*minVal)
}

// primitiveValues holds pointers to primitive type values.
type primitiveValues struct {
	String    *string
	Boolean   *bool
	Integer   *int
	Decimal   *float64
	Code      *string
	URI       *string
	URL       *string
	Canonical *string
}

// complexValues holds pointers to complex type values.
type complexValues struct {
	Coding          *r4.Coding
	CodeableConcept *r4.CodeableConcept
	Identifier      *r4.Identifier
}

// extractPolymorphicValue extracts a value from primitive and complex type
// pointers. Numbers become json.Number so fixed values compare against rule
// values without float formatting artifacts.
func (c *R4Converter) extractPolymorphicValue(prim primitiveValues, comp complexValues) any {
	// Check primitive types first
	if prim.String != nil {
		return *prim.String
	}
	if prim.Boolean != nil {
		return *prim.Boolean
	}
	if prim.Integer != nil {
		return json.Number(strconv.Itoa(*prim.Integer))
	}
	if prim.Decimal != nil {
		return json.Number(strconv.FormatFloat(*prim.Decimal, 'f', -1, 64))
	}
	if prim.Code != nil {
		return *prim.Code
	}
	if prim.URI != nil {
		return *prim.URI
	}
	if prim.URL != nil {
		return *prim.URL
	}
	if prim.Canonical != nil {
		return *prim.Canonical
	}

	// Check complex types
	if comp.Coding != nil {
		return c.codingToMap(comp.Coding)
	}
	if comp.CodeableConcept != nil {
		return c.codeableConceptToMap(comp.CodeableConcept)
	}
	if comp.Identifier != nil {
		return c.identifierToMap(comp.Identifier)
	}

	return nil
}

// extractFixedValue extracts the fixed[x] value from ElementDefinition.
// Returns nil if no fixed value is set.
func (c *R4Converter) extractFixedValue(ed *r4.ElementDefinition) any {
	return c.extractPolymorphicValue(
		primitiveValues{
			String:    ed.FixedString,
			Boolean:   ed.FixedBoolean,
			Integer:   ed.FixedInteger,
			Decimal:   ed.FixedDecimal,
			Code:      ed.FixedCode,
			URI:       ed.FixedUri,
			URL:       ed.FixedUrl,
			Canonical: ed.FixedCanonical,
		},
		complexValues{
			Coding:          ed.FixedCoding,
			CodeableConcept: ed.FixedCodeableConcept,
			Identifier:      ed.FixedIdentifier,
		},
	)
}

// extractPatternValue extracts the pattern[x] value from ElementDefinition.
// Returns nil if no pattern value is set.
func (c *R4Converter) extractPatternValue(ed *r4.ElementDefinition) any {
	return c.extractPolymorphicValue(
		primitiveValues{
			String:    ed.PatternString,
			Boolean:   ed.PatternBoolean,
			Integer:   ed.PatternInteger,
			Decimal:   ed.PatternDecimal,
			Code:      ed.PatternCode,
			URI:       ed.PatternUri,
			URL:       ed.PatternUrl,
			Canonical: ed.PatternCanonical,
		},
		complexValues{
			Coding:          ed.PatternCoding,
			CodeableConcept: ed.PatternCodeableConcept,
			Identifier:      ed.PatternIdentifier,
		},
	)
}

// Helper functions to convert FHIR types to maps

func (c *R4Converter) codingToMap(coding *r4.Coding) map[string]any {
	if coding == nil {
		return nil
	}
	result := make(map[string]any)
	if coding.System != nil {
		result["system"] = *coding.System
	}
	if coding.Version != nil {
		result["version"] = *coding.Version
	}
	if coding.Code != nil {
		result["code"] = *coding.Code
	}
	if coding.Display != nil {
		result["display"] = *coding.Display
	}
	return result
}

func (c *R4Converter) codeableConceptToMap(cc *r4.CodeableConcept) map[string]any {
	if cc == nil {
		return nil
	}
	result := make(map[string]any)
	if len(cc.Coding) > 0 {
		codings := make([]any, 0, len(cc.Coding))
		for i := range cc.Coding {
			codings = append(codings, c.codingToMap(&cc.Coding[i]))
		}
		result["coding"] = codings
	}
	if cc.Text != nil {
		result["text"] = *cc.Text
	}
	return result
}

func (c *R4Converter) identifierToMap(id *r4.Identifier) map[string]any {
	if id == nil {
		return nil
	}
	result := make(map[string]any)
	if id.System != nil {
		result["system"] = *id.System
	}
	if id.Value != nil {
		result["value"] = *id.Value
	}
	if id.Use != nil {
		result["use"] = string(*id.Use)
	}
	return result
}

// Generic helpers

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
