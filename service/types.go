package service

import "strings"

// SystemTypeMapping maps FHIRPath system types to FHIR primitive types.
// StructureDefinitions use these URLs as the type of primitive value
// elements like id, string, and instant.
var SystemTypeMapping = map[string]string{
	"http://hl7.org/fhirpath/System.String":   "string",
	"http://hl7.org/fhirpath/System.Boolean":  "boolean",
	"http://hl7.org/fhirpath/System.Integer":  "integer",
	"http://hl7.org/fhirpath/System.Decimal":  "decimal",
	"http://hl7.org/fhirpath/System.DateTime": "dateTime",
	"http://hl7.org/fhirpath/System.Time":     "time",
	"http://hl7.org/fhirpath/System.Date":     "date",
}

// FHIRPrimitiveTypes contains all FHIR primitive type codes. Primitive
// elements serialize as bare JSON values and may carry an underscore
// companion for extensions.
var FHIRPrimitiveTypes = map[string]bool{
	"boolean":      true,
	"integer":      true,
	"integer64":    true,
	"string":       true,
	"decimal":      true,
	"uri":          true,
	"url":          true,
	"canonical":    true,
	"base64Binary": true,
	"instant":      true,
	"date":         true,
	"dateTime":     true,
	"time":         true,
	"code":         true,
	"oid":          true,
	"id":           true,
	"markdown":     true,
	"unsignedInt":  true,
	"positiveInt":  true,
	"uuid":         true,
	"xhtml":        true,
}

// FHIRComplexTypes contains FHIR complex data types (not resources).
// Descending into one of these switches path resolution to the type's
// own StructureDefinition.
var FHIRComplexTypes = map[string]bool{
	"Address":             true,
	"Age":                 true,
	"Annotation":          true,
	"Attachment":          true,
	"BackboneElement":     true,
	"CodeableConcept":     true,
	"CodeableReference":   true,
	"Coding":              true,
	"ContactDetail":       true,
	"ContactPoint":        true,
	"Contributor":         true,
	"Count":               true,
	"DataRequirement":     true,
	"Distance":            true,
	"Dosage":              true,
	"Duration":            true,
	"Element":             true,
	"ElementDefinition":   true,
	"Expression":          true,
	"Extension":           true,
	"HumanName":           true,
	"Identifier":          true,
	"MarketingStatus":     true,
	"Meta":                true,
	"Money":               true,
	"MoneyQuantity":       true,
	"Narrative":           true,
	"ParameterDefinition": true,
	"Period":              true,
	"Population":          true,
	"ProdCharacteristic":  true,
	"ProductShelfLife":    true,
	"Quantity":            true,
	"Range":               true,
	"Ratio":               true,
	"RatioRange":          true,
	"Reference":           true,
	"RelatedArtifact":     true,
	"SampledData":         true,
	"Signature":           true,
	"SimpleQuantity":      true,
	"SubstanceAmount":     true,
	"Timing":              true,
	"TriggerDefinition":   true,
	"UsageContext":        true,
}

// ChoiceTypeSuffixes contains all valid suffixes for choice elements
// (value[x]). When a rule addresses valueQuantity or valueString, the
// suffix identifies which type of value[x] is meant.
var ChoiceTypeSuffixes = []string{
	// Primitives
	"String",
	"Boolean",
	"Integer",
	"Integer64",
	"Decimal",
	"DateTime",
	"Date",
	"Time",
	"Instant",
	"Uri",
	"Url",
	"Canonical",
	"Code",
	"Id",
	"Markdown",
	"Base64Binary",
	"Oid",
	"Uuid",
	"PositiveInt",
	"UnsignedInt",

	// Complex types
	"Address",
	"Age",
	"Annotation",
	"Attachment",
	"CodeableConcept",
	"CodeableReference",
	"Coding",
	"ContactDetail",
	"ContactPoint",
	"Contributor",
	"Count",
	"DataRequirement",
	"Distance",
	"Dosage",
	"Duration",
	"Expression",
	"HumanName",
	"Identifier",
	"Meta",
	"Money",
	"MoneyQuantity",
	"Narrative",
	"ParameterDefinition",
	"Period",
	"Quantity",
	"Range",
	"Ratio",
	"RatioRange",
	"Reference",
	"RelatedArtifact",
	"SampledData",
	"Signature",
	"SimpleQuantity",
	"Timing",
	"TriggerDefinition",
	"UsageContext",
}

// InlineElementTypes contains types whose children are defined inline in
// the parent's StructureDefinition. Path resolution must not switch type
// context for these.
var InlineElementTypes = map[string]bool{
	"BackboneElement": true,
	"Element":         true,
}

// IsPrimitiveType returns true if the type code is a FHIR primitive type.
func IsPrimitiveType(typeCode string) bool {
	return FHIRPrimitiveTypes[typeCode]
}

// IsComplexType returns true if the type code is a FHIR complex type.
func IsComplexType(typeCode string) bool {
	return FHIRComplexTypes[typeCode]
}

// IsInlineType returns true if the type's children are defined inline.
func IsInlineType(typeCode string) bool {
	return InlineElementTypes[typeCode]
}

// NormalizeSystemType converts a FHIRPath system type URL to a FHIR
// primitive type. If the type is not a system type, it returns the
// original type.
func NormalizeSystemType(typeCode string) string {
	if normalized, ok := SystemTypeMapping[typeCode]; ok {
		return normalized
	}
	return typeCode
}

// ChoiceName builds the concrete element name for a choice element and a
// type code: ("value[x]", "Quantity") -> "valueQuantity".
func ChoiceName(choicePath, typeCode string) string {
	return strings.TrimSuffix(choicePath, "[x]") + UpperFirst(typeCode)
}

// UpperFirst capitalizes the first letter of a string.
func UpperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// LowerFirst lowercases the first letter of a string.
func LowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
