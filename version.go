package shorthand

// FHIRVersion represents a FHIR specification version.
type FHIRVersion string

// Known FHIR versions.
const (
	// R4 is FHIR Release 4 (4.0.1), the version this engine exports.
	R4 FHIRVersion = "R4"
	// R4B is FHIR Release 4B (4.3.0)
	R4B FHIRVersion = "R4B"
	// R5 is FHIR Release 5 (5.0.0)
	R5 FHIRVersion = "R5"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a known FHIR version.
func (v FHIRVersion) IsValid() bool {
	switch v {
	case R4, R4B, R5:
		return true
	default:
		return false
	}
}

// Canonical returns the version string used inside conformance resources.
func (v FHIRVersion) Canonical() string {
	switch v {
	case R4:
		return "4.0.1"
	case R4B:
		return "4.3.0"
	case R5:
		return "5.0.0"
	default:
		return ""
	}
}
