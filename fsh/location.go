// Package fsh defines the parsed FHIR Shorthand document model the export
// engine consumes: instances, rule sets, rules, values, and aliases,
// organized into a catalog. Surface-syntax parsing happens upstream; this
// package is the contract between a parser and the exporter.
package fsh

import "fmt"

// SourceLocation identifies where a construct was written.
type SourceLocation struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
}

// IsZero reports whether the location carries no information.
func (l SourceLocation) IsZero() bool {
	return l.File == "" && l.Line == 0 && l.Col == 0
}

// String renders the location as file:line:col, omitting empty parts.
func (l SourceLocation) String() string {
	switch {
	case l.IsZero():
		return "<unknown>"
	case l.File == "":
		return fmt.Sprintf("%d:%d", l.Line, l.Col)
	case l.Line == 0:
		return l.File
	default:
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
	}
}
