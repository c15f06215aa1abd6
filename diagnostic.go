package shorthand

import (
	"fmt"
	"strings"

	"github.com/gofhir/shorthand/fsh"
)

// Severity grades a diagnostic.
type Severity string

const (
	// SeverityFatal marks a failure that abandoned the whole document.
	SeverityFatal Severity = "fatal"
	// SeverityError marks a rule or document defect; the offending rule is
	// rejected but export continues.
	SeverityError Severity = "error"
	// SeverityWarning marks a recoverable problem; the engine applied a
	// correction or continued unchanged.
	SeverityWarning Severity = "warning"
	// SeverityInformation marks neutral feedback.
	SeverityInformation Severity = "information"
)

// Code classifies a diagnostic.
type Code string

const (
	// CodeMalformedPath: a rule path failed to parse.
	CodeMalformedPath Code = "malformed-path"
	// CodePathNotFound: a parsed path names elements or slices the schema
	// does not define.
	CodePathNotFound Code = "path-not-found"
	// CodeValueConflict: a rule contradicts an earlier value or a fixed
	// schema value; the earlier value stands.
	CodeValueConflict Code = "value-conflict"
	// CodeTypeMismatch: a value's kind cannot render as the element type,
	// or a reference target's type is outside the allowed set.
	CodeTypeMismatch Code = "type-mismatch"
	// CodeMissingDefinition: a named entity (profile, rule set, inline
	// instance, canonical target) is not defined anywhere available.
	CodeMissingDefinition Code = "missing-definition"
	// CodeInvalidID: a document id needed sanitizing; the corrected id was
	// used.
	CodeInvalidID Code = "invalid-id"
	// CodeDuplicateID: two documents of one batch share (type, id); logged
	// against the later one.
	CodeDuplicateID Code = "duplicate-id"
	// CodeCardinality: the finished document breaks the schema's min/max
	// occurrence bounds.
	CodeCardinality Code = "cardinality"
	// CodeInvalid: a code is not defined by the locally known code system
	// it claims.
	CodeInvalid Code = "code-invalid"
	// CodeRuleDropped: a rule survived linearization that the exporter
	// cannot apply in this position and had to discard.
	CodeRuleDropped Code = "rule-dropped"
	// CodeExportFailed: the exporter hit an internal failure and
	// abandoned the document. Other documents of the batch are
	// unaffected.
	CodeExportFailed Code = "export-failed"
)

// Diagnostic is one structured finding produced during export.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     Code     `json:"code"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Instance names the document the finding belongs to.
	Instance string `json:"instance,omitempty"`

	// Rule is the offending rule's text, when a rule is involved.
	Rule string `json:"rule,omitempty"`

	// Path is the element path the finding points at.
	Path string `json:"path,omitempty"`

	// Location is where the offending construct was written.
	Location fsh.SourceLocation `json:"location"`

	// AppliedAt is the outermost insertion site when the construct came
	// from a rule set, so authors can find the rule that pulled it in.
	AppliedAt *fsh.SourceLocation `json:"appliedAt,omitempty"`
}

// IsError reports whether the diagnostic is error or fatal grade.
func (d Diagnostic) IsError() bool {
	return d.Severity == SeverityError || d.Severity == SeverityFatal
}

// IsWarning reports whether the diagnostic is warning grade.
func (d Diagnostic) IsWarning() bool {
	return d.Severity == SeverityWarning
}

// String renders the diagnostic on one line.
func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(string(d.Severity))
	b.WriteString(": ")
	b.WriteString(d.Message)
	if d.Rule != "" {
		b.WriteString(" [")
		b.WriteString(d.Rule)
		b.WriteString("]")
	}
	if !d.Location.IsZero() {
		b.WriteString(" (")
		b.WriteString(d.Location.String())
		if d.AppliedAt != nil && !d.AppliedAt.IsZero() {
			b.WriteString(", inserted at ")
			b.WriteString(d.AppliedAt.String())
		}
		b.WriteString(")")
	}
	return b.String()
}

// DiagnosticBuilder builds diagnostics fluently.
type DiagnosticBuilder struct {
	d Diagnostic
}

// NewDiagnostic starts a builder with severity and code.
func NewDiagnostic(severity Severity, code Code) *DiagnosticBuilder {
	return &DiagnosticBuilder{d: Diagnostic{Severity: severity, Code: code}}
}

// Error starts an error-grade builder.
func Error(code Code) *DiagnosticBuilder {
	return NewDiagnostic(SeverityError, code)
}

// Warning starts a warning-grade builder.
func Warning(code Code) *DiagnosticBuilder {
	return NewDiagnostic(SeverityWarning, code)
}

// Fatal starts a fatal-grade builder.
func Fatal(code Code) *DiagnosticBuilder {
	return NewDiagnostic(SeverityFatal, code)
}

// Message sets the description.
func (b *DiagnosticBuilder) Message(msg string) *DiagnosticBuilder {
	b.d.Message = msg
	return b
}

// Messagef formats and sets the description.
func (b *DiagnosticBuilder) Messagef(format string, args ...any) *DiagnosticBuilder {
	b.d.Message = fmt.Sprintf(format, args...)
	return b
}

// Instance sets the owning document name.
func (b *DiagnosticBuilder) Instance(name string) *DiagnosticBuilder {
	b.d.Instance = name
	return b
}

// Rule attributes the diagnostic to a rule: its text, defining location,
// and (for inserted rules) the outermost insertion site.
func (b *DiagnosticBuilder) Rule(r fsh.Rule) *DiagnosticBuilder {
	if r == nil {
		return b
	}
	b.d.Rule = r.String()
	b.d.Location = r.Location()
	if at := r.AppliedAt(); !at.IsZero() {
		b.d.AppliedAt = &at
	}
	return b
}

// At sets the element path.
func (b *DiagnosticBuilder) At(path string) *DiagnosticBuilder {
	b.d.Path = path
	return b
}

// Location sets the defining location directly.
func (b *DiagnosticBuilder) Location(loc fsh.SourceLocation) *DiagnosticBuilder {
	b.d.Location = loc
	return b
}

// AppliedAt sets the outermost insertion site directly.
func (b *DiagnosticBuilder) AppliedAt(loc fsh.SourceLocation) *DiagnosticBuilder {
	if !loc.IsZero() {
		b.d.AppliedAt = &loc
	}
	return b
}

// Build returns the constructed diagnostic.
func (b *DiagnosticBuilder) Build() Diagnostic {
	return b.d
}
