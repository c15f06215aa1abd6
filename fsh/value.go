package fsh

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Value is a parsed rule value. The concrete types below are the complete
// set a parser can produce; the exporter decides how each renders against
// the schema type of the addressed element.
type Value interface {
	fmt.Stringer
	fshValue()
}

// String is a string-kinded literal. It also carries date, dateTime, time,
// uri, and other string-rendered primitives; the element type drives the
// final interpretation.
type String struct {
	Value string
}

func (String) fshValue()        {}
func (v String) String() string { return fmt.Sprintf("%q", v.Value) }

// Boolean is a boolean literal.
type Boolean struct {
	Value bool
}

func (Boolean) fshValue()        {}
func (v Boolean) String() string { return fmt.Sprintf("%t", v.Value) }

// Integer is an integer literal.
type Integer struct {
	Value int64
}

func (Integer) fshValue()        {}
func (v Integer) String() string { return fmt.Sprintf("%d", v.Value) }

// Decimal is a decimal literal. Raw preserves the written form so exported
// JSON keeps the author's precision ("1.20" stays "1.20").
type Decimal struct {
	Value decimal.Decimal
	Raw   string
}

// NewDecimal parses a decimal literal, keeping its lexical form.
func NewDecimal(raw string) (Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return Decimal{}, fmt.Errorf("invalid decimal literal %q: %w", raw, err)
	}
	return Decimal{Value: d, Raw: raw}, nil
}

func (Decimal) fshValue() {}
func (v Decimal) String() string {
	if v.Raw != "" {
		return v.Raw
	}
	return v.Value.String()
}

// Code is a coded value: system#code "display". System and Version may be
// empty for bare codes. Depending on the target element type it renders as
// a code string, a Coding, or a CodeableConcept.
type Code struct {
	System  string
	Version string
	Code    string
	Display string
}

func (Code) fshValue() {}
func (v Code) String() string {
	s := v.System
	if v.Version != "" {
		s += "|" + v.Version
	}
	s += "#" + v.Code
	if v.Display != "" {
		s += fmt.Sprintf(" %q", v.Display)
	}
	return s
}

// Quantity is a measured amount: value plus a coded unit.
type Quantity struct {
	Value  Decimal
	Unit   string // human-readable unit text
	System string
	Code   string
}

func (Quantity) fshValue() {}
func (v Quantity) String() string {
	if v.Code != "" {
		return fmt.Sprintf("%s '%s'", v.Value.String(), v.Code)
	}
	return v.Value.String()
}

// Reference points at another entity, either by name (resolved during
// export) or as a literal reference string.
type Reference struct {
	Target  string
	Display string
}

func (Reference) fshValue()        {}
func (v Reference) String() string { return fmt.Sprintf("Reference(%s)", v.Target) }

// Canonical points at a definitional entity by name or URL; it resolves to
// the entity's canonical URL, with an optional |version suffix.
type Canonical struct {
	Entity  string
	Version string
}

func (Canonical) fshValue() {}
func (v Canonical) String() string {
	if v.Version != "" {
		return fmt.Sprintf("Canonical(%s|%s)", v.Entity, v.Version)
	}
	return fmt.Sprintf("Canonical(%s)", v.Entity)
}

// InstanceRef assigns a whole instance by name. The exporter materializes
// the named instance and grafts the finished document at the rule's path.
type InstanceRef struct {
	Name string
}

func (InstanceRef) fshValue()        {}
func (v InstanceRef) String() string { return v.Name }
