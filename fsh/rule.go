package fsh

import "fmt"

// Trace records one rule-set hop an inserted rule passed through: the set's
// name and the location of the insert rule that pulled it in.
type Trace struct {
	RuleSet string         `json:"ruleSet"`
	Loc     SourceLocation `json:"loc"`
}

// RuleBase carries the source attribution every rule shares. Provenance is
// empty for rules written directly on an instance; for rules materialized
// from rule sets it lists the hops outermost first, so Provenance[0].Loc is
// the insert site in the instance itself.
type RuleBase struct {
	Loc        SourceLocation
	Provenance []Trace
}

// Location returns where the rule was defined.
func (b RuleBase) Location() SourceLocation { return b.Loc }

// AppliedAt returns the outermost insertion site for rules that came from a
// rule set, or the zero location for directly written rules.
func (b RuleBase) AppliedAt() SourceLocation {
	if len(b.Provenance) == 0 {
		return SourceLocation{}
	}
	return b.Provenance[0].Loc
}

// Rule is one parsed rule of an instance or rule set.
type Rule interface {
	fmt.Stringer
	Location() SourceLocation
	AppliedAt() SourceLocation
	fshRule()
}

// AssignmentRule sets a value at a path: "* path = value". Exactly marks
// the "(exactly)" modifier, which forbids later refinement of the value.
type AssignmentRule struct {
	RuleBase
	Path    string
	Value   Value
	Exactly bool
}

func (*AssignmentRule) fshRule() {}

func (r *AssignmentRule) String() string {
	s := fmt.Sprintf("* %s = %s", r.Path, r.Value)
	if r.Exactly {
		s += " (exactly)"
	}
	return s
}

// InsertRule splices a named rule set's rules in place: "* insert Name".
// A non-empty Path applies the set inside that path context, prefixing
// every expanded rule path.
type InsertRule struct {
	RuleBase
	Path    string
	RuleSet string
}

func (*InsertRule) fshRule() {}

func (r *InsertRule) String() string {
	if r.Path != "" {
		return fmt.Sprintf("* %s insert %s", r.Path, r.RuleSet)
	}
	return fmt.Sprintf("* insert %s", r.RuleSet)
}

// CaretRule sets entity metadata rather than document content:
// "* ^version = ...". A non-empty Path scopes the caret to an element,
// which only definitional entities support; instances accept entity-level
// carets (empty Path) that map onto well-known document fields.
type CaretRule struct {
	RuleBase
	Path  string
	Caret string
	Value Value
}

func (*CaretRule) fshRule() {}

func (r *CaretRule) String() string {
	if r.Path != "" {
		return fmt.Sprintf("* %s ^%s = %s", r.Path, r.Caret, r.Value)
	}
	return fmt.Sprintf("* ^%s = %s", r.Caret, r.Value)
}

// PathRule is a bare path with no value: "* path". It pins element order
// and array growth without assigning anything.
type PathRule struct {
	RuleBase
	Path string
}

func (*PathRule) fshRule() {}

func (r *PathRule) String() string { return "* " + r.Path }
