package fsh

// Usage declares how an instance is meant to be used.
type Usage string

const (
	// UsageExample instances are standalone example documents.
	UsageExample Usage = "example"
	// UsageDefinition instances are conformance artifacts; they receive
	// definitional metadata (url, version, status) from caret rules.
	UsageDefinition Usage = "definition"
	// UsageInline instances never export on their own; they exist to be
	// assigned into other instances.
	UsageInline Usage = "inline"
)

// Valid reports whether u is one of the defined usages.
func (u Usage) Valid() bool {
	switch u {
	case UsageExample, UsageDefinition, UsageInline:
		return true
	}
	return false
}

// Instance is one parsed instance definition.
type Instance struct {
	Name        string
	InstanceOf  string // resource type, profile name, id, or canonical URL
	Usage       Usage
	Title       string
	Description string
	Rules       []Rule
	Loc         SourceLocation
}

// RuleSet is a named, reusable group of rules referenced by insert rules.
type RuleSet struct {
	Name  string
	Rules []Rule
	Loc   SourceLocation
}
