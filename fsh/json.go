package fsh

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Serialized catalog form, used by the CLI and by tools that hand a parsed
// catalog across a process boundary. Provenance is not part of the wire
// form; it only exists on rules materialized during export.

type catalogJSON struct {
	Aliases   map[string]string `json:"aliases,omitempty"`
	RuleSets  []ruleSetJSON     `json:"ruleSets,omitempty"`
	Instances []instanceJSON    `json:"instances"`
}

type instanceJSON struct {
	Name        string          `json:"name"`
	InstanceOf  string          `json:"instanceOf"`
	Usage       Usage           `json:"usage,omitempty"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Loc         *SourceLocation `json:"loc,omitempty"`
	Rules       []ruleJSON      `json:"rules,omitempty"`
}

type ruleSetJSON struct {
	Name  string          `json:"name"`
	Loc   *SourceLocation `json:"loc,omitempty"`
	Rules []ruleJSON      `json:"rules,omitempty"`
}

type ruleJSON struct {
	Rule    string          `json:"rule"`
	Path    string          `json:"path,omitempty"`
	Caret   string          `json:"caret,omitempty"`
	RuleSet string          `json:"ruleSet,omitempty"`
	Value   *valueJSON      `json:"value,omitempty"`
	Exactly bool            `json:"exactly,omitempty"`
	Loc     *SourceLocation `json:"loc,omitempty"`
}

type valueJSON struct {
	Kind    string  `json:"kind"`
	String  *string `json:"string,omitempty"`
	Boolean *bool   `json:"boolean,omitempty"`
	Integer *int64  `json:"integer,omitempty"`
	Decimal string  `json:"decimal,omitempty"`
	System  string  `json:"system,omitempty"`
	Version string  `json:"version,omitempty"`
	Code    string  `json:"code,omitempty"`
	Display string  `json:"display,omitempty"`
	Value   string  `json:"value,omitempty"`
	Unit    string  `json:"unit,omitempty"`
	Target  string  `json:"target,omitempty"`
	Entity  string  `json:"entity,omitempty"`
	Name    string  `json:"name,omitempty"`
}

// MarshalJSON serializes the catalog.
func (c *Catalog) MarshalJSON() ([]byte, error) {
	out := catalogJSON{Instances: []instanceJSON{}}
	if len(c.aliases) > 0 {
		out.Aliases = c.aliases
	}
	for _, rs := range c.sortedRuleSets() {
		rj := ruleSetJSON{Name: rs.Name, Loc: locPtr(rs.Loc)}
		for _, r := range rs.Rules {
			enc, err := encodeRule(r)
			if err != nil {
				return nil, err
			}
			rj.Rules = append(rj.Rules, enc)
		}
		out.RuleSets = append(out.RuleSets, rj)
	}
	for _, inst := range c.instances {
		ij := instanceJSON{
			Name:        inst.Name,
			InstanceOf:  inst.InstanceOf,
			Usage:       inst.Usage,
			Title:       inst.Title,
			Description: inst.Description,
			Loc:         locPtr(inst.Loc),
		}
		for _, r := range inst.Rules {
			enc, err := encodeRule(r)
			if err != nil {
				return nil, err
			}
			ij.Rules = append(ij.Rules, enc)
		}
		out.Instances = append(out.Instances, ij)
	}
	return json.Marshal(out)
}

// UnmarshalJSON loads a serialized catalog.
func (c *Catalog) UnmarshalJSON(data []byte) error {
	var in catalogJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = *NewCatalog()
	for name, target := range in.Aliases {
		c.SetAlias(name, target)
	}
	for _, rj := range in.RuleSets {
		rs := &RuleSet{Name: rj.Name, Loc: locVal(rj.Loc)}
		for _, enc := range rj.Rules {
			r, err := decodeRule(enc)
			if err != nil {
				return fmt.Errorf("rule set %q: %w", rj.Name, err)
			}
			rs.Rules = append(rs.Rules, r)
		}
		if err := c.AddRuleSet(rs); err != nil {
			return err
		}
	}
	for _, ij := range in.Instances {
		usage := ij.Usage
		if usage == "" {
			usage = UsageExample
		}
		if !usage.Valid() {
			return fmt.Errorf("instance %q: unknown usage %q", ij.Name, ij.Usage)
		}
		inst := &Instance{
			Name:        ij.Name,
			InstanceOf:  ij.InstanceOf,
			Usage:       usage,
			Title:       ij.Title,
			Description: ij.Description,
			Loc:         locVal(ij.Loc),
		}
		for _, enc := range ij.Rules {
			r, err := decodeRule(enc)
			if err != nil {
				return fmt.Errorf("instance %q: %w", ij.Name, err)
			}
			inst.Rules = append(inst.Rules, r)
		}
		if err := c.AddInstance(inst); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) sortedRuleSets() []*RuleSet {
	names := make([]string, 0, len(c.ruleSets))
	for name := range c.ruleSets {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]*RuleSet, len(names))
	for i, name := range names {
		out[i] = c.ruleSets[name]
	}
	return out
}

func encodeRule(r Rule) (ruleJSON, error) {
	switch r := r.(type) {
	case *AssignmentRule:
		vj, err := encodeValue(r.Value)
		if err != nil {
			return ruleJSON{}, err
		}
		return ruleJSON{Rule: "assignment", Path: r.Path, Value: vj, Exactly: r.Exactly, Loc: locPtr(r.Loc)}, nil
	case *InsertRule:
		return ruleJSON{Rule: "insert", Path: r.Path, RuleSet: r.RuleSet, Loc: locPtr(r.Loc)}, nil
	case *CaretRule:
		vj, err := encodeValue(r.Value)
		if err != nil {
			return ruleJSON{}, err
		}
		return ruleJSON{Rule: "caret", Path: r.Path, Caret: r.Caret, Value: vj, Loc: locPtr(r.Loc)}, nil
	case *PathRule:
		return ruleJSON{Rule: "path", Path: r.Path, Loc: locPtr(r.Loc)}, nil
	default:
		return ruleJSON{}, fmt.Errorf("unknown rule type %T", r)
	}
}

func decodeRule(enc ruleJSON) (Rule, error) {
	base := RuleBase{Loc: locVal(enc.Loc)}
	switch enc.Rule {
	case "assignment":
		v, err := decodeValue(enc.Value)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", enc.Path, err)
		}
		return &AssignmentRule{RuleBase: base, Path: enc.Path, Value: v, Exactly: enc.Exactly}, nil
	case "insert":
		if enc.RuleSet == "" {
			return nil, fmt.Errorf("insert rule missing ruleSet")
		}
		return &InsertRule{RuleBase: base, Path: enc.Path, RuleSet: enc.RuleSet}, nil
	case "caret":
		v, err := decodeValue(enc.Value)
		if err != nil {
			return nil, fmt.Errorf("caret %q: %w", enc.Caret, err)
		}
		return &CaretRule{RuleBase: base, Path: enc.Path, Caret: enc.Caret, Value: v}, nil
	case "path":
		return &PathRule{RuleBase: base, Path: enc.Path}, nil
	default:
		return nil, fmt.Errorf("unknown rule kind %q", enc.Rule)
	}
}

func encodeValue(v Value) (*valueJSON, error) {
	switch v := v.(type) {
	case String:
		return &valueJSON{Kind: "string", String: &v.Value}, nil
	case Boolean:
		return &valueJSON{Kind: "boolean", Boolean: &v.Value}, nil
	case Integer:
		return &valueJSON{Kind: "integer", Integer: &v.Value}, nil
	case Decimal:
		return &valueJSON{Kind: "decimal", Decimal: v.String()}, nil
	case Code:
		return &valueJSON{Kind: "code", System: v.System, Version: v.Version, Code: v.Code, Display: v.Display}, nil
	case Quantity:
		return &valueJSON{Kind: "quantity", Value: v.Value.String(), Unit: v.Unit, System: v.System, Code: v.Code}, nil
	case Reference:
		return &valueJSON{Kind: "reference", Target: v.Target, Display: v.Display}, nil
	case Canonical:
		return &valueJSON{Kind: "canonical", Entity: v.Entity, Version: v.Version}, nil
	case InstanceRef:
		return &valueJSON{Kind: "instance", Name: v.Name}, nil
	case nil:
		return nil, fmt.Errorf("missing value")
	default:
		return nil, fmt.Errorf("unknown value type %T", v)
	}
}

func decodeValue(enc *valueJSON) (Value, error) {
	if enc == nil {
		return nil, fmt.Errorf("missing value")
	}
	switch enc.Kind {
	case "string":
		if enc.String == nil {
			return nil, fmt.Errorf("string value missing payload")
		}
		return String{Value: *enc.String}, nil
	case "boolean":
		if enc.Boolean == nil {
			return nil, fmt.Errorf("boolean value missing payload")
		}
		return Boolean{Value: *enc.Boolean}, nil
	case "integer":
		if enc.Integer == nil {
			return nil, fmt.Errorf("integer value missing payload")
		}
		return Integer{Value: *enc.Integer}, nil
	case "decimal":
		return NewDecimal(enc.Decimal)
	case "code":
		return Code{System: enc.System, Version: enc.Version, Code: enc.Code, Display: enc.Display}, nil
	case "quantity":
		d, err := NewDecimal(enc.Value)
		if err != nil {
			return nil, err
		}
		return Quantity{Value: d, Unit: enc.Unit, System: enc.System, Code: enc.Code}, nil
	case "reference":
		return Reference{Target: enc.Target, Display: enc.Display}, nil
	case "canonical":
		return Canonical{Entity: enc.Entity, Version: enc.Version}, nil
	case "instance":
		return InstanceRef{Name: enc.Name}, nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", enc.Kind)
	}
}

func locPtr(l SourceLocation) *SourceLocation {
	if l.IsZero() {
		return nil
	}
	return &l
}

func locVal(l *SourceLocation) SourceLocation {
	if l == nil {
		return SourceLocation{}
	}
	return *l
}
