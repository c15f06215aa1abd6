package fsh

import (
	"fmt"
	"strings"
)

// Catalog is the full set of parsed documents handed to the exporter:
// instances in declaration order, rule sets, and alias mappings. A catalog
// is built once and then read concurrently; Add/Set calls must finish
// before export begins.
type Catalog struct {
	instances []*Instance
	byName    map[string]*Instance
	ruleSets  map[string]*RuleSet
	aliases   map[string]string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byName:   make(map[string]*Instance),
		ruleSets: make(map[string]*RuleSet),
		aliases:  make(map[string]string),
	}
}

// AddInstance appends an instance. Names are unique per catalog.
func (c *Catalog) AddInstance(inst *Instance) error {
	if inst == nil || inst.Name == "" {
		return fmt.Errorf("instance must have a name")
	}
	if prev, ok := c.byName[inst.Name]; ok {
		return fmt.Errorf("instance %q already defined at %s", inst.Name, prev.Loc)
	}
	c.instances = append(c.instances, inst)
	c.byName[inst.Name] = inst
	return nil
}

// AddRuleSet registers a rule set. Names are unique per catalog.
func (c *Catalog) AddRuleSet(rs *RuleSet) error {
	if rs == nil || rs.Name == "" {
		return fmt.Errorf("rule set must have a name")
	}
	if prev, ok := c.ruleSets[rs.Name]; ok {
		return fmt.Errorf("rule set %q already defined at %s", rs.Name, prev.Loc)
	}
	c.ruleSets[rs.Name] = rs
	return nil
}

// SetAlias maps an alias name (conventionally starting with $) to its
// expansion, usually a canonical URL.
func (c *Catalog) SetAlias(name, target string) {
	c.aliases[name] = target
}

// Instance looks up an instance by name.
func (c *Catalog) Instance(name string) (*Instance, bool) {
	inst, ok := c.byName[name]
	return inst, ok
}

// RuleSet looks up a rule set by name.
func (c *Catalog) RuleSet(name string) (*RuleSet, bool) {
	rs, ok := c.ruleSets[name]
	return rs, ok
}

// Instances returns all instances in declaration order. Callers must not
// modify the returned slice.
func (c *Catalog) Instances() []*Instance {
	return c.instances
}

// Len returns the number of instances.
func (c *Catalog) Len() int { return len(c.instances) }

// ResolveAlias expands name if it is a registered alias, otherwise returns
// it unchanged. Alias targets may themselves be aliases; chains resolve up
// to a small depth to avoid loops.
func (c *Catalog) ResolveAlias(name string) string {
	cur := name
	for i := 0; i < 8; i++ {
		next, ok := c.aliases[cur]
		if !ok {
			return cur
		}
		cur = next
	}
	return cur
}

// IsAlias reports whether name is a registered alias. Parsers conventionally
// prefix aliases with $, but the catalog does not require it.
func (c *Catalog) IsAlias(name string) bool {
	_, ok := c.aliases[name]
	return ok
}

// SplitVersion separates a "name|version" reference into its parts.
func SplitVersion(ref string) (name, version string) {
	if i := strings.IndexByte(ref, '|'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}
