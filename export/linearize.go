package export

import (
	"strings"

	"github.com/gofhir/shorthand"
	"github.com/gofhir/shorthand/fsh"
)

// Linearize flattens an instance's rule list into the ordered rules the
// exporter folds into the tree. Insert rules are replaced in place by the
// named rule set's rules, depth first, with the insert rule's path
// context prefixed onto every expanded path and a provenance hop
// recorded so diagnostics can point at both the rule and its outermost
// insertion site.
//
// Caret rules come back separately: entity-level carets (empty rule
// path) feed document metadata, while element-scoped carets constrain
// the schema rather than the document and are dropped with a warning.
func Linearize(inst *fsh.Instance, catalog *fsh.Catalog, result *shorthand.Result) ([]fsh.Rule, []*fsh.CaretRule) {
	l := &linearizer{catalog: catalog, result: result}
	l.expand(inst.Rules, "", nil)
	return l.rules, l.carets
}

type linearizer struct {
	catalog *fsh.Catalog
	result  *shorthand.Result
	rules   []fsh.Rule
	carets  []*fsh.CaretRule
	stack   []string
}

func (l *linearizer) expand(rules []fsh.Rule, prefix string, prov []fsh.Trace) {
	for _, r := range rules {
		switch r := r.(type) {
		case *fsh.AssignmentRule:
			l.rules = append(l.rules, cloneAssignment(r, prefix, prov))
		case *fsh.PathRule:
			l.rules = append(l.rules, clonePath(r, prefix, prov))
		case *fsh.CaretRule:
			l.caret(r, prefix, prov)
		case *fsh.InsertRule:
			l.insert(r, prefix, prov)
		}
	}
}

func (l *linearizer) caret(r *fsh.CaretRule, prefix string, prov []fsh.Trace) {
	if path := prefixPath(prefix, r.Path); path != "" {
		l.result.Add(shorthand.Warning(shorthand.CodeRuleDropped).
			Messagef("metadata rule on element %q constrains the schema, not the document; dropped", path).
			Rule(withProvenance(r, prov)).
			Build())
		return
	}
	c := *r
	c.Provenance = prov
	l.carets = append(l.carets, &c)
}

func (l *linearizer) insert(r *fsh.InsertRule, prefix string, prov []fsh.Trace) {
	rule := withProvenance(r, prov)
	for _, name := range l.stack {
		if name == r.RuleSet {
			l.result.Add(shorthand.Error(shorthand.CodeRuleDropped).
				Messagef("rule set %q inserts itself (%s); insertion dropped",
					r.RuleSet, strings.Join(append(append([]string{}, l.stack...), r.RuleSet), " -> ")).
				Rule(rule).
				Build())
			return
		}
	}
	set, ok := l.catalog.RuleSet(r.RuleSet)
	if !ok {
		l.result.Add(shorthand.Error(shorthand.CodeMissingDefinition).
			Messagef("rule set %q is not defined", r.RuleSet).
			Rule(rule).
			Build())
		return
	}

	chain := make([]fsh.Trace, 0, len(prov)+1)
	chain = append(chain, prov...)
	chain = append(chain, fsh.Trace{RuleSet: r.RuleSet, Loc: r.Loc})

	l.stack = append(l.stack, r.RuleSet)
	l.expand(set.Rules, prefixPath(prefix, r.Path), chain)
	l.stack = l.stack[:len(l.stack)-1]
}

func cloneAssignment(r *fsh.AssignmentRule, prefix string, prov []fsh.Trace) *fsh.AssignmentRule {
	if prefix == "" && len(prov) == 0 {
		return r
	}
	c := *r
	c.Path = prefixPath(prefix, r.Path)
	c.Provenance = prov
	return &c
}

func clonePath(r *fsh.PathRule, prefix string, prov []fsh.Trace) *fsh.PathRule {
	if prefix == "" && len(prov) == 0 {
		return r
	}
	c := *r
	c.Path = prefixPath(prefix, r.Path)
	c.Provenance = prov
	return &c
}

// withProvenance stamps a rule clone with its insertion chain so the
// diagnostic builder can surface the outermost site. Rules written
// directly on the instance pass through unchanged.
func withProvenance(r fsh.Rule, prov []fsh.Trace) fsh.Rule {
	if len(prov) == 0 {
		return r
	}
	switch r := r.(type) {
	case *fsh.InsertRule:
		c := *r
		c.Provenance = prov
		return &c
	case *fsh.CaretRule:
		c := *r
		c.Provenance = prov
		return &c
	}
	return r
}

func prefixPath(prefix, path string) string {
	switch {
	case prefix == "":
		return path
	case path == "":
		return prefix
	default:
		return prefix + "." + path
	}
}
