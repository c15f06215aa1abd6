package export

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofhir/shorthand"
	"github.com/gofhir/shorthand/fsh"
	"github.com/gofhir/shorthand/service"
)

const ucumSystem = "http://unitsofmeasure.org"

// coerce renders a parsed rule value as the JSON value the cursor's
// element type calls for. Coded values expand into Coding or
// CodeableConcept shapes, quantities into Quantity maps, and reference
// or canonical values resolve their targets against the batch. A false
// return means a diagnostic was added and the rule is rejected.
func (r *run) coerce(ctx context.Context, cur *cursor, rule *fsh.AssignmentRule) (any, bool) {
	tc := service.NormalizeSystemType(cur.typeCode)
	switch v := rule.Value.(type) {
	case fsh.Boolean:
		if tc == "boolean" || tc == "" {
			return v.Value, true
		}
	case fsh.Integer:
		switch {
		case integerKinded(tc) || tc == "decimal" || tc == "":
			return json.Number(strconv.FormatInt(v.Value, 10)), true
		case quantityLike(tc):
			return map[string]any{"value": json.Number(strconv.FormatInt(v.Value, 10))}, true
		}
	case fsh.Decimal:
		switch {
		case tc == "decimal" || tc == "":
			return json.Number(v.String()), true
		case quantityLike(tc):
			return map[string]any{"value": json.Number(v.String())}, true
		}
	case fsh.String:
		if tc == "" || stringKinded(tc) {
			return v.Value, true
		}
	case fsh.Code:
		return r.codedValue(ctx, tc, v, rule)
	case fsh.Quantity:
		if quantityLike(tc) || tc == "" {
			return r.quantityValue(ctx, v, rule), true
		}
	case fsh.Reference:
		if tc == "Reference" || tc == "" {
			return r.referenceValue(ctx, cur, v, rule)
		}
	case fsh.Canonical:
		if tc == "canonical" || tc == "uri" || tc == "url" || tc == "string" || tc == "" {
			return r.canonicalValue(ctx, v, rule)
		}
	}
	r.reject(rule, shorthand.CodeTypeMismatch,
		"a %s value cannot populate %s, which is of type %s", valueKind(rule.Value), cur.describe(), cur.typeCode)
	return nil, false
}

// codedValue renders system#code against the element type: a bare code
// string, a Coding, a CodeableConcept, or the coded part of a Quantity.
func (r *run) codedValue(ctx context.Context, tc string, v fsh.Code, rule *fsh.AssignmentRule) (any, bool) {
	system := ""
	if v.System != "" {
		system = r.systemURI(ctx, v.System, rule)
	}
	r.checkCode(ctx, system, v.Code, rule)

	switch tc {
	case "code", "string", "uri", "":
		return v.Code, true
	case "Coding":
		return codingMap(system, v), true
	case "CodeableConcept":
		return map[string]any{"coding": []any{codingMap(system, v)}}, true
	}
	if quantityLike(tc) {
		m := map[string]any{"code": v.Code}
		if system != "" {
			m["system"] = system
		} else {
			m["system"] = ucumSystem
		}
		if v.Display != "" {
			m["unit"] = v.Display
		}
		return m, true
	}
	r.reject(rule, shorthand.CodeTypeMismatch,
		"a coded value cannot populate an element of type %s", tc)
	return nil, false
}

func codingMap(system string, v fsh.Code) map[string]any {
	m := map[string]any{"code": v.Code}
	if system != "" {
		m["system"] = system
	}
	if v.Version != "" {
		m["version"] = v.Version
	}
	if v.Display != "" {
		m["display"] = v.Display
	}
	return m
}

// quantityValue renders a measured amount. A coded unit without an
// explicit system implies UCUM.
func (r *run) quantityValue(ctx context.Context, v fsh.Quantity, rule *fsh.AssignmentRule) map[string]any {
	m := map[string]any{"value": json.Number(v.Value.String())}
	if v.Code != "" {
		m["code"] = v.Code
		if v.System != "" {
			m["system"] = r.systemURI(ctx, v.System, rule)
		} else {
			m["system"] = ucumSystem
		}
		r.checkCode(ctx, m["system"].(string), v.Code, rule)
	}
	if v.Unit != "" {
		m["unit"] = v.Unit
	}
	return m
}

// systemURI resolves a written code system name to its canonical URL:
// alias expansion first, then project entities, then the terminology
// service's own registry. Unresolvable names pass through verbatim with
// a warning.
func (r *run) systemURI(ctx context.Context, name string, rule fsh.Rule) string {
	if resolved := r.bctx.Catalog().ResolveAlias(name); resolved != name {
		return resolved
	}
	if isURI(name) {
		return name
	}
	if r.ex.entities != nil {
		if info, err := r.ex.entities.ResolveEntity(ctx, name); err == nil && info != nil &&
			info.Kind == service.EntityCodeSystem && info.URL != "" {
			return info.URL
		}
	}
	if r.ex.codes != nil {
		if url, ok := r.ex.codes.ResolveSystem(ctx, name); ok {
			return url
		}
	}
	r.result.Add(shorthand.Warning(shorthand.CodeMissingDefinition).
		Messagef("code system %q does not resolve to a URL; using it verbatim", name).
		Rule(rule).
		Build())
	return name
}

// checkCode verifies a code against a locally known system when the
// option is on. Unknown systems stay silent; only a known system that
// lacks the code warns.
func (r *run) checkCode(ctx context.Context, system, code string, rule fsh.Rule) {
	if !r.ex.options.CheckLocalCodes || r.ex.codes == nil || system == "" || code == "" {
		return
	}
	url, ok := r.ex.codes.ResolveSystem(ctx, system)
	if !ok {
		return
	}
	if !r.ex.codes.SystemHasCode(ctx, url, code) {
		r.result.Add(shorthand.Warning(shorthand.CodeInvalid).
			Messagef("code %q is not defined in system %s", code, url).
			Rule(rule).
			Build())
	}
}

// referenceValue resolves a Reference() target: batch instances become
// relative Type/id references, inline instances are contained in this
// document and referenced by fragment, and unknown targets pass through
// verbatim.
func (r *run) referenceValue(ctx context.Context, cur *cursor, v fsh.Reference, rule *fsh.AssignmentRule) (any, bool) {
	out := map[string]any{}
	if v.Display != "" {
		out["display"] = v.Display
	}

	if inst, ok := r.bctx.Catalog().Instance(v.Target); ok {
		if inst.Usage == fsh.UsageInline {
			doc, ok := r.inlineDocument(ctx, inst.Name, rule)
			if !ok {
				return nil, false
			}
			if !r.referenceTypeAllowed(ctx, cur, doc.ResourceType) {
				r.rejectReferenceType(cur, doc.ResourceType, rule)
				return nil, false
			}
			frag := r.contain(ctx, doc)
			out["reference"] = "#" + frag
			return out, true
		}
		if rt, id, ok := r.instanceRef(ctx, inst); ok {
			if !r.referenceTypeAllowed(ctx, cur, rt) {
				r.rejectReferenceType(cur, rt, rule)
				return nil, false
			}
			out["reference"] = rt + "/" + id
			return out, true
		}
	}
	if r.ex.entities != nil {
		if info, err := r.ex.entities.ResolveEntity(ctx, v.Target); err == nil && info != nil &&
			info.Kind == service.EntityInstance && info.ResourceType != "" && info.ID != "" {
			if !r.referenceTypeAllowed(ctx, cur, info.ResourceType) {
				r.rejectReferenceType(cur, info.ResourceType, rule)
				return nil, false
			}
			out["reference"] = info.ResourceType + "/" + info.ID
			return out, true
		}
	}

	// Unknown target: the written text, alias-expanded, is the reference.
	out["reference"] = r.bctx.Catalog().ResolveAlias(v.Target)
	return out, true
}

// instanceRef computes the relative reference a standalone instance will
// export under, without exporting it: its declared type plus the id its
// own rules pin down.
func (r *run) instanceRef(ctx context.Context, inst *fsh.Instance) (string, string, bool) {
	sd, err := r.ex.fetchSchema(ctx, r.bctx.Catalog(), inst.InstanceOf)
	if err != nil {
		return "", "", false
	}
	return sd.Type, r.instanceID(inst), true
}

// instanceID derives the id an instance exports with: the first id
// assignment among its linearized rules, an id metadata rule, or the
// sanitized instance name.
func (r *run) instanceID(inst *fsh.Instance) string {
	scratch := shorthand.NewResult()
	rules, carets := Linearize(inst, r.bctx.Catalog(), scratch)
	for _, rule := range rules {
		ar, ok := rule.(*fsh.AssignmentRule)
		if !ok || ar.Path != "id" {
			continue
		}
		if s, ok := ar.Value.(fsh.String); ok {
			clean, _ := SanitizeID(s.Value)
			return clean
		}
	}
	for _, c := range carets {
		if c.Caret != "id" {
			continue
		}
		if s, ok := c.Value.(fsh.String); ok {
			clean, _ := SanitizeID(s.Value)
			return clean
		}
	}
	clean, _ := SanitizeID(inst.Name)
	return clean
}

// referenceTypeAllowed checks a target's resource type against the
// element's declared reference targets. Profile targets resolve to their
// base type; an element with no target list accepts anything.
func (r *run) referenceTypeAllowed(ctx context.Context, cur *cursor, rt string) bool {
	var targets []string
	for _, t := range cur.elem.Types {
		if t.Code != "Reference" {
			continue
		}
		if len(t.TargetProfile) == 0 {
			return true
		}
		targets = append(targets, t.TargetProfile...)
	}
	if len(targets) == 0 {
		return true
	}
	for _, u := range targets {
		switch tail := u[strings.LastIndexByte(u, '/')+1:]; tail {
		case "Resource", "DomainResource", rt:
			return true
		}
		if sd, err := r.ex.profiles.FetchStructureDefinition(ctx, u); err == nil && sd.Type == rt {
			return true
		}
	}
	return false
}

func (r *run) rejectReferenceType(cur *cursor, rt string, rule fsh.Rule) {
	r.reject(rule, shorthand.CodeTypeMismatch,
		"%s does not allow references to %s resources", cur.describe(), rt)
}

// canonicalValue resolves a Canonical() target to its canonical URL,
// with the written version appended when present.
func (r *run) canonicalValue(ctx context.Context, v fsh.Canonical, rule *fsh.AssignmentRule) (any, bool) {
	url := ""
	name := r.bctx.Catalog().ResolveAlias(v.Entity)
	switch {
	case isURI(name):
		url = name
	default:
		if r.ex.entities != nil {
			if info, err := r.ex.entities.ResolveEntity(ctx, name); err == nil && info != nil && info.URL != "" {
				url = info.URL
			}
		}
		if url == "" {
			if sd, err := r.ex.profiles.FetchStructureDefinition(ctx, name); err == nil && sd.URL != "" {
				url = sd.URL
			}
		}
	}
	if url == "" {
		r.reject(rule, shorthand.CodeMissingDefinition,
			"canonical target %q does not resolve to a URL", v.Entity)
		return nil, false
	}
	if v.Version != "" {
		url += "|" + v.Version
	}
	return url, true
}

// describe renders the cursor's element for diagnostics.
func (c *cursor) describe() string {
	return service.StripSliceMarkers(c.key)
}

func valueKind(v fsh.Value) string {
	switch v.(type) {
	case fsh.Boolean:
		return "boolean"
	case fsh.Integer:
		return "integer"
	case fsh.Decimal:
		return "decimal"
	case fsh.String:
		return "string"
	case fsh.Code:
		return "coded"
	case fsh.Quantity:
		return "quantity"
	case fsh.Reference:
		return "reference"
	case fsh.Canonical:
		return "canonical"
	case fsh.InstanceRef:
		return "instance"
	}
	return "unknown"
}

func stringKinded(tc string) bool {
	switch tc {
	case "string", "markdown", "id", "uri", "url", "canonical", "oid", "uuid",
		"code", "date", "dateTime", "time", "instant", "base64Binary", "xhtml":
		return true
	}
	return false
}

func integerKinded(tc string) bool {
	switch tc {
	case "integer", "integer64", "positiveInt", "unsignedInt":
		return true
	}
	return false
}

func quantityLike(tc string) bool {
	switch tc {
	case "Quantity", "SimpleQuantity", "Age", "Duration", "Count", "Distance", "MoneyQuantity":
		return true
	}
	return false
}
