package export

import (
	"context"
	"strings"

	"github.com/gofhir/shorthand"
	"github.com/gofhir/shorthand/assign"
	"github.com/gofhir/shorthand/fsh"
	"github.com/gofhir/shorthand/fshpath"
	"github.com/gofhir/shorthand/pool"
	"github.com/gofhir/shorthand/service"
)

// cursor is the landing point of a resolved rule path: the tree node a
// value merges into and the schema element governing it.
type cursor struct {
	node *assign.Node
	elem *service.ElementDefinition
	// typeCode is the concrete type at the cursor: the chosen variant
	// for choice elements, the declared type otherwise.
	typeCode string
	idx      *service.ElementIndex
	key      string
}

// step is one resolved path segment: the materialized node plus the
// schema context the next segment resolves against.
type step struct {
	node     *assign.Node
	elem     *service.ElementDefinition // slice entry when the segment is sliced
	base     *service.ElementDefinition
	typeCode string
	key      string // element key in the index, slice markers included
	name     string // JSON member name
	chain    string // canonical slice chain, "" when unsliced
	adHocURL string // extension url for slices no schema row declares
	pos      int
	phys     int // physical array index, -1 when the element does not repeat
}

// walk resolves a parsed path against the document tree, creating the
// structure the path implies and merging schema-fixed content into every
// node it materializes. It returns false after adding a diagnostic when
// the path cannot be resolved; intermediates already materialized stay
// in the tree.
func (r *run) walk(ctx context.Context, path fshpath.Path, rule fsh.Rule) (*cursor, bool) {
	parent := r.root
	idx := r.idx
	key := idx.Root().Path

	for i, seg := range path {
		st, ok := r.resolveStep(ctx, idx, key, seg, rule)
		if !ok {
			return nil, false
		}
		if !r.materialize(ctx, parent, idx, key, seg, st, rule) {
			return nil, false
		}
		r.mergeSchemaContent(ctx, st.node, idx, st.key, st.typeCode, st.elem)

		if i == len(path)-1 {
			return &cursor{node: st.node, elem: st.elem, typeCode: st.typeCode, idx: idx, key: st.key}, true
		}
		next, nidx, nkey, ok := r.descend(ctx, parent, idx, seg, st, rule)
		if !ok {
			return nil, false
		}
		parent, idx, key = next, nidx, nkey
	}
	return nil, false
}

// resolveStep finds the schema element a segment addresses: a plain
// child, a concrete choice variant, or a slice of a repeating element.
func (r *run) resolveStep(ctx context.Context, idx *service.ElementIndex, key string, seg fshpath.Segment, rule fsh.Rule) (*step, bool) {
	lookup := pool.JoinPath(key, seg.Name)
	base := idx.Get(lookup)
	typeCode := ""
	if base == nil {
		if el, tc, ok := idx.ResolveChoice(lookup); ok {
			base, typeCode = el, tc
		}
	}
	if base == nil {
		r.reject(rule, shorthand.CodePathNotFound,
			"no element %q under %s", seg.Name, service.StripSliceMarkers(key))
		return nil, false
	}
	if base.IsChoice() && typeCode == "" {
		// The generic [x] name is ambiguous even with one allowed type;
		// authors must commit to a variant.
		r.reject(rule, shorthand.CodePathNotFound,
			"choice element %q must be addressed with a concrete type, e.g. %q",
			seg.Name, service.ChoiceName(seg.Name, base.TypeCode()))
		return nil, false
	}
	if typeCode == "" {
		typeCode = base.TypeCode()
	}

	st := &step{elem: base, base: base, typeCode: typeCode, key: lookup, name: seg.Name, phys: -1}
	if len(seg.Slices) == 0 {
		return st, true
	}
	return r.resolveSlice(ctx, idx, lookup, seg, st, rule)
}

// resolveSlice narrows a step to a declared slice, trying the written
// name, then its alias expansion and canonical URI against the declared
// slice profiles. Extension elements fall back to ad hoc slices keyed by
// the extension's canonical URL.
func (r *run) resolveSlice(ctx context.Context, idx *service.ElementIndex, lookup string, seg fshpath.Segment, st *step, rule fsh.Rule) (*step, bool) {
	chain := strings.Join(seg.Slices, "/")
	if el := idx.Slice(lookup, chain); el != nil {
		st.elem = el
		st.key = service.SliceKey(lookup, chain)
		st.chain = chain
		return st, true
	}
	if len(seg.Slices) == 1 {
		for _, uri := range r.sliceURIs(ctx, seg.Slices[0]) {
			for _, cand := range idx.Slices(lookup) {
				if sliceProfileIs(cand, uri) {
					st.elem = cand
					st.key = service.SliceKey(lookup, cand.SliceName)
					st.chain = cand.SliceName
					return st, true
				}
			}
		}
	}
	if st.typeCode == "Extension" && len(seg.Slices) == 1 {
		if url, ok := r.extensionURL(ctx, seg.Slices[0]); ok {
			st.chain = url
			st.adHocURL = url
			return st, true
		}
		r.reject(rule, shorthand.CodePathNotFound,
			"extension %q is not defined and does not resolve to a URL", seg.Slices[0])
		return nil, false
	}
	r.reject(rule, shorthand.CodePathNotFound,
		"slice %q is not defined on %s", chain, service.StripSliceMarkers(lookup))
	return nil, false
}

// sliceURIs lists the canonical URIs a written slice name may stand for.
func (r *run) sliceURIs(ctx context.Context, name string) []string {
	var uris []string
	if resolved := r.bctx.Catalog().ResolveAlias(name); resolved != name {
		uris = append(uris, resolved)
	} else if isURI(name) {
		uris = append(uris, name)
	}
	if r.ex.entities != nil {
		if info, err := r.ex.entities.ResolveEntity(ctx, name); err == nil && info != nil && info.URL != "" {
			uris = append(uris, info.URL)
		}
	}
	if sd, err := r.ex.profiles.FetchStructureDefinition(ctx, name); err == nil && sd.URL != "" {
		uris = append(uris, sd.URL)
	}
	return uris
}

// extensionURL resolves an undeclared extension slice name to the
// canonical URL its occurrences carry.
func (r *run) extensionURL(ctx context.Context, name string) (string, bool) {
	if resolved := r.bctx.Catalog().ResolveAlias(name); resolved != name {
		return resolved, true
	}
	if isURI(name) {
		return name, true
	}
	if r.ex.entities != nil {
		if info, err := r.ex.entities.ResolveEntity(ctx, name); err == nil && info != nil && info.URL != "" {
			return info.URL, true
		}
	}
	if sd, err := r.ex.profiles.FetchStructureDefinition(ctx, name); err == nil && sd.Type == "Extension" && sd.URL != "" {
		return sd.URL, true
	}
	return "", false
}

func sliceProfileIs(cand *service.ElementDefinition, uri string) bool {
	for _, t := range cand.Types {
		for _, p := range t.Profile {
			if p == uri {
				return true
			}
		}
	}
	return false
}

func isURI(s string) bool {
	return strings.Contains(s, "://") || strings.HasPrefix(s, "urn:")
}

// sliceChainMember reports whether an item recorded under member belongs
// to chain: the chains are equal or member reslices it.
func sliceChainMember(member, chain string) bool {
	return member == chain || strings.HasPrefix(member, chain+"/")
}

// materialize creates the tree node a step addresses, resolving the
// segment's index against the element's cardinality and any slice
// partition, and seeding new slice occurrences with their declared
// content.
func (r *run) materialize(ctx context.Context, parent *assign.Node, idx *service.ElementIndex, parentKey string, seg fshpath.Segment, st *step, rule fsh.Rule) bool {
	st.pos = posForChild(idx, parentKey, st.name)

	if !st.base.IsArray() {
		if seg.Kind == fshpath.IndexExplicit && seg.Index > 0 {
			r.reject(rule, shorthand.CodeCardinality,
				"index %d on %s, which allows a single value", seg.Index, st.name)
			return false
		}
		if seg.Kind == fshpath.IndexAppend || seg.Kind == fshpath.IndexSame {
			r.reject(rule, shorthand.CodeCardinality,
				"soft index on %s, which allows a single value", st.name)
			return false
		}
		if parent.IsExact() && parent.Child(st.name) == nil {
			r.reject(rule, shorthand.CodeValueConflict,
				"cannot add %q to a value fixed with (exactly)", st.name)
			return false
		}
		st.node = parent.EnsureChild(st.name, st.pos)
		return true
	}

	if parent.IsExact() && parent.Child(st.name) == nil {
		r.reject(rule, shorthand.CodeValueConflict,
			"cannot add %q to a value fixed with (exactly)", st.name)
		return false
	}
	arr := parent.EnsureChild(st.name, st.pos)
	if st.chain == "" {
		return r.indexInto(arr, seg, st, rule)
	}
	return r.indexIntoSlice(ctx, idx, arr, seg, st, rule)
}

// indexInto resolves a plain (unsliced) array position. A segment with
// no index means the first element; [+] appends; [=] re-addresses the
// most recently used position.
func (r *run) indexInto(arr *assign.Node, seg fshpath.Segment, st *step, rule fsh.Rule) bool {
	phys := 0
	switch seg.Kind {
	case fshpath.IndexExplicit:
		phys = seg.Index
	case fshpath.IndexAppend:
		phys = arr.Len()
	case fshpath.IndexSame:
		phys = arr.LastIndex()
		if phys < 0 {
			r.reject(rule, shorthand.CodeMalformedPath,
				"[=] on %s before any indexed assignment", st.name)
			return false
		}
	}
	if max := st.base.MaxCount(); max != -1 && phys >= max {
		r.reject(rule, shorthand.CodeCardinality,
			"index %d on %s exceeds the allowed maximum of %d", phys, st.name, max)
		return false
	}
	if arr.IsExact() && phys >= arr.Len() {
		r.reject(rule, shorthand.CodeValueConflict,
			"cannot grow %s beyond a value fixed with (exactly)", st.name)
		return false
	}
	st.node = arr.EnsureItem(phys)
	st.phys = phys
	arr.Touch(phys)
	return true
}

// indexIntoSlice resolves a position inside a named slice partition.
// Indices count occurrences of the slice, not physical array positions;
// new occurrences append at the physical end and are seeded with the
// slice's declared content.
func (r *run) indexIntoSlice(ctx context.Context, idx *service.ElementIndex, arr *assign.Node, seg fshpath.Segment, st *step, rule fsh.Rule) bool {
	switch seg.Kind {
	case fshpath.IndexSame:
		phys := arr.LastIndex()
		if phys < 0 {
			r.reject(rule, shorthand.CodeMalformedPath,
				"[=] on %s before any indexed assignment", st.name)
			return false
		}
		if !sliceChainMember(arr.SliceOf(phys), st.chain) {
			r.reject(rule, shorthand.CodePathNotFound,
				"[=] does not address slice %q of %s", st.chain, st.name)
			return false
		}
		st.node = arr.Item(phys)
		st.phys = phys
		arr.Touch(phys)
		return true
	case fshpath.IndexAppend:
		if !r.sliceHasRoom(arr, st, arr.SliceLen(st.chain), rule) {
			return false
		}
		node, phys, ok := r.growSlice(ctx, idx, arr, st, rule)
		if !ok {
			return false
		}
		st.node = node
		st.phys = phys
		arr.Touch(phys)
		return true
	}

	rel := 0
	if seg.Kind == fshpath.IndexExplicit {
		rel = seg.Index
	}
	if !r.sliceHasRoom(arr, st, rel, rule) {
		return false
	}
	for arr.SliceLen(st.chain) <= rel {
		if _, _, ok := r.growSlice(ctx, idx, arr, st, rule); !ok {
			return false
		}
	}
	node, phys := arr.SliceItem(st.chain, rel)
	st.node = node
	st.phys = phys
	arr.Touch(phys)
	return true
}

// sliceHasRoom checks a slice-relative index against the slice's own
// maximum and the base element's maximum.
func (r *run) sliceHasRoom(arr *assign.Node, st *step, rel int, rule fsh.Rule) bool {
	if st.adHocURL == "" {
		if max := st.elem.MaxCount(); max != -1 && rel >= max {
			r.reject(rule, shorthand.CodeCardinality,
				"occurrence %d of slice %q exceeds the allowed maximum of %d", rel, st.chain, max)
			return false
		}
	}
	if max := st.base.MaxCount(); max != -1 && rel >= arr.Len() && arr.Len() >= max {
		r.reject(rule, shorthand.CodeCardinality,
			"%s is full: the allowed maximum is %d", st.name, max)
		return false
	}
	return true
}

// growSlice appends one occurrence to a slice partition and seeds it.
func (r *run) growSlice(ctx context.Context, idx *service.ElementIndex, arr *assign.Node, st *step, rule fsh.Rule) (*assign.Node, int, bool) {
	if arr.IsExact() {
		r.reject(rule, shorthand.CodeValueConflict,
			"cannot grow %s beyond a value fixed with (exactly)", st.name)
		return nil, 0, false
	}
	node, phys := arr.AppendToSlice(st.chain)
	if st.adHocURL != "" {
		r.seedAdHocExtension(ctx, node, st.adHocURL)
	} else {
		r.seedSlice(ctx, node, idx, st.key, st.typeCode)
	}
	return node, phys, true
}

// seedAdHocExtension stamps a fresh extension occurrence with its url.
func (r *run) seedAdHocExtension(ctx context.Context, node *assign.Node, url string) {
	pos := assign.PosUnknown
	if tidx, err := r.ex.typeIndex(ctx, "Extension"); err == nil {
		pos = posForChild(tidx, tidx.Root().Path, "url")
	}
	node.EnsureChild("url", pos).SetValue(url)
}

// seedSlice fills a fresh slice occurrence with the fixed and patterned
// content its definition declares, walking required child rows so
// constraints like a fixed extension url land without a rule naming
// them.
func (r *run) seedSlice(ctx context.Context, node *assign.Node, idx *service.ElementIndex, key, typeCode string) {
	if elem := idx.Get(key); elem != nil {
		r.mergeSchemaContent(ctx, node, idx, key, typeCode, elem)
	}
	for _, child := range idx.Children(key) {
		if child.SliceName != "" || child.Min < 1 {
			continue
		}
		raw := service.LastSegment(child.Path)
		name := raw
		tc := child.TypeCode()
		if strings.HasSuffix(raw, "[x]") {
			if len(child.Types) != 1 {
				continue
			}
			name = service.ChoiceName(raw, child.Types[0].Code)
			tc = child.Types[0].Code
		}
		pos := posForChild(idx, key, name)
		childKey := pool.JoinPath(key, raw)
		if child.IsArray() {
			arr := node.EnsureChild(name, pos)
			for i := 0; i < child.Min; i++ {
				r.seedSlice(ctx, arr.EnsureItem(i), idx, childKey, tc)
			}
			continue
		}
		r.seedSlice(ctx, node.EnsureChild(name, pos), idx, childKey, tc)
	}
}

// mergeSchemaContent folds an element's fixed and patterned values into
// a node the walk materialized. Re-merging the same content is a no-op,
// so repeated rules through one element stay quiet; a genuine clash with
// a fixed value keeps the tree's value and reports the conflict.
func (r *run) mergeSchemaContent(ctx context.Context, node *assign.Node, idx *service.ElementIndex, key, typeCode string, elem *service.ElementDefinition) {
	if elem == nil || (elem.Fixed == nil && elem.Pattern == nil) {
		return
	}
	posFn := r.ex.contentPos(ctx, idx, key, typeCode)
	if elem.Fixed != nil {
		if c := assign.MergePattern(node, elem.Fixed, true, posFn); c != nil {
			r.result.Add(shorthand.Error(shorthand.CodeValueConflict).
				Messagef("value %v conflicts with the fixed value %v required at %s",
					c.Existing, c.Incoming, conflictPath(service.StripSliceMarkers(key), c.Path)).
				At(conflictPath(service.StripSliceMarkers(key), c.Path)).
				Build())
		}
	}
	if elem.Pattern != nil {
		// Pattern content yields to whatever is already there.
		assign.MergePattern(node, elem.Pattern, false, posFn)
	}
}

// descend moves the walk into a step's content: the element's own child
// rows when the schema constrains them inline, the referenced subtree
// for contentReference rows, or the element type's definition otherwise.
// Paths continuing past a primitive route into its underscore companion.
func (r *run) descend(ctx context.Context, parent *assign.Node, idx *service.ElementIndex, seg fshpath.Segment, st *step, rule fsh.Rule) (*assign.Node, *service.ElementIndex, string, bool) {
	tc := service.NormalizeSystemType(st.typeCode)
	if service.IsPrimitiveType(tc) {
		comp := r.companionNode(parent, st)
		eidx, err := r.ex.typeIndex(ctx, "Element")
		if err != nil {
			r.reject(rule, shorthand.CodeMissingDefinition,
				"no definition for type %q", "Element")
			return nil, nil, "", false
		}
		return comp, eidx, eidx.Root().Path, true
	}
	if st.elem.ContentReference != "" {
		ref := strings.TrimPrefix(st.elem.ContentReference, "#")
		if !idx.Has(ref) {
			r.reject(rule, shorthand.CodeMissingDefinition,
				"content reference %q not found", st.elem.ContentReference)
			return nil, nil, "", false
		}
		return st.node, idx, ref, true
	}
	if len(idx.Children(st.key)) > 0 || service.IsInlineType(tc) || tc == "" {
		return st.node, idx, st.key, true
	}
	tidx, err := r.ex.typeIndex(ctx, tc)
	if err != nil {
		r.reject(rule, shorthand.CodeMissingDefinition, "no definition for type %q", tc)
		return nil, nil, "", false
	}
	return st.node, tidx, tidx.Root().Path, true
}

// companionNode returns the underscore companion for a primitive the
// path descends past, mirroring the primitive's array position so nulls
// pad the value array where only the companion holds content.
func (r *run) companionNode(parent *assign.Node, st *step) *assign.Node {
	comp := parent.EnsureChild("_"+st.name, st.pos)
	if st.phys < 0 {
		return comp
	}
	item := comp.EnsureItem(st.phys)
	comp.Touch(st.phys)
	return item
}

// reject records an error-grade diagnostic for a rule the exporter
// cannot apply.
func (r *run) reject(rule fsh.Rule, code shorthand.Code, format string, args ...any) {
	r.result.Add(shorthand.Error(code).Messagef(format, args...).Rule(rule).Build())
}

// posForChild returns the marshal position of a named child under a
// parent element: its ordinal in the parent's snapshot child list.
// Concrete choice variants take the choice row's ordinal.
func posForChild(idx *service.ElementIndex, parentKey, name string) int {
	for i, kid := range idx.Children(parentKey) {
		last := service.LastSegment(kid.Path)
		if last == name {
			return i
		}
		if strings.HasSuffix(last, "[x]") {
			base := strings.TrimSuffix(last, "[x]")
			if len(name) > len(base) && strings.HasPrefix(name, base) {
				return i
			}
		}
	}
	return assign.PosUnknown
}

// contentPos builds a position resolver for content merged beneath an
// element, following child ordinals through type boundaries so nested
// maps land in schema order.
func (e *Exporter) contentPos(ctx context.Context, idx *service.ElementIndex, key, typeCode string) assign.PosFunc {
	return func(rel string) int {
		if rel == "" {
			return assign.PosUnknown
		}
		if rel == "resourceType" {
			return assign.PosFirst
		}
		curIdx, curKey, tc := idx, key, typeCode
		segs := strings.Split(rel, ".")
		pos := assign.PosUnknown
		for i, name := range segs {
			if len(curIdx.Children(curKey)) == 0 {
				ntc := service.NormalizeSystemType(tc)
				if ntc == "" || service.IsInlineType(ntc) || service.IsPrimitiveType(ntc) {
					return assign.PosUnknown
				}
				t, err := e.typeIndex(ctx, ntc)
				if err != nil {
					return assign.PosUnknown
				}
				curIdx, curKey = t, t.Root().Path
			}
			kid, kidPos := matchChild(curIdx, curKey, name)
			if kid == nil {
				return assign.PosUnknown
			}
			pos = kidPos
			if i == len(segs)-1 {
				break
			}
			raw := service.LastSegment(kid.Path)
			if kid.ContentReference != "" {
				curKey = strings.TrimPrefix(kid.ContentReference, "#")
				tc = ""
				continue
			}
			if base := strings.TrimSuffix(raw, "[x]"); base != raw && len(name) > len(base) {
				suffix := name[len(base):]
				tc = strings.ToLower(suffix[:1]) + suffix[1:]
				for _, t := range kid.Types {
					if strings.EqualFold(t.Code, suffix) {
						tc = t.Code
						break
					}
				}
			} else {
				tc = kid.TypeCode()
			}
			curKey = pool.JoinPath(curKey, raw)
		}
		return pos
	}
}

// matchChild finds a named child row under a parent key, matching
// concrete choice names against their [x] row.
func matchChild(idx *service.ElementIndex, parentKey, name string) (*service.ElementDefinition, int) {
	for i, kid := range idx.Children(parentKey) {
		last := service.LastSegment(kid.Path)
		if last == name {
			return kid, i
		}
		if strings.HasSuffix(last, "[x]") {
			base := strings.TrimSuffix(last, "[x]")
			if len(name) > len(base) && strings.HasPrefix(name, base) {
				return kid, i
			}
		}
	}
	return nil, assign.PosUnknown
}

func conflictPath(base, rel string) string {
	if rel == "" {
		return base
	}
	return pool.JoinPath(base, rel)
}
