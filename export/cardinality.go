package export

import (
	"context"
	"strings"

	"github.com/gofhir/shorthand"
	"github.com/gofhir/shorthand/assign"
	"github.com/gofhir/shorthand/pool"
	"github.com/gofhir/shorthand/service"
)

// sweepCardinality audits the finished tree against the schema's
// occurrence bounds: one diagnostic per element missing a required
// occurrence, exceeding its maximum, carrying more than one choice
// variant, or leaving an array position unfilled.
func (r *run) sweepCardinality(ctx context.Context) {
	s := &sweeper{ex: r.ex, result: r.result}
	s.walk(ctx, r.root, r.idx, r.idx.Root().Path, r.idx.RootType())
}

type sweeper struct {
	ex     *Exporter
	result *shorthand.Result
}

func (s *sweeper) walk(ctx context.Context, node *assign.Node, idx *service.ElementIndex, key, path string) {
	if node == nil || !node.IsObject() {
		return
	}
	for _, kid := range idx.Children(key) {
		raw := service.LastSegment(kid.Path)
		if strings.HasSuffix(raw, "[x]") {
			s.checkChoice(ctx, node, idx, key, kid, path, raw)
			continue
		}
		s.checkElement(ctx, node, idx, key, kid, path, raw)
	}
}

func (s *sweeper) checkElement(ctx context.Context, node *assign.Node, idx *service.ElementIndex, key string, kid *service.ElementDefinition, path, name string) {
	child := node.Child(name)
	comp := node.Child("_" + name)
	count := occupancy(child, comp)
	epath := pool.JoinPath(path, name)

	s.checkBounds(kid, count, epath)
	s.checkSlices(idx, key+"."+name, child, epath)
	if count == 0 {
		return
	}
	s.checkGaps(child, comp, epath)

	tc := service.NormalizeSystemType(kid.TypeCode())
	if service.IsPrimitiveType(tc) {
		return
	}
	cidx, ckey, ok := s.content(ctx, idx, key+"."+name, kid, tc)
	if !ok {
		return
	}
	s.recurse(ctx, child, cidx, ckey, epath, tc)
}

func (s *sweeper) checkChoice(ctx context.Context, node *assign.Node, idx *service.ElementIndex, key string, kid *service.ElementDefinition, path, raw string) {
	var present []string
	for _, t := range kid.Types {
		name := service.ChoiceName(raw, t.Code)
		c := node.Child(name)
		if occupancy(c, node.Child("_"+name)) == 0 {
			continue
		}
		present = append(present, name)

		tc := service.NormalizeSystemType(t.Code)
		if service.IsPrimitiveType(tc) {
			continue
		}
		cidx, ckey, ok := s.content(ctx, idx, key+"."+raw, kid, tc)
		if !ok {
			continue
		}
		s.recurse(ctx, c, cidx, ckey, pool.JoinPath(path, name), tc)
	}

	epath := pool.JoinPath(path, raw)
	if kid.Min > 0 && len(present) == 0 {
		s.result.Add(shorthand.Error(shorthand.CodeCardinality).
			Messagef("required element %s is missing", epath).
			At(epath).
			Build())
	}
	if len(present) > 1 {
		s.result.Add(shorthand.Error(shorthand.CodeCardinality).
			Messagef("%s holds %d type variants (%s); only one is allowed",
				epath, len(present), strings.Join(present, ", ")).
			At(epath).
			Build())
	}
}

func (s *sweeper) checkBounds(kid *service.ElementDefinition, count int, epath string) {
	if kid.Min > 0 && count < kid.Min {
		b := shorthand.Error(shorthand.CodeCardinality)
		if count == 0 {
			b.Messagef("required element %s is missing", epath)
		} else {
			b.Messagef("%s has %d occurrences; at least %d required", epath, count, kid.Min)
		}
		s.result.Add(b.At(epath).Build())
	}
	if max := kid.MaxCount(); max != -1 && count > max {
		s.result.Add(shorthand.Error(shorthand.CodeCardinality).
			Messagef("%s has %d occurrences; at most %d allowed", epath, count, max).
			At(epath).
			Build())
	}
}

// checkSlices audits each declared slice partition's own bounds.
func (s *sweeper) checkSlices(idx *service.ElementIndex, childKey string, child *assign.Node, epath string) {
	for _, se := range idx.Slices(childKey) {
		cnt := 0
		if child != nil {
			cnt = child.SliceLen(se.SliceName)
		}
		spath := epath + ":" + se.SliceName
		if se.Min > 0 && cnt < se.Min {
			b := shorthand.Error(shorthand.CodeCardinality)
			if cnt == 0 {
				b.Messagef("required slice %s is missing", spath)
			} else {
				b.Messagef("slice %s has %d occurrences; at least %d required", spath, cnt, se.Min)
			}
			s.result.Add(b.At(spath).Build())
		}
		if max := se.MaxCount(); max != -1 && cnt > max {
			s.result.Add(shorthand.Error(shorthand.CodeCardinality).
				Messagef("slice %s has %d occurrences; at most %d allowed", spath, cnt, max).
				At(spath).
				Build())
		}
	}
}

// checkGaps flags array positions that were indexed past but never
// assigned. A position whose underscore companion holds content is a
// deliberate null, not a gap.
func (s *sweeper) checkGaps(child, comp *assign.Node, epath string) {
	if child == nil || !child.IsArray() {
		return
	}
	for i := 0; i < child.Len(); i++ {
		if item := child.Item(i); item != nil && !item.IsEmpty() {
			continue
		}
		if comp != nil && comp.IsArray() {
			if ci := comp.Item(i); ci != nil && !ci.IsEmpty() {
				continue
			}
		}
		ipath := pool.AppendArrayIndex(epath, i)
		s.result.Add(shorthand.Warning(shorthand.CodeCardinality).
			Messagef("%s was never assigned; a null placeholder is emitted", ipath).
			At(ipath).
			Build())
	}
}

// recurse descends into an element's occupied occurrences. Elements
// typed as a bare resource switch to the definition the occurrence's
// resourceType names, so contained resources are audited in full.
func (s *sweeper) recurse(ctx context.Context, child *assign.Node, cidx *service.ElementIndex, ckey, epath, tc string) {
	dynamic := tc == "Resource" || tc == "DomainResource"
	if !child.IsArray() {
		ci, ck, ok := s.occurrenceContext(ctx, child, cidx, ckey, dynamic)
		if ok {
			s.walk(ctx, child, ci, ck, epath)
		}
		return
	}
	for i := 0; i < child.Len(); i++ {
		item := child.Item(i)
		if item == nil || item.IsEmpty() {
			continue
		}
		ci, ck, ok := s.occurrenceContext(ctx, item, cidx, ckey, dynamic)
		if ok {
			s.walk(ctx, item, ci, ck, pool.AppendArrayIndex(epath, i))
		}
	}
}

func (s *sweeper) occurrenceContext(ctx context.Context, item *assign.Node, cidx *service.ElementIndex, ckey string, dynamic bool) (*service.ElementIndex, string, bool) {
	if !dynamic {
		return cidx, ckey, true
	}
	rt := ""
	if c := item.Child("resourceType"); c != nil {
		rt, _ = c.Value().(string)
	}
	if rt == "" {
		return nil, "", false
	}
	tidx, err := s.ex.typeIndex(ctx, rt)
	if err != nil {
		return nil, "", false
	}
	return tidx, tidx.Root().Path, true
}

// content resolves where an element's child rows live: inline rows under
// the element's own key, the referenced subtree for contentReference
// rows, or the element type's definition.
func (s *sweeper) content(ctx context.Context, idx *service.ElementIndex, key string, kid *service.ElementDefinition, tc string) (*service.ElementIndex, string, bool) {
	if kid.ContentReference != "" {
		ref := strings.TrimPrefix(kid.ContentReference, "#")
		if idx.Has(ref) {
			return idx, ref, true
		}
		return nil, "", false
	}
	if len(idx.Children(key)) > 0 || service.IsInlineType(tc) {
		return idx, key, true
	}
	if tc == "" || tc == "Resource" || tc == "DomainResource" {
		return idx, key, tc == "Resource" || tc == "DomainResource"
	}
	tidx, err := s.ex.typeIndex(ctx, tc)
	if err != nil {
		return nil, "", false
	}
	return tidx, tidx.Root().Path, true
}

// occupancy counts filled positions across an element node and its
// underscore companion.
func occupancy(child, comp *assign.Node) int {
	if child != nil && child.IsEmpty() {
		child = nil
	}
	if comp != nil && comp.IsEmpty() {
		comp = nil
	}
	if child == nil && comp == nil {
		return 0
	}
	childArr := child != nil && child.IsArray()
	compArr := comp != nil && comp.IsArray()
	if !childArr && !compArr {
		return 1
	}
	length := 0
	if childArr {
		length = child.Len()
	}
	if compArr && comp.Len() > length {
		length = comp.Len()
	}
	n := 0
	for i := 0; i < length; i++ {
		filled := false
		if childArr {
			if item := child.Item(i); item != nil && !item.IsEmpty() {
				filled = true
			}
		}
		if !filled && compArr {
			if item := comp.Item(i); item != nil && !item.IsEmpty() {
				filled = true
			}
		}
		if filled {
			n++
		}
	}
	return n
}
