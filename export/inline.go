package export

import (
	"context"
	"strings"

	"github.com/gofhir/shorthand"
	"github.com/gofhir/shorthand/assign"
	"github.com/gofhir/shorthand/fsh"
)

// assignInline grafts a whole named instance at the cursor. The target
// is materialized at most once per batch; its finished tree deep-merges
// into whatever the embedding site already holds, with the embedder's
// values standing on conflict.
func (r *run) assignInline(ctx context.Context, cur *cursor, v fsh.InstanceRef, rule *fsh.AssignmentRule) bool {
	doc, ok := r.inlineDocument(ctx, v.Name, rule)
	if !ok {
		return false
	}
	if !r.inlineTypeAllowed(cur, doc.ResourceType) {
		r.reject(rule, shorthand.CodeTypeMismatch,
			"instance %q is a %s, which %s does not allow", v.Name, doc.ResourceType, cur.describe())
		return false
	}
	posFn := r.ex.contentPos(ctx, cur.idx, cur.key, doc.ResourceType)
	if c := assign.MergePattern(cur.node, doc.Tree.Interface(), true, posFn); c != nil {
		r.result.Add(shorthand.Error(shorthand.CodeValueConflict).
			Messagef("embedding %q: existing value %v stands against its value %v at %s",
				v.Name, c.Existing, c.Incoming, conflictPath(rule.Path, c.Path)).
			Rule(rule).
			At(conflictPath(rule.Path, c.Path)).
			Build())
		return false
	}
	if rule.Exactly {
		cur.node.MarkExact()
	}
	return true
}

// inlineTypeAllowed checks the embedded document's declared type against
// the embedding element's allowed types.
func (r *run) inlineTypeAllowed(cur *cursor, docType string) bool {
	if cur.typeCode == docType || docType == "" {
		return true
	}
	if len(cur.elem.Types) == 0 {
		return true
	}
	for _, t := range cur.elem.Types {
		switch t.Code {
		case docType, "Resource", "DomainResource", "Any":
			return true
		}
	}
	return false
}

// inlineDocument returns the materialized document for a named instance,
// exporting it on first use. Expansion chains that revisit an instance
// are cut with a diagnostic naming the cycle.
func (r *run) inlineDocument(ctx context.Context, name string, rule fsh.Rule) (*shorthand.Document, bool) {
	for _, n := range r.stack {
		if n == name {
			r.result.Add(shorthand.Error(shorthand.CodeRuleDropped).
				Messagef("instance expansion cycle: %s; rule dropped",
					strings.Join(append(append([]string{}, r.stack...), name), " -> ")).
				Rule(rule).
				Build())
			return nil, false
		}
	}
	inst, ok := r.bctx.Catalog().Instance(name)
	if !ok {
		r.reject(rule, shorthand.CodeMissingDefinition, "instance %q is not defined", name)
		return nil, false
	}

	entry, owner := r.bctx.claim(name)
	if owner {
		func() {
			defer close(entry.ready)
			entry.doc = r.exportNested(ctx, inst)
		}()
		r.ex.metrics.RecordMemoMiss()
	} else {
		select {
		case <-entry.ready:
			r.ex.metrics.RecordMemoHit()
		default:
			// Another worker is mid-export. Waiting could deadlock if its
			// chain in turn waits on an instance this chain owns, so build
			// a private copy instead.
			r.ex.metrics.RecordMemoMiss()
			doc := r.exportNested(ctx, inst)
			if doc == nil {
				r.reject(rule, shorthand.CodeMissingDefinition,
					"instance %q could not be materialized", name)
				return nil, false
			}
			return doc, true
		}
	}
	if entry.doc == nil {
		r.reject(rule, shorthand.CodeMissingDefinition,
			"instance %q could not be materialized", name)
		return nil, false
	}
	return entry.doc, true
}

// exportNested materializes an instance reached through this document's
// expansion chain, folding its diagnostics into this document's result.
func (r *run) exportNested(ctx context.Context, inst *fsh.Instance) *shorthand.Document {
	stack := make([]string, 0, len(r.stack)+1)
	stack = append(stack, r.stack...)
	stack = append(stack, inst.Name)
	doc, res := r.ex.exportWithStack(ctx, inst, r.bctx, stack, false)
	r.result.Merge(res)
	if r.ex.options.EnablePooling {
		res.Release()
	}
	return doc
}

// contain grafts an inline document into this document's contained
// array, once per target, and returns the local fragment id.
func (r *run) contain(ctx context.Context, doc *shorthand.Document) string {
	if id, ok := r.contained[doc.Name]; ok {
		return id
	}
	frag := doc.ID
	if frag == "" {
		frag, _ = SanitizeID(doc.Name)
	}

	arr := r.root.EnsureChild("contained", posForChild(r.idx, r.idx.Root().Path, "contained"))
	item := arr.Append()
	arr.Touch(arr.Len() - 1)

	posFn := assign.PosFunc(nil)
	if tidx, err := r.ex.typeIndex(ctx, doc.ResourceType); err == nil {
		posFn = r.ex.contentPos(ctx, tidx, tidx.Root().Path, doc.ResourceType)
	}
	assign.MergePattern(item, doc.Tree.Interface(), true, posFn)
	idNode := item.Child("id")
	if idNode == nil || idNode.IsEmpty() {
		pos := assign.PosUnknown
		if posFn != nil {
			pos = posFn("id")
		}
		item.EnsureChild("id", pos).SetValue(frag)
	}

	r.contained[doc.Name] = frag
	return frag
}
