package assign

import (
	"strings"

	"github.com/gofhir/shorthand/service"
)

// ElementPosFunc supplies a PosFunc for ordering the content of one
// element's fixed/pattern value. nil, or a nil result, leaves pattern
// keys unordered.
type ElementPosFunc func(elem *service.ElementDefinition) PosFunc

// Populate materializes schema-mandated content after all rules have
// applied. An untouched fixed/pattern element materializes when it is
// required and every ancestor on its path is either required or already
// present in the tree; required repeating elements fill with pattern
// copies up to their minimum. Elements the rules touched are re-merged,
// which is a no-op when the fixed/pattern content already went in during
// rule application.
//
// The returned conflicts are fixed values that contradict what the tree
// already holds; the tree's value stands.
func Populate(root *Node, sd *service.StructureDefinition, idx *service.ElementIndex, posFor ElementPosFunc) []*ConflictError {
	if root == nil || sd == nil || len(sd.Snapshot) == 0 {
		return nil
	}

	p := &populator{idx: idx, posFor: posFor, posOf: make(map[string]int, len(sd.Snapshot))}
	for i := range sd.Snapshot {
		path := sd.Snapshot[i].Path
		if _, seen := p.posOf[path]; !seen {
			p.posOf[path] = i
		}
	}

	rootPath := sd.Snapshot[0].Path
	for i := range sd.Snapshot {
		elem := &sd.Snapshot[i]
		if elem.Fixed == nil && elem.Pattern == nil {
			continue
		}
		// Slice content seeds when the slice is addressed, not here.
		if elem.SliceName != "" || strings.Contains(elem.ID, ":") {
			continue
		}
		rel := strings.TrimPrefix(elem.Path, rootPath+".")
		if rel == elem.Path {
			continue
		}
		p.place(root, rootPath, strings.Split(rel, "."), elem)
	}
	return p.conflicts
}

type populator struct {
	idx       *service.ElementIndex
	posOf     map[string]int
	posFor    ElementPosFunc
	conflicts []*ConflictError
}

func (p *populator) place(node *Node, prefix string, segs []string, elem *service.ElementDefinition) {
	name := segs[0]
	path := prefix + "." + name

	if len(segs) == 1 {
		p.placeLeaf(node, path, name, elem)
		return
	}

	// Intermediate step. Choice ancestors are skipped: the concrete form
	// is only known once a rule picks a type.
	if strings.HasSuffix(name, "[x]") {
		return
	}
	step := p.idx.Get(path)
	if step == nil {
		return
	}

	child := node.Child(name)
	if child == nil || child.IsEmpty() {
		if step.Min < 1 {
			return
		}
		child = node.EnsureChild(name, p.pos(path))
	}

	if step.IsArray() {
		for i := 0; i < step.Min; i++ {
			child.EnsureItem(i)
		}
		for i := 0; i < child.Len(); i++ {
			item := child.Item(i)
			// Leave unfilled gaps beyond the required count alone.
			if item.IsEmpty() && i >= step.Min {
				continue
			}
			p.place(item, path, segs[1:], elem)
		}
		return
	}
	p.place(child, path, segs[1:], elem)
}

func (p *populator) placeLeaf(node *Node, path, name string, elem *service.ElementDefinition) {
	key := name
	if strings.HasSuffix(name, "[x]") {
		// A fixed choice materializes only when the schema pins a single
		// type.
		if len(elem.Types) != 1 {
			return
		}
		key = service.ChoiceName(name, service.NormalizeSystemType(elem.Types[0].Code))
	}

	if elem.IsArray() {
		arr := node.Child(key)
		if arr == nil || arr.IsEmpty() {
			if elem.Min < 1 {
				return
			}
			arr = node.EnsureChild(key, p.pos(path))
		}
		// Fixed and pattern content applies to every repetition, so
		// existing items re-merge; gaps beyond the required count stay
		// gaps.
		for i := 0; i < arr.Len() || i < elem.Min; i++ {
			item := arr.EnsureItem(i)
			if item.IsEmpty() && i >= elem.Min {
				continue
			}
			p.merge(item, elem)
		}
		return
	}

	child := node.Child(key)
	if child == nil || child.IsEmpty() {
		if elem.Min < 1 {
			return
		}
		if child == nil {
			child = node.EnsureChild(key, p.pos(path))
		}
	}
	p.merge(child, elem)
}

func (p *populator) merge(node *Node, elem *service.ElementDefinition) {
	var posFn PosFunc
	if p.posFor != nil {
		posFn = p.posFor(elem)
	}

	value, fixed := elem.Pattern, false
	if elem.Fixed != nil {
		value, fixed = elem.Fixed, true
	}
	if c := MergePattern(node, value, fixed, posFn); c != nil {
		if c.Path == "" {
			c.Path = elem.Path
		} else {
			c.Path = elem.Path + "." + c.Path
		}
		p.conflicts = append(p.conflicts, c)
	}
}

func (p *populator) pos(path string) int {
	if i, ok := p.posOf[path]; ok {
		return i
	}
	return PosUnknown
}
