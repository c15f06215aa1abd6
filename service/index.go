package service

import (
	"strings"
)

// ElementIndex provides O(1) lookup of ElementDefinitions by path.
// It indexes full paths ("Observation.status"), short paths ("status"),
// concrete choice variants ("Observation.valueQuantity" for
// "Observation.value[x]"), and slice entries keyed in ElementDefinition
// id form ("Observation.component:SystolicBP").
type ElementIndex struct {
	// byPath maps element paths to their definitions
	byPath map[string]*ElementDefinition

	// bySlice maps id-form keys (path:sliceName, reslices as
	// path:parent/child) to slice entries and their children
	bySlice map[string]*ElementDefinition

	// choiceVariants maps concrete choice paths to the underlying
	// choice element and the type the name selects
	choiceVariants map[string]choiceVariant

	// children lists direct child elements per parent key, in snapshot
	// order. Slice entries are excluded; children of a slice are listed
	// under the slice's id-form key.
	children map[string][]*ElementDefinition

	// sliceEntries lists the slices defined on an element, keyed by the
	// element's path (or id-form key for slices inside slices)
	sliceEntries map[string][]*ElementDefinition

	// root is the first snapshot element (the type itself)
	root *ElementDefinition

	// rootType is the type name this index was built for
	rootType string
}

type choiceVariant struct {
	elem     *ElementDefinition
	typeCode string
}

// NewElementIndex creates a new empty ElementIndex.
func NewElementIndex(rootType string) *ElementIndex {
	return &ElementIndex{
		byPath:         make(map[string]*ElementDefinition, 64),
		bySlice:        make(map[string]*ElementDefinition, 8),
		choiceVariants: make(map[string]choiceVariant, 8),
		children:       make(map[string][]*ElementDefinition, 32),
		sliceEntries:   make(map[string][]*ElementDefinition, 4),
		rootType:       rootType,
	}
}

// BuildElementIndex creates an ElementIndex from a StructureDefinition
// snapshot.
func BuildElementIndex(sd *StructureDefinition) *ElementIndex {
	if sd == nil || len(sd.Snapshot) == 0 {
		return NewElementIndex("")
	}

	index := NewElementIndex(sd.Type)

	for i := range sd.Snapshot {
		elem := &sd.Snapshot[i]
		index.add(elem)
	}

	return index
}

func (idx *ElementIndex) add(elem *ElementDefinition) {
	id := elem.ID
	if id == "" {
		id = elem.Path
	}

	if idx.root == nil {
		idx.root = elem
	}

	if !strings.Contains(id, ":") {
		idx.addBase(elem)
		return
	}
	idx.addSliced(elem, id)
}

// addBase indexes an element outside any slice context.
func (idx *ElementIndex) addBase(elem *ElementDefinition) {
	path := elem.Path
	idx.setPath(path, elem)

	if parent := ParentPath(path); parent != "" {
		idx.children[parent] = append(idx.children[parent], elem)
	}

	// Index concrete choice variants for every allowed type, so a
	// restricted type does not resolve.
	if elem.IsChoice() {
		base := strings.TrimSuffix(path, "[x]")
		for _, tr := range elem.Types {
			concrete := base + UpperFirst(tr.Code)
			idx.setChoice(concrete, elem, tr.Code)
		}
	}
}

// addSliced indexes an element whose id places it inside a slice.
func (idx *ElementIndex) addSliced(elem *ElementDefinition, id string) {
	idx.setSlice(id, elem)

	parent := ParentPath(id)
	if elem.SliceName != "" && strings.HasSuffix(id, ":"+elem.SliceName) {
		// The slice entry itself: record under the element it slices.
		arrayKey := strings.TrimSuffix(id, ":"+elem.SliceName)
		idx.sliceEntries[arrayKey] = append(idx.sliceEntries[arrayKey], elem)
		return
	}

	// A child element constrained within a slice.
	if parent != "" {
		idx.children[parent] = append(idx.children[parent], elem)
	}
	if elem.IsChoice() {
		base := strings.TrimSuffix(id, "[x]")
		for _, tr := range elem.Types {
			idx.setChoice(base+UpperFirst(tr.Code), elem, tr.Code)
		}
	}
}

// setPath stores the full path and, when prefixed with the root type,
// its short form.
func (idx *ElementIndex) setPath(path string, elem *ElementDefinition) {
	if _, exists := idx.byPath[path]; !exists {
		idx.byPath[path] = elem
	}
	if short, ok := idx.shorten(path); ok {
		if _, exists := idx.byPath[short]; !exists {
			idx.byPath[short] = elem
		}
	}
}

func (idx *ElementIndex) setSlice(key string, elem *ElementDefinition) {
	if _, exists := idx.bySlice[key]; !exists {
		idx.bySlice[key] = elem
	}
	if short, ok := idx.shorten(key); ok {
		if _, exists := idx.bySlice[short]; !exists {
			idx.bySlice[short] = elem
		}
	}
}

func (idx *ElementIndex) setChoice(concrete string, elem *ElementDefinition, typeCode string) {
	if _, exists := idx.choiceVariants[concrete]; !exists {
		idx.choiceVariants[concrete] = choiceVariant{elem: elem, typeCode: typeCode}
	}
	if short, ok := idx.shorten(concrete); ok {
		if _, exists := idx.choiceVariants[short]; !exists {
			idx.choiceVariants[short] = choiceVariant{elem: elem, typeCode: typeCode}
		}
	}
}

func (idx *ElementIndex) shorten(path string) (string, bool) {
	if idx.rootType != "" && strings.HasPrefix(path, idx.rootType+".") {
		return path[len(idx.rootType)+1:], true
	}
	return "", false
}

// Get returns the ElementDefinition for a path or id-form key, or nil.
// Keys containing slice markers fall back to the unsliced base element
// when the profile does not constrain the slice's children.
func (idx *ElementIndex) Get(key string) *ElementDefinition {
	if idx == nil {
		return nil
	}

	if elem, ok := idx.byPath[key]; ok {
		return elem
	}
	if strings.Contains(key, ":") {
		if elem, ok := idx.bySlice[key]; ok {
			return elem
		}
		if elem, ok := idx.byPath[StripSliceMarkers(key)]; ok {
			return elem
		}
	}
	if v, ok := idx.choiceVariants[key]; ok {
		return v.elem
	}
	return nil
}

// ResolveChoice resolves a concrete choice path like "valueQuantity" to
// the underlying choice element and the selected type code.
func (idx *ElementIndex) ResolveChoice(key string) (*ElementDefinition, string, bool) {
	if idx == nil {
		return nil, "", false
	}
	if v, ok := idx.choiceVariants[key]; ok {
		return v.elem, v.typeCode, true
	}
	if strings.Contains(key, ":") {
		if v, ok := idx.choiceVariants[StripSliceMarkers(key)]; ok {
			return v.elem, v.typeCode, true
		}
	}
	return nil, "", false
}

// Has returns true if the key exists in the index.
func (idx *ElementIndex) Has(key string) bool {
	return idx.Get(key) != nil
}

// Children returns the direct child elements of a parent key in snapshot
// order. For slice keys without constrained children it falls back to
// the base element's children.
func (idx *ElementIndex) Children(key string) []*ElementDefinition {
	if idx == nil {
		return nil
	}
	if kids, ok := idx.children[key]; ok {
		return kids
	}
	if idx.rootType != "" && !strings.HasPrefix(key, idx.rootType+".") {
		if kids, ok := idx.children[idx.rootType+"."+key]; ok {
			return kids
		}
	}
	if strings.Contains(key, ":") {
		return idx.Children(StripSliceMarkers(key))
	}
	return nil
}

// Slices returns the slice entries defined on an element key, in
// snapshot order.
func (idx *ElementIndex) Slices(key string) []*ElementDefinition {
	if idx == nil {
		return nil
	}
	if entries, ok := idx.sliceEntries[key]; ok {
		return entries
	}
	if idx.rootType != "" && !strings.HasPrefix(key, idx.rootType+".") {
		if entries, ok := idx.sliceEntries[idx.rootType+"."+key]; ok {
			return entries
		}
	}
	return nil
}

// Slice returns the slice entry for an element key and slice name.
// Reslices use "parent/child" slice names.
func (idx *ElementIndex) Slice(key, sliceName string) *ElementDefinition {
	for _, entry := range idx.Slices(key) {
		if entry.SliceName == sliceName {
			return entry
		}
	}
	return nil
}

// Root returns the root element of the snapshot, or nil for an empty
// index.
func (idx *ElementIndex) Root() *ElementDefinition {
	if idx == nil {
		return nil
	}
	return idx.root
}

// RootType returns the type name this index was built for.
func (idx *ElementIndex) RootType() string {
	if idx == nil {
		return ""
	}
	return idx.rootType
}

// Size returns the number of indexed paths.
func (idx *ElementIndex) Size() int {
	if idx == nil {
		return 0
	}
	return len(idx.byPath)
}

// SliceKey builds the id-form key for a slice of an element:
// ("Observation.component", "SystolicBP") -> "Observation.component:SystolicBP".
func SliceKey(base, sliceName string) string {
	return base + ":" + sliceName
}

// StripSliceMarkers removes slice markers from an id-form key:
// "Observation.component:SystolicBP.code" -> "Observation.component.code".
func StripSliceMarkers(key string) string {
	if !strings.Contains(key, ":") {
		return key
	}
	segments := strings.Split(key, ".")
	for i, seg := range segments {
		if j := strings.IndexByte(seg, ':'); j >= 0 {
			segments[i] = seg[:j]
		}
	}
	return strings.Join(segments, ".")
}

// ParentPath returns the parent of a dotted path, or "" for a root path.
func ParentPath(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// LastSegment returns the last segment of a dotted path.
func LastSegment(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return path
	}
	return path[i+1:]
}
