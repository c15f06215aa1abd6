// Package assign holds the mutable document tree an export builds up
// rule by rule: ordered object nodes, dense arrays with slice occupancy
// bookkeeping, scalar leaves, and the merge rules that reconcile rule
// values with schema fixed/pattern content.
package assign

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// PosUnknown orders a key after every schema-positioned key. Children
// created without schema knowledge (pattern content, caret metadata)
// keep their insertion order at the end.
const PosUnknown = 1 << 30

// PosFirst orders a key ahead of every schema element. The exporter uses
// it for resourceType.
const PosFirst = -1

// Node is one vertex of the in-progress document: an object with ordered
// children, a dense array of items, or a scalar leaf. A fresh node is
// empty and commits to a shape on first use.
type Node struct {
	children map[string]*childEntry
	keys     []string // insertion order

	items      []*Node
	isArray    bool
	membership []string // per item: slice chain, "" for the remainder
	lastIndex  int      // last item index addressed, -1 before any

	value    any
	hasValue bool

	exact bool
}

type childEntry struct {
	node *Node
	pos  int
	seq  int
}

// NewNode returns an empty node.
func NewNode() *Node {
	return &Node{lastIndex: -1}
}

// NewValue returns a leaf node holding v.
func NewValue(v any) *Node {
	n := NewNode()
	n.SetValue(v)
	return n
}

// NewArray returns a node committed to array shape.
func NewArray() *Node {
	n := NewNode()
	n.isArray = true
	return n
}

// IsArray reports whether the node holds array items.
func (n *Node) IsArray() bool { return n != nil && n.isArray }

// IsObject reports whether the node holds object children.
func (n *Node) IsObject() bool { return n != nil && n.children != nil }

// HasValue reports whether the node is a populated leaf.
func (n *Node) HasValue() bool { return n != nil && n.hasValue }

// Value returns the leaf value, nil for non-leaves.
func (n *Node) Value() any {
	if n == nil || !n.hasValue {
		return nil
	}
	return n.value
}

// SetValue makes the node a leaf holding v.
func (n *Node) SetValue(v any) {
	n.value = v
	n.hasValue = true
}

// MarkExact closes the node and everything beneath it: later merges may
// restate the value but never extend or contradict it.
func (n *Node) MarkExact() {
	n.exact = true
	for _, key := range n.keys {
		n.children[key].node.MarkExact()
	}
	for _, item := range n.items {
		item.MarkExact()
	}
}

// IsExact reports whether the node's value is closed to extension.
func (n *Node) IsExact() bool { return n != nil && n.exact }

// IsEmpty reports whether nothing has been assigned at or below the node.
// Empty nodes are pruned from object output and render as null inside
// arrays.
func (n *Node) IsEmpty() bool {
	if n == nil {
		return true
	}
	if n.hasValue {
		return false
	}
	for _, key := range n.keys {
		if !n.children[key].node.IsEmpty() {
			return false
		}
	}
	for _, item := range n.items {
		if !item.IsEmpty() {
			return false
		}
	}
	return true
}

// Child returns the named child, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil || n.children == nil {
		return nil
	}
	if e, ok := n.children[name]; ok {
		return e.node
	}
	return nil
}

// EnsureChild returns the named child, creating an empty one at the given
// schema position if absent. An existing child keeps its original
// position.
func (n *Node) EnsureChild(name string, pos int) *Node {
	if e, ok := n.children[name]; ok {
		return e.node
	}
	child := NewNode()
	n.SetChild(name, pos, child)
	return child
}

// SetChild inserts or replaces the named child. Replacing keeps the
// original insertion point and position.
func (n *Node) SetChild(name string, pos int, child *Node) {
	if n.children == nil {
		n.children = make(map[string]*childEntry, 8)
	}
	if e, ok := n.children[name]; ok {
		e.node = child
		return
	}
	n.children[name] = &childEntry{node: child, pos: pos, seq: len(n.keys)}
	n.keys = append(n.keys, name)
}

// Keys returns the object keys in insertion order.
func (n *Node) Keys() []string {
	if n == nil {
		return nil
	}
	return n.keys
}

// ChildPos returns the schema position recorded for a child, or
// PosUnknown.
func (n *Node) ChildPos(name string) int {
	if n == nil || n.children == nil {
		return PosUnknown
	}
	if e, ok := n.children[name]; ok {
		return e.pos
	}
	return PosUnknown
}

// Len returns the number of array items.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	return len(n.items)
}

// Item returns the i-th array item, or nil when out of range.
func (n *Node) Item(i int) *Node {
	if n == nil || i < 0 || i >= len(n.items) {
		return nil
	}
	return n.items[i]
}

// EnsureItem grows the array densely up to index i and returns the item
// there. Gap items are empty nodes; they render as null if never filled.
func (n *Node) EnsureItem(i int) *Node {
	n.isArray = true
	for len(n.items) <= i {
		n.items = append(n.items, NewNode())
		n.membership = append(n.membership, "")
	}
	n.lastIndex = i
	return n.items[i]
}

// Append adds a fresh empty item and returns it.
func (n *Node) Append() *Node {
	item := NewNode()
	n.AppendNode(item)
	return item
}

// AppendNode adds an existing node as a new item and returns its index.
func (n *Node) AppendNode(item *Node) int {
	n.isArray = true
	n.items = append(n.items, item)
	n.membership = append(n.membership, "")
	n.lastIndex = len(n.items) - 1
	return n.lastIndex
}

// FirstUnfilled returns the index of the first empty item, or -1 when
// every item is populated.
func (n *Node) FirstUnfilled() int {
	for i, item := range n.items {
		if item.IsEmpty() {
			return i
		}
	}
	return -1
}

// LastIndex returns the item index most recently addressed through
// EnsureItem, Append, or Touch, or -1.
func (n *Node) LastIndex() int {
	if n == nil {
		return -1
	}
	return n.lastIndex
}

// Touch records i as the most recently addressed index.
func (n *Node) Touch(i int) {
	if i >= 0 && i < len(n.items) {
		n.lastIndex = i
	}
}

// Clone deep-copies the node. Grafting a finished document into another
// always works on a clone so the memoized original stays immutable.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		isArray:   n.isArray,
		value:     cloneValue(n.value),
		hasValue:  n.hasValue,
		exact:     n.exact,
		lastIndex: n.lastIndex,
	}
	if n.children != nil {
		out.children = make(map[string]*childEntry, len(n.children))
		out.keys = append([]string(nil), n.keys...)
		for name, e := range n.children {
			out.children[name] = &childEntry{node: e.node.Clone(), pos: e.pos, seq: e.seq}
		}
	}
	if n.items != nil {
		out.items = make([]*Node, len(n.items))
		for i, item := range n.items {
			out.items[i] = item.Clone()
		}
		out.membership = append([]string(nil), n.membership...)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// orderedKeys returns object keys sorted by schema position. Ties keep
// insertion order, except that a primitive's "_name" companion always
// follows its "name" sibling.
func (n *Node) orderedKeys() []string {
	keys := append([]string(nil), n.keys...)
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := n.children[keys[i]], n.children[keys[j]]
		if a.pos != b.pos {
			return a.pos < b.pos
		}
		au, bu := strings.HasPrefix(keys[i], "_"), strings.HasPrefix(keys[j], "_")
		if au != bu {
			return bu
		}
		return a.seq < b.seq
	})
	return keys
}

// MarshalJSON renders the node: leaves as their scalar, arrays densely
// with null for unfilled items, objects with keys in schema order and
// empty children pruned.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	if n.hasValue {
		return json.Marshal(n.value)
	}
	if n.isArray {
		return n.marshalArray()
	}
	return n.marshalObject()
}

func (n *Node) marshalArray() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range n.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		if item.IsEmpty() {
			buf.WriteString("null")
			continue
		}
		b, err := item.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (n *Node) marshalObject() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, key := range n.orderedKeys() {
		child := n.children[key].node
		if child.IsEmpty() {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := child.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
