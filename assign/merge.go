package assign

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/shopspring/decimal"
)

// PosFunc resolves a key path, dot-joined and relative to the node being
// merged into, to a schema position for output ordering. nil leaves new
// keys at PosUnknown.
type PosFunc func(relPath string) int

// ConflictError reports an incoming value that contradicts one already
// in the tree. The earlier value always stands.
type ConflictError struct {
	// Path locates the conflicting part relative to the merged node,
	// "" when the node itself conflicts.
	Path     string
	Existing any
	Incoming any
}

func (e *ConflictError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("value %v conflicts with existing value %v", e.Incoming, e.Existing)
	}
	return fmt.Sprintf("value %v at %q conflicts with existing value %v", e.Incoming, e.Path, e.Existing)
}

// toDecimal interprets a value as a number. JSON numbers arrive as
// json.Number; pattern content decoded elsewhere may carry native ints
// or floats.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch v := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case float64:
		return decimal.NewFromFloat(v), true
	}
	return decimal.Decimal{}, false
}

// Equal reports deep value equality. Numbers compare numerically, so 1,
// 1.0, and 1.00 are the same value regardless of lexical form.
func Equal(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	if da, ok := toDecimal(a); ok {
		db, ok := toDecimal(b)
		return ok && da.Equal(db)
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, aval := range av {
			bval, ok := bv[key]
			if !ok || !Equal(aval, bval) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

// Interface converts the subtree to plain Go values: scalars for leaves,
// []any for arrays with nil for unfilled items, map[string]any for
// objects with empty children dropped. Key order is lost; the result is
// for comparison and inspection, not output.
func (n *Node) Interface() any {
	if n == nil {
		return nil
	}
	if n.hasValue {
		return n.value
	}
	if n.isArray {
		out := make([]any, len(n.items))
		for i, item := range n.items {
			if !item.IsEmpty() {
				out[i] = item.Interface()
			}
		}
		return out
	}
	if n.children == nil {
		return nil
	}
	out := make(map[string]any, len(n.children))
	for _, key := range n.keys {
		child := n.children[key].node
		if !child.IsEmpty() {
			out[key] = child.Interface()
		}
	}
	return out
}

// MergeValue merges a rule value into the node under superset
// refinement: new keys extend, equal values restate, any contradiction
// rejects the whole value with no partial write.
func MergeValue(n *Node, v any, pos PosFunc) *ConflictError {
	if c := checkMerge(n, v, ""); c != nil {
		return c
	}
	applyValue(n, v, "", pos)
	return nil
}

// CheckMerge reports the first conflict merging v into the node would
// hit, without writing anything.
func CheckMerge(n *Node, v any) *ConflictError {
	return checkMerge(n, v, "")
}

// Shape predicates. Empty nodes are shapeless: intermediate nodes left
// behind by a rejected rule never block a later value of another kind.

func (n *Node) committedObject() bool {
	return !n.hasValue && !n.isArray && n.children != nil && !n.IsEmpty()
}

func (n *Node) committedArray() bool {
	return n.isArray && !n.IsEmpty()
}

func checkMerge(n *Node, v any, base string) *ConflictError {
	switch val := v.(type) {
	case map[string]any:
		if n.hasValue || n.committedArray() {
			return &ConflictError{Path: base, Existing: n.Interface(), Incoming: v}
		}
		for _, key := range sortedKeys(val) {
			child := n.Child(key)
			if child == nil || child.IsEmpty() {
				if n.exact {
					return &ConflictError{Path: joinPath(base, key), Existing: nil, Incoming: val[key]}
				}
				continue
			}
			if c := checkMerge(child, val[key], joinPath(base, key)); c != nil {
				return c
			}
		}
		return nil

	case []any:
		if n.hasValue || n.committedObject() {
			return &ConflictError{Path: base, Existing: n.Interface(), Incoming: v}
		}
		for i, item := range val {
			if i >= n.Len() || n.items[i].IsEmpty() {
				if n.exact {
					return &ConflictError{Path: base, Existing: n.Interface(), Incoming: v}
				}
				continue
			}
			if c := checkMerge(n.items[i], item, base); c != nil {
				return c
			}
		}
		return nil

	default:
		if n.committedArray() || n.committedObject() {
			return &ConflictError{Path: base, Existing: n.Interface(), Incoming: v}
		}
		if n.hasValue && !Equal(n.value, val) {
			return &ConflictError{Path: base, Existing: n.value, Incoming: val}
		}
		return nil
	}
}

// applyValue writes v into n. Conflicts must have been ruled out first;
// existing equal values are kept, so the first-assigned lexical form of
// a number survives.
func applyValue(n *Node, v any, base string, pos PosFunc) {
	switch val := v.(type) {
	case map[string]any:
		for _, key := range sortedKeys(val) {
			child := n.EnsureChild(key, posAt(pos, joinPath(base, key)))
			applyValue(child, val[key], joinPath(base, key), pos)
		}

	case []any:
		for i, item := range val {
			applyValue(n.EnsureItem(i), item, base, pos)
		}

	default:
		if !n.hasValue {
			n.SetValue(val)
		}
	}
}

// MergePattern merges schema-mandated content into the node. Pattern
// content supplies per-key defaults: missing keys materialize, equal
// values restate. On contradiction the user's value always stands; with
// fixed true the contradiction is reported, otherwise the default loses
// silently. The first conflict is returned, compatible keys merge either
// way.
func MergePattern(n *Node, pattern any, fixed bool, pos PosFunc) *ConflictError {
	return mergePattern(n, pattern, fixed, "", pos)
}

func mergePattern(n *Node, pattern any, fixed bool, base string, pos PosFunc) *ConflictError {
	var conflict *ConflictError
	keep := func(c *ConflictError) {
		if fixed && conflict == nil {
			conflict = c
		}
	}

	switch pat := pattern.(type) {
	case map[string]any:
		if n.hasValue || n.committedArray() {
			keep(&ConflictError{Path: base, Existing: n.Interface(), Incoming: pattern})
			return conflict
		}
		for _, key := range sortedKeys(pat) {
			child := n.Child(key)
			if child == nil || child.IsEmpty() {
				if n.exact {
					keep(&ConflictError{Path: joinPath(base, key), Existing: nil, Incoming: pat[key]})
					continue
				}
				child = n.EnsureChild(key, posAt(pos, joinPath(base, key)))
			}
			if c := mergePattern(child, pat[key], fixed, joinPath(base, key), pos); c != nil {
				keep(c)
			}
		}
		return conflict

	case []any:
		if n.hasValue || n.committedObject() {
			keep(&ConflictError{Path: base, Existing: n.Interface(), Incoming: pattern})
			return conflict
		}
		for i, item := range pat {
			var target *Node
			if i < n.Len() && !n.items[i].IsEmpty() {
				target = n.items[i]
			} else {
				if n.exact {
					keep(&ConflictError{Path: base, Existing: n.Interface(), Incoming: pattern})
					continue
				}
				target = n.EnsureItem(i)
			}
			if c := mergePattern(target, item, fixed, base, pos); c != nil {
				keep(c)
			}
		}
		return conflict

	default:
		if n.committedArray() || n.committedObject() {
			keep(&ConflictError{Path: base, Existing: n.Interface(), Incoming: pattern})
			return conflict
		}
		if !n.hasValue {
			n.SetValue(pat)
			return nil
		}
		if !Equal(n.value, pat) {
			keep(&ConflictError{Path: base, Existing: n.value, Incoming: pat})
		}
		return conflict
	}
}

func posAt(pos PosFunc, relPath string) int {
	if pos == nil {
		return PosUnknown
	}
	return pos(relPath)
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

// sortedKeys keeps map iteration deterministic. Output order comes from
// schema positions, not from this.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
