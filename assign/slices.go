package assign

import "strings"

// Slice occupancy. A sliced element is one physical JSON array whose
// items belong to named partitions (or to the unsliced remainder).
// Membership is tracked per item as a slice chain: "sliceA" for a plain
// slice, "sliceA/resliceB" for a reslice. An item of a reslice is also a
// member of the parent slice's partition.

// chainMember reports whether an item recorded under member belongs to
// the partition named by chain.
func chainMember(member, chain string) bool {
	return member == chain || strings.HasPrefix(member, chain+"/")
}

// SliceOf returns the slice chain the i-th item belongs to, "" for the
// remainder.
func (n *Node) SliceOf(i int) string {
	if n == nil || i < 0 || i >= len(n.membership) {
		return ""
	}
	return n.membership[i]
}

// RecordSlice assigns the i-th item to a slice chain.
func (n *Node) RecordSlice(i int, chain string) {
	if i >= 0 && i < len(n.membership) {
		n.membership[i] = chain
	}
}

// SliceIndices returns the physical indices of a partition in array
// order. The empty chain names the unsliced remainder, which excludes
// every slice member.
func (n *Node) SliceIndices(chain string) []int {
	if n == nil {
		return nil
	}
	var out []int
	for i, member := range n.membership {
		if chain == "" {
			if member == "" {
				out = append(out, i)
			}
			continue
		}
		if chainMember(member, chain) {
			out = append(out, i)
		}
	}
	return out
}

// SliceLen returns the number of items in a partition.
func (n *Node) SliceLen(chain string) int {
	return len(n.SliceIndices(chain))
}

// SliceItem returns the item at position i within a partition, with its
// physical index, or (nil, -1) when the partition is shorter.
func (n *Node) SliceItem(chain string, i int) (*Node, int) {
	indices := n.SliceIndices(chain)
	if i < 0 || i >= len(indices) {
		return nil, -1
	}
	phys := indices[i]
	return n.items[phys], phys
}

// AppendToSlice adds a fresh item at the physical end of the array and
// records it as a member of the chain. Partitions grow at the array end,
// so slices interleave in the order they are first touched.
func (n *Node) AppendToSlice(chain string) (*Node, int) {
	item := n.Append()
	phys := len(n.items) - 1
	n.membership[phys] = chain
	return item, phys
}

// SliceFirstUnfilled returns the partition-relative and physical index
// of the first empty item in a partition, or (-1, -1).
func (n *Node) SliceFirstUnfilled(chain string) (rel, phys int) {
	for r, p := range n.SliceIndices(chain) {
		if n.items[p].IsEmpty() {
			return r, p
		}
	}
	return -1, -1
}
