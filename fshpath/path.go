// Package fshpath parses FHIR Shorthand assignment paths into segments.
// A path is dot-separated; each segment is an element name optionally
// followed by bracket groups selecting a named slice, a numeric index, or
// one of the soft indices [+] and [=]. Resolution against a schema happens
// later; this package only produces the syntactic form.
package fshpath

import (
	"fmt"
	"strconv"
	"strings"
)

// IndexKind says how a segment addresses its position within an array.
type IndexKind int

const (
	// IndexNone means no index was written: the next unfilled position.
	IndexNone IndexKind = iota
	// IndexExplicit means a numeric index was written.
	IndexExplicit
	// IndexAppend is the soft index [+]: always a new position.
	IndexAppend
	// IndexSame is the soft index [=]: the position [+] or an explicit
	// index last addressed on this array.
	IndexSame
)

func (k IndexKind) String() string {
	switch k {
	case IndexNone:
		return "none"
	case IndexExplicit:
		return "explicit"
	case IndexAppend:
		return "append"
	case IndexSame:
		return "same"
	}
	return fmt.Sprintf("IndexKind(%d)", int(k))
}

// Segment is one dot-separated step of a path.
type Segment struct {
	// Name is the element name. For choice elements the concrete form is
	// used in instance paths (valueQuantity); the generic form keeps its
	// [x] suffix as part of the name (value[x]).
	Name string
	// Slices lists bracket slice names in order; more than one entry
	// addresses a reslice (item[sliceA][resliceB]).
	Slices []string
	// Kind and Index give the position within the addressed array.
	// Index is meaningful only when Kind is IndexExplicit.
	Kind  IndexKind
	Index int
}

// IsChoice reports whether the segment names a generic choice element.
func (s Segment) IsChoice() bool {
	return strings.HasSuffix(s.Name, "[x]")
}

// String reconstructs the segment's canonical text.
func (s Segment) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, sl := range s.Slices {
		b.WriteByte('[')
		b.WriteString(sl)
		b.WriteByte(']')
	}
	switch s.Kind {
	case IndexExplicit:
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(s.Index))
		b.WriteByte(']')
	case IndexAppend:
		b.WriteString("[+]")
	case IndexSame:
		b.WriteString("[=]")
	}
	return b.String()
}

// Path is a parsed assignment path.
type Path []Segment

// String reconstructs the path's canonical text.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// ParseError describes a malformed path.
type ParseError struct {
	Path string
	Pos  int // byte offset of the offending character
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed path %q at offset %d: %s", e.Path, e.Pos, e.Msg)
}

// Parse parses raw into a Path. The returned error is always a *ParseError.
func Parse(raw string) (Path, error) {
	if raw == "" {
		return nil, &ParseError{Path: raw, Pos: 0, Msg: "empty path"}
	}
	var path Path
	pos := 0
	for _, part := range splitSegments(raw) {
		seg, err := parseSegment(raw, part, pos)
		if err != nil {
			return nil, err
		}
		path = append(path, seg)
		pos += len(part) + 1 // account for the dot
	}
	return path, nil
}

// MustParse is Parse for statically known paths; it panics on error.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// splitSegments splits on dots that are outside bracket groups. Slice
// names may not contain dots, but splitting bracket-aware keeps error
// positions honest when they do appear.
func splitSegments(raw string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case '.':
			if depth == 0 {
				parts = append(parts, raw[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, raw[start:])
	return parts
}

func parseSegment(raw, part string, base int) (Segment, error) {
	if part == "" {
		return Segment{}, &ParseError{Path: raw, Pos: base, Msg: "empty segment"}
	}

	nameEnd := strings.IndexByte(part, '[')
	if nameEnd == -1 {
		nameEnd = len(part)
	}
	name := part[:nameEnd]
	if name == "" {
		return Segment{}, &ParseError{Path: raw, Pos: base, Msg: "segment has no element name"}
	}
	if err := checkName(raw, name, base); err != nil {
		return Segment{}, err
	}

	seg := Segment{Name: name}
	rest := part[nameEnd:]
	off := base + nameEnd
	first := true
	for len(rest) > 0 {
		if rest[0] != '[' {
			return Segment{}, &ParseError{Path: raw, Pos: off, Msg: "expected '['"}
		}
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return Segment{}, &ParseError{Path: raw, Pos: off, Msg: "unterminated bracket group"}
		}
		group := rest[1:end]
		if seg.Kind != IndexNone {
			return Segment{}, &ParseError{Path: raw, Pos: off, Msg: "index must be the last bracket group"}
		}
		switch {
		case group == "":
			return Segment{}, &ParseError{Path: raw, Pos: off, Msg: "empty bracket group"}
		case group == "x" && first:
			// Choice marker: part of the name, not a slice.
			seg.Name += "[x]"
		case group == "+":
			seg.Kind = IndexAppend
		case group == "=":
			seg.Kind = IndexSame
		case allDigits(group):
			n, err := strconv.Atoi(group)
			if err != nil {
				return Segment{}, &ParseError{Path: raw, Pos: off, Msg: "index out of range"}
			}
			seg.Kind = IndexExplicit
			seg.Index = n
		default:
			if strings.ContainsAny(group, "[.") {
				return Segment{}, &ParseError{Path: raw, Pos: off, Msg: "invalid character in slice name"}
			}
			seg.Slices = append(seg.Slices, group)
		}
		rest = rest[end+1:]
		off += end + 1
		first = false
	}
	return seg, nil
}

func checkName(raw, name string, pos int) error {
	for i := 0; i < len(name); i++ {
		c := name[i]
		ok := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' ||
			(i > 0 && c >= '0' && c <= '9')
		if !ok {
			return &ParseError{Path: raw, Pos: pos + i, Msg: fmt.Sprintf("invalid character %q in element name", c)}
		}
	}
	return nil
}

// allDigits reports whether s is one or more ASCII digits. Zero-padded
// forms like 007 are accepted and mean the same index as 7.
func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
