// Package pool provides pooled helpers for assembling element paths.
// Export builds a path string for every node it touches and every
// diagnostic it emits; the shared builder keeps that off the allocator.
package pool

import (
	"strconv"
	"sync"
)

// PathBuilder accumulates dotted path segments and array indexes in a
// reusable byte buffer.
type PathBuilder struct {
	buf []byte
}

var pathBuilderPool = sync.Pool{
	New: func() any {
		return &PathBuilder{buf: make([]byte, 0, 256)}
	},
}

// AcquirePathBuilder gets an empty PathBuilder from the pool.
// Call Release when done.
func AcquirePathBuilder() *PathBuilder {
	pb := pathBuilderPool.Get().(*PathBuilder)
	pb.Reset()
	return pb
}

// Release returns the PathBuilder to the pool. Oversized buffers are
// dropped instead of pooled.
func (b *PathBuilder) Release() {
	if b == nil {
		return
	}
	if cap(b.buf) <= 4096 {
		pathBuilderPool.Put(b)
	}
}

// Reset clears the buffer without deallocating.
func (b *PathBuilder) Reset() {
	b.buf = b.buf[:0]
}

// WriteString appends a string verbatim.
func (b *PathBuilder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// Append appends segments joined by dots.
func (b *PathBuilder) Append(parts ...string) {
	for i, part := range parts {
		if i > 0 && len(b.buf) > 0 {
			b.buf = append(b.buf, '.')
		}
		b.buf = append(b.buf, part...)
	}
}

// AppendWithDot appends one segment, dotted unless the buffer is empty.
func (b *PathBuilder) AppendWithDot(part string) {
	if len(b.buf) > 0 {
		b.buf = append(b.buf, '.')
	}
	b.buf = append(b.buf, part...)
}

// AppendIndex appends an array index in brackets.
func (b *PathBuilder) AppendIndex(index int) {
	b.buf = append(b.buf, '[')
	b.buf = strconv.AppendInt(b.buf, int64(index), 10)
	b.buf = append(b.buf, ']')
}

// String returns the built path.
func (b *PathBuilder) String() string {
	return string(b.buf)
}

// JoinPath joins path segments with dots.
func JoinPath(segments ...string) string {
	if len(segments) == 0 {
		return ""
	}
	if len(segments) == 1 {
		return segments[0]
	}

	pb := AcquirePathBuilder()
	defer pb.Release()
	pb.Append(segments...)
	return pb.String()
}

// AppendArrayIndex appends an array index to a base path.
func AppendArrayIndex(base string, index int) string {
	pb := AcquirePathBuilder()
	defer pb.Release()
	pb.WriteString(base)
	pb.AppendIndex(index)
	return pb.String()
}
