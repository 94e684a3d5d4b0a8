package name

import "strings"

// CompressionContext tracks where each name (or name suffix) was first
// written in an in-progress DNS message, so subsequent occurrences can be
// emitted as a two-byte pointer instead of being spelled out again.
//
// It is not safe for concurrent use; callers hold one per message being
// built.
type CompressionContext struct {
	// offsets maps a lowercased, dot-joined label suffix (e.g.
	// "example.com") to the wire offset at which it was first written.
	offsets map[string]int
}

// NewCompressionContext returns an empty context.
func NewCompressionContext() *CompressionContext {
	return &CompressionContext{offsets: make(map[string]int)}
}

// Lookup reports the offset of the longest suffix of n previously
// recorded within the 14-bit pointer range. uncovered is the number of
// n's leading labels that are not part of that suffix and so must still
// be spelled out verbatim before the two-byte pointer.
func (c *CompressionContext) Lookup(n *Name) (offset int, uncovered int, ok bool) {
	labels := n.Labels()
	for start := 0; start < len(labels); start++ {
		if off, found := c.offsets[suffixKey(labels[start:])]; found && off <= MaxPointerOffset {
			return off, start, true
		}
	}
	return 0, 0, false
}

// Insert records that n's full wire form was written starting at offset,
// registering an entry for every suffix of n (not just n as a whole) so
// a later name sharing any of those suffixes can compress against it.
// Only the first offset recorded for a suffix is kept; if it lies
// beyond the pointer range, Lookup skips that suffix.
func (c *CompressionContext) Insert(n *Name, offset int) {
	c.insertLabels(n.Labels(), offset)
}

// InsertPartial records suffixes the same way Insert does, but only for
// the first labelCount labels of n. Use this when only a prefix of n was
// written verbatim (the rest having been compressed to a pointer), so
// suffixes that were never actually written at offset are not claimed.
func (c *CompressionContext) InsertPartial(n *Name, offset int, labelCount int) {
	labels := n.Labels()
	if labelCount > len(labels) {
		labelCount = len(labels)
	}
	c.insertLabels(labels[:labelCount], offset)
}

func (c *CompressionContext) insertLabels(labels [][]byte, offset int) {
	pos := offset
	for start := 0; start < len(labels); start++ {
		key := suffixKey(labels[start:])
		if _, exists := c.offsets[key]; !exists {
			c.offsets[key] = pos
		}
		pos += 1 + len(labels[start])
	}
}

func suffixKey(labels [][]byte) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = strings.ToLower(string(l))
	}
	return strings.Join(parts, ".")
}
