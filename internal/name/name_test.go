package name

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndString(t *testing.T) {
	n, err := New("www", "example", "com")
	require.NoError(t, err)
	assert.Equal(t, "www.example.com.", n.String())
	assert.Equal(t, 17, n.Size())
}

func TestRoot(t *testing.T) {
	r := Root()
	assert.True(t, r.IsRoot())
	assert.Equal(t, ".", r.String())
}

func TestNewRejectsOversizedLabel(t *testing.T) {
	big := make([]byte, MaxLabelLength+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err := New(string(big))
	assert.Error(t, err)
}

func buildMessage(t *testing.T, names ...string) ([]byte, []int) {
	t.Helper()
	var msg []byte
	var offsets []int
	for _, presentation := range names {
		offsets = append(offsets, len(msg))
		n, err := New(splitLabels(presentation)...)
		require.NoError(t, err)
		msg = append(msg, n.Wire()...)
	}
	return msg, offsets
}

func splitLabels(s string) []string {
	if s == "" {
		return nil
	}
	var labels []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			labels = append(labels, s[start:i])
			start = i + 1
		}
	}
	return labels
}

func TestParseUncompressed(t *testing.T) {
	msg, offsets := buildMessage(t, "www.example.com")
	n, end, err := Parse(msg, offsets[0])
	require.NoError(t, err)
	assert.Equal(t, "www.example.com.", n.String())
	assert.Equal(t, len(msg), end)
}

func TestParseFollowsPointer(t *testing.T) {
	msg, offsets := buildMessage(t, "example.com")
	base := offsets[0]

	// Append "www" + a pointer back to "example.com".
	ptrPos := len(msg)
	msg = append(msg, 3, 'w', 'w', 'w')
	msg = append(msg, byte(0xC0|(base>>8)), byte(base&0xFF))

	n, end, err := Parse(msg, ptrPos)
	require.NoError(t, err)
	assert.Equal(t, "www.example.com.", n.String())
	assert.Equal(t, ptrPos+4+2, end)
}

func TestParseRejectsForwardPointer(t *testing.T) {
	msg := []byte{0xC0, 0x05, 0, 0, 0, 0}
	_, _, err := Parse(msg, 0)
	assert.Error(t, err)
}

func TestParseRejectsPointerLoop(t *testing.T) {
	msg := []byte{0xC0, 0x00}
	_, _, err := Parse(msg, 0)
	assert.Error(t, err)
}

func TestParseRejectsTruncatedLabel(t *testing.T) {
	msg := []byte{5, 'a', 'b'}
	_, _, err := Parse(msg, 0)
	assert.Error(t, err)
}

func TestEqualFoldCaseInsensitive(t *testing.T) {
	a, err := New("WWW", "Example", "COM")
	require.NoError(t, err)
	b, err := New("www", "example", "com")
	require.NoError(t, err)
	assert.True(t, a.EqualFold(b))
}

func TestCanonCmpOrdersByRightmostLabel(t *testing.T) {
	a, err := New("a", "example", "com")
	require.NoError(t, err)
	b, err := New("b", "example", "com")
	require.NoError(t, err)
	assert.Equal(t, -1, a.CanonCmp(b))
	assert.Equal(t, 1, b.CanonCmp(a))
	assert.Equal(t, 0, a.CanonCmp(a))
}

func TestCanonCmpShorterPrefixSortsFirst(t *testing.T) {
	short, err := New("example", "com")
	require.NoError(t, err)
	long, err := New("www", "example", "com")
	require.NoError(t, err)
	assert.Equal(t, -1, short.CanonCmp(long))
}

func TestRetainReleasePanicsOnOveruse(t *testing.T) {
	n, err := New("example", "com")
	require.NoError(t, err)
	n.Release()
	assert.Panics(t, func() { n.Release() })
}

func TestCloneIsUnaliased(t *testing.T) {
	n, err := New("www", "example", "com")
	require.NoError(t, err)

	c := n.Clone()
	assert.NotSame(t, n, c)
	assert.True(t, n.EqualFold(c))

	n.Release()
	assert.NotPanics(t, func() { c.Release() })
}

func TestCompressionContextRoundTrip(t *testing.T) {
	c := NewCompressionContext()
	n, err := New("www", "example", "com")
	require.NoError(t, err)

	_, _, ok := c.Lookup(n)
	assert.False(t, ok)

	c.Insert(n, 12)
	off, uncovered, ok := c.Lookup(n)
	require.True(t, ok)
	assert.Equal(t, 12, off)
	assert.Equal(t, 0, uncovered)
}

func TestCompressionContextOutOfRangeOffsetNotUsable(t *testing.T) {
	c := NewCompressionContext()
	n, err := New("www", "example", "com")
	require.NoError(t, err)

	c.Insert(n, MaxPointerOffset+1)
	_, _, ok := c.Lookup(n)
	assert.False(t, ok)
}

func TestCompressionContextMatchesSuffixOfLongerName(t *testing.T) {
	c := NewCompressionContext()
	parent, err := New("example", "com")
	require.NoError(t, err)
	child, err := New("www", "example", "com")
	require.NoError(t, err)

	c.Insert(parent, 20)

	off, uncovered, ok := c.Lookup(child)
	require.True(t, ok)
	assert.Equal(t, 20, off)
	assert.Equal(t, 1, uncovered) // "www" is not covered by the "example.com." suffix
}

func TestCompressionContextInsertRegistersEverySuffix(t *testing.T) {
	c := NewCompressionContext()
	n, err := New("www", "example", "com")
	require.NoError(t, err)
	c.Insert(n, 0)

	sibling, err := New("mail", "example", "com")
	require.NoError(t, err)
	off, uncovered, ok := c.Lookup(sibling)
	require.True(t, ok)
	assert.Equal(t, 4, off) // offset of "example.com." within n's wire form (after the 4-byte "www" label)
	assert.Equal(t, 1, uncovered)
}
