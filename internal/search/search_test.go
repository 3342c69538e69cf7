package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lfreist/xsearch/internal/chunk"
)

func expectedOffsets(content, pattern string) []int {
	var out []int
	from := 0
	for {
		idx := strings.Index(content[from:], pattern)
		if idx < 0 {
			return out
		}
		out = append(out, from+idx)
		from += idx + len(pattern)
	}
}

func expectedLineOffsetsAndIndices(lines []string, pattern string) (offsets []int, indices []int) {
	pos := 0
	for i, l := range lines {
		if strings.Contains(l, pattern) {
			offsets = append(offsets, pos)
			indices = append(indices, i)
		}
		pos += len(l) + 1 // +1 for the joining '\n'
	}
	return
}

func buildTestChunk(content string) *chunk.Chunk {
	return chunk.NewOwnedFrom([]byte(content), chunk.Meta{
		LineMapping: []chunk.LineAnchor{{GlobalByteOffset: 0, GlobalLineIndex: 0}},
	})
}

func testLines() []string {
	return []string{
		"over the hill",
		"no match here",
		"over and over",
		"nothing",
		"overcoat over",
	}
}

func TestMatchCounter(t *testing.T) {
	lines := testLines()
	content := strings.Join(lines, "\n") + "\n"
	c := buildTestChunk(content)

	m, err := Compile("over", Options{})
	require.NoError(t, err)
	got, err := NewMatchCounter(m).Search(c)
	require.NoError(t, err)
	require.Equal(t, uint64(strings.Count(content, "over")), got.Count)
}

func TestLineCounter(t *testing.T) {
	lines := testLines()
	content := strings.Join(lines, "\n") + "\n"
	c := buildTestChunk(content)

	m, err := Compile("over", Options{})
	require.NoError(t, err)
	got, err := NewLineCounter(m).Search(c)
	require.NoError(t, err)

	wantLines := 0
	for _, l := range lines {
		if strings.Contains(l, "over") {
			wantLines++
		}
	}
	require.Equal(t, uint64(wantLines), got.Count)
}

func TestMatchByteOffsetSearcher(t *testing.T) {
	lines := testLines()
	content := strings.Join(lines, "\n") + "\n"
	c := buildTestChunk(content)

	m, err := Compile("over", Options{})
	require.NoError(t, err)
	got, err := NewMatchByteOffsetSearcher(m).Search(c)
	require.NoError(t, err)

	want := expectedOffsets(content, "over")
	require.Len(t, got.Values, len(want))
	for i, w := range want {
		require.Equal(t, uint64(w), got.Values[i])
	}
}

func TestLineByteOffsetAndIndexSearchers(t *testing.T) {
	lines := testLines()
	content := strings.Join(lines, "\n") + "\n"
	c := buildTestChunk(content)

	m, err := Compile("over", Options{})
	require.NoError(t, err)

	wantOffsets, wantIndices := expectedLineOffsetsAndIndices(lines, "over")

	gotOffsets, err := NewLineByteOffsetSearcher(m).Search(c)
	require.NoError(t, err)
	require.Len(t, gotOffsets.Values, len(wantOffsets))
	for i, w := range wantOffsets {
		require.Equal(t, uint64(w), gotOffsets.Values[i])
	}

	gotIndices, err := NewLineIndexSearcher(m).Search(c)
	require.NoError(t, err)
	require.Len(t, gotIndices.Values, len(wantIndices))
	for i, w := range wantIndices {
		require.Equal(t, uint64(w), gotIndices.Values[i])
	}
}

func TestLineIndexSearcherRequiresLineMapping(t *testing.T) {
	c := chunk.NewOwnedFrom([]byte("over\n"), chunk.Meta{})
	m, err := Compile("over", Options{})
	require.NoError(t, err)
	_, err = NewLineIndexSearcher(m).Search(c)
	require.Error(t, err)
}

func TestLineSearcher(t *testing.T) {
	lines := testLines()
	content := strings.Join(lines, "\n") + "\n"
	c := buildTestChunk(content)

	m, err := Compile("over", Options{})
	require.NoError(t, err)
	got, err := NewLineSearcher(m).Search(c)
	require.NoError(t, err)

	var want []string
	for _, l := range lines {
		if strings.Contains(l, "over") {
			want = append(want, l)
		}
	}
	require.Equal(t, want, got.Lines)
}

func TestRegexCaseInsensitive(t *testing.T) {
	content := "Over the hill\nover again\nOVER and out\n"
	c := buildTestChunk(content)

	m, err := Compile("over", Options{Regex: true, IgnoreCase: true})
	require.NoError(t, err)
	got, err := NewMatchCounter(m).Search(c)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got.Count)
}

func TestRegexAlternation(t *testing.T) {
	content := "over\novir\noved\n"
	c := buildTestChunk(content)

	m, err := Compile("ov[e|i]r", Options{Regex: true})
	require.NoError(t, err)
	got, err := NewMatchCounter(m).Search(c)
	require.NoError(t, err)
	require.Equal(t, uint64(2), got.Count)
}

func TestIgnoreCaseAsciiRequiresPrelowered(t *testing.T) {
	// Options.IgnoreCase without Regex/UTF8 lowercases the pattern only;
	// callers are expected to have already lowercased the chunk data via
	// inplace.AsciiToLower, mirroring pipeline usage.
	content := "over and OVER\n"
	lowered := strings.ToLower(content)
	c := buildTestChunk(lowered)

	m, err := Compile("OVER", Options{IgnoreCase: true})
	require.NoError(t, err)
	got, err := NewMatchCounter(m).Search(c)
	require.NoError(t, err)
	require.Equal(t, uint64(2), got.Count)
}

func TestByteToLineBackwardFromAnchor(t *testing.T) {
	content := "aaa\nbbb\nccc\nddd\n"
	meta := chunk.Meta{
		OriginalOffset: 0,
		LineMapping:    []chunk.LineAnchor{{GlobalByteOffset: 8, GlobalLineIndex: 2}},
	}
	// target offset 0 ("aaa") is before the anchor; must count backward.
	got := ByteToLine(meta, []byte(content), 0)
	require.Equal(t, uint64(0), got)

	got2 := ByteToLine(meta, []byte(content), 12) // "ddd" start
	require.Equal(t, uint64(3), got2)
}
