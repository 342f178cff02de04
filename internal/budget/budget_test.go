package budget

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reduceString(t *testing.T, s string, failed bool, p Policy) *Slice {
	t.Helper()
	slice, err := Reduce(strings.NewReader(s), int64(len(s)), failed, p)
	require.NoError(t, err)
	return slice
}

// assertCoverage checks the structural invariants every slice must hold.
func assertCoverage(t *testing.T, slice *Slice) {
	t.Helper()
	require.NotEmpty(t, slice.Segments)
	var pos int64
	for _, seg := range slice.Segments {
		assert.Equal(t, pos, seg.Start, "segments must be contiguous")
		assert.Greater(t, seg.End, seg.Start, "segments must be non-empty")
		pos = seg.End
	}
	assert.Equal(t, slice.Total, pos, "segments must cover the output")
	assert.Equal(t, slice.Total, slice.Retained()+slice.Elided())
	assert.LessOrEqual(t, slice.RenderedSize(), slice.Budget)
}

func numberedLines(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "line %06d ok\n", i)
	}
	return b.String()
}

func TestWindowBytes(t *testing.T) {
	tests := []struct {
		name   string
		window Window
		want   int64
	}{
		{
			name:   "explicit",
			window: Window{Explicit: 20000, ContextWindow: 8192, Factor: 0.5},
			want:   20000,
		},
		{
			name:   "explicit below minimum",
			window: Window{Explicit: 10},
			want:   MinBudget,
		},
		{
			name:   "derived",
			window: Window{ContextWindow: 8192, Factor: 0.5, ReservedTokens: 500, PromptBytes: 300, BytesPerToken: 3},
			want:   (4096 - 500 - 100) * 3,
		},
		{
			name:   "default bytes per token",
			window: Window{ContextWindow: 1000, Factor: 1},
			want:   3000,
		},
		{
			name:   "window too small",
			window: Window{ContextWindow: 100, Factor: 0.5, ReservedTokens: 500, BytesPerToken: 3},
			want:   MinBudget,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Bytes())
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(0), EstimateTokens(0, 3))
	assert.Equal(t, int64(1), EstimateTokens(1, 3))
	assert.Equal(t, int64(4), EstimateTokens(10, 3))
	assert.Equal(t, int64(34), EstimateTokens(100, 0))
}

func TestReduce_SmallOutputPassesThrough(t *testing.T) {
	slice := reduceString(t, "0123456789", false, DefaultPolicy(1000))

	assert.Equal(t, "0123456789", slice.Text())
	assert.False(t, slice.Truncated)
	require.Len(t, slice.Segments, 1)
	assert.Equal(t, TagFull, slice.Segments[0].Tag)
	assertCoverage(t, slice)
}

func TestReduce_ExactlyBudget(t *testing.T) {
	out := strings.Repeat("x", 1000)
	slice := reduceString(t, out, true, DefaultPolicy(1000))

	assert.Equal(t, out, slice.Text())
	assert.False(t, slice.Truncated)
}

func TestReduce_Empty(t *testing.T) {
	slice := reduceString(t, "", false, DefaultPolicy(1000))

	assert.Equal(t, "", slice.Text())
	assert.False(t, slice.Truncated)
	assert.Equal(t, int64(0), slice.Total)
}

func TestReduce_LargeOutputFitsBudget(t *testing.T) {
	out := numberedLines(5000)

	for _, budget := range []int64{128, 200, 500, 1000, 4096, 20000} {
		t.Run(fmt.Sprintf("budget %d", budget), func(t *testing.T) {
			slice := reduceString(t, out, false, DefaultPolicy(budget))

			assert.True(t, slice.Truncated)
			assertCoverage(t, slice)
			assert.Contains(t, slice.Text(), "bytes omitted")
		})
	}
}

func TestReduce_HeadAndTailKept(t *testing.T) {
	out := numberedLines(5000)
	slice := reduceString(t, out, false, DefaultPolicy(4000))

	assert.True(t, strings.HasPrefix(slice.Text(), "line 000000 ok\n"))
	assert.True(t, strings.HasSuffix(slice.Text(), "line 004999 ok\n"))

	var tags []Tag
	for _, seg := range slice.Segments {
		tags = append(tags, seg.Tag)
	}
	assert.Equal(t, TagHead, tags[0])
	assert.Equal(t, TagTail, tags[len(tags)-1])
	assert.Contains(t, tags, TagSample)
	assert.NotContains(t, tags, TagError, "anchors are only used on failure")
}

func TestReduce_LineBoundaries(t *testing.T) {
	out := numberedLines(5000)
	slice := reduceString(t, out, false, DefaultPolicy(3000))

	for _, seg := range slice.Segments {
		if seg.Elided() {
			continue
		}
		if seg.Start > 0 {
			assert.Equal(t, byte('\n'), out[seg.Start-1], "segment %v must start a line", seg)
		}
		assert.Equal(t, byte('\n'), out[seg.End-1], "segment %v must end a line", seg)
	}
}

func TestReduce_UTF8Boundaries(t *testing.T) {
	// One long line of multi-byte runes leaves no newline to snap to.
	out := strings.Repeat("日本語テキスト", 2000)
	slice := reduceString(t, out, false, DefaultPolicy(1000))

	assertCoverage(t, slice)
	assert.True(t, utf8.ValidString(slice.Text()))
}

func TestReduce_ErrorMarkerNearEnd(t *testing.T) {
	const total = 1000000
	const markerAt = 999500

	filler := "build step completed normally\n"
	var b bytes.Buffer
	for b.Len()+len(filler) <= markerAt {
		b.WriteString(filler)
	}
	for b.Len() < markerAt {
		b.WriteByte('.')
	}
	b.WriteString("\nerror: undefined symbol resolve_config\n")
	for b.Len()+len(filler) <= total {
		b.WriteString(filler)
	}
	for b.Len() < total {
		b.WriteByte('-')
	}
	out := b.String()
	require.Len(t, out, total)

	slice := reduceString(t, out, true, DefaultPolicy(1000))

	assert.True(t, slice.Truncated)
	assert.LessOrEqual(t, slice.RenderedSize(), int64(1000))
	assert.Contains(t, slice.Text(), "error: undefined symbol resolve_config")
	assertCoverage(t, slice)

	var sawError bool
	for _, seg := range slice.Segments {
		if seg.Tag == TagError {
			sawError = true
			assert.LessOrEqual(t, seg.Start, int64(markerAt+1))
			assert.Greater(t, seg.End, int64(markerAt+1))
		}
	}
	assert.True(t, sawError, "expected an error segment")
}

func TestReduce_FirstAndLastAnchors(t *testing.T) {
	var b strings.Builder
	b.WriteString(numberedLines(1000))
	b.WriteString("main.go:42:7: first problem here\n")
	b.WriteString(numberedLines(3000))
	b.WriteString("FAILED: last problem here\n")
	b.WriteString(numberedLines(1000))
	out := b.String()

	slice := reduceString(t, out, true, DefaultPolicy(3000))

	assert.Contains(t, slice.Text(), "main.go:42:7: first problem here")
	assert.Contains(t, slice.Text(), "FAILED: last problem here")
	assertCoverage(t, slice)
}

func TestReduce_AnchorOnSuccess(t *testing.T) {
	var b strings.Builder
	b.WriteString(numberedLines(2000))
	b.WriteString("warning: exception swallowed in worker\n")
	b.WriteString(numberedLines(2000))
	out := b.String()

	p := DefaultPolicy(2000)
	p.Samples = 0

	withoutFlag := reduceString(t, out, false, p)
	assert.NotContains(t, withoutFlag.Text(), "exception swallowed")

	p.AnchorOnSuccess = true
	withFlag := reduceString(t, out, false, p)
	assert.Contains(t, withFlag.Text(), "exception swallowed")
}

func TestReduce_ElisionMarkersCountBytes(t *testing.T) {
	out := numberedLines(2000)
	slice := reduceString(t, out, false, DefaultPolicy(1000))

	var declared int64
	for _, seg := range slice.Segments {
		if seg.Elided() {
			assert.Contains(t, slice.Text(), Marker(seg.Len()))
			declared += seg.Len()
		}
	}
	assert.Equal(t, slice.Elided(), declared)
}

func TestReduce_NoHeadOrTailShares(t *testing.T) {
	out := numberedLines(3000)
	p := Policy{Budget: 1000, Samples: 3}

	slice := reduceString(t, out, false, p)
	assertCoverage(t, slice)
	assert.True(t, slice.Truncated)
}

func TestFindAnchors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []int64
	}{
		{"none", "all good\nstill good\n", nil},
		{"single", "ok\nError: boom\nok\n", []int64{3}},
		{"first and last", "panic: x\nok\nTraceback (most recent call last):\n", []int64{0, 12}},
		{"file reference", "ok\nsrc/app.ts:10:3 - bad type\n", []int64{3}},
		{"java frame", "ok\n    at com.example.Main.run(Main.java:12)\n", []int64{3}},
		{"python frame", "ok\n  File \"app.py\", line 3, in <module>\n", []int64{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findAnchors(strings.NewReader(tt.in), int64(len(tt.in)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindAnchors_LongLines(t *testing.T) {
	in := strings.Repeat("a", 3*scanBufferSize) + "\nfatal: out of memory\n"
	got, err := findAnchors(strings.NewReader(in), int64(len(in)))
	require.NoError(t, err)
	assert.Equal(t, []int64{int64(3*scanBufferSize + 1)}, got)
}

func TestCompleteRunes(t *testing.T) {
	s := []byte("aé日")
	assert.Equal(t, len(s), completeRunes(s))
	assert.Equal(t, 3, completeRunes(s[:4]))
	assert.Equal(t, 3, completeRunes(s[:5]))
	assert.Equal(t, 1, completeRunes(s[:2]))
}
