package budget

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"unicode/utf8"
)

// Policy controls how output larger than the budget is reduced.
type Policy struct {
	// Budget is the maximum rendered size in bytes.
	Budget int64

	// HeadShare, TailShare and AnchorShare are fractions of the budget kept
	// from the start, from the end, and around failure lines. The rest is
	// spread over Samples windows of the middle.
	HeadShare   float64
	TailShare   float64
	AnchorShare float64
	Samples     int

	// AnchorOnSuccess looks for failure lines even when the command succeeded.
	AnchorOnSuccess bool
}

// DefaultPolicy returns the default reduction policy for budget.
func DefaultPolicy(budget int64) Policy {
	return Policy{
		Budget:      budget,
		HeadShare:   0.2,
		TailShare:   0.3,
		AnchorShare: 0.3,
		Samples:     4,
	}
}

// span is a half-open byte range with the tag of the reducer that chose it.
type span struct {
	start, end int64
	tag        Tag
}

func (s span) len() int64 { return s.end - s.start }

// Reduce returns a slice of the size bytes readable from src that renders to
// at most p.Budget bytes. failed selects failure-oriented reduction.
func Reduce(src io.ReaderAt, size int64, failed bool, p Policy) (*Slice, error) {
	budget := max(p.Budget, MinBudget)

	if size <= budget {
		content, err := readRange(src, 0, size)
		if err != nil {
			return nil, err
		}
		return &Slice{
			Segments: []Segment{{Tag: TagFull, Start: 0, End: size}},
			Total:    size,
			Budget:   budget,
			text:     content,
		}, nil
	}

	var anchors []int64
	if failed || p.AnchorOnSuccess {
		var err error
		if anchors, err = findAnchors(src, size); err != nil {
			return nil, err
		}
	}

	r := &reducer{src: src, size: size, budget: budget, cost: markerCost(size)}
	spans, err := r.plan(p, anchors)
	if err != nil {
		return nil, err
	}
	return r.finish(spans)
}

type reducer struct {
	src    io.ReaderAt
	size   int64
	budget int64
	cost   int64
}

// plan picks the reducers that fit and returns their merged, snapped ranges.
// Marker overhead for the worst case number of gaps is reserved first; when
// the budget is too small for every reducer, samples go first, then anchors,
// then the head.
func (r *reducer) plan(p Policy, anchors []int64) ([]span, error) {
	samples := max(p.Samples, 0)
	head := true

	var usable int64
	for {
		ranges := int64(samples + len(anchors) + 1)
		if head {
			ranges++
		}
		usable = r.budget - (ranges+1)*r.cost
		if usable >= ranges*r.cost {
			break
		}
		if samples > 0 {
			samples--
			continue
		}
		if len(anchors) > 0 {
			anchors = anchors[:len(anchors)-1]
			continue
		}
		if head {
			head = false
			continue
		}
		usable = max(usable, 0)
		break
	}

	headShare, tailShare, anchorShare := p.HeadShare, p.TailShare, p.AnchorShare
	if len(anchors) == 0 {
		// Give the unused anchor share to head and tail in proportion.
		if sum := headShare + tailShare; sum > 0 {
			headShare += anchorShare * headShare / sum
			tailShare += anchorShare * tailShare / sum
		} else {
			tailShare = anchorShare
		}
		anchorShare = 0
	}
	if !head {
		tailShare += headShare
		headShare = 0
	}

	var spans []span
	if n := int64(float64(usable) * headShare); n > 0 {
		spans = append(spans, span{0, n, TagHead})
	}
	if n := int64(float64(usable) * tailShare); n > 0 {
		spans = append(spans, span{r.size - n, r.size, TagTail})
	}
	if len(anchors) > 0 {
		per := int64(float64(usable) * anchorShare / float64(len(anchors)))
		for _, a := range anchors {
			spans = append(spans, r.window(a, per, per/4, TagError))
		}
	}

	spans, err := r.normalize(spans)
	if err != nil {
		return nil, err
	}

	remaining := usable - covered(spans)
	if samples > 0 && remaining > 0 {
		spans = append(spans, r.samples(spans, samples, remaining/int64(samples))...)
		if spans, err = r.normalize(spans); err != nil {
			return nil, err
		}
	}
	return spans, nil
}

// window returns a span of n bytes starting lead bytes before pos, clamped
// to the output.
func (r *reducer) window(pos, n, lead int64, tag Tag) span {
	start := max(pos-lead, 0)
	end := min(start+n, r.size)
	start = max(end-n, 0)
	return span{start, end, tag}
}

// samples places count windows of n bytes evenly over the bytes not yet
// covered by spans.
func (r *reducer) samples(spans []span, count int, n int64) []span {
	gaps := gapsOf(spans, r.size)
	var free int64
	for _, g := range gaps {
		free += g.len()
	}
	if free == 0 || n <= 0 {
		return nil
	}

	var out []span
	for i := 1; i <= count; i++ {
		target := free * int64(i) / int64(count+1)
		for _, g := range gaps {
			if target >= g.len() {
				target -= g.len()
				continue
			}
			w := min(n, g.len())
			start := min(max(g.start+target-w/2, g.start), g.end-w)
			out = append(out, span{start, start + w, TagSample})
			break
		}
	}
	return out
}

// normalize snaps each span inward to line and UTF-8 boundaries, then sorts
// and merges overlapping or touching spans.
func (r *reducer) normalize(spans []span) ([]span, error) {
	snapped := spans[:0:0]
	for _, s := range spans {
		s, err := r.snap(s)
		if err != nil {
			return nil, err
		}
		if s.len() > 0 {
			snapped = append(snapped, s)
		}
	}
	return merge(snapped), nil
}

// snap shrinks s so it starts at a line start and ends after a newline when
// the range contains one, and never splits a UTF-8 sequence.
func (r *reducer) snap(s span) (span, error) {
	if s.len() <= 0 {
		return s, nil
	}

	readFrom := s.start
	if readFrom > 0 {
		readFrom--
	}
	buf, err := readRange(r.src, readFrom, s.end-readFrom)
	if err != nil {
		return s, err
	}
	prevNewline := s.start == 0 || buf[0] == '\n'
	if s.start > 0 {
		buf = buf[1:]
	}

	lo, hi := 0, len(buf)
	if !prevNewline {
		if i := bytes.IndexByte(buf, '\n'); i >= 0 && i+1 < hi {
			lo = i + 1
		}
	}
	if s.end < r.size && buf[hi-1] != '\n' {
		if i := bytes.LastIndexByte(buf[lo:hi], '\n'); i >= 0 {
			hi = lo + i + 1
		}
	}

	for lo < hi && !utf8.RuneStart(buf[lo]) {
		lo++
	}
	hi = lo + completeRunes(buf[lo:hi])

	return span{s.start + int64(lo), s.start + int64(hi), s.tag}, nil
}

// completeRunes returns the length of b without a trailing partial UTF-8 sequence.
func completeRunes(b []byte) int {
	n := len(b)
	for i := n - 1; i >= 0 && i >= n-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			break
		}
	}
	return n
}

// finish renders spans and, if the exact rendering still exceeds the budget,
// trims the largest span until it fits.
func (r *reducer) finish(spans []span) (*Slice, error) {
	for {
		segments := segmentsOf(spans, r.size)
		content := make([][]byte, 0, len(spans))
		for _, s := range spans {
			b, err := readRange(r.src, s.start, s.len())
			if err != nil {
				return nil, err
			}
			content = append(content, b)
		}
		text := render(segments, content)

		excess := int64(len(text)) - r.budget
		if excess <= 0 || len(spans) == 0 {
			return &Slice{
				Segments:  segments,
				Total:     r.size,
				Budget:    r.budget,
				Truncated: true,
				text:      text,
			}, nil
		}

		largest := 0
		for i, s := range spans {
			if s.len() > spans[largest].len() {
				largest = i
			}
		}
		s := spans[largest]
		s.end = max(s.end-excess-r.cost, s.start)
		if s.len() > 0 {
			b, err := readRange(r.src, s.start, s.len())
			if err != nil {
				return nil, err
			}
			s.end = s.start + int64(completeRunes(b))
		}
		if s.len() > 0 {
			spans[largest] = s
		} else {
			spans = append(spans[:largest], spans[largest+1:]...)
		}
	}
}

func merge(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	out := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.start > last.end {
			out = append(out, s)
			continue
		}
		last.end = max(last.end, s.end)
		if s.tag == TagError {
			last.tag = TagError
		}
	}
	return out
}

func covered(spans []span) int64 {
	var n int64
	for _, s := range spans {
		n += s.len()
	}
	return n
}

// gapsOf returns the uncovered ranges of [0, size) between sorted spans.
func gapsOf(spans []span, size int64) []span {
	var gaps []span
	var pos int64
	for _, s := range spans {
		if s.start > pos {
			gaps = append(gaps, span{pos, s.start, TagElided})
		}
		pos = max(pos, s.end)
	}
	if pos < size {
		gaps = append(gaps, span{pos, size, TagElided})
	}
	return gaps
}

// segmentsOf interleaves spans with elided gaps so the result covers [0, size).
func segmentsOf(spans []span, size int64) []Segment {
	var segments []Segment
	var pos int64
	for _, s := range spans {
		if s.start > pos {
			segments = append(segments, Segment{Tag: TagElided, Start: pos, End: s.start})
		}
		segments = append(segments, Segment{Tag: s.tag, Start: s.start, End: s.end})
		pos = s.end
	}
	if pos < size {
		segments = append(segments, Segment{Tag: TagElided, Start: pos, End: size})
	}
	return segments
}

func readRange(src io.ReaderAt, off, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	got, err := src.ReadAt(buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && int64(got) == n) {
		return nil, fmt.Errorf("read output at %d: %w", off, err)
	}
	return buf, nil
}
