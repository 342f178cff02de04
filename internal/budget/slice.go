package budget

import (
	"bytes"
	"fmt"
	"strconv"
)

// Tag says which reducer retained a segment, or that it was elided.
type Tag string

const (
	TagFull   Tag = "full"
	TagHead   Tag = "head"
	TagTail   Tag = "tail"
	TagError  Tag = "error"
	TagSample Tag = "sample"
	TagElided Tag = "elided"
)

// Segment is a byte range [Start, End) of the original output.
type Segment struct {
	Tag   Tag   `json:"tag"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of original bytes the segment covers.
func (s Segment) Len() int64 {
	return s.End - s.Start
}

// Elided reports whether the segment stands for omitted bytes.
func (s Segment) Elided() bool {
	return s.Tag == TagElided
}

// Slice is the reduced view of the output handed to the summarizer.
// Its segments cover the original output exactly once, in order.
type Slice struct {
	Segments  []Segment `json:"segments"`
	Total     int64     `json:"total"`
	Budget    int64     `json:"budget"`
	Truncated bool      `json:"truncated"`

	text []byte
}

// Text returns the rendered slice: retained bytes joined by elision markers.
func (s *Slice) Text() string {
	return string(s.text)
}

// Bytes returns the rendered slice.
func (s *Slice) Bytes() []byte {
	return s.text
}

// RenderedSize returns the size of the rendered slice in bytes.
func (s *Slice) RenderedSize() int64 {
	return int64(len(s.text))
}

// Retained returns the number of original bytes kept.
func (s *Slice) Retained() int64 {
	var n int64
	for _, seg := range s.Segments {
		if !seg.Elided() {
			n += seg.Len()
		}
	}
	return n
}

// Elided returns the number of original bytes replaced by markers.
func (s *Slice) Elided() int64 {
	var n int64
	for _, seg := range s.Segments {
		if seg.Elided() {
			n += seg.Len()
		}
	}
	return n
}

// Marker returns the elision marker for n omitted bytes.
func Marker(n int64) string {
	return fmt.Sprintf("[... %d bytes omitted ...]\n", n)
}

// markerCost is an upper bound on the rendered size of one marker for output
// of the given total size, including the newline that may precede it.
func markerCost(total int64) int64 {
	return int64(len("[...  bytes omitted ...]\n")+len(strconv.FormatInt(total, 10))) + 1
}

// render joins retained content and markers. content holds the bytes of each
// non-elided segment, in order.
func render(segments []Segment, content [][]byte) []byte {
	var buf bytes.Buffer
	i := 0
	for _, seg := range segments {
		if !seg.Elided() {
			buf.Write(content[i])
			i++
			continue
		}
		if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
			buf.WriteByte('\n')
		}
		buf.WriteString(Marker(seg.Len()))
	}
	return buf.Bytes()
}
