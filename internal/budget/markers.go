package budget

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
)

// failurePattern matches lines that usually explain why a command failed:
// error keywords, stack frames from common runtimes, and file:line references.
var failurePattern = regexp.MustCompile(`(?i)` +
	`\b(error|errors? found|fatal|panic|exception|traceback|fail(ed|ure)?|segmentation fault|assertion|undefined reference|cannot|unable to)\b` +
	`|^\s+at \S+[ (]` + // JVM, JavaScript
	`|^\s*File "[^"]+", line \d+` + // Python
	`|^goroutine \d+ \[` + // Go
	`|\S+\.[A-Za-z]\w*:\d+(:\d+)?`) // path/file.ext:line[:col]

const scanBufferSize = 64 * 1024

// findAnchors returns the offsets of the first and last lines that look like
// failure output. It returns one offset when they coincide and none when no
// line matches.
func findAnchors(src io.ReaderAt, size int64) ([]int64, error) {
	r := bufio.NewReaderSize(io.NewSectionReader(src, 0, size), scanBufferSize)

	first, last := int64(-1), int64(-1)
	var offset int64
	for {
		line, err := r.ReadSlice('\n')
		if len(line) > 0 && failurePattern.Match(line) {
			if first < 0 {
				first = offset
			}
			last = offset
		}
		offset += int64(len(line))

		if err == nil || errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		return nil, fmt.Errorf("scan output: %w", err)
	}

	switch {
	case first < 0:
		return nil, nil
	case first == last:
		return []int64{first}, nil
	default:
		return []int64{first, last}, nil
	}
}
