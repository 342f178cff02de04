// Package outstore persists the complete output of one command to a file in
// the temp directory while keeping a bounded in-memory copy for budgeting.
//
// The store never refuses bytes. When the file cannot be created or written
// it degrades to memory-only capture and reports the failure, so a summary can
// still be produced from what was seen.
package outstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/disk"
)

// Default limits for the in-memory copy.
const (
	DefaultMemoryLimit   int64 = 8 << 20
	DefaultDegradedLimit int64 = 64 << 20
)

const (
	slugMaxRunes    = 50
	timestampLayout = "20060102_150405"
	createAttempts  = 5
)

// ErrLowDiskSpace is reported when the temp directory is below the free space floor.
var ErrLowDiskSpace = errors.New("insufficient free space in temp directory")

// Stream identifies which output stream a chunk came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Chunk describes a run of bytes from one stream, in arrival order.
type Chunk struct {
	Stream Stream    `json:"stream"`
	Offset int64     `json:"offset"`
	Length int64     `json:"length"`
	At     time.Time `json:"at"`
}

// Options configures a Store.
type Options struct {
	// Dir is the directory output files are created in.
	Dir string

	// Command is the command line; it names the file.
	Command string

	// Now is the file timestamp. Zero means time.Now().
	Now time.Time

	// MemoryLimit bounds the in-memory copy while the file is healthy.
	MemoryLimit int64

	// DegradedLimit bounds the in-memory copy once the file has failed.
	DegradedLimit int64

	// MinFreeBytes is the free space Dir must have before the file is created.
	MinFreeBytes uint64

	Logger *slog.Logger
}

// Store captures output of a single invocation.
type Store struct {
	mu sync.Mutex

	opts   Options
	logger *slog.Logger

	path string
	file *os.File

	// mem mirrors the captured bytes while memValid is true.
	mem      bytes.Buffer
	memValid bool

	size    int64
	dropped int64
	chunks  []Chunk

	persistErr error
	closed     bool
}

// Open allocates the output file and returns a store ready for writes.
// It never fails: problems with the file put the store in memory-only mode,
// observable through PersistErr.
func Open(opts Options) *Store {
	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = DefaultMemoryLimit
	}
	if opts.DegradedLimit <= 0 {
		opts.DegradedLimit = DefaultDegradedLimit
	}
	if opts.DegradedLimit < opts.MemoryLimit {
		opts.DegradedLimit = opts.MemoryLimit
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		opts:     opts,
		logger:   logger,
		memValid: true,
	}

	if err := s.create(); err != nil {
		s.degrade(err)
	}
	return s
}

func (s *Store) create() error {
	if err := os.MkdirAll(s.opts.Dir, 0700); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}

	if s.opts.MinFreeBytes > 0 {
		usage, err := disk.Usage(s.opts.Dir)
		if err != nil {
			s.logger.Debug("disk usage unavailable", slog.String("error", err.Error()))
		} else if usage.Free < s.opts.MinFreeBytes {
			return fmt.Errorf("%w: %s free, %s required", ErrLowDiskSpace,
				humanize.IBytes(usage.Free), humanize.IBytes(s.opts.MinFreeBytes))
		}
	}

	base := Slug(s.opts.Command) + "_" + s.opts.Now.Format(timestampLayout)
	name := base + ".txt"

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		path := filepath.Join(s.opts.Dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			s.path = path
			s.file = f
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create output file: %w", err)
		}
		lastErr = err
		name = base + "_" + uuid.NewString()[:8] + ".txt"
	}
	return fmt.Errorf("create output file after %d attempts: %w", createAttempts, lastErr)
}

// Slug turns a command line into a file name fragment.
func Slug(command string) string {
	var b strings.Builder
	n := 0
	for _, r := range command {
		if n == slugMaxRunes {
			break
		}
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			r = '_'
		case strings.ContainsRune(`/\|&;><*?"':`, r):
			r = '_'
		}
		b.WriteRune(r)
		n++
	}
	if b.Len() == 0 {
		return "command"
	}
	return b.String()
}

// Writer returns an io.Writer appending to the given stream.
func (s *Store) Writer(stream Stream) io.Writer {
	return streamWriter{store: s, stream: stream}
}

type streamWriter struct {
	store  *Store
	stream Stream
}

func (w streamWriter) Write(p []byte) (int, error) {
	return w.store.Append(w.stream, p)
}

// Append records p as arriving on stream. It always accepts the whole slice
// so the producer keeps draining the child; persistence problems are kept
// on the store instead of being returned.
func (s *Store) Append(stream Stream, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, os.ErrClosed
	}

	s.recordChunk(stream, int64(len(p)))

	if s.file != nil {
		if _, err := s.file.Write(p); err != nil {
			s.degradeLocked(fmt.Errorf("write output file: %w", err))
		}
	}

	s.buffer(p)
	s.size += int64(len(p))
	return len(p), nil
}

// recordChunk extends the last chunk when the same stream writes again.
func (s *Store) recordChunk(stream Stream, n int64) {
	if last := len(s.chunks) - 1; last >= 0 && s.chunks[last].Stream == stream {
		s.chunks[last].Length += n
		return
	}
	s.chunks = append(s.chunks, Chunk{
		Stream: stream,
		Offset: s.size,
		Length: n,
		At:     time.Now(),
	})
}

// buffer keeps the in-memory copy within its limit.
func (s *Store) buffer(p []byte) {
	if !s.memValid {
		if s.file == nil {
			// Degraded and already past the limit.
			s.dropped += int64(len(p))
		}
		return
	}

	limit := s.opts.MemoryLimit
	if s.file == nil {
		limit = s.opts.DegradedLimit
	}

	if int64(s.mem.Len())+int64(len(p)) <= limit {
		s.mem.Write(p)
		return
	}

	if s.file != nil {
		// The file has everything; budgeting reads from it from now on.
		s.mem = bytes.Buffer{}
		s.memValid = false
		return
	}

	room := limit - int64(s.mem.Len())
	if room > 0 {
		s.mem.Write(p[:room])
	}
	s.dropped += int64(len(p)) - max(room, 0)
	s.memValid = false
}

func (s *Store) degrade(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degradeLocked(err)
}

// degradeLocked switches to memory-only capture. Bytes already on disk are
// read back when the memory copy was released.
func (s *Store) degradeLocked(err error) {
	if s.persistErr == nil {
		s.persistErr = err
	}
	s.logger.Warn("output file unavailable, capturing in memory",
		slog.String("path", s.path),
		slog.String("error", err.Error()),
	)

	if s.file == nil {
		return
	}

	if !s.memValid {
		s.reload()
	}
	_ = s.file.Close()
	s.file = nil
}

// reload reads what reached the file back into memory, up to the degraded limit.
func (s *Store) reload() {
	s.mem = bytes.Buffer{}
	f, err := os.Open(s.path)
	if err == nil {
		_, err = io.Copy(&s.mem, io.LimitReader(f, min(s.size, s.opts.DegradedLimit)))
		f.Close()
	}
	got := int64(s.mem.Len())
	if err != nil || got < s.size {
		s.dropped += s.size - got
		return
	}
	s.memValid = true
}

// Close flushes and closes the output file. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.file == nil {
		return nil
	}

	if err := s.file.Sync(); err != nil {
		s.degradeLocked(fmt.Errorf("sync output file: %w", err))
		return s.persistErr
	}
	if err := s.file.Close(); err != nil {
		s.file = nil
		if s.persistErr == nil {
			s.persistErr = fmt.Errorf("close output file: %w", err)
		}
		return s.persistErr
	}
	s.file = nil
	return nil
}

// Path returns the output file path, or "" when no file was created.
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Size returns the number of bytes captured, including dropped ones.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Dropped returns the number of bytes that could be kept neither on disk nor in memory.
func (s *Store) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// PersistErr returns the first persistence failure, or nil when the file holds
// the complete output.
func (s *Store) PersistErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistErr
}

// Chunks returns a copy of the chunk index.
func (s *Store) Chunks() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chunk(nil), s.chunks...)
}

// Source is a read-only view of the captured bytes.
type Source interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

type memSource struct {
	*bytes.Reader
}

func (memSource) Close() error { return nil }

type fileSource struct {
	*os.File
	size int64
}

func (f fileSource) Size() int64 { return f.size }

// Source returns the captured bytes for reading. The store must be closed.
// A degraded store that dropped bytes returns what it kept.
func (s *Store) Source() (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		return nil, errors.New("output store still open")
	}

	if s.memValid || s.persistErr != nil {
		return memSource{bytes.NewReader(s.mem.Bytes())}, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return fileSource{File: f, size: s.size}, nil
}
