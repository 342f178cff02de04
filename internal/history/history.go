// Package history keeps a small persistent log of recent cg invocations.
// The log feeds the "recently run commands" section of the summarization
// prompt and records when retention cleanup last ran.

package history

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	entriesBucket = "entries"
	stateBucket   = "state"
)

// DBName is the database file name inside the temp directory.
const DBName = "history.db"

// Entry represents one finished invocation
type Entry struct {
	ID         uint64    `json:"id"`
	Command    string    `json:"command"`
	Dir        string    `json:"dir,omitempty"`
	ExitCode   int       `json:"exit_code"`
	FinishedAt time.Time `json:"finished_at"`
	OutputPath string    `json:"output_path,omitempty"`
}

// History provides persistent storage for invocation entries
type History struct {
	db     *bolt.DB
	parser *CronParser
}

// Open opens or creates the history database. Another cg process holding
// the database makes Open fail after one second.
func Open(dbPath string) (*History, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	// Ensure buckets exist
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{entriesBucket, stateBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &History{db: db, parser: NewCronParser()}, nil
}

// Record appends an entry
func (h *History) Record(e *Entry) error {
	return h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))

		// Auto-increment ID
		id, _ := b.NextSequence()
		e.ID = id

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}

		return b.Put(itob(id), data)
	})
}

// Recent returns up to limit entries finished at or after since, oldest first.
func (h *History) Recent(since time.Time, limit int) ([]*Entry, error) {
	var entries []*Entry

	err := h.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(entriesBucket)).Cursor()

		// Walk newest to oldest and stop at the first entry older than since.
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue // Skip invalid entries
			}
			if e.FinishedAt.Before(since) {
				break
			}
			entries = append(entries, &e)
		}
		return nil
	})

	// Reverse into chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, err
}

// Prune deletes entries finished before cutoff and returns how many were removed.
func (h *History) Prune(cutoff time.Time) (int, error) {
	removed := 0
	err := h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))

		// Entries are keyed in insertion order, so old ones come first.
		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err == nil && !e.FinishedAt.Before(cutoff) {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// Count returns the number of stored entries
func (h *History) Count() (int, error) {
	var count int
	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))
		count = b.Stats().KeyN
		return nil
	})
	return count, err
}

// Close closes the database
func (h *History) Close() error {
	return h.db.Close()
}

// itob converts uint64 to big-endian bytes for ordered keys
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
