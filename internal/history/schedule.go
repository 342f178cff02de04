// This file gates retention cleanup with a cron expression so that frequent
// cg invocations do not rescan the temp directory every time.

package history

import (
	"time"

	"github.com/robfig/cron/v3"
	bolt "go.etcd.io/bbolt"
)

const lastCleanupKey = "last_cleanup"

// CronParser wraps robfig/cron for schedule-only usage
type CronParser struct {
	parser cron.Parser
}

// NewCronParser creates a parser supporting standard 5-field cron with descriptors
func NewCronParser() *CronParser {
	return &CronParser{
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

// NextRun calculates the next time an expression fires after a given time
func (p *CronParser) NextRun(expression string, after time.Time) (time.Time, error) {
	schedule, err := p.parser.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}

// Validate checks if a cron expression is valid
func (p *CronParser) Validate(expression string) error {
	_, err := p.parser.Parse(expression)
	return err
}

// CleanupDue reports whether the schedule has fired since the last recorded
// cleanup. It is always due when no cleanup has been recorded.
func (h *History) CleanupDue(expression string, now time.Time) (bool, error) {
	last, err := h.LastCleanup()
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return true, nil
	}

	next, err := h.parser.NextRun(expression, last)
	if err != nil {
		return false, err
	}
	return !next.After(now), nil
}

// LastCleanup returns when cleanup last ran, or the zero time.
func (h *History) LastCleanup() (time.Time, error) {
	var last time.Time
	err := h.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(stateBucket)).Get([]byte(lastCleanupKey))
		if data == nil {
			return nil
		}
		return last.UnmarshalText(data)
	})
	return last, err
}

// MarkCleanup records that cleanup ran at t.
func (h *History) MarkCleanup(t time.Time) error {
	data, err := t.MarshalText()
	if err != nil {
		return err
	}
	return h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(stateBucket)).Put([]byte(lastCleanupKey), data)
	})
}
