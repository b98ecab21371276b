// Package scheduler – sqlite_storage.go implements ReminderStore backed by
// the central zoey.db SQLite database. It is a drop-in replacement for
// FileReminderStore and also records dead letters.
package scheduler

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

// timeLayout is fixed-width UTC so that due_at compares lexicographically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// SQLiteReminderStore persists reminders in the "reminders" table.
type SQLiteReminderStore struct {
	db  *sql.DB
	now func() time.Time
	mu  sync.Mutex
}

// NewSQLiteReminderStore creates a SQLite-backed store using the shared DB.
// The "reminders" table must already exist (created by database.Open).
func NewSQLiteReminderStore(db *sql.DB) *SQLiteReminderStore {
	return &SQLiteReminderStore{db: db, now: time.Now}
}

// Add inserts a pending reminder.
func (s *SQLiteReminderStore) Add(destination, task string, dueAt time.Time) (*Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := newReminder(destination, task, dueAt, s.now())
	_, err := s.db.Exec(`
		INSERT INTO reminders (id, destination, task, due_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Destination, r.Task, formatTime(r.DueAt), string(r.Status), formatTime(r.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("add reminder: %w", err)
	}
	return r, nil
}

// ListFor returns the pending reminders of a destination.
func (s *SQLiteReminderStore) ListFor(destination string) ([]*Reminder, error) {
	return s.query(`WHERE destination = ? AND status = ? ORDER BY due_at`, destination, string(StatusPending))
}

// ListDue returns pending reminders due at now.
func (s *SQLiteReminderStore) ListDue(now time.Time) ([]*Reminder, error) {
	return s.query(`WHERE status = ? AND due_at <= ? ORDER BY due_at`, string(StatusPending), formatTime(now))
}

// All returns every stored reminder.
func (s *SQLiteReminderStore) All() ([]*Reminder, error) {
	return s.query(`ORDER BY due_at`)
}

// MarkDelivered flips the given reminders to delivered in one transaction.
func (s *SQLiteReminderStore) MarkDelivered(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE reminders SET status = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(string(StatusDelivered), id); err != nil {
			return fmt.Errorf("mark delivered %q: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// Remove deletes matching reminders. Selection and deletion share one
// transaction so concurrent Adds are never lost.
func (s *SQLiteReminderStore) Remove(match func(*Reminder) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("remove reminders: %w", err)
	}
	defer tx.Rollback()

	all, err := scanReminders(tx.Query(selectReminders))
	if err != nil {
		return 0, fmt.Errorf("remove reminders: %w", err)
	}

	removed := 0
	for _, r := range all {
		if !match(r) {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM reminders WHERE id = ?`, r.ID); err != nil {
			return 0, fmt.Errorf("delete reminder %q: %w", r.ID, err)
		}
		removed++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("remove reminders: %w", err)
	}
	return removed, nil
}

// RecordDeadLetter stores a reminder whose delivery was abandoned.
func (s *SQLiteReminderStore) RecordDeadLetter(r *Reminder, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.Exec(`
		INSERT INTO dead_letters (reminder_id, destination, task, due_at, error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Destination, r.Task, formatTime(r.DueAt), msg, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("record dead letter %q: %w", r.ID, err)
	}
	return nil
}

// DeadLetter is an abandoned reminder delivery.
type DeadLetter struct {
	ReminderID  string
	Destination string
	Task        string
	DueAt       time.Time
	Error       string
	FailedAt    time.Time
}

// DeadLetters lists abandoned deliveries, most recent first.
func (s *SQLiteReminderStore) DeadLetters() ([]DeadLetter, error) {
	rows, err := s.db.Query(`
		SELECT reminder_id, destination, task, due_at, error, failed_at
		FROM dead_letters ORDER BY failed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("load dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var (
			d             DeadLetter
			due, failedAt string
		)
		if err := rows.Scan(&d.ReminderID, &d.Destination, &d.Task, &due, &d.Error, &failedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		d.DueAt = parseTime(due)
		d.FailedAt = parseTime(failedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

const selectReminders = `SELECT id, destination, task, due_at, status, created_at FROM reminders`

func (s *SQLiteReminderStore) query(where string, args ...any) ([]*Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := scanReminders(s.db.Query(strings.TrimSpace(selectReminders+" "+where), args...))
	if err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	return list, nil
}

func scanReminders(rows *sql.Rows, err error) ([]*Reminder, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Reminder
	for rows.Next() {
		var (
			r                Reminder
			due, created, st string
		)
		if err := rows.Scan(&r.ID, &r.Destination, &r.Task, &due, &st, &created); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.DueAt = parseTime(due)
		r.CreatedAt = parseTime(created)
		r.Status = Status(st)
		list = append(list, &r)
	}
	return list, rows.Err()
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
