// Package scheduler – storage.go provides a JSON file-based ReminderStore
// that rewrites the whole file on every mutation.
package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileReminderStore persists reminders as a JSON array on disk.
// Writes go to a temp file that is fsynced and renamed over the original,
// so a crash leaves either the old or the new content.
type FileReminderStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFileReminderStore creates a file-based store at the given path.
// Creates the parent directory if it doesn't exist.
func NewFileReminderStore(path string) (*FileReminderStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileReminderStore{path: path, now: time.Now}, nil
}

// Add appends a pending reminder.
func (s *FileReminderStore) Add(destination, task string, dueAt time.Time) (*Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.readAll()
	if err != nil {
		return nil, err
	}
	r := newReminder(destination, task, dueAt, s.now())
	list = append(list, r)
	if err := s.writeAll(list); err != nil {
		return nil, err
	}
	cp := *r
	return &cp, nil
}

// ListFor returns the pending reminders of a destination.
func (s *FileReminderStore) ListFor(destination string) ([]*Reminder, error) {
	return s.filter(func(r *Reminder) bool {
		return r.Destination == destination && r.Status == StatusPending
	})
}

// ListDue returns pending reminders due at now.
func (s *FileReminderStore) ListDue(now time.Time) ([]*Reminder, error) {
	return s.filter(func(r *Reminder) bool { return r.IsDue(now) })
}

// All returns every stored reminder.
func (s *FileReminderStore) All() ([]*Reminder, error) {
	return s.filter(func(*Reminder) bool { return true })
}

// MarkDelivered flips the given reminders to delivered.
func (s *FileReminderStore) MarkDelivered(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.readAll()
	if err != nil {
		return err
	}
	match := IDSet(ids)
	for _, r := range list {
		if match(r) {
			r.Status = StatusDelivered
		}
	}
	return s.writeAll(list)
}

// Remove deletes matching reminders.
func (s *FileReminderStore) Remove(match func(*Reminder) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.readAll()
	if err != nil {
		return 0, err
	}
	kept := list[:0]
	removed := 0
	for _, r := range list {
		if match(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.writeAll(kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *FileReminderStore) filter(match func(*Reminder) bool) ([]*Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var out []*Reminder
	for _, r := range list {
		if match(r) {
			out = append(out, r)
		}
	}
	sortByDue(out)
	return out, nil
}

// readAll reads all reminders from the file (caller must hold mu).
func (s *FileReminderStore) readAll() ([]*Reminder, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading reminders file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var list []*Reminder
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing reminders file: %w", err)
	}
	return list, nil
}

// writeAll replaces the file contents atomically (caller must hold mu).
func (s *FileReminderStore) writeAll(list []*Reminder) error {
	if list == nil {
		list = []*Reminder{}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling reminders: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".reminders-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing reminders: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing reminders: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing reminders: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod reminders: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing reminders file: %w", err)
	}
	return nil
}
