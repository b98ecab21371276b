// Package scheduler implements reminder scheduling for Zoey: resolving time
// expressions, persisting pending reminders and delivering them from a
// background poller driven by robfig/cron.
package scheduler

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of a reminder.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
)

// Reminder is a task to be announced to a destination at DueAt.
type Reminder struct {
	// ID is the unique reminder identifier.
	ID string `json:"id"`

	// Destination is the qualified chat the reminder is delivered to
	// ("<channel>:<chat id>"). The scheduler never interprets it.
	Destination string `json:"destination"`

	// Task is the text the user asked to be reminded about.
	Task string `json:"task"`

	// DueAt is the absolute instant the reminder becomes deliverable.
	DueAt time.Time `json:"due_at"`

	// Status is pending until a dispatch cycle claims the reminder.
	Status Status `json:"status"`

	// CreatedAt is when the reminder was stored.
	CreatedAt time.Time `json:"created_at"`
}

// IsDue reports whether the reminder is pending and due at now.
func (r *Reminder) IsDue(now time.Time) bool {
	return r.Status == StatusPending && !r.DueAt.After(now)
}

// ReminderStore persists reminders. Implementations must be safe for
// concurrent use and hold their lock across every read-modify-write.
type ReminderStore interface {
	// Add stores a new pending reminder. Duplicates are permitted.
	Add(destination, task string, dueAt time.Time) (*Reminder, error)

	// ListFor returns the pending reminders of a destination ordered by due time.
	ListFor(destination string) ([]*Reminder, error)

	// ListDue returns pending reminders with DueAt <= now ordered by due time.
	ListDue(now time.Time) ([]*Reminder, error)

	// MarkDelivered transitions the given reminders to delivered.
	MarkDelivered(ids []string) error

	// Remove deletes every reminder matching the predicate and returns the count.
	Remove(match func(*Reminder) bool) (int, error)

	// All returns every stored reminder.
	All() ([]*Reminder, error)
}

// newReminder builds a pending reminder with a fresh id.
func newReminder(destination, task string, dueAt, now time.Time) *Reminder {
	return &Reminder{
		ID:          uuid.New().String(),
		Destination: destination,
		Task:        task,
		DueAt:       dueAt,
		Status:      StatusPending,
		CreatedAt:   now,
	}
}

// IDSet returns a predicate matching reminders whose id is in ids.
func IDSet(ids []string) func(*Reminder) bool {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(r *Reminder) bool {
		_, ok := set[r.ID]
		return ok
	}
}

func sortByDue(list []*Reminder) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].DueAt.Before(list[j].DueAt)
	})
}
