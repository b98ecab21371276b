// Package contacts implements the per-user contact directory used by the
// relay flow. Names are normalized (lowercase, no whitespace) so "Mom",
// " mom " and "M o m" all refer to the same entry.
package contacts

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// ErrNotFound is returned when a lookup matches no contact or more than one.
var ErrNotFound = errors.New("contact not found")

// ErrEmptyName is returned when a name normalizes to nothing.
var ErrEmptyName = errors.New("contact name is empty")

// Contact maps a normalized name to a destination for one owner.
type Contact struct {
	Owner       string
	Name        string
	Destination string
}

// Directory stores contacts in the central database "contacts" table.
type Directory struct {
	db  *sql.DB
	now func() time.Time
	mu  sync.Mutex
}

// NewDirectory creates a directory on the shared DB. The "contacts" table
// must already exist (created by database.Open).
func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db, now: time.Now}
}

// NormalizeName lowercases a name and removes every whitespace rune.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Add stores or replaces the contact. Re-adding a name overwrites its
// destination.
func (d *Directory) Add(owner, name, destination string) (*Contact, error) {
	norm := NormalizeName(name)
	if norm == "" {
		return nil, ErrEmptyName
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, fmt.Errorf("contact %q: destination is empty", norm)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO contacts (owner, name, destination, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner, name) DO UPDATE SET
			destination = excluded.destination,
			updated_at  = excluded.updated_at`,
		owner, norm, destination, d.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("save contact %q: %w", norm, err)
	}
	return &Contact{Owner: owner, Name: norm, Destination: destination}, nil
}

// Find resolves a query to a single contact: an exact normalized match wins,
// otherwise the query must be a substring of exactly one name.
func (d *Directory) Find(owner, query string) (*Contact, error) {
	q := NormalizeName(query)
	if q == "" {
		return nil, ErrNotFound
	}

	list, err := d.List(owner)
	if err != nil {
		return nil, err
	}

	var partial []Contact
	for _, c := range list {
		if c.Name == q {
			found := c
			return &found, nil
		}
		if strings.Contains(c.Name, q) {
			partial = append(partial, c)
		}
	}
	if len(partial) != 1 {
		return nil, ErrNotFound
	}
	return &partial[0], nil
}

// List returns the owner's contacts ordered by name.
func (d *Directory) List(owner string) ([]Contact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.Query(`SELECT owner, name, destination FROM contacts WHERE owner = ?`, owner)
	if err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	defer rows.Close()

	var list []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Owner, &c.Name, &c.Destination); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

// Remove deletes the contact with the exact normalized name.
func (d *Directory) Remove(owner, name string) error {
	norm := NormalizeName(name)
	if norm == "" {
		return ErrNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(`DELETE FROM contacts WHERE owner = ? AND name = ?`, owner, norm)
	if err != nil {
		return fmt.Errorf("delete contact %q: %w", norm, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
