package copilot

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// User is someone who has talked to the bot.
type User struct {
	ID          string
	Destination string
	Name        string
	Concise     bool
	FirstSeen   time.Time
}

// UserStore tracks users in the central database "users" table.
type UserStore struct {
	db  *sql.DB
	now func() time.Time
	mu  sync.Mutex
}

// NewUserStore creates a store on the shared DB.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db, now: time.Now}
}

// Touch records a message from the user, inserting them on first contact and
// refreshing their destination and display name afterwards.
func (s *UserStore) Touch(id, destination, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO users (id, destination, name, concise, first_seen)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			destination = excluded.destination,
			name        = CASE WHEN excluded.name = '' THEN users.name ELSE excluded.name END`,
		id, destination, name, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("touch user %s: %w", id, err)
	}
	return nil
}

// Get returns a user, or nil when unknown.
func (s *UserStore) Get(id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT id, destination, name, concise, first_seen FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// ToggleConcise flips the user's concise preference and returns the new value.
func (s *UserStore) ToggleConcise(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("toggle concise: %w", err)
	}
	defer tx.Rollback()

	var concise bool
	if err := tx.QueryRow(`SELECT concise FROM users WHERE id = ?`, id).Scan(&concise); err != nil {
		return false, fmt.Errorf("toggle concise %s: %w", id, err)
	}
	concise = !concise
	if _, err := tx.Exec(`UPDATE users SET concise = ? WHERE id = ?`, concise, id); err != nil {
		return false, fmt.Errorf("toggle concise %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("toggle concise %s: %w", id, err)
	}
	return concise, nil
}

// All returns every known user ordered by first contact.
func (s *UserStore) All() ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, destination, name, concise, first_seen FROM users ORDER BY first_seen, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*User, error) {
	var (
		u         User
		firstSeen string
	)
	if err := r.Scan(&u.ID, &u.Destination, &u.Name, &u.Concise, &firstSeen); err != nil {
		return nil, err
	}
	u.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen)
	return &u, nil
}
