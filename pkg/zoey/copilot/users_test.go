package copilot

import (
	"path/filepath"
	"testing"

	"github.com/jholhewres/zoey/pkg/zoey/database"
)

func newTestUsers(t *testing.T) *UserStore {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "zoey.db"))
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUserStore(db)
}

func TestUserStore_TouchAndGet(t *testing.T) {
	t.Parallel()
	s := newTestUsers(t)

	if u, err := s.Get("telegram:1"); err != nil || u != nil {
		t.Fatalf("Get unknown = %+v, %v", u, err)
	}
	if err := s.Touch("telegram:1", "telegram:1", "Sam"); err != nil {
		t.Fatal(err)
	}
	// An empty name keeps the stored one; destination follows the latest chat.
	if err := s.Touch("telegram:1", "telegram:-50", ""); err != nil {
		t.Fatal(err)
	}

	u, err := s.Get("telegram:1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Name != "Sam" || u.Destination != "telegram:-50" || u.FirstSeen.IsZero() {
		t.Errorf("user = %+v", u)
	}
}

func TestUserStore_ToggleConcise(t *testing.T) {
	t.Parallel()
	s := newTestUsers(t)

	if _, err := s.ToggleConcise("nobody"); err == nil {
		t.Error("ToggleConcise on unknown user should fail")
	}
	if err := s.Touch("u", "telegram:1", "U"); err != nil {
		t.Fatal(err)
	}
	for _, want := range []bool{true, false, true} {
		got, err := s.ToggleConcise("u")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("ToggleConcise = %v, want %v", got, want)
		}
	}
	if u, _ := s.Get("u"); !u.Concise {
		t.Error("Concise not persisted")
	}
}

func TestUserStore_All(t *testing.T) {
	t.Parallel()
	s := newTestUsers(t)

	for _, id := range []string{"b", "a", "c"} {
		if err := s.Touch(id, "telegram:"+id, ""); err != nil {
			t.Fatal(err)
		}
	}
	users, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 3 {
		t.Fatalf("All = %+v", users)
	}
	seen := map[string]bool{}
	for _, u := range users {
		seen[u.Destination] = true
	}
	if !seen["telegram:a"] || !seen["telegram:b"] || !seen["telegram:c"] {
		t.Errorf("destinations = %v", seen)
	}
}
