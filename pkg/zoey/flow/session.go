package flow

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// State is the phase of a session.
type State int

const (
	StateCollecting State = iota
	StateConfirming
)

// Session is one user's in-progress flow.
type Session struct {
	ID      string
	User    string
	Variant Variant
	State   State

	// Step is the index of the current step while collecting.
	Step int

	// Fields holds validated values keyed by step field (plus staged extras).
	Fields map[string]string

	// Seed holds values supplied when the session started. It survives Edit.
	Seed map[string]string

	// AwaitingManual is set after a Manual option was picked.
	AwaitingManual bool

	StartedAt time.Time
	UpdatedAt time.Time
}

// Value returns a collected field, falling back to the seed.
func (s *Session) Value(field string) string {
	if v, ok := s.Fields[field]; ok {
		return v
	}
	return s.Seed[field]
}

func (s *Session) clone() *Session {
	cp := *s
	cp.Fields = maps.Clone(s.Fields)
	cp.Seed = maps.Clone(s.Seed)
	return &cp
}

// Outcome tells the caller how a reply ended the session, if at all.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCommitted
	OutcomeCancelled
)

// Button is a quick-pick rendered by the transport. Data is opaque callback
// payload that must be passed back to Engine.HandleAction.
type Button struct {
	Label string
	Data  string
}

// Reply is what the engine wants sent back to the user.
type Reply struct {
	Text    string
	Buttons []Button
	Outcome Outcome
}

// ---------- Callback data ----------

const actionPrefix = "flow:"

const (
	actionConfirm = "confirm"
	actionEdit    = "edit"
	actionCancel  = "cancel"
	actionOption  = "opt"
)

// IsAction reports whether callback data belongs to the flow engine.
func IsAction(data string) bool { return strings.HasPrefix(data, actionPrefix) }

// actionData encodes "flow:<session>:<action>". It stays under Telegram's
// 64-byte callback limit for uuid session ids.
func actionData(sessionID, action string) string {
	return actionPrefix + sessionID + ":" + action
}

func optionData(sessionID string, step, index int) string {
	return actionData(sessionID, fmt.Sprintf("%s.%d.%d", actionOption, step, index))
}

// parseAction splits callback data into session id and action.
func parseAction(data string) (sessionID, action string, ok bool) {
	rest, found := strings.CutPrefix(data, actionPrefix)
	if !found {
		return "", "", false
	}
	sessionID, action, ok = strings.Cut(rest, ":")
	if !ok || sessionID == "" || action == "" {
		return "", "", false
	}
	return sessionID, action, true
}

// parseOption decodes "opt.<step>.<index>".
func parseOption(action string) (step, index int, ok bool) {
	parts := strings.Split(action, ".")
	if len(parts) != 3 || parts[0] != actionOption {
		return 0, 0, false
	}
	step, err1 := strconv.Atoi(parts[1])
	index, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || step < 0 || index < 0 {
		return 0, 0, false
	}
	return step, index, true
}

// ---------- Registry ----------

// registry holds at most one session per user and expires idle ones.
type registry struct {
	sessions *expirable.LRU[string, *Session]
}

func newRegistry(size int, ttl time.Duration) *registry {
	return &registry{sessions: expirable.NewLRU[string, *Session](size, nil, ttl)}
}

func (r *registry) get(user string) (*Session, bool) { return r.sessions.Get(user) }

func (r *registry) put(s *Session) { r.sessions.Add(s.User, s) }

func (r *registry) remove(user string) { r.sessions.Remove(user) }

func (r *registry) len() int { return r.sessions.Len() }

// ---------- Per-user locks ----------

// userLocks serializes work per user while letting different users proceed
// concurrently. Entries are dropped once nobody holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// lock acquires the user's lock and returns its release function.
func (l *userLocks) lock(user string) func() {
	l.mu.Lock()
	ul, ok := l.locks[user]
	if !ok {
		ul = &userLock{}
		l.locks[user] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, user)
		}
		l.mu.Unlock()
	}
}
