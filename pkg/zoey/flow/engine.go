package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors.
var (
	ErrNoSession      = errors.New("no active session")
	ErrUnknownVariant = errors.New("unknown flow variant")
)

// NoSessionText is the reply for buttons whose session is gone.
const NoSessionText = "There's no active session for that button anymore. Send /commands to start again."

// Observer receives flow lifecycle events (metrics).
type Observer interface {
	FlowStarted(variant string)
	FlowFinished(variant string, outcome string)
}

// Config configures the engine.
type Config struct {
	// SessionTTL expires idle sessions. Defaults to 30 minutes.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// MaxSessions bounds concurrent sessions. Defaults to 10000.
	MaxSessions int `yaml:"max_sessions"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{SessionTTL: 30 * time.Minute, MaxSessions: 10000}
}

// Engine drives flow sessions. It is safe for concurrent use; calls for the
// same user are serialized.
type Engine struct {
	defs     map[Variant]*Definition
	defsMu   sync.RWMutex
	sessions *registry
	locks    *userLocks
	now      func() time.Time
	observer Observer
	logger   *slog.Logger
}

// NewEngine creates an engine with no registered flows.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	return &Engine{
		defs:     make(map[Variant]*Definition),
		sessions: newRegistry(cfg.MaxSessions, cfg.SessionTTL),
		locks:    newUserLocks(),
		now:      time.Now,
		logger:   logger.With("component", "flow"),
	}
}

// SetClock overrides the time source passed to validators.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetObserver installs a lifecycle observer.
func (e *Engine) SetObserver(o Observer) { e.observer = o }

// Register adds a flow definition.
func (e *Engine) Register(def *Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	e.defsMu.Lock()
	defer e.defsMu.Unlock()
	if _, exists := e.defs[def.Variant]; exists {
		return fmt.Errorf("flow %q already registered", def.Variant)
	}
	e.defs[def.Variant] = def
	return nil
}

func (e *Engine) definition(v Variant) (*Definition, bool) {
	e.defsMu.RLock()
	defer e.defsMu.RUnlock()
	d, ok := e.defs[v]
	return d, ok
}

// Active returns a snapshot of the user's session.
func (e *Engine) Active(user string) (*Session, bool) {
	unlock := e.locks.lock(user)
	defer unlock()
	s, ok := e.sessions.get(user)
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// ActiveCount returns the number of live sessions.
func (e *Engine) ActiveCount() int { return e.sessions.len() }

// Start begins a flow for user, replacing any session they had. Seed values
// whose key matches a step field pre-fill that step when they validate.
func (e *Engine) Start(ctx context.Context, user string, variant Variant, seed map[string]string) (Reply, error) {
	def, ok := e.definition(variant)
	if !ok {
		return Reply{}, fmt.Errorf("%w: %s", ErrUnknownVariant, variant)
	}

	unlock := e.locks.lock(user)
	defer unlock()

	if old, ok := e.sessions.get(user); ok {
		e.logger.Debug("replacing flow session", "user", user, "old", old.Variant, "new", variant)
		e.finished(old.Variant, "replaced")
	}

	now := e.now()
	s := &Session{
		ID:        uuid.New().String(),
		User:      user,
		Variant:   variant,
		State:     StateCollecting,
		Fields:    make(map[string]string),
		Seed:      maps.Clone(seed),
		StartedAt: now,
		UpdatedAt: now,
	}
	if s.Seed == nil {
		s.Seed = make(map[string]string)
	}

	for _, st := range def.Steps {
		raw, ok := seed[st.Field]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		sc := e.stepContext(s)
		val, err := e.validate(st, sc, raw)
		if err != nil {
			continue
		}
		s.Fields[st.Field] = val
		maps.Copy(s.Fields, sc.staged)
	}

	if e.observer != nil {
		e.observer.FlowStarted(string(variant))
	}
	e.logger.Debug("flow started", "user", user, "variant", variant, "session", s.ID)
	return e.advance(ctx, def, s, -1), nil
}

// Cancel aborts the user's session.
func (e *Engine) Cancel(user string) (Reply, bool) {
	unlock := e.locks.lock(user)
	defer unlock()

	s, ok := e.sessions.get(user)
	if !ok {
		return Reply{}, false
	}
	def, _ := e.definition(s.Variant)
	return e.cancel(def, s), true
}

// HandleText feeds typed text to the user's session. handled is false when
// the user has no session, so the caller can route the text elsewhere.
func (e *Engine) HandleText(ctx context.Context, user, text string) (reply Reply, handled bool) {
	unlock := e.locks.lock(user)
	defer unlock()

	s, ok := e.sessions.get(user)
	if !ok {
		return Reply{}, false
	}
	def, ok := e.definition(s.Variant)
	if !ok {
		e.sessions.remove(user)
		return Reply{}, false
	}

	input := strings.TrimSpace(text)
	word := strings.ToLower(strings.TrimPrefix(input, "/"))

	if word == "cancel" {
		return e.cancel(def, s), true
	}

	if s.State == StateConfirming {
		switch word {
		case "confirm", "yes", "y", "ok":
			return e.commit(ctx, def, s), true
		case "edit":
			return e.edit(ctx, def, s), true
		case "no":
			return e.cancel(def, s), true
		default:
			r := e.confirmReply(def, s)
			r.Text = "Please tap Confirm, Edit or Cancel.\n\n" + r.Text
			return r, true
		}
	}

	step := def.Steps[s.Step]
	sc := e.stepContext(s)

	if s.AwaitingManual {
		return e.submit(ctx, def, s, input, ""), true
	}

	options := e.options(step, sc)
	for _, o := range options {
		if strings.EqualFold(o.Label, input) {
			return e.pick(ctx, def, s, o), true
		}
	}
	if len(options) > 0 && !step.AllowManual {
		r := e.promptReply(def, s)
		r.Text = "Please choose one of the options.\n\n" + r.Text
		return r, true
	}
	return e.submit(ctx, def, s, input, ""), true
}

// HandleAction processes button callback data. A missing, expired or
// superseded session yields NoSessionText and ErrNoSession.
func (e *Engine) HandleAction(ctx context.Context, user, data string) (Reply, error) {
	sessionID, action, ok := parseAction(data)
	if !ok {
		return Reply{Text: NoSessionText}, ErrNoSession
	}

	unlock := e.locks.lock(user)
	defer unlock()

	s, ok := e.sessions.get(user)
	if !ok || s.ID != sessionID {
		return Reply{Text: NoSessionText}, ErrNoSession
	}
	def, ok := e.definition(s.Variant)
	if !ok {
		e.sessions.remove(user)
		return Reply{Text: NoSessionText}, ErrNoSession
	}

	switch action {
	case actionCancel:
		return e.cancel(def, s), nil
	case actionConfirm:
		if s.State != StateConfirming {
			return e.promptReply(def, s), nil
		}
		return e.commit(ctx, def, s), nil
	case actionEdit:
		if s.State != StateConfirming {
			return e.promptReply(def, s), nil
		}
		return e.edit(ctx, def, s), nil
	}

	stepIdx, idx, ok := parseOption(action)
	if !ok {
		return Reply{Text: NoSessionText}, ErrNoSession
	}
	// Buttons from an earlier step or state re-show the current prompt.
	if s.State != StateCollecting || stepIdx != s.Step {
		if s.State == StateConfirming {
			return e.confirmReply(def, s), nil
		}
		return e.promptReply(def, s), nil
	}
	options := e.options(def.Steps[s.Step], e.stepContext(s))
	if idx >= len(options) {
		return e.promptReply(def, s), nil
	}
	return e.pick(ctx, def, s, options[idx]), nil
}

// ---------- Internal ----------

func (e *Engine) stepContext(s *Session) *StepContext {
	return &StepContext{
		Now:    e.now(),
		User:   s.User,
		Fields: maps.Clone(s.Fields),
		Seed:   s.Seed,
	}
}

func (e *Engine) options(step Step, sc *StepContext) []Option {
	if step.OptionsFunc != nil {
		return step.OptionsFunc(sc)
	}
	return step.Options
}

func (e *Engine) validate(step Step, sc *StepContext, input string) (string, error) {
	input = strings.TrimSpace(input)
	if step.Validate == nil {
		if input == "" {
			return "", &ParseFailure{Field: step.Field, Reason: "Please type something."}
		}
		return input, nil
	}
	val, err := step.Validate(sc, input)
	if err != nil {
		var pf *ParseFailure
		if errors.As(err, &pf) {
			if pf.Field == "" {
				pf.Field = step.Field
			}
			if pf.Input == "" {
				pf.Input = input
			}
		}
		return "", err
	}
	return val, nil
}

// pick applies a quick-pick option.
func (e *Engine) pick(ctx context.Context, def *Definition, s *Session, o Option) Reply {
	if o.Manual {
		s.AwaitingManual = true
		s.UpdatedAt = e.now()
		e.sessions.put(s)
		return e.promptReply(def, s)
	}
	return e.submit(ctx, def, s, o.Value, o.Next)
}

// submit validates input for the current step and advances on success.
func (e *Engine) submit(ctx context.Context, def *Definition, s *Session, input, next string) Reply {
	step := def.Steps[s.Step]
	sc := e.stepContext(s)
	val, err := e.validate(step, sc, input)
	if err != nil {
		var pf *ParseFailure
		reason := "Something went wrong, please try again."
		if errors.As(err, &pf) {
			reason = pf.Error()
		} else {
			e.logger.Warn("flow validator failed", "variant", s.Variant, "field", step.Field, "error", err)
		}
		e.sessions.put(s)
		r := e.promptReply(def, s)
		r.Text = reason + "\n\n" + r.Text
		return r
	}

	s.Fields[step.Field] = val
	maps.Copy(s.Fields, sc.staged)
	s.AwaitingManual = false
	s.UpdatedAt = e.now()

	from := s.Step
	if next != "" {
		if j := def.stepIndex(next); j > s.Step {
			from = j - 1
		}
	}
	return e.advance(ctx, def, s, from)
}

// advance moves to the first unfilled step after index from, or to
// Confirming when none is left.
func (e *Engine) advance(_ context.Context, def *Definition, s *Session, from int) Reply {
	for i := from + 1; i < len(def.Steps); i++ {
		if _, filled := s.Fields[def.Steps[i].Field]; !filled {
			s.Step = i
			s.State = StateCollecting
			e.sessions.put(s)
			return e.promptReply(def, s)
		}
	}
	s.State = StateConfirming
	e.sessions.put(s)
	return e.confirmReply(def, s)
}

func (e *Engine) commit(ctx context.Context, def *Definition, s *Session) Reply {
	text, err := def.Commit(ctx, s.clone())
	if err != nil {
		e.logger.Error("flow commit failed", "variant", s.Variant, "user", s.User, "error", err)
		e.sessions.put(s)
		r := e.confirmReply(def, s)
		r.Text = fmt.Sprintf("Sorry, I couldn't complete that: %v\nTap Confirm to try again, or Edit/Cancel.\n\n%s", err, r.Text)
		return r
	}
	e.sessions.remove(s.User)
	e.finished(s.Variant, "committed")
	e.logger.Info("flow committed", "variant", s.Variant, "user", s.User)
	return Reply{Text: text, Outcome: OutcomeCommitted}
}

func (e *Engine) edit(ctx context.Context, def *Definition, s *Session) Reply {
	s.Fields = make(map[string]string)
	s.AwaitingManual = false
	s.UpdatedAt = e.now()
	return e.advance(ctx, def, s, -1)
}

func (e *Engine) cancel(def *Definition, s *Session) Reply {
	e.sessions.remove(s.User)
	e.finished(s.Variant, "cancelled")
	title := string(s.Variant)
	if def != nil && def.Title != "" {
		title = def.Title
	}
	return Reply{Text: fmt.Sprintf("Okay, I cancelled the %s.", title), Outcome: OutcomeCancelled}
}

func (e *Engine) finished(v Variant, outcome string) {
	if e.observer != nil {
		e.observer.FlowFinished(string(v), outcome)
	}
}

func (e *Engine) promptReply(def *Definition, s *Session) Reply {
	step := def.Steps[s.Step]
	if s.AwaitingManual {
		text := step.ManualPrompt
		if text == "" {
			text = step.Prompt
		}
		return Reply{Text: text}
	}

	options := e.options(step, e.stepContext(s))
	r := Reply{Text: step.Prompt}
	for i, o := range options {
		r.Buttons = append(r.Buttons, Button{Label: o.Label, Data: optionData(s.ID, s.Step, i)})
	}
	return r
}

func (e *Engine) confirmReply(def *Definition, s *Session) Reply {
	text := ""
	if def.Summary != nil {
		text = def.Summary(s.clone())
	} else {
		var b strings.Builder
		for _, st := range def.Steps {
			if v, ok := s.Fields[st.Field]; ok {
				fmt.Fprintf(&b, "%s: %s\n", st.Field, v)
			}
		}
		text = strings.TrimSpace(b.String())
	}
	return Reply{
		Text: text,
		Buttons: []Button{
			{Label: "Confirm", Data: actionData(s.ID, actionConfirm)},
			{Label: "Edit", Data: actionData(s.ID, actionEdit)},
			{Label: "Cancel", Data: actionData(s.ID, actionCancel)},
		},
	}
}
