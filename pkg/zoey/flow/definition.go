// Package flow implements Zoey's multi-step conversational collector.
//
// A Definition lists the fields a flow collects, one Step per field. The
// Engine walks a user through those steps (Collecting), shows a summary
// with Confirm/Edit/Cancel (Confirming) and hands the collected fields to
// the definition's Commit. Steps may offer quick-pick options rendered as
// buttons; an option can submit a value, ask for free text, or jump ahead
// to a later step.
package flow

import (
	"context"
	"fmt"
	"time"
)

// Variant names a kind of flow (reminder, contact, relay, search...).
type Variant string

// Option is a quick-pick choice on a step.
type Option struct {
	// Label is the button text. Typing the label is equivalent to tapping it.
	Label string

	// Value is submitted through the step validator when the option is picked.
	Value string

	// Manual switches the step to free-text entry instead of submitting Value.
	Manual bool

	// Next optionally names a later step field to jump to after this option.
	Next string
}

// StepContext is passed to validators and dynamic option builders.
type StepContext struct {
	Now    time.Time
	User   string
	Fields map[string]string
	Seed   map[string]string

	staged map[string]string
}

// Set stages a derived field. Staged fields are applied only when the
// validator succeeds.
func (c *StepContext) Set(field, value string) {
	if c.staged == nil {
		c.staged = make(map[string]string)
	}
	c.staged[field] = value
}

// Value returns a collected field, falling back to the seed.
func (c *StepContext) Value(field string) string {
	if v, ok := c.Fields[field]; ok {
		return v
	}
	return c.Seed[field]
}

// Validator normalizes raw input for a step. A *ParseFailure re-prompts the
// same step with its reason.
type Validator func(ctx *StepContext, input string) (string, error)

// Step collects one field.
type Step struct {
	// Field is the key the validated value is stored under.
	Field string

	// Prompt is shown when the step becomes current.
	Prompt string

	// ManualPrompt is shown after a Manual option is picked. Defaults to Prompt.
	ManualPrompt string

	// Options are static quick-picks.
	Options []Option

	// OptionsFunc builds quick-picks per session. Takes precedence over Options.
	OptionsFunc func(ctx *StepContext) []Option

	// AllowManual accepts typed free text even when options exist.
	// Steps without options always accept free text.
	AllowManual bool

	// Validate normalizes the input. Nil accepts any non-empty text.
	Validate Validator
}

// CommitFunc runs the flow's action with the collected fields. The returned
// text is sent to the user. An error keeps the session at Confirming.
type CommitFunc func(ctx context.Context, s *Session) (string, error)

// Definition describes a flow variant.
type Definition struct {
	Variant Variant

	// Title is used in cancel and summary texts ("reminder", "contact").
	Title string

	Steps []Step

	// Summary renders the confirmation text from the collected fields.
	Summary func(s *Session) string

	Commit CommitFunc
}

// validate checks the definition is usable.
func (d *Definition) validate() error {
	if d.Variant == "" {
		return fmt.Errorf("flow: definition without variant")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("flow %q: no steps", d.Variant)
	}
	if d.Commit == nil {
		return fmt.Errorf("flow %q: no commit", d.Variant)
	}
	seen := make(map[string]int, len(d.Steps))
	for i, st := range d.Steps {
		if st.Field == "" {
			return fmt.Errorf("flow %q: step %d has no field", d.Variant, i)
		}
		if _, dup := seen[st.Field]; dup {
			return fmt.Errorf("flow %q: duplicate field %q", d.Variant, st.Field)
		}
		seen[st.Field] = i
	}
	for i, st := range d.Steps {
		for _, o := range st.Options {
			if o.Next == "" {
				continue
			}
			if j, ok := seen[o.Next]; !ok || j <= i {
				return fmt.Errorf("flow %q: option %q jumps to %q which is not a later step", d.Variant, o.Label, o.Next)
			}
		}
	}
	return nil
}

// stepIndex returns the index of the step collecting field, or -1.
func (d *Definition) stepIndex(field string) int {
	for i, st := range d.Steps {
		if st.Field == field {
			return i
		}
	}
	return -1
}

// ParseFailure reports input a step could not accept.
type ParseFailure struct {
	Field  string
	Input  string
	Reason string
}

func (e *ParseFailure) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("could not use %q for %s", e.Input, e.Field)
}

// Invalid builds a *ParseFailure with a user-facing reason.
func Invalid(format string, args ...any) error {
	return &ParseFailure{Reason: fmt.Sprintf(format, args...)}
}
