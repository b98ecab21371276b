// Package scheduler – timeexpr.go turns free-form time expressions into
// absolute due instants. Three grammars are tried in order: relative
// durations ("in 20 minutes"), clock times ("9pm", "14:30") and general
// date/time text ("12/25/2025 2:30 PM"). Anything else is unparseable.
package scheduler

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ExpressionKind identifies which grammar matched a time expression.
type ExpressionKind int

const (
	KindUnparseable ExpressionKind = iota
	KindRelative
	KindClock
	KindAbsolute
)

// String returns the kind name used in logs.
func (k ExpressionKind) String() string {
	switch k {
	case KindRelative:
		return "relative"
	case KindClock:
		return "clock"
	case KindAbsolute:
		return "absolute"
	default:
		return "unparseable"
	}
}

// Resolution is the outcome of resolving a time expression.
type Resolution struct {
	Kind  ExpressionKind
	Due   time.Time
	Input string
}

// ErrUnparseable is matched by every *UnparseableError via errors.Is.
var ErrUnparseable = errors.New("unparseable time expression")

// UnparseableError reports a time expression no grammar accepted.
// Input is the original text so callers can echo it back.
type UnparseableError struct {
	Input string
}

func (e *UnparseableError) Error() string {
	return fmt.Sprintf("could not understand the time %q", e.Input)
}

func (e *UnparseableError) Is(target error) bool { return target == ErrUnparseable }

// ResolveTime is Resolve without the grammar kind.
func ResolveTime(text string, now time.Time) (time.Time, error) {
	res, err := Resolve(text, now)
	if err != nil {
		return time.Time{}, err
	}
	return res.Due, nil
}

// Resolve interprets text relative to now. A relative duration only has to
// lead the text: "in 20 minutes please" is twenty minutes from now. The
// result is always strictly comparable to now and carries now's location.
//
// Clock times at or before now roll to the next day. General dates that
// resolve before now also roll forward one day; a date that is genuinely in
// the past therefore lands on the following day rather than being rejected.
func Resolve(text string, now time.Time) (Resolution, error) {
	input := strings.TrimSpace(text)
	normalized := strings.Join(strings.Fields(strings.ToLower(input)), " ")
	if normalized == "" {
		return Resolution{Input: input}, &UnparseableError{Input: input}
	}

	if m := reRelative.FindStringSubmatch(normalized); m != nil {
		due, ok := resolveRelative(m[1], m[2], now)
		if !ok {
			return Resolution{Input: input}, &UnparseableError{Input: input}
		}
		return Resolution{Kind: KindRelative, Due: due, Input: input}, nil
	}

	if m := reClock.FindStringSubmatch(normalized); m != nil {
		hour, minute, ok := clockComponents(m[1], m[2], m[3])
		if !ok {
			return Resolution{Input: input}, &UnparseableError{Input: input}
		}
		due := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !due.After(now) {
			due = due.AddDate(0, 0, 1)
		}
		return Resolution{Kind: KindClock, Due: due, Input: input}, nil
	}

	if due, ok := parseGeneral(input, now); ok {
		if due.Before(now) {
			due = due.AddDate(0, 0, 1)
		}
		return Resolution{Kind: KindAbsolute, Due: due, Input: input}, nil
	}

	return Resolution{Input: input}, &UnparseableError{Input: input}
}

// ---------- Regex patterns ----------

var (
	reRelative = regexp.MustCompile(`^(?:in\s+)?(\d+)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|weeks?)\b`)
	reClock    = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(?:([ap])\.?m\.?)?$`)
	reMeridiem = regexp.MustCompile(`(?i)(\d)\s*([ap])\.?m\b\.?`)
)

// generalLayouts are tried before falling back to dateparse. Layouts without
// a year take the year of now.
var generalLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 3:04 PM",
	"2006-01-02",
	"1/2/2006 3:04 PM",
	"1/2/2006 3 PM",
	"1/2/2006 15:04",
	"1/2/2006",
	"January 2 2006 3:04 PM",
	"January 2 2006 3 PM",
	"January 2, 2006 3:04 PM",
	"January 2, 2006 3 PM",
	"January 2 2006",
	"January 2, 2006",
	"Jan 2 2006 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"January 2 3:04 PM",
	"January 2 3 PM",
	"January 2 at 3:04 PM",
	"January 2 at 3 PM",
	"Jan 2 3:04 PM",
	"Jan 2 3 PM",
	"January 2",
	"Jan 2",
}

// ---------- Helpers ----------

// unitDuration maps a relative unit word (singular, plural or short) to its length.
func unitDuration(unit string) time.Duration {
	switch strings.TrimSuffix(unit, "s") {
	case "second", "sec":
		return time.Second
	case "minute", "min":
		return time.Minute
	case "hour", "hr":
		return time.Hour
	case "day":
		return 24 * time.Hour
	case "week":
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// resolveRelative returns now + amount*unit. Amounts that overflow the
// duration range are rejected.
func resolveRelative(amount, unit string, now time.Time) (time.Time, bool) {
	n, err := strconv.ParseInt(amount, 10, 64)
	if err != nil || n < 0 {
		return time.Time{}, false
	}
	u := unitDuration(unit)
	if u == 0 {
		return time.Time{}, false
	}
	if n > int64(math.MaxInt64/u) {
		return time.Time{}, false
	}
	return now.Add(time.Duration(n) * u), true
}

// clockComponents validates an hour/minute/meridiem triple and returns the
// 24-hour clock values.
func clockComponents(h, m, meridiem string) (int, int, bool) {
	hour, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, false
	}
	minute := 0
	if m != "" {
		minute, err = strconv.Atoi(m)
		if err != nil || minute > 59 {
			return 0, 0, false
		}
	}

	switch meridiem {
	case "":
		if hour > 23 {
			return 0, 0, false
		}
	case "a", "p":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if meridiem == "p" && hour < 12 {
			hour += 12
		}
		if meridiem == "a" && hour == 12 {
			hour = 0
		}
	}
	return hour, minute, true
}

// parseGeneral tries the explicit layouts and then dateparse, interpreting
// the text in now's location.
func parseGeneral(input string, now time.Time) (time.Time, bool) {
	loc := now.Location()
	value := strings.Join(strings.Fields(input), " ")
	value = reMeridiem.ReplaceAllStringFunc(value, func(s string) string {
		sub := reMeridiem.FindStringSubmatch(s)
		return sub[1] + " " + strings.ToUpper(sub[2]) + "M"
	})

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(loc), true
	}
	for _, layout := range generalLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			continue
		}
		if !strings.Contains(layout, "2006") {
			t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
		}
		return t, true
	}

	t, err := dateparse.ParseIn(value, loc)
	if err != nil {
		return time.Time{}, false
	}
	if t.Year() == 0 {
		t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
	}
	return t, true
}
