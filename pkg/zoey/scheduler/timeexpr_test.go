package scheduler

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// base is Monday, 2 June 2025 14:00:00 UTC.
var base = time.Date(2025, time.June, 2, 14, 0, 0, 0, time.UTC)

func TestResolve_Relative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  time.Duration
	}{
		{"in 20 minutes", 20 * time.Minute},
		{"20 minutes", 20 * time.Minute},
		{"in 1 minute", time.Minute},
		{"in 30 seconds", 30 * time.Second},
		{"in 2 hours", 2 * time.Hour},
		{"in 3 days", 72 * time.Hour},
		{"in 2 weeks", 14 * 24 * time.Hour},
		{"in 0 minutes", 0},
		{"in 10 mins", 10 * time.Minute},
		{"5 hrs", 5 * time.Hour},
		{"IN 45 MINUTES", 45 * time.Minute},
		{"in   15   minutes", 15 * time.Minute},
		{"in 100000 days", 100000 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			res, err := Resolve(tt.input, base)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.input, err)
			}
			if res.Kind != KindRelative {
				t.Errorf("Kind = %v, want relative", res.Kind)
			}
			if got := res.Due.Sub(base); got != tt.want {
				t.Errorf("Resolve(%q) offset = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestResolve_RelativeGrid(t *testing.T) {
	t.Parallel()

	units := []struct {
		word string
		unit time.Duration
	}{
		{"second", time.Second},
		{"minute", time.Minute},
		{"hour", time.Hour},
		{"day", 24 * time.Hour},
		{"week", 7 * 24 * time.Hour},
	}

	for _, n := range []int64{0, 1, 59, 10000} {
		for _, u := range units {
			word := u.word
			if n != 1 {
				word += "s"
			}
			for _, input := range []string{
				fmt.Sprintf("in %d %s", n, word),
				fmt.Sprintf("%d %s", n, word),
			} {
				res, err := Resolve(input, base)
				if err != nil {
					t.Errorf("Resolve(%q) error: %v", input, err)
					continue
				}
				if want := base.Add(time.Duration(n) * u.unit); !res.Due.Equal(want) {
					t.Errorf("Resolve(%q) = %v, want %v", input, res.Due, want)
				}
			}
		}
	}
}

func TestResolve_RelativeTrailingWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  time.Duration
	}{
		{"in 20 minutes please", 20 * time.Minute},
		{"in 2 hours from now", 2 * time.Hour},
		{"5 mins or so", 5 * time.Minute},
		{"in 1 day, thanks!", 24 * time.Hour},
	}

	for _, tt := range tests {
		res, err := Resolve(tt.input, base)
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", tt.input, err)
			continue
		}
		if res.Kind != KindRelative || res.Due.Sub(base) != tt.want {
			t.Errorf("Resolve(%q) = %v %v, want relative +%v", tt.input, res.Kind, res.Due.Sub(base), tt.want)
		}
	}

	// A unit must end on a word boundary.
	if res, err := Resolve("in 5 minutesque", base); err == nil && res.Kind == KindRelative {
		t.Errorf("Resolve(minutesque) = relative %v", res.Due)
	}
}

func TestResolve_RelativeOverflow(t *testing.T) {
	t.Parallel()

	for _, input := range []string{
		"in 999999999999 weeks",
		"in 99999999999999999999999 seconds",
	} {
		_, err := Resolve(input, base)
		if !errors.Is(err, ErrUnparseable) {
			t.Errorf("Resolve(%q) error = %v, want ErrUnparseable", input, err)
		}
	}
}

func TestResolve_Clock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  time.Time
	}{
		// Later today.
		{"9pm", time.Date(2025, 6, 2, 21, 0, 0, 0, time.UTC)},
		{"9 pm", time.Date(2025, 6, 2, 21, 0, 0, 0, time.UTC)},
		{"3:30pm", time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC)},
		{"14:30", time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)},
		{"12pm", time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)},
		{"11:59 p.m.", time.Date(2025, 6, 2, 23, 59, 0, 0, time.UTC)},

		// Already passed today: tomorrow.
		{"9am", time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)},
		{"12am", time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)},
		{"13:59", time.Date(2025, 6, 3, 13, 59, 0, 0, time.UTC)},
		{"9", time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)},

		// Exactly now rolls to tomorrow.
		{"2pm", time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC)},
		{"14:00", time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			res, err := Resolve(tt.input, base)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.input, err)
			}
			if res.Kind != KindClock {
				t.Errorf("Kind = %v, want clock", res.Kind)
			}
			if !res.Due.Equal(tt.want) {
				t.Errorf("Resolve(%q) = %v, want %v", tt.input, res.Due, tt.want)
			}
		})
	}
}

func TestResolve_ClockAlwaysInFuture(t *testing.T) {
	t.Parallel()

	for h := 0; h < 24; h++ {
		for _, m := range []int{0, 15, 59} {
			now := time.Date(2025, 6, 2, h, m, 0, 0, time.UTC)
			for _, input := range []string{"12am", "6am", "noon", "12pm", "6pm", "23:59", "0:00"} {
				res, err := Resolve(input, now)
				if err != nil {
					continue
				}
				if !res.Due.After(now) {
					t.Errorf("Resolve(%q, %v) = %v, want after now", input, now, res.Due)
				}
				if res.Due.Sub(now) > 24*time.Hour {
					t.Errorf("Resolve(%q, %v) = %v, want within 24h", input, now, res.Due)
				}
			}
		}
	}
}

func TestResolve_Absolute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  time.Time
	}{
		{"12/25/2025 2:30 PM", time.Date(2025, 12, 25, 14, 30, 0, 0, time.UTC)},
		{"12/25/2025 2:30pm", time.Date(2025, 12, 25, 14, 30, 0, 0, time.UTC)},
		{"2025-07-01 08:15", time.Date(2025, 7, 1, 8, 15, 0, 0, time.UTC)},
		{"December 25 2025 9am", time.Date(2025, 12, 25, 9, 0, 0, 0, time.UTC)},
		{"july 4 3pm", time.Date(2025, 7, 4, 15, 0, 0, 0, time.UTC)},
		// Past instant rolls forward one day.
		{"2025-06-02 13:00", time.Date(2025, 6, 3, 13, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			res, err := Resolve(tt.input, base)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.input, err)
			}
			if res.Kind != KindAbsolute {
				t.Errorf("Kind = %v, want absolute", res.Kind)
			}
			if !res.Due.Equal(tt.want) {
				t.Errorf("Resolve(%q) = %v, want %v", tt.input, res.Due, tt.want)
			}
		})
	}
}

func TestResolve_Unparseable(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "   ", "whenever", "soonish", "25:00", "9:99", "13pm", "blue moon"} {
		res, err := Resolve(input, base)
		if err == nil {
			t.Errorf("Resolve(%q) = %v, want error", input, res.Due)
			continue
		}
		var ue *UnparseableError
		if !errors.As(err, &ue) {
			t.Errorf("Resolve(%q) error type = %T, want *UnparseableError", input, err)
			continue
		}
		if res.Kind != KindUnparseable {
			t.Errorf("Resolve(%q) kind = %v, want unparseable", input, res.Kind)
		}
	}

	_, err := Resolve("  whenever  ", base)
	var ue *UnparseableError
	if errors.As(err, &ue) && ue.Input != "whenever" {
		t.Errorf("Input = %q, want echoed text", ue.Input)
	}
}

func TestResolve_UsesNowLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("BRT", -3*3600)
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, loc)
	res, err := Resolve("9pm", now)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 2, 21, 0, 0, 0, loc)
	if !res.Due.Equal(want) {
		t.Errorf("Due = %v, want %v", res.Due, want)
	}
}
