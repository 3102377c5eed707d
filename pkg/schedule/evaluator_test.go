package schedule

import (
	"testing"
	"time"

	"github.com/haloworks/fleetctl/internal/config"
)

func mustLoadIST(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable in this environment: %v", err)
	}
	return loc
}

// Schedule windowing: a tick two
// minutes after start_time triggers start; a tick at +10 minutes does not.
func TestIntendedAction_StartWindow(t *testing.T) {
	loc := mustLoadIST(t)
	e := &Evaluator{schedule: config.GlobalSchedule{
		StartTime:     "09:00",
		StopTime:      "18:00",
		WeekdaysStart: []int{1, 2, 3, 4, 5}, // Mon-Fri
		WeekdaysStop:  []int{1, 2, 3, 4, 5},
	}}

	// Tuesday 2026-07-28 is a weekday.
	tickAt902 := time.Date(2026, 7, 28, 9, 2, 0, 0, loc)
	if got := e.intendedAction(tickAt902); got != intentStart {
		t.Errorf("intendedAction at 09:02 = %q, want start", got)
	}

	tickAt910 := time.Date(2026, 7, 28, 9, 10, 0, 0, loc)
	if got := e.intendedAction(tickAt910); got != intentNone {
		t.Errorf("intendedAction at 09:10 = %q, want none", got)
	}
}

func TestIntendedAction_StopWindow(t *testing.T) {
	loc := mustLoadIST(t)
	e := &Evaluator{schedule: config.GlobalSchedule{
		StartTime:     "09:00",
		StopTime:      "18:00",
		WeekdaysStart: []int{1, 2, 3, 4, 5},
		WeekdaysStop:  []int{1, 2, 3, 4, 5},
	}}

	tick := time.Date(2026, 7, 28, 18, 3, 0, 0, loc)
	if got := e.intendedAction(tick); got != intentStop {
		t.Errorf("intendedAction at 18:03 = %q, want stop", got)
	}
}

func TestIntendedAction_NotAConfiguredWeekday(t *testing.T) {
	loc := mustLoadIST(t)
	e := &Evaluator{schedule: config.GlobalSchedule{
		StartTime:     "09:00",
		WeekdaysStart: []int{1, 2, 3, 4, 5}, // weekdays only
	}}

	// Saturday, no weekend_shutdown configured.
	tick := time.Date(2026, 8, 1, 9, 2, 0, 0, loc)
	if got := e.intendedAction(tick); got != intentNone {
		t.Errorf("intendedAction on unconfigured Saturday = %q, want none", got)
	}
}

func TestIntendedAction_WeekendShutdownTakesPriority(t *testing.T) {
	loc := mustLoadIST(t)
	e := &Evaluator{schedule: config.GlobalSchedule{
		WeekendShutdown: true,
		StartTime:       "09:00",
		WeekdaysStart:   []int{0, 6}, // Sunday/Saturday also configured to start
	}}

	tick := time.Date(2026, 8, 1, 9, 2, 0, 0, loc) // Saturday
	if got := e.intendedAction(tick); got != intentStop {
		t.Errorf("intendedAction on weekend with weekend_shutdown = %q, want stop", got)
	}
}

func TestWithinWindow(t *testing.T) {
	loc := time.UTC
	base := time.Date(2026, 7, 28, 0, 0, 0, 0, loc)

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"exact boundary", base.Add(9 * time.Hour), true},
		{"inside slack", base.Add(9*time.Hour + 4*time.Minute), true},
		{"just before boundary", base.Add(9*time.Hour - time.Minute), false},
		{"past slack", base.Add(9*time.Hour + 5*time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := withinWindow(tc.now, "09:00"); got != tc.want {
				t.Errorf("withinWindow() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWithinWindow_InvalidTarget(t *testing.T) {
	if withinWindow(time.Now(), "not-a-time") {
		t.Error("an unparseable target should never match")
	}
}

func TestContainsWeekday(t *testing.T) {
	days := []int{1, 3, 5}
	if !containsWeekday(days, 3) {
		t.Error("expected 3 to be contained")
	}
	if containsWeekday(days, 2) {
		t.Error("did not expect 2 to be contained")
	}
}

func TestIsWeekend(t *testing.T) {
	if !isWeekend(int(time.Saturday)) || !isWeekend(int(time.Sunday)) {
		t.Error("Saturday and Sunday must be weekend")
	}
	if isWeekend(int(time.Monday)) {
		t.Error("Monday must not be weekend")
	}
}
