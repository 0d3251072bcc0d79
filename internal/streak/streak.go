// Package streak computes consecutive-day streaks per pillar and for the
// aggregate harmony category.
package streak

import (
	"time"

	"cloud.google.com/go/civil"
)

type Outcome string

const (
	// Started means a new run of 1, either the first ever or after a gap.
	Started Outcome = "started"
	// Extended means yesterday's run grew by one.
	Extended Outcome = "extended"
	// Held means today was already counted.
	Held Outcome = "held"
	// Reset means a gap of more than one day dropped the current run to 0.
	Reset     Outcome = "reset"
	Unchanged Outcome = "unchanged"
)

type State struct {
	CurrentStreak  int
	LongestStreak  int
	LastLoggedDate *civil.Date
}

// Evaluate applies one day's completion to state. Calling it again for the
// same day with the same input returns the same state.
func Evaluate(state State, completedToday bool, today civil.Date) (State, Outcome) {
	yesterday := today.AddDays(-1)
	last := state.LastLoggedDate

	if completedToday {
		next := state
		outcome := Held
		switch {
		case last != nil && *last == yesterday:
			next.CurrentStreak++
			outcome = Extended
		case last == nil || *last != today:
			next.CurrentStreak = 1
			outcome = Started
		}
		d := today
		next.LastLoggedDate = &d
		if next.CurrentStreak > next.LongestStreak {
			next.LongestStreak = next.CurrentStreak
		}
		return next, outcome
	}

	if last != nil && *last != yesterday && *last != today {
		if state.CurrentStreak == 0 {
			return state, Unchanged
		}
		next := state
		next.CurrentStreak = 0
		return next, Reset
	}
	return state, Unchanged
}

// Today is the calendar date of now in loc.
func Today(now time.Time, loc *time.Location) civil.Date {
	return civil.DateOf(now.In(loc))
}

// Bounds returns [start of day, start of next day) in loc. The span is not
// always 24h across daylight saving changes.
func Bounds(day civil.Date, loc *time.Location) (time.Time, time.Time) {
	return day.In(loc), day.AddDays(1).In(loc)
}
