package app

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	"triad/api/internal/store"
	"triad/api/internal/streak"
	"triad/api/internal/wheel"
)

type PillarProgress struct {
	PillarID  string  `json:"pillarId"`
	Pillar    string  `json:"pillar"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

type StreakView struct {
	Category       string `json:"category"`
	PillarID       string `json:"pillarId,omitempty"`
	Name           string `json:"name"`
	CurrentStreak  int    `json:"currentStreak"`
	LongestStreak  int    `json:"longestStreak"`
	LastLoggedDate string `json:"lastLoggedDate,omitempty"`
}

type Dashboard struct {
	Date       string           `json:"date"`
	Progress   []PillarProgress `json:"progress"`
	Wheel      wheel.Progress   `json:"wheel"`
	Streaks    []StreakView     `json:"streaks"`
	Harmony    StreakView       `json:"harmony"`
	Intention  string           `json:"intention"`
	Reflection string           `json:"reflection"`
	Onboarding OnboardingStatus `json:"onboarding"`
}

// Dashboard loads everything the home screen needs in parallel. Any failed
// load fails the whole request.
func (s *Service) Dashboard(ctx context.Context, userID string) (Dashboard, error) {
	day, from, to := s.today()

	var (
		pillars    []store.Pillar
		activities []store.MicroActivity
		logs       []store.ActivityLog
		streaks    []store.Streak
		checkIns   []store.CheckIn
		reminders  []store.ReminderWindow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		pillars, err = s.store.ListPillars(gctx)
		return err
	})
	g.Go(func() (err error) {
		activities, err = s.store.ListMicroActivities(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		logs, err = s.store.ListActivityLogs(gctx, userID, from, to)
		return err
	})
	g.Go(func() (err error) {
		streaks, err = s.store.ListStreaks(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		checkIns, err = s.store.ListCheckInsOn(gctx, userID, day.In(time.UTC))
		return err
	})
	g.Go(func() (err error) {
		reminders, err = s.store.ListReminderWindows(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	progress := pillarProgress(pillars, activities, loggedSet(logs))
	views, harmony := streakViews(pillars, streaks, day)
	notes := summarizeCheckIns(ctx, checkIns)

	return Dashboard{
		Date:       day.String(),
		Progress:   progress,
		Wheel:      wheelProgress(progress),
		Streaks:    views,
		Harmony:    harmony,
		Intention:  notes.Intention,
		Reflection: notes.Reflection,
		Onboarding: onboardingStatus(len(activities), len(reminders)),
	}, nil
}

// WheelSVG renders today's progress ring for the user.
func (s *Service) WheelSVG(ctx context.Context, userID string) ([]byte, error) {
	_, from, to := s.today()
	pillars, err := s.store.ListPillars(ctx)
	if err != nil {
		return nil, err
	}
	activities, err := s.store.ListMicroActivities(ctx, userID)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListActivityLogs(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	return wheel.Render(wheelProgress(pillarProgress(pillars, activities, loggedSet(logs))))
}

// Streaks lists the stored streaks as they stand today. Rows whose last
// logged day is older than yesterday show as broken without being written.
func (s *Service) Streaks(ctx context.Context, userID string) ([]StreakView, StreakView, error) {
	day, _, _ := s.today()
	pillars, err := s.store.ListPillars(ctx)
	if err != nil {
		return nil, StreakView{}, err
	}
	rows, err := s.store.ListStreaks(ctx, userID)
	if err != nil {
		return nil, StreakView{}, err
	}
	views, harmony := streakViews(pillars, rows, day)
	return views, harmony, nil
}

func pillarProgress(pillars []store.Pillar, activities []store.MicroActivity, logged map[string]bool) []PillarProgress {
	out := make([]PillarProgress, 0, len(pillars))
	for _, p := range pillars {
		pp := PillarProgress{PillarID: p.ID, Pillar: p.Name}
		for _, a := range activities {
			if a.PillarID != p.ID {
				continue
			}
			pp.Total++
			if logged[a.ID] {
				pp.Completed++
			}
		}
		if pp.Total > 0 {
			pp.Percent = float64(pp.Completed) / float64(pp.Total) * 100
		}
		out = append(out, pp)
	}
	return out
}

func wheelProgress(progress []PillarProgress) wheel.Progress {
	var p wheel.Progress
	for _, pp := range progress {
		switch pp.Pillar {
		case "Spiritual":
			p.Spiritual = pp.Percent
		case "Mental":
			p.Mental = pp.Percent
		case "Physical":
			p.Physical = pp.Percent
		}
	}
	return p
}

func streakViews(pillars []store.Pillar, rows []store.Streak, day civil.Date) ([]StreakView, StreakView) {
	byCategory := make(map[string]store.Streak, len(rows))
	for _, row := range rows {
		byCategory[row.Category] = row
	}
	views := make([]StreakView, 0, len(pillars))
	for _, p := range pillars {
		views = append(views, streakView(byCategory[p.ID], p.ID, p.ID, p.Name, day))
	}
	return views, streakView(byCategory[store.HarmonyCategory], store.HarmonyCategory, "", "Harmony", day)
}

func streakView(row store.Streak, category, pillarID, name string, day civil.Date) StreakView {
	// Evaluating an incomplete day only ever resets a stale run.
	state, _ := streak.Evaluate(streak.StateFromRow(row), false, day)
	view := StreakView{
		Category:      category,
		PillarID:      pillarID,
		Name:          name,
		CurrentStreak: state.CurrentStreak,
		LongestStreak: state.LongestStreak,
	}
	if state.LastLoggedDate != nil {
		view.LastLoggedDate = state.LastLoggedDate.String()
	}
	return view
}
