package app

import (
	"context"
	"fmt"
	"strings"

	"triad/api/internal/catalog"
	"triad/api/internal/store"
	"triad/api/internal/validation"
)

type ActivityView struct {
	ID          string `json:"id"`
	PillarID    string `json:"pillarId"`
	Pillar      string `json:"pillar"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ReminderInput struct {
	Name  string `json:"name" validate:"required,max=50"`
	Start string `json:"start" validate:"required,hhmm"`
	End   string `json:"end" validate:"required,hhmm"`
}

type ReminderView struct {
	Name    string `json:"name"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Default bool   `json:"default"`
}

type OnboardingStatus struct {
	HasActivities bool `json:"hasActivities"`
	HasReminders  bool `json:"hasReminders"`
	Complete      bool `json:"complete"`
}

func (s *Service) Catalog() []catalog.Pillar {
	return catalog.Pillars()
}

func (s *Service) ListActivities(ctx context.Context, userID string) ([]ActivityView, error) {
	activities, err := s.store.ListMicroActivities(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		views = append(views, activityView(a))
	}
	return views, nil
}

// SaveActivitySelection replaces the user's micro-activities with the named
// catalog entries, keyed by pillar name. Unknown pillars or activities fail
// the whole request; an empty selection clears everything.
func (s *Service) SaveActivitySelection(ctx context.Context, userID string, selection map[string][]string) ([]ActivityView, error) {
	var activities []store.MicroActivity
	for pillarName, names := range selection {
		pillar, ok := catalog.PillarByName(pillarName)
		if !ok {
			return nil, validation.Fail("selections."+pillarName, "pillar", fmt.Sprintf("unknown pillar %q", pillarName))
		}
		seen := make(map[string]bool, len(names))
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			entry, ok := catalog.Lookup(pillar.Name, name)
			if !ok {
				return nil, validation.Fail("selections."+pillarName, "activity", fmt.Sprintf("%q is not a %s activity", name, pillar.Name))
			}
			activities = append(activities, store.MicroActivity{
				UserID:      userID,
				PillarID:    pillar.ID,
				Name:        entry.Name,
				Description: entry.Description,
			})
		}
	}

	if err := s.store.ReplaceMicroActivities(ctx, userID, activities); err != nil {
		return nil, err
	}
	return s.ListActivities(ctx, userID)
}

// SaveReminderWindows validates every window before replacing the stored set.
func (s *Service) SaveReminderWindows(ctx context.Context, userID string, inputs []ReminderInput) ([]ReminderView, error) {
	for i := range inputs {
		inputs[i].Name = strings.TrimSpace(inputs[i].Name)
		inputs[i].Start = strings.TrimSpace(inputs[i].Start)
		inputs[i].End = strings.TrimSpace(inputs[i].End)
	}
	payload := struct {
		Windows []ReminderInput `json:"windows" validate:"max=10,dive"`
	}{Windows: inputs}
	if err := validation.Struct(payload); err != nil {
		return nil, err
	}

	windows := make([]store.ReminderWindow, 0, len(inputs))
	for i, in := range inputs {
		// Zero-padded HH:MM compares correctly as a string.
		if in.End <= in.Start {
			return nil, validation.Fail(fmt.Sprintf("windows[%d].end", i), "after", "end must be after start")
		}
		windows = append(windows, store.ReminderWindow{
			UserID:    userID,
			Name:      in.Name,
			StartTime: in.Start + ":00",
			EndTime:   in.End + ":00",
		})
	}

	if err := s.store.ReplaceReminderWindows(ctx, userID, windows); err != nil {
		return nil, err
	}
	return s.ListReminderWindows(ctx, userID)
}

// ListReminderWindows falls back to the catalog defaults, flagged as such,
// when the user has not saved any.
func (s *Service) ListReminderWindows(ctx context.Context, userID string) ([]ReminderView, error) {
	windows, err := s.store.ListReminderWindows(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		defaults := catalog.DefaultReminders()
		views := make([]ReminderView, 0, len(defaults))
		for _, d := range defaults {
			views = append(views, ReminderView{Name: d.Name, Start: d.Start, End: d.End, Default: true})
		}
		return views, nil
	}
	views := make([]ReminderView, 0, len(windows))
	for _, w := range windows {
		views = append(views, ReminderView{Name: w.Name, Start: trimSeconds(w.StartTime), End: trimSeconds(w.EndTime)})
	}
	return views, nil
}

func (s *Service) OnboardingStatus(ctx context.Context, userID string) (OnboardingStatus, error) {
	activities, err := s.store.ListMicroActivities(ctx, userID)
	if err != nil {
		return OnboardingStatus{}, err
	}
	windows, err := s.store.ListReminderWindows(ctx, userID)
	if err != nil {
		return OnboardingStatus{}, err
	}
	return onboardingStatus(len(activities), len(windows)), nil
}

func onboardingStatus(activities, reminders int) OnboardingStatus {
	status := OnboardingStatus{HasActivities: activities > 0, HasReminders: reminders > 0}
	status.Complete = status.HasActivities && status.HasReminders
	return status
}

func activityView(a store.MicroActivity) ActivityView {
	view := ActivityView{
		ID:          a.ID,
		PillarID:    a.PillarID,
		Name:        a.Name,
		Description: a.Description,
	}
	if p, ok := catalog.PillarByID(a.PillarID); ok {
		view.Pillar = p.Name
	}
	return view
}

func trimSeconds(value string) string {
	if len(value) == len("15:04:05") {
		return value[:5]
	}
	return value
}
