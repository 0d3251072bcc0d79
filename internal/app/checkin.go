package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"triad/api/internal/logging"
	"triad/api/internal/metrics"
	"triad/api/internal/store"
	"triad/api/internal/streak"
	"triad/api/internal/validation"
)

type TodayActivity struct {
	ActivityView
	Completed bool `json:"completed"`
}

type PillarActivities struct {
	PillarID   string          `json:"pillarId"`
	Pillar     string          `json:"pillar"`
	Activities []TodayActivity `json:"activities"`
}

type DailyCheckInResult struct {
	Date           string          `json:"date"`
	Logged         []string        `json:"loggedActivityIds"`
	StreaksUpdated bool            `json:"streaksUpdated"`
	Streaks        *streak.Summary `json:"streaks,omitempty"`
}

type TodayCheckIns struct {
	Date       string `json:"date"`
	Intention  string `json:"intention"`
	Reflection string `json:"reflection"`
}

type intentionInput struct {
	Intention string `json:"intention" validate:"min=10,max=500"`
}

type reflectionInput struct {
	Reflection string `json:"reflection" validate:"min=10,max=500"`
}

// TodayActivities groups the user's activities by pillar in catalog order
// and marks the ones logged today.
func (s *Service) TodayActivities(ctx context.Context, userID string) ([]PillarActivities, error) {
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

	return groupActivities(pillars, activities, loggedSet(logs)), nil
}

func groupActivities(pillars []store.Pillar, activities []store.MicroActivity, logged map[string]bool) []PillarActivities {
	groups := make([]PillarActivities, 0, len(pillars))
	for _, p := range pillars {
		group := PillarActivities{PillarID: p.ID, Pillar: p.Name, Activities: []TodayActivity{}}
		for _, a := range activities {
			if a.PillarID != p.ID {
				continue
			}
			view := activityView(a)
			view.Pillar = p.Name
			group.Activities = append(group.Activities, TodayActivity{ActivityView: view, Completed: logged[a.ID]})
		}
		groups = append(groups, group)
	}
	return groups
}

func loggedSet(logs []store.ActivityLog) map[string]bool {
	set := make(map[string]bool, len(logs))
	for _, l := range logs {
		set[l.MicroActivityID] = true
	}
	return set
}

// SaveDailyCheckIn makes activityIDs the complete set of today's logs and
// then recalculates streaks. The check-in is kept even when recalculation
// fails; the result reports StreaksUpdated=false instead.
func (s *Service) SaveDailyCheckIn(ctx context.Context, userID string, activityIDs []string) (DailyCheckInResult, error) {
	payload := struct {
		ActivityIDs []string `json:"activityIds" validate:"max=100,dive,uuid"`
	}{ActivityIDs: activityIDs}
	if err := validation.Struct(payload); err != nil {
		return DailyCheckInResult{}, err
	}

	ids := dedupe(activityIDs)
	now := s.now()
	day, from, to := s.dayOf(now)

	err := s.store.WithUserLock(ctx, userID, func(tx store.UserTx) error {
		owned, err := tx.ListMicroActivities(ctx, userID)
		if err != nil {
			return err
		}
		mine := make(map[string]bool, len(owned))
		for _, a := range owned {
			mine[a.ID] = true
		}
		for i, id := range activityIDs {
			if !mine[id] {
				return validation.Fail(fmt.Sprintf("activityIds[%d]", i), "owned", "activity "+id+" is not one of your activities")
			}
		}
		return tx.ReplaceActivityLogs(ctx, userID, from, to, ids, now)
	})
	if err != nil {
		return DailyCheckInResult{}, err
	}
	metrics.RecordCheckIn("daily", len(ids))

	result := DailyCheckInResult{Date: day.String(), Logged: ids}
	summary, err := s.streaks.Recalculate(ctx, userID, now)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("user_id", userID).Msg("streak recalculation after check-in failed")
		return result, nil
	}
	result.StreaksUpdated = true
	result.Streaks = &summary
	return result, nil
}

func (s *Service) CalculateStreaks(ctx context.Context, userID string) (streak.Summary, error) {
	return s.streaks.Recalculate(ctx, userID, s.now())
}

func (s *Service) SaveMorningIntent(ctx context.Context, userID, text string) error {
	input := intentionInput{Intention: strings.TrimSpace(text)}
	if err := validation.Struct(input); err != nil {
		return err
	}
	return s.saveCheckIn(ctx, userID, store.CheckInMorningIntent, input)
}

func (s *Service) SaveEveningReflection(ctx context.Context, userID, text string) error {
	input := reflectionInput{Reflection: strings.TrimSpace(text)}
	if err := validation.Struct(input); err != nil {
		return err
	}
	return s.saveCheckIn(ctx, userID, store.CheckInEveningReflection, input)
}

func (s *Service) saveCheckIn(ctx context.Context, userID, kind string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode check-in: %w", err)
	}
	now := s.now()
	day, _, _ := s.dayOf(now)
	err = s.store.UpsertCheckIn(ctx, store.CheckIn{
		UserID:      userID,
		Type:        kind,
		Content:     raw,
		Date:        day.In(time.UTC),
		CheckedInAt: now,
	})
	if err != nil {
		return err
	}
	metrics.RecordCheckIn(kind, 0)
	return nil
}

func (s *Service) TodayCheckIns(ctx context.Context, userID string) (TodayCheckIns, error) {
	day, _, _ := s.today()
	items, err := s.store.ListCheckInsOn(ctx, userID, day.In(time.UTC))
	if err != nil {
		return TodayCheckIns{}, err
	}
	out := summarizeCheckIns(ctx, items)
	out.Date = day.String()
	return out, nil
}

// summarizeCheckIns ignores rows whose content does not decode; they are
// logged and shown as empty.
func summarizeCheckIns(ctx context.Context, items []store.CheckIn) TodayCheckIns {
	var out TodayCheckIns
	for _, item := range items {
		var content struct {
			Intention  string `json:"intention"`
			Reflection string `json:"reflection"`
		}
		if err := json.Unmarshal(item.Content, &content); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("check_in_id", item.ID).Msg("undecodable check-in content")
			continue
		}
		switch item.Type {
		case store.CheckInMorningIntent:
			out.Intention = content.Intention
		case store.CheckInEveningReflection:
			out.Reflection = content.Reflection
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
