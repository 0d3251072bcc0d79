package streak

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"triad/api/internal/logging"
	"triad/api/internal/metrics"
	"triad/api/internal/store"
)

// Store runs fn while holding the user's streak lock.
type Store interface {
	WithUserLock(ctx context.Context, userID string, fn func(store.UserTx) error) error
}

type Calculator struct {
	store Store
	loc   *time.Location
}

func NewCalculator(s Store, loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{store: s, loc: loc}
}

func (c *Calculator) Location() *time.Location {
	return c.loc
}

type CategoryResult struct {
	Category       string      `json:"category"`
	PillarID       string      `json:"pillarId,omitempty"`
	Name           string      `json:"name"`
	Completed      bool        `json:"completedToday"`
	CurrentStreak  int         `json:"currentStreak"`
	LongestStreak  int         `json:"longestStreak"`
	LastLoggedDate *civil.Date `json:"lastLoggedDate"`
	Outcome        Outcome     `json:"outcome"`
}

type Summary struct {
	UserID     string           `json:"userId"`
	Date       civil.Date       `json:"date"`
	Categories []CategoryResult `json:"categories"`
}

// Harmony returns the aggregate entry of the summary.
func (s Summary) Harmony() (CategoryResult, bool) {
	for _, c := range s.Categories {
		if c.Category == store.HarmonyCategory {
			return c, true
		}
	}
	return CategoryResult{}, false
}

// Recalculate evaluates every pillar and harmony for the calendar day of
// now and persists the result. Concurrent calls for one user serialize on
// the store lock, so repeats on the same day converge on the same rows.
func (c *Calculator) Recalculate(ctx context.Context, userID string, now time.Time) (Summary, error) {
	started := time.Now()
	today := Today(now, c.loc)
	from, to := Bounds(today, c.loc)
	summary := Summary{UserID: userID, Date: today}

	err := c.store.WithUserLock(ctx, userID, func(tx store.UserTx) error {
		pillars, err := tx.ListPillars(ctx)
		if err != nil {
			return err
		}
		activities, err := tx.ListMicroActivities(ctx, userID)
		if err != nil {
			return err
		}
		logged, err := tx.LoggedActivityIDs(ctx, userID, from, to)
		if err != nil {
			return err
		}
		existing, err := tx.ListStreaks(ctx, userID)
		if err != nil {
			return err
		}

		completed := completedPillars(activities, logged)
		rows := make(map[string]store.Streak, len(existing))
		for _, row := range existing {
			rows[row.Category] = row
		}

		results := make([]CategoryResult, 0, len(pillars)+1)
		anyCompleted := false
		for _, p := range pillars {
			done := completed[p.ID]
			anyCompleted = anyCompleted || done
			res, err := c.apply(ctx, tx, userID, rows[p.ID], p.ID, p.ID, p.Name, done, today)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		res, err := c.apply(ctx, tx, userID, rows[store.HarmonyCategory], store.HarmonyCategory, "", "Harmony", anyCompleted, today)
		if err != nil {
			return err
		}
		summary.Categories = append(results, res)
		return nil
	})
	metrics.RecordStreakRecalculation(time.Since(started), err)
	if err != nil {
		return Summary{}, fmt.Errorf("recalculate streaks: %w", err)
	}

	for _, res := range summary.Categories {
		metrics.RecordStreakEvaluation(res.Name, string(res.Outcome))
	}
	if harmony, ok := summary.Harmony(); ok {
		logging.Ctx(ctx).Info().
			Str("user_id", userID).
			Str("date", today.String()).
			Int("harmony_current", harmony.CurrentStreak).
			Str("harmony_outcome", string(harmony.Outcome)).
			Msg("streaks recalculated")
	}
	return summary, nil
}

func (c *Calculator) apply(ctx context.Context, tx store.UserTx, userID string, row store.Streak, category, pillarID, name string, done bool, today civil.Date) (CategoryResult, error) {
	next, outcome := Evaluate(StateFromRow(row), done, today)
	if outcome != Unchanged || row.Category == "" {
		err := tx.UpsertStreak(ctx, store.Streak{
			UserID:         userID,
			PillarID:       pillarID,
			Category:       category,
			CurrentStreak:  next.CurrentStreak,
			LongestStreak:  next.LongestStreak,
			LastLoggedDate: dateToTime(next.LastLoggedDate),
		})
		if err != nil {
			return CategoryResult{}, err
		}
	}
	return CategoryResult{
		Category:       category,
		PillarID:       pillarID,
		Name:           name,
		Completed:      done,
		CurrentStreak:  next.CurrentStreak,
		LongestStreak:  next.LongestStreak,
		LastLoggedDate: next.LastLoggedDate,
		Outcome:        outcome,
	}, nil
}

func completedPillars(activities []store.MicroActivity, logged []string) map[string]bool {
	pillarOf := make(map[string]string, len(activities))
	for _, a := range activities {
		pillarOf[a.ID] = a.PillarID
	}
	done := make(map[string]bool)
	for _, id := range logged {
		if pillarID, ok := pillarOf[id]; ok {
			done[pillarID] = true
		}
	}
	return done
}

// StateFromRow converts a stored row; a missing row is the zero State.
func StateFromRow(row store.Streak) State {
	state := State{CurrentStreak: row.CurrentStreak, LongestStreak: row.LongestStreak}
	if row.LastLoggedDate != nil {
		d := civil.DateOf(*row.LastLoggedDate)
		state.LastLoggedDate = &d
	}
	return state
}

func dateToTime(d *civil.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.In(time.UTC)
	return &t
}
