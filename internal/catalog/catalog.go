// Package catalog holds the fixed pillars, their default micro-activities,
// and the default reminder windows offered during onboarding.
package catalog

import "strings"

// Pillar ids match the rows seeded by db/migrations/0003_seed_pillars.up.sql.
const (
	SpiritualID = "14120586-a286-4bb0-b4ca-2a39b4ebf982"
	MentalID    = "75731cbb-0870-4ef2-961d-0b9206a87ac3"
	PhysicalID  = "1b352610-7559-413f-a9fa-050d20614017"
)

type Activity struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Pillar struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Activities  []Activity `json:"activities"`
}

type ReminderWindow struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

var pillars = []Pillar{
	{
		ID:          SpiritualID,
		Name:        "Spiritual",
		Description: "Activities related to inner peace, purpose, and connection.",
		Activities: []Activity{
			{Name: "Pray (15 - 20 min)", Description: "Mindfulness practice"},
			{Name: "Read Bible", Description: "Write down 3 things you are grateful for"},
			{Name: "Read Spiritual books", Description: "Spend time outdoors"},
			{Name: "Deep Breathing", Description: "5 minutes of conscious breathing"},
		},
	},
	{
		ID:          MentalID,
		Name:        "Mental",
		Description: "Activities focused on cognitive health, learning, and emotional balance.",
		Activities: []Activity{
			{Name: "Read (20 min)", Description: "Engage with a book or article"},
			{Name: "Learn Something New", Description: "Watch a tutorial or read about a new topic"},
			{Name: "Puzzle/Brain Game", Description: "Solve a puzzle or play a brain-training game"},
			{Name: "Mindful Moment", Description: "Observe your surroundings for 1 minute"},
		},
	},
	{
		ID:          PhysicalID,
		Name:        "Physical",
		Description: "Activities for bodily health, movement, and energy.",
		Activities: []Activity{
			{Name: "Stretch (5 min)", Description: "Light stretching exercises"},
			{Name: "Walk (15 min)", Description: "A brisk walk"},
			{Name: "Hydrate", Description: "Drink a glass of water"},
			{Name: "Quick Workout (20 min)", Description: "Short burst of physical activity"},
		},
	},
}

var defaultReminders = []ReminderWindow{
	{Name: "Morning", Start: "07:00", End: "09:00"},
	{Name: "Evening", Start: "20:00", End: "22:00"},
}

// Pillars returns a copy of the catalog in display order.
func Pillars() []Pillar {
	out := make([]Pillar, len(pillars))
	for i, p := range pillars {
		out[i] = p
		out[i].Activities = append([]Activity(nil), p.Activities...)
	}
	return out
}

func DefaultReminders() []ReminderWindow {
	return append([]ReminderWindow(nil), defaultReminders...)
}

// PillarByName matches case-insensitively.
func PillarByName(name string) (Pillar, bool) {
	for _, p := range pillars {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, true
		}
	}
	return Pillar{}, false
}

func PillarByID(id string) (Pillar, bool) {
	for _, p := range pillars {
		if p.ID == id {
			return p, true
		}
	}
	return Pillar{}, false
}

// Lookup returns the catalog entry for an activity of the named pillar.
// Activity names must match exactly.
func Lookup(pillarName, activityName string) (Activity, bool) {
	p, ok := PillarByName(pillarName)
	if !ok {
		return Activity{}, false
	}
	for _, a := range p.Activities {
		if a.Name == activityName {
			return a, true
		}
	}
	return Activity{}, false
}
