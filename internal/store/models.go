package store

import (
	"encoding/json"
	"time"
)

// HarmonyCategory keys the aggregate "any pillar completed" streak row.
const HarmonyCategory = "harmony"

const (
	CheckInMorningIntent     = "morning_intent"
	CheckInEveningReflection = "evening_reflection"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Profile struct {
	ID        string
	FirstName string
	LastName  string
	AvatarURL string
	UpdatedAt *time.Time
}

type Pillar struct {
	ID          string
	Name        string
	Description string
}

type MicroActivity struct {
	ID          string
	UserID      string
	PillarID    string
	Name        string
	Description string
	CreatedAt   time.Time
}

type ActivityLog struct {
	ID              string
	UserID          string
	MicroActivityID string
	Notes           string
	LoggedAt        time.Time
}

type CheckIn struct {
	ID          string
	UserID      string
	Type        string
	Content     json.RawMessage
	Date        time.Time
	CheckedInAt time.Time
}

type ReminderWindow struct {
	ID        string
	UserID    string
	Name      string
	StartTime string // HH:MM:SS
	EndTime   string // HH:MM:SS
	CreatedAt time.Time
}

// Streak is one row per (user, category). PillarID is empty for harmony.
type Streak struct {
	ID             string
	UserID         string
	PillarID       string
	Category       string
	CurrentStreak  int
	LongestStreak  int
	LastLoggedDate *time.Time
	UpdatedAt      time.Time
}
