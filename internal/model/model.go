package model

import "time"

type Class struct {
	Code            string
	Name            string
	TeacherCodeHash string
	ExpiresAt       *time.Time
	CreatedAt       time.Time
}

// Expired reports whether the class stopped accepting joins before now.
func (c Class) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

type Student struct {
	ID              string
	ClassCode       string
	StudentCodeHash string
	DisplayName     string
	CreatedAt       time.Time
	LastSeenAt      *time.Time
}

type Session struct {
	TokenHash  string
	StudentID  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastSeenAt *time.Time
}

func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

type Progress struct {
	StudentID  string
	ActivityID string
	State      map[string]any
	UpdatedAt  time.Time
}

// ProgressUpdate is one element of a save batch.
type ProgressUpdate struct {
	ActivityID string
	State      map[string]any
}
