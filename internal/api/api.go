// Package api holds the JSON shapes exchanged between the progress server and its clients.
package api

import "time"

type ProgressRecord struct {
	ActivityID string         `json:"activity_id"`
	State      map[string]any `json:"state"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type StudentProfile struct {
	ID          string     `json:"id"`
	ClassCode   string     `json:"class_code"`
	DisplayName string     `json:"display_name"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSeenAt  *time.Time `json:"last_seen_at"`
}

type JoinRequest struct {
	ClassCode   string `json:"class_code" validate:"required,min=2"`
	StudentCode string `json:"student_code" validate:"required,min=2"`
	DisplayName string `json:"display_name" validate:"required,min=2,max=80"`
}

type JoinResponse struct {
	SessionToken   string           `json:"session_token"`
	StudentProfile StudentProfile   `json:"student_profile"`
	Progress       []ProgressRecord `json:"progress"`
}

type LoadResponse struct {
	Progress []ProgressRecord `json:"progress"`
}

type ProgressUpdate struct {
	ActivityID string         `json:"activity_id" validate:"required,min=1"`
	State      map[string]any `json:"state" validate:"required"`
}

type SaveRequest struct {
	Updates []ProgressUpdate `json:"updates" validate:"required,min=1,dive"`
}

type SaveAck struct {
	ActivityID string    `json:"activity_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type SaveResponse struct {
	UpdatedAt time.Time `json:"updated_at"`
	Progress  []SaveAck `json:"progress"`
}

type TeacherLoginRequest struct {
	ClassCode   string `json:"class_code" validate:"required,min=2"`
	TeacherCode string `json:"teacher_code" validate:"required,min=2"`
}

type TeacherLoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type ReportTotals struct {
	Students      int     `json:"students"`
	ActiveLast24h int     `json:"active_last_24h"`
	Coverage      float64 `json:"coverage"`
}

type ActivitySummary struct {
	ActivityID       string         `json:"activity_id"`
	Total            int            `json:"total"`
	UpdatedAtBuckets map[string]int `json:"updated_at_buckets"`
}

type LeaderboardEntry struct {
	StudentID   string     `json:"student_id"`
	DisplayName string     `json:"display_name"`
	Completed   int        `json:"completed"`
	LastSeenAt  *time.Time `json:"last_seen_at"`
}

type TopicSummary struct {
	Topic           string  `json:"topic"`
	AverageProgress float64 `json:"average_progress"`
	Total           int     `json:"total"`
}

type Report struct {
	ClassCode   string             `json:"class_code"`
	Totals      ReportTotals       `json:"totals"`
	Activities  []ActivitySummary  `json:"activities"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	WeakTopics  []TopicSummary     `json:"weak_topics"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
