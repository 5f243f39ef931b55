package localstore

import (
	"encoding/json"
	"time"

	"reactionmap/progress/internal/api"
)

const (
	SessionTokenKey   = "chem.sessionToken"
	StudentProfileKey = "chem.studentProfile"
	TeacherCodeKey    = "chem.teacherCode"
)

type Profile struct {
	ID          string     `json:"id"`
	ClassCode   string     `json:"classCode"`
	DisplayName string     `json:"displayName"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty"`
}

// SessionStore holds the student credential and profile in durable storage and the
// teacher code in a separate, usually shorter lived, storage.
type SessionStore struct {
	local   Storage
	session Storage
}

func NewSessionStore(local, session Storage) *SessionStore {
	if session == nil {
		session = local
	}
	return &SessionStore{local: local, session: session}
}

func (s *SessionStore) Token() string {
	raw, ok, err := s.local.Get(SessionTokenKey)
	if err != nil || !ok {
		return ""
	}
	return string(raw)
}

func (s *SessionStore) SetToken(token string) error {
	return s.local.Set(SessionTokenKey, []byte(token))
}

// Profile returns nil when the stored profile is missing or lacks a required field.
func (s *SessionStore) Profile() *Profile {
	raw, ok, err := s.local.Get(StudentProfileKey)
	if err != nil || !ok {
		return nil
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.ID == "" || p.ClassCode == "" || p.DisplayName == "" {
		return nil
	}
	return &p
}

func (s *SessionStore) SetProfile(p Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.local.Set(StudentProfileKey, raw)
}

func (s *SessionStore) TeacherCode() string {
	raw, ok, err := s.session.Get(TeacherCodeKey)
	if err != nil || !ok {
		return ""
	}
	return string(raw)
}

func (s *SessionStore) SetTeacherCode(code string) error {
	return s.session.Set(TeacherCodeKey, []byte(code))
}

// StoreJoinResponse saves the credential and profile, replaces local progress with the
// server snapshot and seeds the sync cursor from it.
func (s *SessionStore) StoreJoinResponse(resp api.JoinResponse, progress *ProgressStore) (Profile, error) {
	created := resp.StudentProfile.CreatedAt
	profile := Profile{
		ID:          resp.StudentProfile.ID,
		ClassCode:   resp.StudentProfile.ClassCode,
		DisplayName: resp.StudentProfile.DisplayName,
		LastSeenAt:  resp.StudentProfile.LastSeenAt,
	}
	if !created.IsZero() {
		profile.CreatedAt = &created
	}

	if err := s.SetToken(resp.SessionToken); err != nil {
		return Profile{}, err
	}
	if err := s.SetProfile(profile); err != nil {
		return Profile{}, err
	}
	latest, err := progress.ReplaceFromJoin(resp.Progress)
	if err != nil {
		return Profile{}, err
	}
	if err := progress.SetLastSyncAt(latest); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// Clear forgets the student credential, profile and teacher code. Local progress is kept.
func (s *SessionStore) Clear() error {
	for _, key := range []string{SessionTokenKey, StudentProfileKey} {
		if err := s.local.Remove(key); err != nil {
			return err
		}
	}
	return s.session.Remove(TeacherCodeKey)
}
