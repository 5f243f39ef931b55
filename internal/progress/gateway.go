package progress

import (
	"context"
	"errors"
	"time"

	"reactionmap/progress/internal/model"
	"reactionmap/progress/internal/repository"
)

type SaveResult struct {
	UpdatedAt time.Time
	Progress  []model.Progress
}

// Authenticate resolves a raw bearer token to a live session.
func (s *Service) Authenticate(ctx context.Context, token string) (model.Session, error) {
	if token == "" {
		return model.Session{}, newError(KindUnauthorized, "Missing session token.")
	}
	session, err := s.repo.GetSession(ctx, s.hasher.HashToken(token))
	if errors.Is(err, repository.ErrNotFound) {
		return model.Session{}, newError(KindUnauthorized, "Invalid session token.")
	}
	if err != nil {
		return model.Session{}, internal("Failed to validate session.", err)
	}
	if session.Expired(s.now()) {
		return model.Session{}, newError(KindUnauthorized, "Session token expired.")
	}
	return session, nil
}

// Load lists the session owner's progress, limited to records updated after since when set.
func (s *Service) Load(ctx context.Context, session model.Session, since *time.Time) ([]model.Progress, error) {
	records, err := s.repo.ListProgress(ctx, session.StudentID, since)
	if err != nil {
		return nil, internal("Failed to load progress.", err)
	}
	return records, nil
}

// Save upserts the batch under one timestamp and refreshes last-seen markers.
// A repeated activity id keeps its first position and its last state.
func (s *Service) Save(ctx context.Context, session model.Session, updates []model.ProgressUpdate) (SaveResult, error) {
	if len(updates) == 0 {
		return SaveResult{}, BadRequest("Validation failed.", nil)
	}
	now := s.clock()
	records, err := s.repo.UpsertProgress(ctx, session.StudentID, dedupe(updates), now)
	if err != nil {
		return SaveResult{}, internal("Failed to save progress.", err)
	}
	if err := s.repo.TouchSession(ctx, session.TokenHash, now); err != nil {
		return SaveResult{}, internal("Failed to update session.", err)
	}
	if err := s.repo.TouchStudent(ctx, session.StudentID, now); err != nil {
		return SaveResult{}, internal("Failed to update student.", err)
	}
	return SaveResult{UpdatedAt: now, Progress: records}, nil
}

func dedupe(updates []model.ProgressUpdate) []model.ProgressUpdate {
	index := make(map[string]int, len(updates))
	out := make([]model.ProgressUpdate, 0, len(updates))
	for _, update := range updates {
		if i, ok := index[update.ActivityID]; ok {
			out[i] = update
			continue
		}
		index[update.ActivityID] = len(out)
		out = append(out, update)
	}
	return out
}

// Profile authenticates token and returns the owning student alongside the session.
func (s *Service) Profile(ctx context.Context, token string) (model.Session, model.Student, error) {
	session, err := s.Authenticate(ctx, token)
	if err != nil {
		return model.Session{}, model.Student{}, err
	}
	student, err := s.repo.GetStudent(ctx, session.StudentID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Session{}, model.Student{}, newError(KindUnauthorized, "Invalid session token.")
	}
	if err != nil {
		return model.Session{}, model.Student{}, internal("Failed to load student.", err)
	}
	return session, student, nil
}
