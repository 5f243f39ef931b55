package progress

import (
	"context"
	"errors"
	"time"

	"reactionmap/progress/internal/model"
	"reactionmap/progress/internal/repository"
)

type JoinInput struct {
	ClassCode   string
	StudentCode string
	DisplayName string
}

type JoinResult struct {
	SessionToken string
	Student      model.Student
	Progress     []model.Progress
}

// Join admits a student into a class and issues a fresh session token. Origin is the
// caller's network address and keys the rate limit.
func (s *Service) Join(ctx context.Context, in JoinInput, origin string) (JoinResult, error) {
	if origin == "" {
		origin = "unknown"
	}
	allowed, err := s.limiter.Allow(ctx, origin)
	if err != nil {
		return JoinResult{}, internal("Failed to check rate limit.", err)
	}
	if !allowed {
		return JoinResult{}, newError(KindTooManyRequests, "Too many join attempts. Please try again soon.")
	}

	now := s.clock()
	class, err := s.repo.GetClass(ctx, in.ClassCode)
	if errors.Is(err, repository.ErrNotFound) {
		return JoinResult{}, newError(KindNotFound, "Class code not found.")
	}
	if err != nil {
		return JoinResult{}, internal("Failed to load class.", err)
	}
	if class.Expired(now) {
		return JoinResult{}, newError(KindForbidden, "Class code has expired.")
	}

	student, err := s.repo.UpsertStudent(ctx, model.Student{
		ID:              s.newID(),
		ClassCode:       class.Code,
		StudentCodeHash: s.hasher.HashCode(in.StudentCode, class.Code),
		DisplayName:     in.DisplayName,
		CreatedAt:       now,
	})
	if err != nil {
		return JoinResult{}, internal("Failed to create student session.", err)
	}

	token, err := s.newToken()
	if err != nil {
		return JoinResult{}, internal("Failed to create session.", err)
	}
	session := model.Session{
		TokenHash: s.hasher.HashToken(token),
		StudentID: student.ID,
		ExpiresAt: s.sessionExpiry(class, now),
		CreatedAt: now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return JoinResult{}, internal("Failed to create session.", err)
	}

	records, err := s.repo.ListProgress(ctx, student.ID, nil)
	if err != nil {
		return JoinResult{}, internal("Failed to load progress.", err)
	}
	return JoinResult{SessionToken: token, Student: student, Progress: records}, nil
}

// sessionExpiry clamps the session lifetime to the class expiry.
func (s *Service) sessionExpiry(class model.Class, now time.Time) time.Time {
	expiry := now.Add(s.sessionTTL)
	if class.ExpiresAt != nil && class.ExpiresAt.Before(expiry) {
		return *class.ExpiresAt
	}
	return expiry
}
