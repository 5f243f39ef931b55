package progress

import (
	"context"
	"fmt"
	"time"

	"reactionmap/progress/internal/model"
)

type ClassInput struct {
	Code         string
	Name         string
	TeacherCode  string
	ExpiresAt    *time.Time
	StudentCodes []string
}

// CreateClass registers or replaces a class and pre-enrolls one student per code,
// named "Student N" until they join with their own display name.
func (s *Service) CreateClass(ctx context.Context, in ClassInput) (model.Class, error) {
	if len(in.Code) < 2 || len(in.TeacherCode) < 2 {
		return model.Class{}, BadRequest("Class code and teacher code need at least 2 characters.", nil)
	}
	now := s.clock()
	class := model.Class{
		Code:            in.Code,
		Name:            in.Name,
		TeacherCodeHash: s.hasher.HashCode(in.TeacherCode, in.Code),
		ExpiresAt:       in.ExpiresAt,
		CreatedAt:       now,
	}
	if err := s.repo.UpsertClass(ctx, class); err != nil {
		return model.Class{}, internal("Failed to create class.", err)
	}
	for i, code := range in.StudentCodes {
		_, err := s.repo.UpsertStudent(ctx, model.Student{
			ID:              s.newID(),
			ClassCode:       class.Code,
			StudentCodeHash: s.hasher.HashCode(code, class.Code),
			DisplayName:     fmt.Sprintf("Student %d", i+1),
			CreatedAt:       now,
		})
		if err != nil {
			return model.Class{}, internal("Failed to enroll student.", err)
		}
	}
	return class, nil
}
