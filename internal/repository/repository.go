package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"reactionmap/progress/internal/db"
	"reactionmap/progress/internal/model"
)

var ErrNotFound = errors.New("repository: not found")

type Store struct {
	db *db.Store
}

func NewStore(store *db.Store) *Store {
	return &Store{db: store}
}

func (s *Store) GetClass(ctx context.Context, code string) (model.Class, error) {
	var class model.Class
	row := s.db.Pool.QueryRow(ctx, `
		SELECT class_code, name, teacher_code_hash, expires_at, created_at
		FROM classes
		WHERE class_code = $1
	`, code)
	err := row.Scan(&class.Code, &class.Name, &class.TeacherCodeHash, &class.ExpiresAt, &class.CreatedAt)
	return class, notFound(err)
}

func (s *Store) UpsertClass(ctx context.Context, class model.Class) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO classes (class_code, name, teacher_code_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (class_code) DO UPDATE
		SET name = EXCLUDED.name,
		    teacher_code_hash = EXCLUDED.teacher_code_hash,
		    expires_at = EXCLUDED.expires_at
	`, class.Code, class.Name, class.TeacherCodeHash, class.ExpiresAt, class.CreatedAt)
	return err
}

// UpsertStudent inserts student or, when (class, code hash) already exists, renames the
// existing row. The stored row is returned so callers see the original id.
func (s *Store) UpsertStudent(ctx context.Context, student model.Student) (model.Student, error) {
	var out model.Student
	row := s.db.Pool.QueryRow(ctx, `
		INSERT INTO students (id, class_code, student_code_hash, display_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (class_code, student_code_hash) DO UPDATE
		SET display_name = EXCLUDED.display_name
		RETURNING id::text, class_code, student_code_hash, display_name, created_at, last_seen_at
	`, student.ID, student.ClassCode, student.StudentCodeHash, student.DisplayName, student.CreatedAt)
	err := row.Scan(&out.ID, &out.ClassCode, &out.StudentCodeHash, &out.DisplayName, &out.CreatedAt, &out.LastSeenAt)
	return out, err
}

func (s *Store) GetStudent(ctx context.Context, id string) (model.Student, error) {
	var student model.Student
	row := s.db.Pool.QueryRow(ctx, `
		SELECT id::text, class_code, student_code_hash, display_name, created_at, last_seen_at
		FROM students
		WHERE id = $1
	`, id)
	err := row.Scan(&student.ID, &student.ClassCode, &student.StudentCodeHash, &student.DisplayName, &student.CreatedAt, &student.LastSeenAt)
	return student, notFound(err)
}

func (s *Store) TouchStudent(ctx context.Context, id string, seenAt time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `UPDATE students SET last_seen_at = $1 WHERE id = $2`, seenAt, id)
	return err
}

func (s *Store) ListStudentsByClass(ctx context.Context, classCode string) ([]model.Student, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id::text, class_code, student_code_hash, display_name, created_at, last_seen_at
		FROM students
		WHERE class_code = $1
		ORDER BY created_at, id
	`, classCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		var student model.Student
		if err := rows.Scan(&student.ID, &student.ClassCode, &student.StudentCodeHash, &student.DisplayName, &student.CreatedAt, &student.LastSeenAt); err != nil {
			return nil, err
		}
		students = append(students, student)
	}
	return students, rows.Err()
}

func (s *Store) CreateSession(ctx context.Context, session model.Session) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO sessions (token_hash, student_id, expires_at, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session.TokenHash, session.StudentID, session.ExpiresAt, session.CreatedAt, session.LastSeenAt)
	return err
}

func (s *Store) GetSession(ctx context.Context, tokenHash string) (model.Session, error) {
	var session model.Session
	row := s.db.Pool.QueryRow(ctx, `
		SELECT token_hash, student_id::text, expires_at, created_at, last_seen_at
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&session.TokenHash, &session.StudentID, &session.ExpiresAt, &session.CreatedAt, &session.LastSeenAt)
	return session, notFound(err)
}

func (s *Store) TouchSession(ctx context.Context, tokenHash string, seenAt time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `UPDATE sessions SET last_seen_at = $1 WHERE token_hash = $2`, seenAt, tokenHash)
	return err
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListProgress returns the student's records, only those updated strictly after since when set.
func (s *Store) ListProgress(ctx context.Context, studentID string, since *time.Time) ([]model.Progress, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT student_id::text, activity_id, state, updated_at
		FROM progress
		WHERE student_id = $1
		  AND ($2::timestamptz IS NULL OR updated_at > $2::timestamptz)
		ORDER BY updated_at, activity_id
	`, studentID, since)
	if err != nil {
		return nil, err
	}
	return scanProgress(rows)
}

func (s *Store) ListProgressByClass(ctx context.Context, classCode string) ([]model.Progress, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT p.student_id::text, p.activity_id, p.state, p.updated_at
		FROM progress p
		JOIN students s ON s.id = p.student_id
		WHERE s.class_code = $1
		ORDER BY p.activity_id, p.updated_at
	`, classCode)
	if err != nil {
		return nil, err
	}
	return scanProgress(rows)
}

// UpsertProgress writes the whole batch with one timestamp inside a single transaction.
func (s *Store) UpsertProgress(ctx context.Context, studentID string, updates []model.ProgressUpdate, at time.Time) ([]model.Progress, error) {
	out := make([]model.Progress, 0, len(updates))
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, update := range updates {
			state := update.State
			if state == nil {
				state = map[string]any{}
			}
			batch.Queue(`
				INSERT INTO progress (student_id, activity_id, state, updated_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (student_id, activity_id) DO UPDATE
				SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
				RETURNING student_id::text, activity_id, state, updated_at
			`, studentID, update.ActivityID, state, at)
		}
		results := tx.SendBatch(ctx, batch)
		for range updates {
			var record model.Progress
			if err := results.QueryRow().Scan(&record.StudentID, &record.ActivityID, &record.State, &record.UpdatedAt); err != nil {
				_ = results.Close()
				return fmt.Errorf("upsert progress: %w", err)
			}
			out = append(out, record)
		}
		return results.Close()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanProgress(rows pgx.Rows) ([]model.Progress, error) {
	defer rows.Close()
	var records []model.Progress
	for rows.Next() {
		var record model.Progress
		if err := rows.Scan(&record.StudentID, &record.ActivityID, &record.State, &record.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
