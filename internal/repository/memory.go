package repository

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"reactionmap/progress/internal/model"
)

// MemoryStore keeps everything in process. It backs STORE_DRIVER=memory and the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	classes  map[string]model.Class
	students map[string]model.Student
	sessions map[string]model.Session
	progress map[string]map[string]model.Progress
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classes:  map[string]model.Class{},
		students: map[string]model.Student{},
		sessions: map[string]model.Session{},
		progress: map[string]map[string]model.Progress{},
	}
}

func (m *MemoryStore) GetClass(_ context.Context, code string) (model.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	class, ok := m.classes[code]
	if !ok {
		return model.Class{}, ErrNotFound
	}
	return class, nil
}

func (m *MemoryStore) UpsertClass(_ context.Context, class model.Class) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.classes[class.Code]; ok {
		class.CreatedAt = existing.CreatedAt
	}
	m.classes[class.Code] = class
	return nil
}

func (m *MemoryStore) UpsertStudent(_ context.Context, student model.Student) (model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.students {
		if existing.ClassCode == student.ClassCode && existing.StudentCodeHash == student.StudentCodeHash {
			existing.DisplayName = student.DisplayName
			m.students[id] = existing
			return existing, nil
		}
	}
	m.students[student.ID] = student
	return student, nil
}

func (m *MemoryStore) GetStudent(_ context.Context, id string) (model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	student, ok := m.students[id]
	if !ok {
		return model.Student{}, ErrNotFound
	}
	return student, nil
}

func (m *MemoryStore) TouchStudent(_ context.Context, id string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if student, ok := m.students[id]; ok {
		student.LastSeenAt = &seenAt
		m.students[id] = student
	}
	return nil
}

func (m *MemoryStore) ListStudentsByClass(_ context.Context, classCode string) ([]model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Student
	for _, student := range m.students {
		if student.ClassCode == classCode {
			out = append(out, student)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, session model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.TokenHash] = session
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, tokenHash string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[tokenHash]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return session, nil
}

func (m *MemoryStore) TouchSession(_ context.Context, tokenHash string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[tokenHash]; ok {
		session.LastSeenAt = &seenAt
		m.sessions[tokenHash] = session
	}
	return nil
}

func (m *MemoryStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for hash, session := range m.sessions {
		if session.Expired(now) {
			delete(m.sessions, hash)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) ListProgress(_ context.Context, studentID string, since *time.Time) ([]model.Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Progress
	for _, record := range m.progress[studentID] {
		if since != nil && !record.UpdatedAt.After(*since) {
			continue
		}
		out = append(out, copyProgress(record))
	}
	sortProgress(out)
	return out, nil
}

func (m *MemoryStore) ListProgressByClass(_ context.Context, classCode string) ([]model.Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Progress
	for studentID, records := range m.progress {
		if m.students[studentID].ClassCode != classCode {
			continue
		}
		for _, record := range records {
			out = append(out, copyProgress(record))
		}
	}
	sortProgress(out)
	return out, nil
}

func (m *MemoryStore) UpsertProgress(_ context.Context, studentID string, updates []model.ProgressUpdate, at time.Time) ([]model.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.progress[studentID]
	if records == nil {
		records = map[string]model.Progress{}
		m.progress[studentID] = records
	}
	out := make([]model.Progress, 0, len(updates))
	for _, update := range updates {
		state := maps.Clone(update.State)
		if state == nil {
			state = map[string]any{}
		}
		record := model.Progress{StudentID: studentID, ActivityID: update.ActivityID, State: state, UpdatedAt: at}
		records[update.ActivityID] = record
		out = append(out, copyProgress(record))
	}
	return out, nil
}

func copyProgress(record model.Progress) model.Progress {
	record.State = maps.Clone(record.State)
	return record
}

func sortProgress(records []model.Progress) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].UpdatedAt.Before(records[j].UpdatedAt)
		}
		if records[i].ActivityID != records[j].ActivityID {
			return records[i].ActivityID < records[j].ActivityID
		}
		return records[i].StudentID < records[j].StudentID
	})
}
