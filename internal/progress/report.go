package progress

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"reactionmap/progress/internal/api"
	"reactionmap/progress/internal/crypto"
	"reactionmap/progress/internal/model"
	"reactionmap/progress/internal/repository"
)

const activeWindow = 24 * time.Hour

// TeacherCredential carries whichever form of the teacher code the caller supplied.
type TeacherCredential struct {
	ClassCode string
	Code      string
	CodeHash  string
}

// AuthorizeTeacher checks the credential against the class's stored teacher hash.
// A raw code takes precedence over a pre-hashed one.
func (s *Service) AuthorizeTeacher(ctx context.Context, cred TeacherCredential) (model.Class, error) {
	resolved := cred.CodeHash
	if cred.Code != "" {
		resolved = s.hasher.HashCode(cred.Code, cred.ClassCode)
	}
	if resolved == "" {
		return model.Class{}, newError(KindBadRequest, "Missing teacher code.")
	}
	class, err := s.loadClass(ctx, cred.ClassCode)
	if err != nil {
		return model.Class{}, err
	}
	if !crypto.Equal(class.TeacherCodeHash, resolved) {
		return model.Class{}, newError(KindForbidden, "Invalid teacher code.")
	}
	return class, nil
}

// Report aggregates the class from one student fetch and one progress fetch.
func (s *Service) Report(ctx context.Context, classCode string) (api.Report, error) {
	class, err := s.loadClass(ctx, classCode)
	if err != nil {
		return api.Report{}, err
	}
	students, err := s.repo.ListStudentsByClass(ctx, class.Code)
	if err != nil {
		return api.Report{}, internal("Failed to load student list.", err)
	}
	rows, err := s.repo.ListProgressByClass(ctx, class.Code)
	if err != nil {
		return api.Report{}, internal("Failed to load progress stats.", err)
	}
	return BuildReport(class.Code, students, rows, s.now().UTC(), s.leaderboardSize), nil
}

func (s *Service) loadClass(ctx context.Context, code string) (model.Class, error) {
	class, err := s.repo.GetClass(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Class{}, newError(KindNotFound, "Class code not found.")
	}
	if err != nil {
		return model.Class{}, internal("Failed to load class.", err)
	}
	return class, nil
}

type topicTotals struct {
	total int
	sum   float64
}

// BuildReport is the pure aggregation behind Report.
func BuildReport(classCode string, students []model.Student, rows []model.Progress, now time.Time, leaderboardSize int) api.Report {
	report := api.Report{
		ClassCode:   classCode,
		Activities:  []api.ActivitySummary{},
		Leaderboard: []api.LeaderboardEntry{},
		WeakTopics:  []api.TopicSummary{},
	}

	cutoff := now.Add(-activeWindow)
	report.Totals.Students = len(students)
	for _, student := range students {
		if student.LastSeenAt != nil && !student.LastSeenAt.Before(cutoff) {
			report.Totals.ActiveLast24h++
		}
	}

	activities := map[string]*api.ActivitySummary{}
	completed := map[string]int{}
	topics := map[string]*topicTotals{}
	var coverageSum float64
	for _, row := range rows {
		summary, ok := activities[row.ActivityID]
		if !ok {
			summary = &api.ActivitySummary{ActivityID: row.ActivityID, UpdatedAtBuckets: map[string]int{}}
			activities[row.ActivityID] = summary
		}
		summary.Total++
		summary.UpdatedAtBuckets[row.UpdatedAt.UTC().Format("2006-01-02")]++
		completed[row.StudentID]++

		value := numericProgress(row.State)
		coverageSum += value
		topic := topicOf(row.State)
		totals, ok := topics[topic]
		if !ok {
			totals = &topicTotals{}
			topics[topic] = totals
		}
		totals.total++
		totals.sum += value
	}
	if len(rows) > 0 {
		report.Totals.Coverage = coverageSum / float64(len(rows))
	}

	for _, summary := range activities {
		report.Activities = append(report.Activities, *summary)
	}
	sort.Slice(report.Activities, func(i, j int) bool {
		return report.Activities[i].ActivityID < report.Activities[j].ActivityID
	})

	for _, student := range students {
		report.Leaderboard = append(report.Leaderboard, api.LeaderboardEntry{
			StudentID:   student.ID,
			DisplayName: student.DisplayName,
			Completed:   completed[student.ID],
			LastSeenAt:  student.LastSeenAt,
		})
	}
	sort.SliceStable(report.Leaderboard, func(i, j int) bool {
		return report.Leaderboard[i].Completed > report.Leaderboard[j].Completed
	})
	if leaderboardSize > 0 && len(report.Leaderboard) > leaderboardSize {
		report.Leaderboard = report.Leaderboard[:leaderboardSize]
	}

	for topic, totals := range topics {
		report.WeakTopics = append(report.WeakTopics, api.TopicSummary{
			Topic:           topic,
			AverageProgress: totals.sum / float64(totals.total),
			Total:           totals.total,
		})
	}
	sort.Slice(report.WeakTopics, func(i, j int) bool {
		a, b := report.WeakTopics[i], report.WeakTopics[j]
		if a.AverageProgress == b.AverageProgress {
			return a.Topic < b.Topic
		}
		return a.AverageProgress < b.AverageProgress
	})
	return report
}

// numericProgress reads state.progress; anything that is not a number counts as zero.
func numericProgress(state map[string]any) float64 {
	switch v := state["progress"].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func topicOf(state map[string]any) string {
	if topic, ok := state["topic"].(string); ok {
		if trimmed := strings.TrimSpace(topic); trimmed != "" {
			return trimmed
		}
	}
	return "unknown"
}
