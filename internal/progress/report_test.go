package progress

import (
	"context"
	"testing"
	"time"

	"reactionmap/progress/internal/model"
)

func TestAuthorizeTeacher(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.createClass(t, "CHEM-12A", "teach-1", nil)

	_, err := env.svc.AuthorizeTeacher(ctx, TeacherCredential{ClassCode: "CHEM-12A"})
	expectKind(t, err, KindBadRequest)

	_, err = env.svc.AuthorizeTeacher(ctx, TeacherCredential{ClassCode: "NOPE", Code: "teach-1"})
	expectKind(t, err, KindNotFound)

	_, err = env.svc.AuthorizeTeacher(ctx, TeacherCredential{ClassCode: "CHEM-12A", Code: "wrong"})
	expectKind(t, err, KindForbidden)

	if _, err := env.svc.AuthorizeTeacher(ctx, TeacherCredential{ClassCode: "CHEM-12A", Code: "teach-1"}); err != nil {
		t.Fatalf("expected raw code to authorize: %v", err)
	}
	hash := env.svc.hasher.HashCode("teach-1", "CHEM-12A")
	if _, err := env.svc.AuthorizeTeacher(ctx, TeacherCredential{ClassCode: "CHEM-12A", CodeHash: hash}); err != nil {
		t.Fatalf("expected hash to authorize: %v", err)
	}
}

func TestReportTwoStudents(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.createClass(t, "CHEM-12A", "teach-1", nil)
	alex := env.join(t, "CHEM-12A", "S-001", "Alex")
	sam := env.join(t, "CHEM-12A", "S-002", "Sam")

	alexSession, _ := env.svc.Authenticate(ctx, alex.SessionToken)
	samSession, _ := env.svc.Authenticate(ctx, sam.SessionToken)
	if _, err := env.svc.Save(ctx, alexSession, []model.ProgressUpdate{{ActivityID: "a", State: map[string]any{"progress": 1.0, "topic": "kinetics"}}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := env.svc.Save(ctx, samSession, []model.ProgressUpdate{
		{ActivityID: "a", State: map[string]any{"progress": 0.5, "topic": "kinetics"}},
		{ActivityID: "b", State: map[string]any{"progress": 0.0, "topic": " energetics "}},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	report, err := env.svc.Report(ctx, "CHEM-12A")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Totals.Students != 2 || report.Totals.ActiveLast24h != 2 {
		t.Fatalf("unexpected totals %+v", report.Totals)
	}
	if len(report.Leaderboard) != 2 || report.Leaderboard[0].DisplayName != "Sam" || report.Leaderboard[0].Completed != 2 || report.Leaderboard[1].Completed != 1 {
		t.Fatalf("unexpected leaderboard %+v", report.Leaderboard)
	}
	if len(report.Activities) != 2 || report.Activities[0].ActivityID != "a" || report.Activities[0].Total != 2 {
		t.Fatalf("unexpected activities %+v", report.Activities)
	}
	if report.Activities[0].UpdatedAtBuckets["2024-03-01"] != 2 {
		t.Fatalf("unexpected buckets %+v", report.Activities[0].UpdatedAtBuckets)
	}
	if report.Totals.Coverage != 0.5 {
		t.Fatalf("expected coverage 0.5, got %v", report.Totals.Coverage)
	}
	if len(report.WeakTopics) != 2 || report.WeakTopics[0].Topic != "energetics" || report.WeakTopics[1].AverageProgress != 0.75 {
		t.Fatalf("unexpected weak topics %+v", report.WeakTopics)
	}

	_, err = env.svc.Report(ctx, "NOPE")
	expectKind(t, err, KindNotFound)
}

func TestBuildReportLeaderboardAndActivity(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	stale := now.Add(-25 * time.Hour)
	edge := now.Add(-24 * time.Hour)

	var students []model.Student
	for i, seen := range []*time.Time{&recent, &stale, nil, &edge} {
		students = append(students, model.Student{ID: string(rune('a' + i)), DisplayName: string(rune('A' + i)), LastSeenAt: seen})
	}
	for i := 0; i < 9; i++ {
		students = append(students, model.Student{ID: "z" + string(rune('0'+i)), DisplayName: "filler"})
	}
	rows := []model.Progress{
		{StudentID: "b", ActivityID: "x", State: map[string]any{"progress": "nope"}, UpdatedAt: stale},
		{StudentID: "b", ActivityID: "y", State: map[string]any{}, UpdatedAt: recent},
		{StudentID: "c", ActivityID: "x", State: map[string]any{"topic": "   "}, UpdatedAt: recent},
	}

	report := BuildReport("CHEM-12A", students, rows, now, 10)
	if report.Totals.Students != 13 || report.Totals.ActiveLast24h != 2 {
		t.Fatalf("unexpected totals %+v", report.Totals)
	}
	if len(report.Leaderboard) != 10 {
		t.Fatalf("expected leaderboard capped at 10, got %d", len(report.Leaderboard))
	}
	if report.Leaderboard[0].StudentID != "b" || report.Leaderboard[1].StudentID != "c" || report.Leaderboard[2].StudentID != "a" {
		t.Fatalf("expected stable ordering by completed, got %+v", report.Leaderboard[:3])
	}
	if report.Totals.Coverage != 0 {
		t.Fatalf("expected non-numeric progress to count as zero, got %v", report.Totals.Coverage)
	}
	if len(report.WeakTopics) != 1 || report.WeakTopics[0].Topic != "unknown" || report.WeakTopics[0].Total != 3 {
		t.Fatalf("unexpected weak topics %+v", report.WeakTopics)
	}
	x := report.Activities[0]
	if x.ActivityID != "x" || x.UpdatedAtBuckets["2024-03-01"] != 1 || x.UpdatedAtBuckets["2024-03-02"] != 1 {
		t.Fatalf("unexpected buckets %+v", x)
	}
}

func TestBuildReportEmptyClass(t *testing.T) {
	report := BuildReport("EMPTY", nil, nil, time.Now(), 10)
	if report.Totals.Students != 0 || report.Totals.Coverage != 0 {
		t.Fatalf("unexpected totals %+v", report.Totals)
	}
	if report.Leaderboard == nil || report.Activities == nil || report.WeakTopics == nil {
		t.Fatalf("expected empty slices, not nil")
	}
}
