package progress

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"reactionmap/progress/internal/crypto"
	"reactionmap/progress/internal/model"
	"reactionmap/progress/internal/ratelimit"
	"reactionmap/progress/internal/repository"
)

type testEnv struct {
	svc   *Service
	store *repository.MemoryStore
	now   time.Time
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	hasher, err := crypto.NewHasher("test-salt")
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = 30 * 24 * time.Hour
	}
	env := &testEnv{store: repository.NewMemoryStore(), now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	env.svc = NewService(env.store, hasher, opts)
	env.svc.now = func() time.Time { return env.now }
	ids := 0
	env.svc.newID = func() string {
		ids++
		return fmt.Sprintf("student-%d", ids)
	}
	return env
}

func (e *testEnv) createClass(t *testing.T, code, teacherCode string, expiresAt *time.Time) {
	t.Helper()
	if _, err := e.svc.CreateClass(context.Background(), ClassInput{Code: code, Name: code, TeacherCode: teacherCode, ExpiresAt: expiresAt}); err != nil {
		t.Fatalf("create class: %v", err)
	}
}

func (e *testEnv) join(t *testing.T, class, code, name string) JoinResult {
	t.Helper()
	res, err := e.svc.Join(context.Background(), JoinInput{ClassCode: class, StudentCode: code, DisplayName: name}, "10.0.0.1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	return res
}

func expectKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind, got, err)
	}
}

func TestJoinIsIdempotentPerCode(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createClass(t, "CHEM-12A", "teach-1", nil)

	first := env.join(t, "CHEM-12A", "S-001", "Alex")
	if first.Student.DisplayName != "Alex" {
		t.Fatalf("expected display name Alex, got %s", first.Student.DisplayName)
	}
	if len(first.SessionToken) != 64 {
		t.Fatalf("expected hex session token, got %q", first.SessionToken)
	}

	env.now = env.now.Add(time.Hour)
	second := env.join(t, "CHEM-12A", "S-001", "Alexandra")
	if second.Student.ID != first.Student.ID {
		t.Fatalf("expected same identity, got %s and %s", first.Student.ID, second.Student.ID)
	}
	if !second.Student.CreatedAt.Equal(first.Student.CreatedAt) {
		t.Fatalf("expected created_at to be preserved")
	}
	if second.Student.DisplayName != "Alexandra" {
		t.Fatalf("expected renamed student, got %s", second.Student.DisplayName)
	}
	if second.SessionToken == first.SessionToken {
		t.Fatalf("expected a fresh token per join")
	}
	// both sessions stay valid
	for _, token := range []string{first.SessionToken, second.SessionToken} {
		if _, err := env.svc.Authenticate(context.Background(), token); err != nil {
			t.Fatalf("expected token to authenticate: %v", err)
		}
	}
}

func TestJoinErrors(t *testing.T) {
	env := newTestEnv(t, Options{})
	past := env.now.Add(-time.Hour)
	env.createClass(t, "OLD-1", "teach-1", &past)

	_, err := env.svc.Join(context.Background(), JoinInput{ClassCode: "NOPE", StudentCode: "S-1", DisplayName: "Al"}, "")
	expectKind(t, err, KindNotFound)

	_, err = env.svc.Join(context.Background(), JoinInput{ClassCode: "OLD-1", StudentCode: "S-1", DisplayName: "Al"}, "")
	expectKind(t, err, KindForbidden)
}

func TestJoinClampsSessionToClassExpiry(t *testing.T) {
	env := newTestEnv(t, Options{SessionTTL: 30 * 24 * time.Hour})
	soon := env.now.Add(48 * time.Hour)
	env.createClass(t, "CHEM-12A", "teach-1", &soon)

	res := env.join(t, "CHEM-12A", "S-001", "Alex")
	session, err := env.svc.Authenticate(context.Background(), res.SessionToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !session.ExpiresAt.Equal(soon) {
		t.Fatalf("expected session to expire with class at %s, got %s", soon, session.ExpiresAt)
	}

	env.now = soon.Add(time.Second)
	_, err = env.svc.Authenticate(context.Background(), res.SessionToken)
	expectKind(t, err, KindUnauthorized)
}

func TestJoinRateLimited(t *testing.T) {
	env := newTestEnv(t, Options{Limiter: ratelimit.NewMemory(ratelimit.Options{Window: time.Minute, Max: 2})})
	env.createClass(t, "CHEM-12A", "teach-1", nil)

	env.join(t, "CHEM-12A", "S-001", "Alex")
	env.join(t, "CHEM-12A", "S-002", "Sam")
	_, err := env.svc.Join(context.Background(), JoinInput{ClassCode: "CHEM-12A", StudentCode: "S-003", DisplayName: "Kim"}, "10.0.0.1")
	expectKind(t, err, KindTooManyRequests)

	if _, err := env.svc.Join(context.Background(), JoinInput{ClassCode: "CHEM-12A", StudentCode: "S-003", DisplayName: "Kim"}, "10.0.0.2"); err != nil {
		t.Fatalf("expected other origin to pass: %v", err)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("limiter down")
}

func TestJoinLimiterFailureIsInternal(t *testing.T) {
	env := newTestEnv(t, Options{Limiter: failingLimiter{}})
	env.createClass(t, "CHEM-12A", "teach-1", nil)
	_, err := env.svc.Join(context.Background(), JoinInput{ClassCode: "CHEM-12A", StudentCode: "S-001", DisplayName: "Alex"}, "10.0.0.1")
	expectKind(t, err, KindInternal)
}

func TestAuthenticateErrors(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	_, err := env.svc.Authenticate(ctx, "")
	expectKind(t, err, KindUnauthorized)
	_, err = env.svc.Authenticate(ctx, "not-a-token")
	expectKind(t, err, KindUnauthorized)

	var perr *Error
	if !errors.As(err, &perr) || perr.Message != "Invalid session token." {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.createClass(t, "CHEM-12A", "teach-1", nil)
	alex := env.join(t, "CHEM-12A", "S-001", "Alex")
	sam := env.join(t, "CHEM-12A", "S-002", "Sam")

	env.now = env.now.Add(time.Minute).Add(1234 * time.Nanosecond)
	session, _ := env.svc.Authenticate(ctx, alex.SessionToken)
	res, err := env.svc.Save(ctx, session, []model.ProgressUpdate{
		{ActivityID: "energetics-1", State: map[string]any{"progress": 0.5}},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.UpdatedAt.Nanosecond()%1000 != 0 {
		t.Fatalf("expected microsecond precision, got %s", res.UpdatedAt)
	}
	for _, record := range res.Progress {
		if !record.UpdatedAt.Equal(res.UpdatedAt) {
			t.Fatalf("expected batch timestamp on every record")
		}
	}

	records, err := env.svc.Load(ctx, session, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 1 || records[0].State["progress"] != 0.5 {
		t.Fatalf("unexpected records %+v", records)
	}
	if !records[0].UpdatedAt.Equal(res.UpdatedAt) {
		t.Fatalf("expected stored timestamp to equal the returned one")
	}

	samSession, _ := env.svc.Authenticate(ctx, sam.SessionToken)
	others, _ := env.svc.Load(ctx, samSession, nil)
	if len(others) != 0 {
		t.Fatalf("expected isolation between students, got %+v", others)
	}

	since := res.UpdatedAt
	later, _ := env.svc.Load(ctx, session, &since)
	if len(later) != 0 {
		t.Fatalf("expected since to be exclusive, got %d records", len(later))
	}

	stored, _ := env.store.GetSession(ctx, session.TokenHash)
	if stored.LastSeenAt == nil || !stored.LastSeenAt.Equal(res.UpdatedAt) {
		t.Fatalf("expected session last seen refresh")
	}
	student, _ := env.store.GetStudent(ctx, session.StudentID)
	if student.LastSeenAt == nil || !student.LastSeenAt.Equal(res.UpdatedAt) {
		t.Fatalf("expected student last seen refresh")
	}
}

func TestSaveDuplicateActivityLastWins(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.createClass(t, "CHEM-12A", "teach-1", nil)
	alex := env.join(t, "CHEM-12A", "S-001", "Alex")
	session, _ := env.svc.Authenticate(ctx, alex.SessionToken)

	res, err := env.svc.Save(ctx, session, []model.ProgressUpdate{
		{ActivityID: "a", State: map[string]any{"v": 1.0}},
		{ActivityID: "b", State: map[string]any{"v": 2.0}},
		{ActivityID: "a", State: map[string]any{"v": 3.0}},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(res.Progress) != 2 || res.Progress[0].ActivityID != "a" || res.Progress[1].ActivityID != "b" {
		t.Fatalf("unexpected acknowledgements %+v", res.Progress)
	}
	records, _ := env.svc.Load(ctx, session, nil)
	for _, record := range records {
		if record.ActivityID == "a" && record.State["v"] != 3.0 {
			t.Fatalf("expected last element to win, got %v", record.State["v"])
		}
	}
}

func TestExpiredSessionRejected(t *testing.T) {
	env := newTestEnv(t, Options{SessionTTL: time.Hour})
	ctx := context.Background()
	env.createClass(t, "CHEM-12A", "teach-1", nil)
	alex := env.join(t, "CHEM-12A", "S-001", "Alex")

	env.now = env.now.Add(2 * time.Hour)
	_, err := env.svc.Authenticate(ctx, alex.SessionToken)
	expectKind(t, err, KindUnauthorized)

	removed, err := env.svc.PruneSessions(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("expected one pruned session, got %d (%v)", removed, err)
	}
	_, err = env.svc.Authenticate(ctx, alex.SessionToken)
	expectKind(t, err, KindUnauthorized)
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createClass(t, "CHEM-12A", "teach-1", nil)
	alex := env.join(t, "CHEM-12A", "S-001", "Alex")

	_, student, err := env.svc.Profile(context.Background(), alex.SessionToken)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if student.ID != alex.Student.ID || student.ClassCode != "CHEM-12A" {
		t.Fatalf("unexpected student %+v", student)
	}
}
