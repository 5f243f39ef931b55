package progress

import (
	"context"
	"time"

	"github.com/google/uuid"

	"reactionmap/progress/internal/crypto"
	"reactionmap/progress/internal/model"
	"reactionmap/progress/internal/ratelimit"
)

const defaultLeaderboardSize = 10

type Repository interface {
	GetClass(ctx context.Context, code string) (model.Class, error)
	UpsertClass(ctx context.Context, class model.Class) error
	UpsertStudent(ctx context.Context, student model.Student) (model.Student, error)
	GetStudent(ctx context.Context, id string) (model.Student, error)
	TouchStudent(ctx context.Context, id string, seenAt time.Time) error
	ListStudentsByClass(ctx context.Context, classCode string) ([]model.Student, error)
	CreateSession(ctx context.Context, session model.Session) error
	GetSession(ctx context.Context, tokenHash string) (model.Session, error)
	TouchSession(ctx context.Context, tokenHash string, seenAt time.Time) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	ListProgress(ctx context.Context, studentID string, since *time.Time) ([]model.Progress, error)
	ListProgressByClass(ctx context.Context, classCode string) ([]model.Progress, error)
	UpsertProgress(ctx context.Context, studentID string, updates []model.ProgressUpdate, at time.Time) ([]model.Progress, error)
}

type Options struct {
	SessionTTL      time.Duration
	LeaderboardSize int
	Limiter         ratelimit.Limiter
}

type Service struct {
	repo            Repository
	hasher          *crypto.Hasher
	limiter         ratelimit.Limiter
	sessionTTL      time.Duration
	leaderboardSize int
	now             func() time.Time
	newID           func() string
	newToken        func() (string, error)
}

func NewService(repo Repository, hasher *crypto.Hasher, opts Options) *Service {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.Disabled{}
	}
	size := opts.LeaderboardSize
	if size <= 0 {
		size = defaultLeaderboardSize
	}
	return &Service{
		repo:            repo,
		hasher:          hasher,
		limiter:         limiter,
		sessionTTL:      opts.SessionTTL,
		leaderboardSize: size,
		now:             time.Now,
		newID:           uuid.NewString,
		newToken:        crypto.NewSessionToken,
	}
}

// clock returns the current UTC time at the precision the store keeps.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// PruneSessions deletes sessions that expired before now.
func (s *Service) PruneSessions(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteExpiredSessions(ctx, s.clock())
	if err != nil {
		return 0, internal("Failed to prune sessions.", err)
	}
	if pruner, ok := s.limiter.(ratelimit.Pruner); ok {
		if _, err := pruner.Prune(ctx, s.clock()); err != nil {
			return removed, internal("Failed to prune rate limits.", err)
		}
	}
	return removed, nil
}
