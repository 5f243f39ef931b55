package main

import (
	"context"
	"log"
	"os"

	"reactionmap/progress/internal/config"
	"reactionmap/progress/internal/crypto"
	"reactionmap/progress/internal/db"
	"reactionmap/progress/internal/progress"
	"reactionmap/progress/internal/ratelimit"
	"reactionmap/progress/internal/repository"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	cfg := config.Load()
	cli := commandLine{
		cfg:         cfg,
		out:         os.Stdout,
		openService: postgresService(cfg),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

// postgresService opens the configured database on demand so that commands which do not
// need it (migrate, report) never connect.
func postgresService(cfg config.Config) func(ctx context.Context) (*progress.Service, func(), error) {
	return func(ctx context.Context) (*progress.Service, func(), error) {
		hasher, err := crypto.NewHasher(cfg.ServerSalt)
		if err != nil {
			return nil, nil, err
		}
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		svc := progress.NewService(repository.NewStore(db.NewStore(pool)), hasher, progress.Options{
			SessionTTL:      cfg.SessionTTL,
			LeaderboardSize: cfg.ReportLeaderboardSize,
			Limiter:         ratelimit.NewPostgres(pool, ratelimit.Options{Window: cfg.JoinRateLimitWindow, Max: cfg.JoinRateLimitMax}),
		})
		return svc, pool.Close, nil
	}
}
