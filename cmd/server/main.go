package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"reactionmap/progress/internal/config"
	"reactionmap/progress/internal/crypto"
	"reactionmap/progress/internal/db"
	progressgrpc "reactionmap/progress/internal/grpc"
	internalhttp "reactionmap/progress/internal/http"
	"reactionmap/progress/internal/jobs"
	"reactionmap/progress/internal/logging"
	"reactionmap/progress/internal/progress"
	"reactionmap/progress/internal/ratelimit"
	"reactionmap/progress/internal/repository"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger := logging.New(log.Default(), logging.Options{
		RollbarToken: cfg.RollbarToken,
		Environment:  cfg.Environment,
		CodeVersion:  version,
	})
	defer logger.Close()

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	hasher, err := crypto.NewHasher(cfg.ServerSalt)
	if err != nil {
		logger.Fatalf("hasher init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		repo progress.Repository
		pool *pgxpool.Pool
	)
	switch cfg.StoreDriver {
	case "memory":
		logger.Printf("using in-memory store; data is lost on restart")
		repo = repository.NewMemoryStore()
	default:
		if cfg.AutoMigrate {
			if err := db.Migrate(cfg.DatabaseURL, "up"); err != nil {
				logger.Fatalf("migration failed: %v", err)
			}
		}
		pool, err = db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db connection failed: %v", err)
		}
		defer pool.Close()
		repo = repository.NewStore(db.NewStore(pool))
	}

	limitOpts := ratelimit.Options{Window: cfg.JoinRateLimitWindow, Max: cfg.JoinRateLimitMax}
	var limiter ratelimit.Limiter
	switch {
	case cfg.RedisAddr != "":
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("redis close error: %v", err)
			}
		}()
		limiter = ratelimit.NewRedis(redisClient, limitOpts)
	case pool != nil:
		limiter = ratelimit.NewPostgres(pool, limitOpts)
	default:
		limiter = ratelimit.NewMemory(limitOpts)
	}

	svc := progress.NewService(repo, hasher, progress.Options{
		SessionTTL:      cfg.SessionTTL,
		LeaderboardSize: cfg.ReportLeaderboardSize,
		Limiter:         limiter,
	})

	server := internalhttp.NewServer(cfg, svc, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.ServiceAuthToken != "" {
		grpcServer, err = progressgrpc.NewQueryServer(cfg.ServiceAuthToken, progressgrpc.NewProgressQueryServer(svc))
		if err != nil {
			logger.Fatalf("grpc server init failed: %v", err)
		}
	} else {
		logger.Printf("SERVICE_AUTH_TOKEN not set; grpc query service disabled")
	}

	cleanupDone := jobs.StartSessionCleanupJob(ctx, cfg, svc)

	go func() {
		logger.Printf("progress http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	if grpcServer != nil {
		go func() {
			listener, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				logger.Fatalf("grpc listen error: %v", err)
			}
			logger.Printf("progress grpc listening on %s", cfg.GRPCAddr)
			if err := grpcServer.Serve(listener); err != nil {
				logger.Fatalf("grpc server error: %v", err)
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", err, nil)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	<-cleanupDone
}
