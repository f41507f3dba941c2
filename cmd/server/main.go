package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/selffetch-portal/auth/internal/config"
	delivery "github.com/selffetch-portal/auth/internal/delivery/http"
	"github.com/selffetch-portal/auth/internal/domain"
	"github.com/selffetch-portal/auth/internal/logger"
	"github.com/selffetch-portal/auth/internal/middleware"
	"github.com/selffetch-portal/auth/internal/repository/memory"
	"github.com/selffetch-portal/auth/internal/repository/postgres"
	redisrepo "github.com/selffetch-portal/auth/internal/repository/redis"
	"github.com/selffetch-portal/auth/internal/token"
	"github.com/selffetch-portal/auth/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(0).Fatal("failed to load config", "error", err)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("auth backend starting", "port", cfg.Server.Port, "ledger", cfg.LedgerBackend)

	var (
		userRepo domain.UserRepository
		ledger   domain.RefreshTokenLedger
	)

	switch cfg.LedgerBackend {
	case "memory":
		repo := memory.NewUserRepository()
		seedUsers(log, repo)
		userRepo = repo
		ledger = memory.NewRefreshTokenRepository(cfg.JWT.RefreshTTL)

	case "redis":
		conn := connectPostgres(log, cfg.Database.DSN)
		defer conn.Close()
		userRepo = postgres.NewUserRepository(conn)

		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatal("failed to connect to redis", "error", err)
		}
		ledger = redisrepo.NewRefreshTokenRepository(rdb, cfg.JWT.RefreshTTL)

	default:
		conn := connectPostgres(log, cfg.Database.DSN)
		defer conn.Close()
		userRepo = postgres.NewUserRepository(conn)
		ledger = postgres.NewRefreshTokenRepository(conn, cfg.JWT.RefreshTTL)
	}

	issuer := token.NewIssuer(cfg.JWT.Secret, cfg.JWT.AccessTTL)
	authUsecase := usecase.NewAuthUsecase(userRepo, ledger, issuer, log)
	authMiddleware := middleware.NewAuthMiddleware(authUsecase)

	handler := delivery.NewHandler(authUsecase, delivery.CookieConfig{
		Name:       cfg.Cookie.Name,
		Path:       cfg.Cookie.Path,
		Secure:     cfg.Cookie.Secure,
		RefreshTTL: cfg.JWT.RefreshTTL,
	})
	router := delivery.NewRouter(handler, authMiddleware, cfg.CORS.AllowedOrigins)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	go sweepExpired(sweeperCtx, log, ledger)

	go func() {
		log.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("forced shutdown", "error", err)
	}
	log.Info("server stopped")
}

func connectPostgres(log *logger.Logger, dsn string) *postgres.Connection {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := postgres.NewConnection(ctx, dsn)
		cancel()
		if err == nil {
			log.Info("connected to postgres")
			return conn
		}
		if attempt == 5 {
			log.Fatal("could not connect to database", "attempts", attempt, "error", err)
		}
		log.Warn("database connection failed, retrying", "attempt", attempt, "error", err)
		time.Sleep(time.Duration(attempt) * 2 * time.Second)
	}
}

// sweepExpired prunes expired ledger rows periodically. Lookups already
// treat expired records as absent; this keeps the table from growing.
func sweepExpired(ctx context.Context, log *logger.Logger, ledger domain.RefreshTokenLedger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := ledger.DeleteExpired(ctx)
			if err != nil {
				log.Warn("expired token sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("pruned expired refresh tokens", "count", removed)
			}
		}
	}
}

// seedUsers provisions the development account for the in-memory backend.
func seedUsers(log *logger.Logger, repo *memory.UserRepository) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal("failed to seed users", "error", err)
	}
	if err := repo.Create(context.Background(), &domain.User{
		Email:        "user@example.com",
		PasswordHash: string(hash),
	}); err != nil {
		log.Fatal("failed to seed users", "error", err)
	}
	log.Info("seeded development user", "email", "user@example.com")
}
