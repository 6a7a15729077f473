// Сервис тренинг-платформы: сессии, кеш ответов, realtime-присутствие занятий.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stms/internal/cache"
	"github.com/stms/internal/config"
	"github.com/stms/internal/handler"
	"github.com/stms/internal/logger"
	"github.com/stms/internal/middleware"
	"github.com/stms/internal/model"
	"github.com/stms/internal/presence"
	"github.com/stms/internal/repository"
	"github.com/stms/internal/service"
	"github.com/stms/internal/startup"
	"github.com/stms/internal/storage"
	"github.com/stms/internal/storage/memory"
	"github.com/stms/internal/token"
)

const (
	cacheGroupLectures = "lectures"
	cacheGroupProfile  = "profile"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "embedded PostgreSQL + in-memory KV store (no external services required)")
	flag.Parse()

	logger.Info("starting training platform API")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	var store storage.Store
	if *dev {
		logger.Info("-dev: in-memory KV store (сессии не переживают перезапуск)")
		store = memory.New()
	} else {
		redisClient := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		defer redisClient.Close()
		store = redisClient
	}

	sessions := service.NewSessionRegistry(store)
	revoked := service.NewTokenRevocationList(store)
	limiter := service.NewRateLimiter(store)
	metrics := service.NewMetricsReporter(store)
	tokens := token.NewManager(cfg.Auth.JWTSecret, cfg.TokenTTL())
	respCache := cache.New(store)

	userRepo := repository.NewUserRepository(pool)
	attendanceRepo := repository.NewAttendanceRepository(pool)
	lectureRepo := repository.NewLectureRepository(pool)

	hub := presence.NewHub(attendanceRepo, lectureRepo, respCache, cacheGroupLectures,
		presence.WithMinAttendance(time.Duration(cfg.Attendance.MinMinutes)*time.Minute))

	authH := handler.NewAuthHandler(userRepo, sessions, revoked, tokens, cfg.SessionTTLForRole)
	reportH := handler.NewReportHandler(attendanceRepo)
	adminH := handler.NewAdminHandler(metrics, func() int { return sessions.SweepExpired(context.Background()) })

	authMW := middleware.Auth(sessions, revoked, tokens, cfg.SessionTTLForRole)
	apiLimit := middleware.RateLimit(limiter, int64(cfg.RateLimit.APILimit), time.Duration(cfg.RateLimit.APIWindowSeconds)*time.Second)
	loginLimit := middleware.RateLimit(limiter, int64(cfg.RateLimit.LoginLimit), time.Duration(cfg.RateLimit.LoginWindowSeconds)*time.Second)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	r.With(loginLimit).Post("/api/auth/login", authH.Login)

	r.Group(func(r chi.Router) {
		r.Use(authMW)
		r.Use(apiLimit)
		r.Post("/api/auth/logout", authH.Logout)
		r.With(respCache.Wrap(cacheGroupProfile, time.Duration(cfg.CacheTTL.Profile)*time.Second, true)).
			Get("/api/users/me", authH.Me)
		// Роль проверяется до кеша: хит не должен отдавать отчёт студенту.
		r.With(middleware.RequireRole(model.RoleTrainer, model.RoleAdmin),
			respCache.Wrap(cacheGroupLectures, time.Duration(cfg.CacheTTL.Lectures)*time.Second, false)).
			Get("/api/lectures/{lectureID}/attendance", reportH.LectureAttendance)
		r.Get("/ws", hub.ServeWS)
	})

	r.With(middleware.InternalOnly).Get("/internal/admin/store-stats", adminH.StoreStats)
	r.With(middleware.InternalOnly).Post("/internal/admin/sweep-sessions", adminH.SweepSessions)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var bgWg sync.WaitGroup
	bgWg.Add(1)
	go func() {
		defer bgWg.Done()
		runSweeper(sweepCtx, cfg.SweepInterval, sessions)
	}()
	// One-shot прогрев кеша вскоре после старта.
	bgWg.Add(1)
	go func() {
		defer bgWg.Done()
		select {
		case <-sweepCtx.Done():
		case <-time.After(cfg.WarmupDelay):
			respCache.Warmup(sweepCtx)
		}
	}()

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	sweepCancel()
	bgWg.Wait()
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// runSweeper раз в interval чистит сессии, чей прикладной срок прошёл, даже если
// TTL store ещё не сработал (защита от расхождения часов).
func runSweeper(ctx context.Context, interval time.Duration, sessions *service.SessionRegistry) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.SweepExpired(ctx)
		}
	}
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	files := []string{"migrations/001_init.sql"}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			logger.Errorf("read migration %s: %v", f, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", f, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "stms"
		password = "stms_secret"
		database = "stms"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
