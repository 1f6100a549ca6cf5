package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatify/internal/attach"
	"github.com/chatify/internal/attach/localstore"
	"github.com/chatify/internal/attach/s3store"
	"github.com/chatify/internal/config"
	"github.com/chatify/internal/handler"
	"github.com/chatify/internal/logger"
	"github.com/chatify/internal/middleware"
	"github.com/chatify/internal/push"
	"github.com/chatify/internal/repository"
	"github.com/chatify/internal/startup"
	"github.com/chatify/internal/storage"
	"github.com/chatify/internal/storage/memory"
	"github.com/chatify/internal/ws"
	"github.com/chatify/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory typing store")
	flag.Parse()

	logger.Info("starting API service")
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

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	var typing storage.TypingStore
	if *dev {
		typing = memory.New(cfg.TypingWindow())
		logger.Info("typing store: in-memory (dev)")
	} else {
		typing = startup.ConnectRedisWithRetry(cfg.Redis.URL, cfg.TypingWindow(), 60*time.Second, "")
		logger.Info("typing store: redis")
	}
	defer typing.Close()

	attachStore, err := buildAttachStore(cfg)
	if err != nil {
		logger.Errorf("attach store: %v", err)
		os.Exit(1)
	}

	channelRepo := repository.NewChannelRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	reactRepo := repository.NewReactionRepository(pool)
	cursorRepo := repository.NewCursorRepository(pool)
	pushClient := push.NewClient(cfg.PushServiceURL)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(channelRepo, msgRepo, reactRepo, cursorRepo, typing, attachStore,
		cfg.MaxWSConnections, pushClient, cfg.IsAdmin)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	channelH := handler.NewChannelHandler(channelRepo, cursorRepo, typing, hub, cfg.IsAdmin)
	msgH := handler.NewMessageHandler(msgRepo, cursorRepo, typing, cfg.HistoryPageSize)
	fileH := handler.NewFileHandler(attachStore, channelRepo, cfg.MaxUploadSize)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	configH := handler.NewConfigHandler(cfg)
	pushH := handler.NewPushHandler(pushClient)

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
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-Id", "X-User-Name", "X-User-Avatar"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/client", configH.GetClientConfig)
	r.Get("/api/config/push", configH.GetPushConfig)
	r.Get("/api/files/*", fileH.Serve)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity)
		r.Post("/api/channels", channelH.Create)
		r.Get("/api/channels", channelH.List)
		r.Get("/api/channels/joined", channelH.ListJoined)
		r.Post("/api/channels/{channelID}/join", channelH.Join)
		r.Post("/api/channels/{channelID}/leave", channelH.Leave)
		r.Delete("/api/channels/{channelID}", channelH.Delete)
		r.Get("/api/channels/{channelID}/buddies", channelH.Buddies)
		r.Delete("/api/channels/{channelID}/buddies/{userID}", channelH.Kick)
		r.Get("/api/channels/{channelID}/messages", msgH.History)
		r.Post("/api/channels/{channelID}/read", msgH.MarkRead)
		r.Get("/api/channels/{channelID}/unread", msgH.Unread)
		r.Get("/api/channels/{channelID}/typing", msgH.Typing)
		r.Get("/api/unread", msgH.UnreadAll)
		r.With(middleware.RateLimitUploads).Post("/api/channels/{channelID}/attachments", fileH.Upload)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

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
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func buildAttachStore(cfg *config.Config) (attach.Store, error) {
	switch cfg.Attach.Backend {
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		ttl := time.Duration(cfg.Attach.PresignTTLMin) * time.Minute
		store, err := s3store.New(ctx, cfg.Attach.Bucket, cfg.Attach.Prefix, cfg.Attach.UsePathStyle, ttl)
		if err != nil {
			return nil, fmt.Errorf("s3 store: %w", err)
		}
		logger.Infof("attach store: s3 bucket=%s", cfg.Attach.Bucket)
		return store, nil
	case "local", "":
		if err := os.MkdirAll(cfg.Attach.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
		logger.Infof("attach store: local dir=%s", cfg.Attach.Dir)
		return localstore.New(cfg.Attach.Dir, os.Getenv("PUBLIC_BASE_URL")), nil
	default:
		return nil, fmt.Errorf("unknown attach backend %q", cfg.Attach.Backend)
	}
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		logger.Errorf("list migrations: %v", err)
		os.Exit(1)
	}
	sort.Strings(entries)
	for _, name := range entries {
		data, err := fs.ReadFile(migrations.Files, name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatify"
		password = "chatify_secret"
		database = "chatify"
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
