package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hlsgate/config"
	"hlsgate/core/auth"
	"hlsgate/core/intake"
	"hlsgate/core/jobfeed"
	"hlsgate/core/keys"
	"hlsgate/core/transcode"
	"hlsgate/db"
	"hlsgate/logger"
	"hlsgate/model"
	"hlsgate/repository"
	"hlsgate/storage"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// NewRouter wires every route. All media, key and catalog routes sit behind
// the bearer token.
func NewRouter(h *APIHandler) http.Handler {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", h.RegisterHandler).Methods(http.MethodPost)
	api.HandleFunc("/login", h.LoginHandler).Methods(http.MethodPost)
	api.HandleFunc("/me", h.AuthMiddleware(h.ProfileHandler)).Methods(http.MethodGet)
	api.HandleFunc("/upload-video", h.AuthMiddleware(RequireRole(model.RoleAdmin, h.UploadVideoHandler))).Methods(http.MethodPost)
	api.HandleFunc("/videos", h.AuthMiddleware(h.ListVideosHandler)).Methods(http.MethodGet)
	api.HandleFunc("/video-url", h.AuthMiddleware(h.VideoURLHandler)).Methods(http.MethodGet)
	api.HandleFunc("/video-status", h.AuthMiddleware(h.VideoStatusHandler)).Methods(http.MethodGet)

	router.HandleFunc("/key", h.AuthMiddleware(h.KeyHandler)).Methods(http.MethodGet)
	router.PathPrefix("/videos/").HandlerFunc(h.AuthMiddleware(h.MediaHandler)).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/ws/jobs", h.QueryAuthMiddleware(RequireRole(model.RoleAdmin, h.JobsWebSocketHandler))).Methods(http.MethodGet)
	router.HandleFunc("/healthz", HealthHandler).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodHead, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "Range"}),
		handlers.ExposedHeaders([]string{"Content-Length", "Content-Range", requestIDHeader}),
		handlers.MaxAge(86400),
	)
	return cors(router)
}

// withAccessLog adds panic recovery and an Apache-style access log.
func withAccessLog(h http.Handler) http.Handler {
	logged := handlers.CustomLoggingHandler(logger.Writer("access"), h, accessLogFormatter)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(logger.StdLogger("recovery")),
		handlers.PrintRecoveryStack(true),
	)(logged)
}

// openRepositories picks the catalog backend. The returned func releases it.
func openRepositories(ctx context.Context, cfg *config.Config) (repository.VideoRepository, repository.UserRepository, func(), error) {
	if cfg.DBDriver == config.DriverMemory {
		logger.Warn("[Server] using in-memory catalog; data is lost on restart")
		return repository.NewMemoryVideoRepository(), repository.NewMemoryUserRepository(), func() {}, nil
	}

	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		db.CloseGormDB(gdb)
		return nil, nil, nil, err
	}
	closeAll := func() { db.CloseGormDB(gdb) }

	var videos repository.VideoRepository = repository.NewGormVideoRepository(gdb)
	if cfg.RedisEnabled {
		rdb, err := db.ConnectRedis(ctx, cfg)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		videos = repository.NewCachedVideoRepository(videos, rdb, cfg.CacheTTL)
		closeAll = func() {
			rdb.Close()
			db.CloseGormDB(gdb)
		}
		logger.Info("[Server] catalog cache enabled", logger.String("redis", cfg.RedisAddr()))
	}
	return videos, repository.NewGormUserRepository(gdb), closeAll, nil
}

func openMediaStore(ctx context.Context, cfg *config.Config) (storage.MediaStore, error) {
	if cfg.MediaBackend == config.BackendMinio {
		return storage.NewMinioStore(ctx, cfg)
	}
	return storage.NewLocalStore(cfg.MediaDir), nil
}

// Start runs the HTTP server until SIGINT or SIGTERM.
func Start(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := context.Background()

	for _, dir := range []string{cfg.UploadDir, cfg.MediaDir} {
		if err := ensureDirExists(dir); err != nil {
			return err
		}
	}

	provisioner := keys.NewProvisioner(cfg)
	if err := provisioner.EnsureKeyInfo(); err != nil {
		return err
	}
	if err := provisioner.Verify(); err != nil {
		return fmt.Errorf("%w (run `hlsgate keygen` first)", err)
	}

	videos, users, closeRepos, err := openRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepos()

	media, err := openMediaStore(ctx, cfg)
	if err != nil {
		return err
	}

	opts, err := transcode.OptionsFromConfig(cfg, provisioner.KeyInfoPath())
	if err != nil {
		return err
	}

	hub := jobfeed.NewHub()
	go hub.Run()
	defer hub.Stop()

	dispatcher := transcode.NewDispatcher(transcode.DispatcherConfig{
		Videos:        videos,
		Encoder:       transcode.NewRunner(opts),
		Prober:        transcode.NewFFprobe(cfg.FFprobePath),
		Store:         media,
		Events:        hub,
		MaxConcurrent: cfg.MaxConcurrentJobs,
	})
	if n, err := dispatcher.RecoverStale(ctx); err != nil {
		return err
	} else if n > 0 {
		logger.Warn("[Server] interrupted jobs marked failed", logger.Int("count", n))
	}

	if cfg.AdminUsername != "" {
		created, err := auth.EnsureAdmin(ctx, users, cfg.AdminUsername, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("failed to bootstrap admin: %w", err)
		}
		logger.Info("[Server] admin account ready", logger.String("username", cfg.AdminUsername), logger.Bool("created", created))
	}

	apiHandler := NewAPIHandler(Deps{
		Config: cfg,
		Videos: videos,
		Users:  users,
		Tokens: auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL),
		Intake: intake.NewService(videos, dispatcher, cfg.UploadDir, cfg.MediaDir),
		Keys:   provisioner,
		Media:  media,
		Hub:    hub,
	})

	// WriteTimeout stays unset: segments and uploads can be large.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           withAccessLog(NewRouter(apiHandler)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          logger.StdLogger("http"),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("[Server] listening",
			logger.String("addr", server.Addr),
			logger.String("publicBaseUrl", cfg.PublicBaseURL),
			logger.String("db", cfg.DBDriver),
			logger.String("media", cfg.MediaBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-stop:
	}
	logger.Info("[Server] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("[Server] forced shutdown", logger.ErrorField(err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("[Server] jobs still running at exit", logger.Any("videoIds", dispatcher.Running()), logger.ErrorField(err))
	}
	logger.Info("[Server] stopped")
	return nil
}

func ensureDirExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("[Server] creating directory", logger.String("path", path))
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to check directory %s: %w", path, err)
	}
	return nil
}
