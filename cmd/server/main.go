package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/vital-visualizer/backend/internal/api"
	"github.com/vital-visualizer/backend/internal/config"
	"github.com/vital-visualizer/backend/internal/logging"
	"github.com/vital-visualizer/backend/internal/session"
	"github.com/vital-visualizer/backend/internal/storage"
	"github.com/vital-visualizer/backend/internal/upload"
	"github.com/vital-visualizer/backend/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		logging.Error("%v", err)
		os.Exit(1)
	}
}

func run() error {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	configPath := filepath.Join(filepath.Dir(exePath), "VitalVisualizer.config")
	if p := os.Getenv("VITAL_CONFIG"); p != "" {
		configPath = p
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logging.Init(os.Stderr, cfg.Advanced.LogLevel); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	embeddedMode := web.HasEmbeddedFiles()

	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	sessionMgr, err := session.NewManager(session.Options{
		MaxConcurrentDecodes: cfg.Processing.MaxConcurrentDecodes,
		Location:             loc,
		ParsedDir:            cfg.ParsedDir(),
		Files:                fileStore,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session manager: %w", err)
	}
	defer func() {
		if err := sessionMgr.Close(); err != nil {
			logging.Warning("[Manager] close: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	uploadMgr := upload.NewManager(fileStore, sessionMgr)

	go cleanupLoop(ctx, cfg, sessionMgr, uploadMgr, fileStore)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/status") ||
				strings.HasSuffix(path, "/progress") ||
				path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10,
	}))

	if cfg.Processing.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Processing.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return c.Request().Header.Get("Accept") == "text/event-stream" ||
					strings.HasSuffix(path, "/progress") ||
					strings.HasPrefix(path, "/api/ws/")
			},
		}))
	}

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowedOrigins(),
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	deps := &api.Dependencies{
		Store:             fileStore,
		SessionMgr:        sessionMgr,
		UploadJobs:        uploadMgr,
		Version:           Version,
		AllowFileDeletion: cfg.Security.AllowFileDeletion,
		AllowedFileTypes:  cfg.AllowedFileTypes(),
		WSPollInterval:    time.Duration(cfg.Advanced.WebSocketPollIntervalMs) * time.Millisecond,
	}
	// a nil *ParsedStore must not end up inside the interface
	if ps := sessionMgr.Parsed(); ps != nil {
		deps.Parsed = ps
	}
	api.SetupMiddleware(e)
	api.RegisterRoutes(e, api.NewHandlers(deps))

	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logging.Warning("failed to register static routes: %v", err)
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	logging.Info("Vital Visualizer %s (built %s)", Version, BuildTime)
	logging.Info("config: %s", configPath)
	logging.Info("data dir: %s, timezone: %s", cfg.GetDataDir(), loc)
	if embeddedMode {
		logging.Info("open http://localhost:%d in your browser", cfg.Server.Port)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.StartServer(s)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// cleanupLoop evicts idle sessions and finished upload jobs, and drops
// parsed databases whose upload no longer exists.
func cleanupLoop(ctx context.Context, cfg *config.AppConfig, mgr *session.Manager, jobs *upload.Manager, files storage.Store) {
	interval := time.Duration(cfg.Processing.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	maxAge := time.Duration(cfg.Processing.SessionTimeoutMinutes) * time.Minute

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		mgr.CleanupOldSessions(maxAge)
		jobs.CleanupOldJobs(maxAge)

		ps := mgr.Parsed()
		if ps == nil {
			continue
		}
		infos, err := files.List(0)
		if err != nil {
			logging.Warning("[Manager] listing files for cleanup: %v", err)
			continue
		}
		live := make([]string, 0, len(infos))
		for _, f := range infos {
			live = append(live, f.ID)
		}
		if n := ps.CleanupOrphaned(live); n > 0 {
			logging.Info("[ParsedStore] removed %d orphaned databases", n)
		}
	}
}
