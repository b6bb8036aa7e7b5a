package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/client"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/config"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/repository/sqlite"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/route"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/display"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video/opencv"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/websocket"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/store"
)

const (
	viewerBufferSize = 16
	shutdownTimeout  = 10 * time.Second
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	store      store.Store
	hubService *websocket.HubService
	client     *client.Client
	manager    *service.Manager
}

func NewApp() (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.NewLogger(cfg)

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	encoder := opencv.NewEncoder(cfg.JPEGQuality)
	hub := websocket.NewHubService(viewerBufferSize, log)
	sink := display.NewSink(hub, encoder, cfg.SourceTag, log)
	detector := client.New(cfg, log)

	mng, err := service.NewManager(cfg, opencv.NewOpener(), encoder, detector, st, sink, log)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &App{
		config:     cfg,
		logger:     log,
		store:      st,
		hubService: hub,
		client:     detector,
		manager:    mng,
	}, nil
}

// openStore picks the detection store backend. SQLite keeps the log on disk
// when STORE_PATH names a file.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.StoreBackend != "sqlite" {
		return store.NewMemoryStore(), nil
	}

	if cfg.StorePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sqlite.New(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	return sqlite.NewDetectionRepository(db), nil
}

func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background services
	go a.hubService.Run(ctx)

	// Setup routes
	router := route.SetupRoutes(a.manager, a.hubService, a.client, a.config, a.logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: router,
	}

	fmt.Printf("🚗 IVCam Vehicle Analytics\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("🤖 Detection API: %s\n", a.config.DetectionAPIURL)
	fmt.Printf("📷 Sources: %v\n", a.manager.Candidates())
	fmt.Printf("💾 Store: %s\n", a.config.StoreBackend)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		a.shutdown()
		return err
	case <-ctx.Done():
	}

	a.logger.Info("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP shutdown: %v", err)
	}
	a.shutdown()
	return nil
}

// shutdown stops detection, releases the source and closes the store.
func (a *App) shutdown() {
	a.manager.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close store: %v", err)
	}
}
