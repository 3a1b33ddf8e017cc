package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"uploaddesk/internal/api"
	"uploaddesk/internal/config"
	fileutil "uploaddesk/internal/file"
	"uploaddesk/internal/journal"
	"uploaddesk/internal/session"
	"uploaddesk/internal/transport"
	"uploaddesk/internal/upload"
)

const defaultConfigPath = "config.yml"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// .env is optional; real environment wins
	_ = godotenv.Load()

	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	tr, err := transport.New(baseCtx, cfg.Transport, cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("kind", cfg.Transport.Kind).Msg("build transport")
	}
	history, err := journal.Open(baseCtx, cfg.Journal, cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("kind", cfg.Journal.Kind).Msg("open journal")
	}

	registry := buildRegistry(cfg, tr, history)
	registry.SetBaseContext(baseCtx)

	router := setupRouter()
	wireAPI(router, registry)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)
	// request contexts end at shutdown so event streams do not hold it up
	reqCtx, reqCancel := context.WithCancel(context.Background())
	srv.BaseContext = func(net.Listener) context.Context { return reqCtx }
	srv.RegisterOnShutdown(reqCancel)

	go func() {
		log.Info().Int("port", cfg.Port).Str("transport", cfg.Transport.Kind).Str("journal", cfg.Journal.Kind).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, registry, history, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.RequestID())
	r.Use(api.ZerologLogger())
	return r
}

func buildRegistry(cfg config.Config, tr upload.Transport, history journal.Journal) *session.Registry {
	return session.NewRegistry(session.Options{
		MaxSessions: cfg.MaxSessions,
		Upload: upload.Options{
			MaxFileSizeMB:      cfg.Upload.MaxFileSizeMB,
			AcceptedExtensions: cfg.Upload.AcceptedExtensions,
			MaxFiles:           cfg.Upload.MaxFiles,
			TransferTimeout:    cfg.Upload.TransferTimeout,
			Transport:          tr,
		},
		Journal: history,
		TempDir: filepath.Join(cfg.DataDir, "tmp"),
	})
}

func wireAPI(router *gin.Engine, registry *session.Registry) {
	apiHandler := api.NewAPI(registry)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, registry *session.Registry, history journal.Journal, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !registry.WaitAll(ctx) {
		log.Warn().Msg("uploads did not finish before timeout")
	}
	if err := history.Close(); err != nil {
		log.Warn().Err(err).Msg("journal close failed")
	}
	log.Info().Msg("server exited cleanly")
}
