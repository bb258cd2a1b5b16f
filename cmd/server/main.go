// File server
//
// Features:
// - Prometheus metrics & structured logging (zap)
// - Public/private tree with password or capability based access
// - Directory listings with cached recursive folder sizes
// - Chunked uploads with server-side reassembly
// - Share links with optional password and expiry
// - SSE change events and per-client rate limiting
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Kief5555/fileserver/internal/api"
	"github.com/Kief5555/fileserver/internal/auth"
	"github.com/Kief5555/fileserver/internal/config"
	"github.com/Kief5555/fileserver/internal/events"
	"github.com/Kief5555/fileserver/internal/files"
	"github.com/Kief5555/fileserver/internal/logging"
	"github.com/Kief5555/fileserver/internal/metrics"
	"github.com/Kief5555/fileserver/internal/quota"
	"github.com/Kief5555/fileserver/internal/sharing"
	"github.com/Kief5555/fileserver/internal/store"
	"github.com/Kief5555/fileserver/internal/upload"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("file server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("root", cfg.FilesRoot))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer st.Close()

	if err := st.Init(ctx); err != nil {
		logging.Fatal("schema init failed", zap.Error(err))
	}

	// Initialize auth
	authHandler := auth.New(st.DB(), cfg.JWTSecret)
	if err := authHandler.EnsureDefaultAdmin(ctx); err != nil {
		logging.Error("failed to ensure default admin", zap.Error(err))
	}

	// Initialize the served tree
	root, err := files.NewRoot(cfg.FilesRoot)
	if err != nil {
		logging.Fatal("files root init failed", zap.Error(err))
	}

	sizeCache := store.NewFolderSizeCache(st)
	lister := files.NewLister(root, sizeCache)
	ops := files.NewOps(root, sizeCache)

	assembler, err := upload.New(root, cfg.TempUploadDir, sizeCache)
	if err != nil {
		logging.Fatal("upload assembler init failed", zap.Error(err))
	}
	assembler.StartCleanup(ctx)

	// Share links, SSE, rate limiting
	shares := sharing.NewStore(st.DB(), root)
	broadcaster := events.NewBroadcaster()
	rateLimiter := quota.NewRateLimiter()

	// Create API server
	srv := api.NewServer(st, root, lister, ops, assembler,
		authHandler, shares, broadcaster, rateLimiter, cfg)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	// Start periodic metrics update
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.UpdateConnectionMetrics()
			}
		}
	}()

	// Start periodic rate limiter cleanup
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rateLimiter.Cleanup(24 * time.Hour)
			}
		}
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
