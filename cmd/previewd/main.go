// Package main wires together the preview service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hrayleung/previewd/internal/api"
	"github.com/hrayleung/previewd/internal/clock/system"
	"github.com/hrayleung/previewd/internal/config"
	collyfetch "github.com/hrayleung/previewd/internal/fetch/colly"
	"github.com/hrayleung/previewd/internal/logging"
	"github.com/hrayleung/previewd/internal/metrics"
	"github.com/hrayleung/previewd/internal/preview"
	"github.com/hrayleung/previewd/internal/redirect"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()

	htmlClient := collyfetch.New(collyfetch.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	})
	probeClient := collyfetch.New(collyfetch.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.ProbeTimeout(),
		MaxBodyBytes: 1024,
	})

	var store *preview.Store
	if cfg.Cache.Path != "" {
		store = preview.NewStore(cfg.Cache.Path, logger.Named("store"))
	}

	contentFetcher := preview.NewContentFetcher(htmlClient, cfg.Fetch.MaxBodyBytes, logger.Named("fetch"))
	embedAdapter := preview.NewOEmbedAdapter(htmlClient, cfg.OEmbed.Endpoint, logger.Named("oembed"))
	previews := preview.NewCache(
		preview.CacheConfig{TTL: cfg.CacheTTL()},
		contentFetcher,
		embedAdapter,
		store,
		clock,
		logger.Named("cache"),
	)

	redirects, err := redirect.New(redirect.Config{
		CacheSize:    cfg.Redirect.CacheSize,
		ProbeTimeout: cfg.ProbeTimeout(),
	}, probeClient, logger.Named("redirect"))
	if err != nil {
		logger.Fatal("redirect resolver init failed", zap.Error(err))
	}

	apiServer := api.NewServer(previews, redirects, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	previews.Flush()
	logger.Info("shutdown complete")
}
