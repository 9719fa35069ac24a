package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"github.com/Andria35/SmartRoom/internal/airquality"
	"github.com/Andria35/SmartRoom/internal/config"
	"github.com/Andria35/SmartRoom/internal/observability/metrics"
	"github.com/Andria35/SmartRoom/internal/prefs"
	"github.com/Andria35/SmartRoom/internal/services/gateway/app"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	path, err := config.FindConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal(err)
	}
	logger, err := cfg.Logger(os.Stdout, "gateway")
	if err != nil {
		fatal(err)
	}
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := prefs.Open(cfg.Gateway.PrefsPath)
	if err != nil {
		fatal(err)
	}

	fetcher := airquality.NewFetcher(cfg.Gateway.AirQuality, logger)
	air := airquality.NewService(fetcher, logger, airquality.WithRefreshHook(metrics.ObserveAirQualityRefresh))
	go air.Run(ctx, cfg.Gateway.RefreshInterval)

	gw := app.NewGateway(ctx, app.Config{
		SubscriberBaseURL: cfg.Gateway.SubscriberURL,
		HTTPTimeout:       cfg.Gateway.UpstreamTimeout,
		BreakerFailures:   cfg.Gateway.BreakerFailures,
		BreakerOpenFor:    cfg.Gateway.BreakerOpen,
		Logger:            logger,
	}, air, store)

	hs := &http.Server{
		Addr:              cfg.Gateway.HTTPAddr,
		Handler:           handlers.LoggingHandler(os.Stdout, gw.Router()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("gateway listening", "addr", hs.Addr, "subscriber", cfg.Gateway.SubscriberURL)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
}

func fatal(err error) {
	os.Stderr.WriteString("gateway: " + err.Error() + "\n")
	os.Exit(1)
}
