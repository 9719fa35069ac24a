package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Andria35/SmartRoom/internal/config"
	"github.com/Andria35/SmartRoom/internal/observability/metrics"
	"github.com/Andria35/SmartRoom/internal/sensorsource"
	"github.com/Andria35/SmartRoom/internal/services/publisher"
	"github.com/Andria35/SmartRoom/internal/services/rpchealth"
	"github.com/Andria35/SmartRoom/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	autoStart := flag.Bool("start", false, "start publishing immediately")
	flag.Parse()

	path, err := config.FindConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal(err)
	}
	logger, err := cfg.Logger(os.Stdout, "publisher")
	if err != nil {
		fatal(err)
	}
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := telemetry.New(telemetry.Config{
		Broker:   cfg.Broker,
		Interval: cfg.Publisher.Interval,
		Recorder: metrics.Recorder{},
	}, logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	loopDone := make(chan error, 1)
	go func() { loopDone <- coord.Run(runCtx) }()

	// === Sensors ===
	sim := sensorsource.New(cfg.Publisher.Sensors, coord, logger)
	simDone := make(chan []sensorsource.TeardownResult, 1)
	go func() { simDone <- sim.Run(ctx) }()

	if *autoStart || cfg.Publisher.AutoStart {
		if err := coord.StartPublishing(ctx); err != nil {
			logger.Error("start publishing failed", "err", err)
		}
	}

	// === gRPC health ===
	rpc := rpchealth.New("smartroom.publisher", logger)
	go rpc.Track(ctx, coord.Bus())
	lis, err := net.Listen("tcp", cfg.Publisher.GRPCAddr)
	if err != nil {
		logger.Error("grpc listen failed", "addr", cfg.Publisher.GRPCAddr, "err", err)
		os.Exit(1)
	}
	go func() {
		if err := rpc.Serve(lis); err != nil {
			logger.Error("grpc serve failed", "err", err)
		}
	}()

	// === HTTP ===
	mux := http.NewServeMux()
	publisher.NewAPI(coord, logger).Register(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	hs := &http.Server{
		Addr:              cfg.Publisher.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("HTTP listening", "addr", hs.Addr)
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
	rpc.Stop()

	logger.Info("sensors stopped", "teardown_steps", len(<-simDone))
	if err := coord.Shutdown(shCtx); err != nil {
		logger.Warn("broker disconnect incomplete", "err", err)
	}
	runCancel()
	<-loopDone
}

func fatal(err error) {
	os.Stderr.WriteString("publisher: " + err.Error() + "\n")
	os.Exit(1)
}
