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

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/Andria35/SmartRoom/internal/config"
	"github.com/Andria35/SmartRoom/internal/model"
	"github.com/Andria35/SmartRoom/internal/observability/metrics"
	"github.com/Andria35/SmartRoom/internal/services/rpchealth"
	"github.com/Andria35/SmartRoom/internal/services/subscriber"
	"github.com/Andria35/SmartRoom/internal/telemetry"
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
	logger, err := cfg.Logger(os.Stdout, "subscriber")
	if err != nil {
		fatal(err)
	}
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === InfluxDB ===
	var (
		writer  *subscriber.Writer
		querier subscriber.FluxQuerier
		influx  influxdb2.Client
	)
	ic := cfg.Subscriber.Influx
	if ic.Enabled() {
		opts := influxdb2.DefaultOptions().
			SetBatchSize(uint(ic.BatchSize)).
			SetFlushInterval(uint(ic.FlushInterval.Milliseconds()))
		influx = influxdb2.NewClientWithOptions(ic.URL, ic.Token, opts)
		defer influx.Close()
		writer = subscriber.NewWriter(influx.WriteAPI(ic.Org, ic.Bucket), cfg.Broker.Topic, logger)
		querier = influx.QueryAPI(ic.Org)
	} else {
		logger.Warn("influx url not set, history disabled")
	}

	// === MQTT ===
	bcfg := cfg.Broker
	bcfg.ClientIDPrefix = cfg.Subscriber.ClientIDPrefix
	coord := telemetry.New(telemetry.Config{
		Broker:   bcfg,
		DedupTTL: cfg.Subscriber.DedupTTL,
		Recorder: metrics.Recorder{},
		OnSnapshot: func(s model.SensorSnapshot) {
			writer.Write(s)
		},
		OnDecodeError: func(error) { metrics.IncDecodeError() },
	}, logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	loopDone := make(chan error, 1)
	go func() { loopDone <- coord.Run(runCtx) }()

	if err := coord.Listen(ctx); err != nil {
		fatal(err)
	}

	// === gRPC health ===
	rpc := rpchealth.New("smartroom.subscriber", logger)
	go rpc.Track(ctx, coord.Bus())
	lis, err := net.Listen("tcp", cfg.Subscriber.GRPCAddr)
	if err != nil {
		logger.Error("grpc listen failed", "addr", cfg.Subscriber.GRPCAddr, "err", err)
		os.Exit(1)
	}
	go func() {
		if err := rpc.Serve(lis); err != nil {
			logger.Error("grpc serve failed", "err", err)
		}
	}()

	// === HTTP ===
	mux := http.NewServeMux()
	mux.Handle("/healthz", subscriber.NewHealthHandler(coord, writer, ic.Enabled()))
	mux.Handle("/readyz", subscriber.NewReadyHandler(coord, writer, ic.Enabled(), 2*time.Second))
	mux.Handle("/telemetry/latest", subscriber.NewLatestHandler(coord))
	mux.Handle("/telemetry/history", subscriber.NewHistoryHandler(querier, ic.Bucket, logger))
	mux.Handle("/metrics", metrics.Handler())

	hs := &http.Server{
		Addr:              cfg.Subscriber.HTTPAddr,
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
	if err := coord.Shutdown(shCtx); err != nil {
		logger.Warn("broker disconnect incomplete", "err", err)
	}
	runCancel()
	<-loopDone

	// allow the last batch to flush
	if influx != nil {
		time.Sleep(ic.FlushInterval + 100*time.Millisecond)
	}
}

func fatal(err error) {
	os.Stderr.WriteString("subscriber: " + err.Error() + "\n")
	os.Exit(1)
}
