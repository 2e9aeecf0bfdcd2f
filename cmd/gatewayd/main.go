package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wa-gateway/go-backend/internal/composition/gateway"
	"wa-gateway/go-backend/internal/config"
	"wa-gateway/go-backend/internal/platform/logging"
	"wa-gateway/go-backend/internal/transport/memtransport"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus listen address override")
	sessions := flag.String("sessions", "", "Comma separated session ids to start (overrides config)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("gatewayd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}
	if *metricsAddr != "" {
		_ = os.Setenv("WAG_METRICS_ADDR", *metricsAddr)
	}
	if *sessions != "" {
		_ = os.Setenv("WAG_SESSIONS", *sessions)
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		log.Fatalf("gatewayd config: %v", err)
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	network := memtransport.NewNetwork(cfg.Mock)
	gw, err := gateway.New(cfg, network,
		gateway.WithLogger(logger),
		gateway.WithRegisterer(reg),
	)
	if err != nil {
		log.Fatalf("gatewayd failed to initialize: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "component", "gatewayd", "addr", cfg.MetricsAddr, "error", err.Error())
			stop()
		}
	}()

	if _, err := gw.RestoreSessions(ctx); err != nil {
		logger.Warn("some sessions failed to start", "component", "gatewayd", "error", err.Error())
	}
	log.Printf("gatewayd started (transport=%s metrics=%s)", cfg.Transport, cfg.MetricsAddr)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := gw.Close(shutdownCtx); err != nil {
		log.Printf("gatewayd shutdown: %v", err)
	}
	log.Println("gatewayd stopped")
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
