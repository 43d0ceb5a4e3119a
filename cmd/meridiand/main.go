// Command meridiand runs the discovery engine as a standalone daemon:
// it loads configuration, starts the orchestrator, and serves the
// websocket transport gateway until it receives a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.meridian.dev/meridian/internal/clock"
	"go.meridian.dev/meridian/internal/config"
	"go.meridian.dev/meridian/internal/logging"
	"go.meridian.dev/meridian/internal/orchestrator"
	"go.meridian.dev/meridian/internal/transport"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configFile := flag.String("config", "", "Path to an HCL configuration file (uses built-in defaults if omitted)")
	listenAddr := flag.String("listen", "", "Override the transport listen address")
	flag.Parse()

	logging.SetDefault(logging.New(logging.DefaultConfig()))
	log := logging.WithComponent("meridiand")

	if err := clock.EnsureSaneTime(); err != nil {
		log.Warn("system clock sanity check failed, sighting timestamps may be unreliable", "error", err)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Transport.ListenAddress = *listenAddr
	}

	hub := transport.NewHub()
	orch := orchestrator.New(cfg, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		log.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	gateway := transport.NewGateway(hub)
	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Transport.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("starting transport gateway", "address", cfg.Transport.ListenAddress)
		orch.SignalTransportReady()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("transport gateway failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("transport gateway shutdown did not complete cleanly", "error", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
