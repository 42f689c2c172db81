package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/icecream-ring/icecream-ring/internal/config"
	"github.com/icecream-ring/icecream-ring/internal/gateway"
)

// metricsAddr is fixed since exactly one gateway process runs per system.
const metricsAddr = "127.0.0.1:8090"

func main() {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the payment gateway",
		Args:  cobra.NoArgs,
		RunE:  run,
	}
	if err := cmd.Execute(); err != nil {
		slog.Error("gateway exited with error", "component", "gateway", "error", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger := slog.Default()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server error", "component", "gateway", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g := gateway.New(cfg, logger)
	if err := g.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	slog.Info("gateway stopped", "component", "gateway")
	return nil
}
