package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/icecream-ring/icecream-ring/internal/config"
	"github.com/icecream-ring/icecream-ring/internal/interfaceclient"
)

// metricsPortOffset places an interface's /metrics endpoint at
// 9000+id+1000, clear of the UDP range an interface itself binds.
const metricsPortOffset = 1000

func main() {
	cmd := &cobra.Command{
		Use:   "interface <id> <catalogue-file>",
		Short: "Run one customer-facing interface instance",
		Args:  cobra.ExactArgs(2),
		RunE:  run,
	}
	if err := cmd.Execute(); err != nil {
		slog.Error("interface exited with error", "component", "interface", "error", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil || id < config.MinRobotID {
		return fmt.Errorf("interface: invalid id %q", args[0])
	}
	catalogPath := args[1]

	cfg := config.Load()
	logger := slog.Default()

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Host, config.InterfaceBasePort+id+metricsPortOffset)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server error", "component", "interface", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := interfaceclient.New(id, cfg, logger)
	if err := client.Run(ctx, catalogPath); err != nil && err != context.Canceled {
		return err
	}
	slog.Info("interface stopped", "component", "interface", "interface_id", id)
	return nil
}
