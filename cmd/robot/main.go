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
	"github.com/icecream-ring/icecream-ring/internal/robot"
)

// metricsPortOffset places a robot's /metrics endpoint at 6000+id+1000,
// clear of the UDP range a robot itself binds.
const metricsPortOffset = 1000

// initialStock seeds every robot's dormant leader engine identically, so
// whichever one wins the election starts from the same inventory.
var initialStock = map[string]float64{
	"vanilla":   20,
	"chocolate": 20,
	"mint":      15,
	"dulce":     15,
}

func main() {
	cmd := &cobra.Command{
		Use:   "robot <id>",
		Short: "Run one robot ring node",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	if err := cmd.Execute(); err != nil {
		slog.Error("robot exited with error", "component", "robot", "error", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil || id < config.MinRobotID || id > config.MaxRobotID {
		return fmt.Errorf("robot: id must be between %d and %d, got %q", config.MinRobotID, config.MaxRobotID, args[0])
	}

	cfg := config.Load()
	logger := slog.Default()

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Host, config.RobotBasePort+id+metricsPortOffset)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server error", "component", "robot", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node := robot.New(id, cfg, initialStock, logger)
	if err := node.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	slog.Info("robot stopped", "component", "robot", "robot_id", id)
	return nil
}
