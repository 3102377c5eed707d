// Command fleetctl is the fleet lifecycle control plane: it discovers
// applications from cluster ingresses and tagged VMs, serves the Control
// API, and runs the schedule evaluator that applies the global on/off
// window to every app with automation enabled.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/haloworks/fleetctl/internal/app"
	"github.com/haloworks/fleetctl/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
