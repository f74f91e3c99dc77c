// M307 Temperature Guard client.
//
// m307 reads and configures an M307 unit over its TCP protocol, drains the
// data log to JSON or CSV, keeps backups of the user records and runs the
// MQTT bridge service.
//
// Usage:
//
//	m307 --host 10.0.0.50 status
//	m307 --host 10.0.0.50 log export --output cold-room.csv
//	m307 --config configs/m307.yaml bridge
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// exitInterrupted is the conventional exit status after SIGINT.
const exitInterrupted = 130

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(ctx.Err(), context.Canceled) {
			os.Exit(exitInterrupted)
		}
		os.Exit(1)
	}
}
