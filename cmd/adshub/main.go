// Command adshub keeps a session to a Beckhoff PLC alive and exposes its
// variables for reading, writing, and subscription.
//
// Usage:
//
//	adshub <command> [flags]
//
// Commands:
//
//	run       Keep the configured variables subscribed until interrupted
//	read      Read one variable
//	write     Write one variable
//	shell     Interactive console
//	validate  Check a configuration file
//	log       Inspect protocol capture files
//
// Examples:
//
//	# Run against the in-memory controller with metrics on :9851
//	adshub run -c adshub.yaml --simulate --metrics
//
//	# Read a scaled value
//	adshub read MAIN.temperature --type INT --factor 0.1 -c adshub.yaml
//
//	# Show the events of one session in a capture file
//	adshub log view --session 3f2a9c1e adshub.alog
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adshub/adshub-go/cmd/adshub/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info := commands.BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}
	if err := commands.Execute(ctx, info, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
