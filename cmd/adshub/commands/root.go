// Package commands implements the adshub CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adshub/adshub-go/pkg/config"
	"github.com/adshub/adshub-go/pkg/transport"
)

// ErrNoTransport is returned when no controller transport is available.
var ErrNoTransport = errors.New("no controller transport available (use --simulate)")

// BuildInfo describes the binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// TransportFactory opens the transport for a configuration. Programs that
// link a wire-level ADS client pass one to Execute.
type TransportFactory func(cfg *config.Config) (transport.Transport, error)

// globals holds the persistent flags shared by every command.
type globals struct {
	configPath string
	logLevel   string
	simulate   bool
	jsonOutput bool

	host  string
	port  int
	netID string

	factory TransportFactory
}

// Execute runs the root command. factory may be nil.
func Execute(ctx context.Context, info BuildInfo, factory TransportFactory) error {
	return NewRootCommand(info, factory).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand(info BuildInfo, factory TransportFactory) *cobra.Command {
	g := &globals{factory: factory}

	rootCmd := &cobra.Command{
		Use:   "adshub",
		Short: "adshub - resilient Beckhoff ADS session manager",
		Long: `adshub keeps one session to a Beckhoff PLC alive across network failures,
serializes every call on it, and keeps configured variables up to date
through device notifications with a polling fallback.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "configuration file")
	flags.StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&g.simulate, "simulate", false, "use the in-memory controller")
	flags.BoolVar(&g.jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&g.host, "host", "", "controller host (without --config)")
	flags.IntVar(&g.port, "port", transport.DefaultPort, "controller ADS port (without --config)")
	flags.StringVar(&g.netID, "ams-net-id", "", "controller AMS Net ID (without --config)")

	rootCmd.AddCommand(newRunCommand(g))
	rootCmd.AddCommand(newReadCommand(g))
	rootCmd.AddCommand(newWriteCommand(g))
	rootCmd.AddCommand(newShellCommand(g))
	rootCmd.AddCommand(newValidateCommand(g))
	rootCmd.AddCommand(newLogCommand())

	return rootCmd
}

// logger returns the operational logger writing to w.
func (g *globals) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(g.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", g.logLevel)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// loadConfig reads --config, or builds a configuration without variables
// from the controller flags.
func (g *globals) loadConfig() (*config.Config, error) {
	if g.configPath != "" {
		return config.Load(g.configPath)
	}

	cfg := config.Default()
	cfg.Controller.Host = g.host
	cfg.Controller.Port = g.port
	cfg.Controller.AMSNetID = g.netID
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("controller flags: %w", err)
	}
	return cfg, nil
}

// transport opens the controller transport for cfg.
func (g *globals) transport(cfg *config.Config) (transport.Transport, error) {
	switch {
	case g.simulate:
		return simulator(cfg)
	case g.factory != nil:
		return g.factory(cfg)
	default:
		return nil, ErrNoTransport
	}
}
