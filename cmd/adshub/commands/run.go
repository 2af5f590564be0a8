package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/adshub/adshub-go/pkg/bindings"
	"github.com/adshub/adshub-go/pkg/config"
	"github.com/adshub/adshub-go/pkg/hub"
	"github.com/adshub/adshub-go/pkg/log"
	"github.com/adshub/adshub-go/pkg/metrics"
	"github.com/adshub/adshub-go/pkg/persistence"
	"github.com/adshub/adshub-go/pkg/subscription"
)

type runFlags struct {
	capture     string
	store       string
	metrics     bool
	metricsAddr string
	watch       bool
}

func newRunCommand(g *globals) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep the configured variables subscribed until interrupted",
		Long: `Connects to the controller, subscribes every configured variable, and
logs each update. The session is re-established automatically after
failures. With --watch, edits to the configuration file are applied
without restarting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.configPath == "" {
				return errors.New("run requires --config")
			}
			logger, err := g.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runHub(cmd.Context(), g, f, logger)
		},
	}

	cmd.Flags().StringVar(&f.capture, "capture", "", "write protocol events to this .alog file")
	cmd.Flags().StringVar(&f.store, "store", "", "persist last values in this SQLite database")
	cmd.Flags().BoolVar(&f.metrics, "metrics", false, "serve Prometheus metrics")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", metrics.DefaultConfig().ListenAddress, "metrics listen address")
	cmd.Flags().BoolVar(&f.watch, "watch", true, "reload the configuration file when it changes")
	return cmd
}

func runHub(ctx context.Context, g *globals, f runFlags, logger *slog.Logger) error {
	mcfg := metrics.DefaultConfig()
	mcfg.Enabled = f.metrics
	mcfg.ListenAddress = f.metricsAddr
	m, err := metrics.New(mcfg)
	if err != nil {
		return err
	}

	var captures []log.Logger
	if f.capture != "" {
		fl, err := log.NewFileLogger(f.capture)
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer fl.Close()
		captures = append(captures, fl)
		logger.Info("capturing protocol events", "path", f.capture)
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		captures = append(captures, log.NewSlogAdapter(logger))
	}

	var store *persistence.Store
	if f.store != "" {
		store, err = persistence.Open(f.store)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	s, err := g.openSession(logger, func(hc *hub.Config) {
		hc.Observer = m
		if len(captures) > 0 {
			hc.Capture = log.NewMultiLogger(captures...)
		}
		if store != nil {
			hc.Store = store
		}
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := s.close(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	if err := m.Track(s.hub); err != nil {
		return err
	}

	set := bindings.NewSet(bindings.SetConfig{
		Hub: s.hub,
		OnUpdate: func(v config.Variable, u subscription.Update) {
			logger.Info("update", "variable", v.Name, "value", u.Value, "source", u.Source.String())
		},
		Logger: logger,
	})
	if _, err := set.Apply(ctx, s.config); err != nil {
		logger.Warn("some variables could not be bound", "error", err)
	}

	if f.watch {
		w := config.NewWatcher(config.WatcherConfig{
			Path: g.configPath,
			OnReload: func(cfg *config.Config) {
				if cfg.Endpoint() != s.config.Endpoint() {
					logger.Warn("controller changed in configuration; restart to apply")
				}
				if _, err := set.Apply(ctx, cfg); err != nil {
					logger.Warn("reload incomplete", "error", err)
				}
			},
			Logger: logger,
		})
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	metricsErr := make(chan error, 1)
	go func() { metricsErr <- m.Serve(ctx) }()

	if err := s.hub.Connect(ctx); err != nil {
		logger.Warn("initial connect failed; retrying in the background", "error", err)
	}

	select {
	case <-ctx.Done():
	case err := <-metricsErr:
		if err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		<-ctx.Done()
	}

	logger.Info("shutting down")
	return nil
}
