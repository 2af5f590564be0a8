package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adshub/adshub-go/pkg/subscription"
)

func newValidateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.configPath == "" {
				return errors.New("validate requires --config")
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Controller: %s\n", cfg.Endpoint())
			fmt.Fprintf(w, "Variables:  %d\n", len(cfg.Variables))
			for _, v := range cfg.Variables {
				s := v.Spec(cfg.Options, nil)
				mode := "notifications"
				if !s.UseNotifications {
					interval := s.PollInterval
					if interval == 0 {
						interval = subscription.DefaultPollInterval
					}
					mode = "polling every " + interval.String()
				}
				fmt.Fprintf(w, "  %-24s %-8s %-28s %s\n", v.Name, v.DataType(), v.Address, mode)
			}
			return nil
		},
	}
}
