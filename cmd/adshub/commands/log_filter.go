package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/adshub/adshub-go/pkg/log"
)

func newLogFilterCommand() *cobra.Command {
	var (
		ff     filterFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "filter <file.alog>",
		Short: "Copy matching events into a new capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New("filter requires --output")
			}
			filter, prefix, err := ff.filter()
			if err != nil {
				return err
			}
			count, err := RunFilter(args[0], output, filter, prefix)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Filtered %d events to %s\n", count, output)
			return nil
		},
	}
	ff.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output capture file")
	return cmd
}

// RunFilter copies the matching events of the capture file at path into a
// new capture file and returns how many were written.
func RunFilter(path, output string, filter log.Filter, sessionPrefix string) (int, error) {
	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}

	count := 0
	err = eachEvent(path, filter, sessionPrefix, func(event log.Event) error {
		logger.Log(event)
		count++
		return nil
	})
	if cerr := logger.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return count, err
	}
	if written := logger.Written(); written != count {
		return written, fmt.Errorf("wrote %d of %d events: %w", written, count, io.ErrShortWrite)
	}
	return count, nil
}
