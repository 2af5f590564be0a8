package commands

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/adshub/adshub-go/pkg/log"
)

func newLogExportCommand() *cobra.Command {
	var (
		ff     filterFlags
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <file.alog>",
		Short: "Export a capture file as JSON lines or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, prefix, err := ff.filter()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return RunExport(args[0], format, filter, prefix, w)
		},
	}
	ff.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "jsonl", "output format (jsonl, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

// RunExport writes the matching events of the capture file at path to w.
func RunExport(path, format string, filter log.Filter, sessionPrefix string, w io.Writer) error {
	switch format {
	case "jsonl":
		return exportJSONL(path, filter, sessionPrefix, w)
	case "csv":
		return exportCSV(path, filter, sessionPrefix, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

// exportRecord is the JSON form of an event. Enums are written by name.
type exportRecord struct {
	Timestamp    string                 `json:"timestamp"`
	SessionID    string                 `json:"session_id,omitempty"`
	Direction    string                 `json:"direction"`
	Layer        string                 `json:"layer"`
	Category     string                 `json:"category"`
	Endpoint     string                 `json:"endpoint,omitempty"`
	Summary      string                 `json:"summary,omitempty"`
	Operation    *log.OperationEvent    `json:"operation,omitempty"`
	Notification *log.NotificationEvent `json:"notification,omitempty"`
	StateChange  *exportState           `json:"state_change,omitempty"`
	Error        *log.ErrorEventData    `json:"error,omitempty"`
}

type exportState struct {
	Entity   string `json:"entity"`
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state"`
	Reason   string `json:"reason,omitempty"`
}

func newExportRecord(event log.Event) exportRecord {
	r := exportRecord{
		Timestamp:    event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		SessionID:    event.SessionID,
		Direction:    event.Direction.String(),
		Layer:        event.Layer.String(),
		Category:     event.Category.String(),
		Endpoint:     event.Endpoint,
		Summary:      event.Summary(),
		Operation:    event.Operation,
		Notification: event.Notification,
		Error:        event.Error,
	}
	if sc := event.StateChange; sc != nil {
		r.StateChange = &exportState{
			Entity:   sc.Entity.String(),
			OldState: sc.OldState,
			NewState: sc.NewState,
			Reason:   sc.Reason,
		}
	}
	return r
}

func exportJSONL(path string, filter log.Filter, sessionPrefix string, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return eachEvent(path, filter, sessionPrefix, func(event log.Event) error {
		if err := encoder.Encode(newExportRecord(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

func exportCSV(path string, filter log.Filter, sessionPrefix string, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"timestamp", "session_id", "direction", "layer", "category", "type", "address", "data", "duration_us", "failed", "summary"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	err := eachEvent(path, filter, sessionPrefix, func(event log.Event) error {
		var address, data, duration, failed string
		switch {
		case event.Operation != nil:
			op := event.Operation
			address = op.Address
			data = hex.EncodeToString(op.Data)
			duration = strconv.FormatInt(op.Duration.Microseconds(), 10)
			failed = strconv.FormatBool(op.Failed)
		case event.Notification != nil:
			address = event.Notification.Address
			data = hex.EncodeToString(event.Notification.Data)
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.SessionID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			eventType(event),
			address,
			data,
			duration,
			failed,
			event.Summary(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
