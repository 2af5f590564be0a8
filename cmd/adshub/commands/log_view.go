package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adshub/adshub-go/pkg/log"
)

// filterFlags are the event selection flags shared by the log commands.
type filterFlags struct {
	session   string
	address   string
	timeStart string
	timeEnd   string
	layer     string
	direction string
	category  string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.session, "session", "", "session ID or its first characters")
	cmd.Flags().StringVar(&f.address, "address", "", "variable address")
	cmd.Flags().StringVar(&f.timeStart, "time-start", "", "events at or after this time (RFC3339)")
	cmd.Flags().StringVar(&f.timeEnd, "time-end", "", "events before this time (RFC3339)")
	cmd.Flags().StringVar(&f.layer, "layer", "", "layer (transport, connection, subscription)")
	cmd.Flags().StringVar(&f.direction, "direction", "", "direction (in, out)")
	cmd.Flags().StringVar(&f.category, "category", "", "category (operation, notification, state, error)")
}

// filter builds the log filter. A short session ID is matched by prefix
// after reading, so it is returned separately.
func (f *filterFlags) filter() (log.Filter, string, error) {
	var filter log.Filter
	prefix := ""
	if len(f.session) == 36 {
		filter.SessionID = f.session
	} else {
		prefix = f.session
	}
	filter.Address = f.address

	if f.timeStart != "" {
		t, err := time.Parse(time.RFC3339, f.timeStart)
		if err != nil {
			return filter, "", fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if f.timeEnd != "" {
		t, err := time.Parse(time.RFC3339, f.timeEnd)
		if err != nil {
			return filter, "", fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if f.layer != "" {
		l, err := parseLayer(f.layer)
		if err != nil {
			return filter, "", err
		}
		filter.Layer = &l
	}
	if f.direction != "" {
		d, err := parseDirection(f.direction)
		if err != nil {
			return filter, "", err
		}
		filter.Direction = &d
	}
	if f.category != "" {
		c, err := parseCategory(f.category)
		if err != nil {
			return filter, "", err
		}
		filter.Category = &c
	}
	return filter, prefix, nil
}

func newLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect protocol capture files",
		Long: `Capture files (.alog) are written by "adshub run --capture". Each record
is one CBOR-encoded event: a session call, a notification sample, a state
change, or an error.`,
	}
	cmd.AddCommand(newLogViewCommand())
	cmd.AddCommand(newLogStatsCommand())
	cmd.AddCommand(newLogExportCommand())
	cmd.AddCommand(newLogFilterCommand())
	return cmd
}

func newLogViewCommand() *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "view <file.alog>",
		Short: "View a capture file in human-readable format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, prefix, err := ff.filter()
			if err != nil {
				return err
			}
			return RunView(args[0], filter, prefix, cmd.OutOrStdout())
		},
	}
	ff.register(cmd)
	return cmd
}

// RunView prints every matching event of the capture file at path.
func RunView(path string, filter log.Filter, sessionPrefix string, w io.Writer) error {
	return eachEvent(path, filter, sessionPrefix, func(event log.Event) error {
		formatEvent(w, event)
		return nil
	})
}

// eachEvent calls fn for every matching event of the file at path.
func eachEvent(path string, filter log.Filter, sessionPrefix string, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if sessionPrefix != "" && !strings.HasPrefix(event.SessionID, sessionPrefix) {
			continue
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [%s] %-3s %s %s\n",
		ts, shortenSessionID(event.SessionID), event.Direction, event.Layer, eventType(event))

	switch {
	case event.Operation != nil:
		formatOperationDetails(w, event.Operation)
	case event.Notification != nil:
		formatNotificationDetails(w, event.Notification)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// eventType is the label of the event payload.
func eventType(event log.Event) string {
	switch {
	case event.Operation != nil:
		return event.Operation.Kind.String()
	case event.Notification != nil:
		return "Notification"
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatOperationDetails(w io.Writer, op *log.OperationEvent) {
	if op.Address != "" {
		fmt.Fprintf(w, "  Address: %s", op.Address)
		if op.DataType != "" {
			fmt.Fprintf(w, " (%s)", op.DataType)
		}
		fmt.Fprintln(w)
	}
	if op.Size > 0 {
		fmt.Fprintf(w, "  Size: %d bytes\n", op.Size)
	}
	if op.Handle != 0 {
		fmt.Fprintf(w, "  Handle: %d\n", op.Handle)
	}
	if len(op.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s\n", hex.EncodeToString(op.Data))
	}
	fmt.Fprintf(w, "  Duration: %s\n", formatDuration(op.Duration))
	if op.Failed {
		fmt.Fprintln(w, "  Result: FAILED")
	}
}

func formatNotificationDetails(w io.Writer, n *log.NotificationEvent) {
	fmt.Fprintf(w, "  Address: %s\n", n.Address)
	fmt.Fprintf(w, "  Handle: %d\n", n.Handle)
	if len(n.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s\n", hex.EncodeToString(n.Data))
	}
	if !n.DeviceTime.IsZero() {
		fmt.Fprintf(w, "  Device time: %s\n", n.DeviceTime.UTC().Format(time.RFC3339Nano))
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d (0x%x)\n", *err.Code, *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// parseLayer parses a layer string (case-insensitive).
func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "connection":
		return log.LayerConnection, nil
	case "subscription":
		return log.LayerSubscription, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, connection, or subscription)", s)
	}
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "operation":
		return log.CategoryOperation, nil
	case "notification":
		return log.CategoryNotification, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be operation, notification, state, or error)", s)
	}
}
