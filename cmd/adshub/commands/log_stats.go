package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/adshub/adshub-go/pkg/log"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	EventsByOp        map[log.OpKind]int
	Sessions          map[string]*SessionStats
	Addresses         map[string]int
	FailedOps         int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for a single session.
type SessionStats struct {
	FirstSeen     time.Time
	LastSeen      time.Time
	Events        int
	Endpoint      string
	Notifications int
	opDuration    time.Duration
	ops           int
}

// MeanOperation is the mean duration of the session's calls.
func (s *SessionStats) MeanOperation() time.Duration {
	if s.ops == 0 {
		return 0
	}
	return s.opDuration / time.Duration(s.ops)
}

func newLogStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file.alog>",
		Short: "Show statistics of a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunStats(args[0], cmd.OutOrStdout())
		},
	}
}

// RunStats analyzes the capture file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := collectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func collectStats(path string) (*Stats, error) {
	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		EventsByOp:        make(map[log.OpKind]int),
		Sessions:          make(map[string]*SessionStats),
		Addresses:         make(map[string]int),
	}

	err := eachEvent(path, log.Filter{}, "", func(event log.Event) error {
		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		sess, ok := stats.Sessions[event.SessionID]
		if !ok {
			sess = &SessionStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
			}
			stats.Sessions[event.SessionID] = sess
		}
		sess.Events++
		if event.Timestamp.After(sess.LastSeen) {
			sess.LastSeen = event.Timestamp
		}
		if sess.Endpoint == "" {
			sess.Endpoint = event.Endpoint
		}

		switch {
		case event.Operation != nil:
			op := event.Operation
			stats.EventsByOp[op.Kind]++
			sess.ops++
			sess.opDuration += op.Duration
			if op.Failed {
				stats.FailedOps++
			}
			if op.Address != "" {
				stats.Addresses[op.Address]++
			}
		case event.Notification != nil:
			sess.Notifications++
			stats.Addresses[event.Notification.Address]++
		case event.Error != nil:
			stats.Errors++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== ADS Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerConnection, log.LayerSubscription} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryOperation, log.CategoryNotification, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.EventsByOp) > 0 {
		fmt.Fprintln(w, "Operations:")
		for _, op := range []log.OpKind{log.OpRead, log.OpWrite, log.OpReadState, log.OpAddNotification, log.OpRemoveNotification} {
			if count := stats.EventsByOp[op]; count > 0 {
				fmt.Fprintf(w, "  %-22s %d\n", op.String()+":", count)
			}
		}
		if stats.FailedOps > 0 {
			fmt.Fprintf(w, "  %-22s %d\n", "FAILED:", stats.FailedOps)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, s := range sessions {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenSessionID(s.id), s.stats.Events, duration)
			if s.stats.Endpoint != "" {
				fmt.Fprintf(w, "           Endpoint: %s\n", s.stats.Endpoint)
			}
			if s.stats.ops > 0 {
				fmt.Fprintf(w, "           Calls: %d (mean %s)\n", s.stats.ops, formatDuration(s.stats.MeanOperation()))
			}
			if s.stats.Notifications > 0 {
				fmt.Fprintf(w, "           Notifications: %d\n", s.stats.Notifications)
			}
		}
	}

	if len(stats.Addresses) > 0 {
		addrs := make([]string, 0, len(stats.Addresses))
		for a := range stats.Addresses {
			addrs = append(addrs, a)
		}
		sort.Slice(addrs, func(i, j int) bool {
			if stats.Addresses[addrs[i]] != stats.Addresses[addrs[j]] {
				return stats.Addresses[addrs[i]] > stats.Addresses[addrs[j]]
			}
			return addrs[i] < addrs[j]
		})
		if len(addrs) > 10 {
			addrs = addrs[:10]
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Busiest Addresses:")
		for _, a := range addrs {
			fmt.Fprintf(w, "  %-32s %d\n", a, stats.Addresses[a])
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
