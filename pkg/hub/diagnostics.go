package hub

import (
	"time"

	"github.com/adshub/adshub-go/pkg/connection"
	"github.com/adshub/adshub-go/pkg/subscription"
	"github.com/adshub/adshub-go/pkg/transport"
)

// Redacted replaces identifying values in redacted diagnostics.
const Redacted = "**REDACTED**"

// Diagnostics is a snapshot of the hub for support output.
type Diagnostics struct {
	State     string             `json:"state"`
	Endpoint  transport.Endpoint `json:"endpoint"`
	SessionID string             `json:"session_id,omitempty"`
	Health    HealthDiagnostics  `json:"health"`
	Breaker   BreakerDiagnostics `json:"circuit_breaker"`

	Subscriptions       int    `json:"subscriptions"`
	ActiveNotifications int    `json:"active_notifications"`
	Polled              int    `json:"polled"`
	Unavailable         int    `json:"unavailable"`
	DroppedUpdates      uint64 `json:"dropped_updates"`
	PendingOperations   int    `json:"pending_operations"`

	Entries []SubscriptionDiagnostics `json:"entries"`
}

// HealthDiagnostics mirrors connection.Health with printable fields.
type HealthDiagnostics struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CurrentBackoff      string    `json:"current_backoff"`
	LastSuccessAt       time.Time `json:"last_success_at,omitzero"`
	OperationFailures   int       `json:"operation_failures"`
	ConsecutiveTimeouts int       `json:"consecutive_timeouts"`
	Reconnects          int       `json:"reconnects"`
	LastError           string    `json:"last_error,omitempty"`
}

// BreakerDiagnostics describes the circuit breaker.
type BreakerDiagnostics struct {
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// SubscriptionDiagnostics describes one subscription.
type SubscriptionDiagnostics struct {
	Handle     subscription.Handle `json:"handle"`
	Address    string              `json:"address"`
	Type       string              `json:"type"`
	Mode       string              `json:"mode"`
	ErrorCount int                 `json:"error_count"`
	Available  bool                `json:"available"`
	LastUpdate time.Time           `json:"last_update,omitzero"`
	LastError  string              `json:"last_error,omitempty"`
}

// Subscription delivery modes.
const (
	ModeNotification = "notification"
	ModePolling      = "polling"
	ModeFallback     = "polling (notification unavailable)"
)

// Diagnostics returns a snapshot of the hub.
func (h *Hub) Diagnostics() Diagnostics {
	state := h.manager.State()
	breaker := h.breaker.State()
	connected := state == connection.StateConnected && breaker != connection.BreakerOpen

	d := Diagnostics{
		State:             state.String(),
		Endpoint:          h.config.Endpoint,
		SessionID:         h.capture.session(),
		Health:            healthDiagnostics(h.manager.Health()),
		Breaker:           BreakerDiagnostics{State: breaker.String(), Failures: h.breaker.Failures()},
		DroppedUpdates:    h.registry.Dispatcher().Dropped(),
		PendingOperations: h.serializer.Pending(),
	}

	for _, info := range h.registry.List() {
		entry := SubscriptionDiagnostics{
			Handle:     info.Handle,
			Address:    info.Key.Address,
			Type:       info.Key.Type.String(),
			ErrorCount: info.ErrorCount,
			Available:  connected && info.Available(),
			LastUpdate: info.LastUpdate,
		}
		if info.LastError != nil {
			entry.LastError = info.LastError.Error()
		}

		switch {
		case info.NotificationActive:
			entry.Mode = ModeNotification
			d.ActiveNotifications++
		case info.NotificationUnavailable:
			entry.Mode = ModeFallback
			d.Polled++
		default:
			entry.Mode = ModePolling
			d.Polled++
		}
		if !entry.Available {
			d.Unavailable++
		}

		d.Entries = append(d.Entries, entry)
	}
	d.Subscriptions = len(d.Entries)
	return d
}

// Redacted returns a copy with the host, AMS Net ID, and controller
// addresses blanked.
func (d Diagnostics) Redacted() Diagnostics {
	out := d
	if out.Endpoint.Host != "" {
		out.Endpoint.Host = Redacted
	}
	if out.Endpoint.NetID != "" {
		out.Endpoint.NetID = Redacted
	}
	out.Entries = make([]SubscriptionDiagnostics, len(d.Entries))
	for i, e := range d.Entries {
		e.Address = Redacted
		e.LastError = ""
		out.Entries[i] = e
	}
	out.Health.LastError = ""
	return out
}

func healthDiagnostics(h connection.Health) HealthDiagnostics {
	return HealthDiagnostics{
		ConsecutiveFailures: h.ConsecutiveFailures,
		CurrentBackoff:      h.CurrentBackoff.String(),
		LastSuccessAt:       h.LastSuccessAt,
		OperationFailures:   h.OperationFailures,
		ConsecutiveTimeouts: h.ConsecutiveTimeouts,
		Reconnects:          h.Reconnects,
		LastError:           h.LastError,
	}
}
