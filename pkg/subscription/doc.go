// Package subscription tracks the consumer subscriptions of a hub and keeps
// their device notifications alive across session changes.
//
// A subscription is identified by a Handle that is never reused. Its Spec
// names the symbolic address, the data type, the poll interval, whether a
// device notification should be used, and the consumer callback.
//
// # Session lifecycle
//
// Subscriptions outlive sessions. When a session is established the hub
// calls Attach, which re-registers a device notification for every
// subscription that wants one. A subscription whose notification cannot be
// registered is marked notification-unavailable and falls back to polling;
// the remaining subscriptions are unaffected. Detach invalidates every
// notification handle when the session is lost.
//
// # Delivery
//
// Device notifications arrive on the transport's goroutine. The registry
// decodes the sample and hands the update to a Dispatcher, which invokes
// consumer callbacks on its own goroutine in arrival order.
package subscription
