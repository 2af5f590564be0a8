// Package serializer guarantees that at most one operation is in flight on
// the controller session at any time.
//
// Callers queue in strict arrival order. Each operation gets a deadline that
// covers both its wait in the queue and its execution. A caller whose
// deadline expires receives a timeout error immediately, but the lock is
// released only once the underlying call has actually returned, so a late
// call can never overlap with the next one.
//
// The session itself is owned by the connection manager, which binds it
// after a successful handshake and unbinds it when the session breaks.
package serializer
