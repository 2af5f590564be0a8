// Package transport defines the session contract between the hub and a
// controller, together with the error classification the rest of the stack
// relies on.
//
// A Transport opens Sessions. A Session is a live logical connection to a
// controller identified by an Endpoint (host, port and AMS Net ID). It offers
// raw reads and writes by symbolic address, device notifications, and a
// device-state query used as a liveness probe.
//
// # Errors
//
// Transport implementations report failures so that they can be classified:
//
//   - connection failures match ErrConnection (IsConnectionError)
//   - timeouts match ErrTimeout or context.DeadlineExceeded (IsTimeout)
//   - controller error codes are reported as *DeviceError
//
// # Simulator
//
// Simulator is an in-memory controller implementing Transport. It supports
// failure injection (refused opens, dropped sessions, failing notification
// registration, latency) and records the maximum number of concurrent calls
// it observed.
package transport
