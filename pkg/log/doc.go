// Package log captures protocol events of an ADS client session.
//
// Capture is separate from operational logging (slog). Operational logs
// say what the client decided; capture records what went over the session
// so a trace can be inspected or replayed later.
//
// # Basic Usage
//
// Components accept a Logger. Pick one or combine several:
//
//	// Console during development
//	cfg.Capture = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture file
//	cfg.Capture, _ = log.NewFileLogger("/var/log/adshub/plc.alog")
//
//	// Both
//	cfg.Capture = log.NewMultiLogger(console, file)
//
// # Event Types
//
// Events are recorded at three layers:
//   - Transport: session calls (read, write, state, notification add/remove)
//   - Connection: lifecycle transitions of the connection manager
//   - Subscription: incoming notification samples and degradations
//
// Errors at any layer have their own payload.
//
// # File Format
//
// Capture files are a stream of CBOR maps with integer keys, one per event,
// conventionally named *.alog. The adshub log command reads them back.
package log
