// Package connection owns the controller session lifecycle.
//
// A Manager runs the connection state machine:
//
//	DISCONNECTED ──Connect──► CONNECTING ──ok──► CONNECTED
//	                              │                  │
//	                            fail          broken / probe fails
//	                              ▼                  │
//	                        RECONNECTING ◄───────────┘
//	                              │
//	                        backoff elapsed
//	                              ▼
//	                          CONNECTING
//
// Any state moves to SHUTTING_DOWN on Shutdown, which is terminal.
//
// # Reconnection Strategy
//
// Every failed attempt and every lost session advances an exponential
// backoff:
//
//  1. Initial delay: 5 seconds
//  2. Exponential increase: 10s, 20s, 40s
//  3. Maximum delay: 60 seconds
//  4. Continue at 60s until successful or shut down
//  5. Reset to 5s on successful connection or forced reconnect
//
// # Health
//
// While connected, the manager probes the controller at a fixed interval.
// Any probe failure tears the session down. Operation results reported via
// ReportSuccess and ReportFailure feed the failure counters; crossing the
// configured threshold forces a reconnect.
//
// # Success Criteria
//
// A connection is successful when the transport opened a session and the
// controller answered a device-state read on it.
package connection
