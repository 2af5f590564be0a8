// Package persistence stores the last known value of every subscribed
// variable so consumers see a value immediately after a restart, before
// the controller is reachable again.
//
// Values live in a SQLite database keyed by controller address and data
// type. Each row keeps the Go kind of the value so that integers, floats,
// durations, and timestamps decode back to the types the codec produces.
package persistence
