// Package polling runs one periodic read per target.
//
// The scheduler keeps a goroutine with its own ticker for every target it
// is given. Sync replaces the target set: new targets start, vanished ones
// stop, and targets whose interval changed are restarted. A failed read is
// reported and skipped; the next tick proceeds normally.
package polling
