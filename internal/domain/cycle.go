package domain

import "time"

// CycleStats holds statistics about one reconciliation cycle.
type CycleStats struct {
	Upstreams  int
	Commands   int
	Added      int
	Duplicates int
	Removed    int
	Polled     int
	Verified   int
	Relayed    int
	Suppressed int
	Errors     int
	Duration   time.Duration
}
