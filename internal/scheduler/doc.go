// Package scheduler runs keyed, optionally recurring events on a single
// goroutine. Events live in a min-heap sorted by trigger time; the loop
// sleeps at most 60 seconds at a time so wall clock steps, DST transitions
// and system suspend do not delay an event by more than that.
//
// The scheduler keeps no state on disk. Its owner re-adds events on start.
package scheduler
