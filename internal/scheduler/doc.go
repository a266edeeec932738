// Package scheduler runs named recurring jobs on robfig/cron.
//
// Each subscription owns one named schedule. Registering a name again
// replaces the previous schedule, and Remove cancels the schedule together
// with any run still in flight. A tick that fires while the previous run of
// the same schedule is still going is skipped, never queued.
package scheduler
