// Package scheduler triggers recurring batches.
//
// A schedule is a cron expression, a fixed interval or a daily time of day
// (see ParseSchedule). Jobs of the same schedule never overlap: a trigger that
// fires while the previous run is still delivering is skipped.
package scheduler
