// Package jobs runs engine operations one at a time.
//
// Runner is a single-consumer FIFO queue: Submit returns a job id at once and
// the one worker goroutine executes jobs strictly in submission order, so no
// two operations ever write the store concurrently. Operations run to
// completion; stopping the runner fails queued jobs but never interrupts the
// running one.
//
// Controller layers batches on top of the Runner. A batch is a single job
// that walks its units in order and checks a cooperative stop flag between
// units (and optionally between stages). Batch progress is kept in memory and
// written as JSON snapshots so it survives for inspection after a restart.
package jobs
