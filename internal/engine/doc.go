// Package engine wires the store, pipeline registry, artifact cache, segment
// index, stage handlers, executor, driver, job runner and batch controller
// into one value and exposes the operations used by the CLI and the HTTP
// API.
//
// Operations that start work (RunStage, RunPipeline, Retry, StartBatch)
// validate synchronously, so a precondition or state error is returned to
// the caller and never enters the queue, then enqueue a job and return its
// id. Writes that callers wait on (AddUnit, Reset) go through the same
// queue so the store keeps a single writer.
package engine
