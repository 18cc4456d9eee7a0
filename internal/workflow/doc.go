// Package workflow drives units through their pipeline version.
//
// The Driver resolves a unit's pipeline version, derives the remaining stages
// from the unit's checkpoint, and hands each one to the stage executor in
// order, stopping at the first failure. Retry resumes a failed unit from its
// checkpoint so the stage that failed runs again and completed stages do not.
// Reset moves a unit's checkpoint back to a stage's precondition.
//
// Every operation tees its log records into the unit's append-only log file
// under <log_dir>/units so a unit's history can be inspected independently of
// the job that produced it.
package workflow
