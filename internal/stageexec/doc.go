// Package stageexec runs one stage for one unit.
//
// The executor checks the stage precondition against the unit's checkpoint,
// looks for completion evidence (output files or a prompt-hash artifact hit),
// and only on a miss opens a StageRun and invokes the handler. Success moves
// the checkpoint forward and never back. Failure marks the unit failed with
// a stage-qualified message and leaves the checkpoint where it was, so a
// retry resumes at the stage that failed.
package stageexec
