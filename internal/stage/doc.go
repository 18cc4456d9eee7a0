// Package stage defines the contracts between the stage executor and the
// stage handlers.
//
// File stages prove completion by output files. Generation stages build a
// Prompt whose hash keys the artifact cache and write their output to a
// destination chosen by the executor.
package stage
