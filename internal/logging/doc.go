// Package logging assembles structured slog loggers and formatting helpers used
// across castline.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code automatically
// tags log lines with unit IDs, stages, job IDs and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail, plus the tee handler used to copy unit activity into per-unit files.
package logging
