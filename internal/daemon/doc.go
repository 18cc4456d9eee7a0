// Package daemon runs castline as a long-lived process.
//
// It owns the single-writer lock (flock on <data_dir>/castline.lock), the
// inbox watcher that turns new audio files into units, and the HTTP JSON
// API that exposes the engine operations. The engine itself is built by the
// caller after the lock is held, so stage runs left open by a crashed
// process are closed exactly once.
//
// Keep orchestration logic here: pipeline semantics live in the engine and
// its packages while the daemon focuses on startup, shutdown and transport.
package daemon
