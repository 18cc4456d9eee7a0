// Command castline drives the episode pipeline engine.
//
// "castline serve" runs the daemon: it holds the single-writer lock, watches
// the inbox and serves the HTTP JSON API. Write commands (add, run, retry,
// reset, batch) run the engine in-process under the same lock and wait for
// their job, so they fail fast while a daemon is running. Read commands
// (units, show, cost) open the store read-only and work alongside a daemon;
// job queries the daemon's API because jobs only live in a running process.
package main
