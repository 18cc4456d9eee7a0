// Package api defines the wire-format types shared by the daemon's HTTP
// JSON API and its clients.
//
// Internal store models carry no JSON tags; the converters here translate
// them into snake_case payloads with RFC3339 timestamps so the CLI's --json
// output and the HTTP responses stay identical. Client talks to a running
// daemon using the same types.
package api
