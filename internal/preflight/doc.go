// Package preflight provides readiness checks for the directories,
// external commands and language-model settings castline depends on.
//
// The checks back two surfaces:
//   - The CLI "castline preflight" command prints every result and exits
//     non-zero when a required check fails.
//   - The daemon's GET /api/health endpoint embeds the results next to the
//     per-stage health reports.
//
// Optional collaborators (media commands that are not configured) are
// reported but never fail the run.
package preflight
