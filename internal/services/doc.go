// Package services defines shared utilities consumed by stage handlers and
// external collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp unit IDs, stage names, job and batch IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so collaborator failures
//     carry a consistent kind and a readable message for the unit record.
//
// Use these helpers when wiring new collaborators so failure reporting stays
// uniform across the pipeline.
package services
