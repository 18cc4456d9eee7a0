// Package segments splits a unit's transcript into overlapping segments,
// stores them in the full-text index and retrieves grounding context for
// generation stages.
//
// Text is normalized with textutil.NormalizeText before splitting and all
// offsets are rune offsets into the normalized text. Each build writes a new
// generation; older generations stay in the database as superseded rows and
// are appended to the per-unit segments.jsonl mirror for inspection.
package segments
