// Package artifacts records the outputs of generation stages keyed by the
// hash of the exact prompt that produced them.
//
// A lookup hits only when the unit's current artifact of the requested kind
// carries a well-formed hash equal to the new prompt hash and its file is
// still on disk. Anything else, including a malformed stored hash, is a
// miss and the stage runs again.
package artifacts
