// Package pipeline defines stages, pipeline versions and the per-version
// ordering of unit statuses.
//
// Status strings carry no ordering of their own. Each Version owns an
// explicit ordinal map derived from its stage chain, and every comparison
// between statuses goes through that map. The failed status is absorbing
// and has no ordinal.
//
// Two versions ship built in: "full" (audio to published video) and "text"
// (stops after structuring and publishes the text package). A YAML file can
// add or override versions composed from the known stage names.
package pipeline
