// Package config loads, normalizes, and validates castline configuration.
//
// Defaults live in defaults.go, path expansion and environment fallbacks in
// normalize.go, and user-facing validation messages in validate.go. Callers
// should go through Load so a .env file, "~" expansion and formula checks are
// applied consistently.
package config
