// Package language normalizes language and region codes used by the
// localization settings, the transcription command and generation prompts.
package language
