// Package textutil provides text processing helpers shared by the segment
// index, the stage handlers and the CLI.
//
// The primary use cases are:
//   - Normalizing transcript text (NFC, collapsed whitespace) before offsets are taken
//   - Extracting retrieval keywords with English and Spanish stopwords removed
//   - Building ASCII slugs and sanitized file names for work directories
//   - Rendering stage names as progress labels
package textutil
