package textutil

import (
	"path/filepath"
	"strings"
	"unicode"
)

const maxFileNameBytes = 200

// SanitizeFileName makes a downloaded file name safe to store. Path
// separators, colons and asterisks become dashes; quotes, wildcards and
// control characters are dropped. Runs of whitespace collapse to one space
// and long names are shortened while keeping the extension.
func SanitizeFileName(name string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*':
			b.WriteByte('-')
		case r == '?' || r == '"' || r == '<' || r == '>' || r == '|', unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		default:
			b.WriteRune(r)
		}
		space = false
	}
	out := strings.TrimSpace(b.String())
	if len(out) <= maxFileNameBytes {
		return out
	}
	ext := filepath.Ext(out)
	if len(ext) > 16 {
		ext = ""
	}
	stem := strings.TrimSuffix(out, ext)
	limit := maxFileNameBytes - len(ext)
	for limit > 0 && !utf8Start(stem, limit) {
		limit--
	}
	return strings.TrimSpace(stem[:limit]) + ext
}

// utf8Start reports whether s[i] begins a rune.
func utf8Start(s string, i int) bool {
	return i >= len(s) || s[i]&0xC0 != 0x80
}
