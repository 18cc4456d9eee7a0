package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ProgressLabel renders a stage name as a present-participle label, for
// example "translate" becomes "Translating".
func ProgressLabel(stage string) string {
	stage = strings.ToLower(strings.TrimSpace(stage))
	if stage == "" {
		return ""
	}
	var gerund string
	switch {
	case strings.HasSuffix(stage, "ee"):
		gerund = stage + "ing"
	case strings.HasSuffix(stage, "e"):
		gerund = strings.TrimSuffix(stage, "e") + "ing"
	default:
		gerund = stage + "ing"
	}
	return cases.Title(language.English).String(gerund)
}
