package textutil

import (
	"strings"
	"unicode"
)

var stopwords = func() map[string]struct{} {
	words := []string{
		// English
		"a", "about", "after", "all", "also", "an", "and", "any", "are", "as", "at",
		"be", "because", "been", "but", "by", "can", "could", "did", "do", "does",
		"for", "from", "had", "has", "have", "he", "her", "his", "how", "i", "if",
		"in", "into", "is", "it", "its", "just", "me", "more", "most", "my", "no",
		"not", "of", "on", "or", "our", "out", "she", "so", "some", "than", "that",
		"the", "their", "them", "then", "there", "these", "they", "this", "to",
		"up", "us", "was", "we", "were", "what", "when", "where", "which", "who",
		"why", "will", "with", "would", "you", "your",
		// Spanish
		"al", "algo", "ante", "como", "con", "cual", "de", "del", "desde", "donde",
		"e", "el", "ella", "ellos", "en", "entre", "era", "es", "esa", "ese", "eso",
		"esta", "este", "esto", "fue", "ha", "hay", "la", "las", "le", "les", "lo",
		"los", "mas", "más", "mi", "muy", "ni", "nos", "o", "para", "pero", "por",
		"porque", "que", "qué", "se", "ser", "si", "sí", "sin", "sobre", "son",
		"su", "sus", "también", "te", "tu", "un", "una", "uno", "unos", "y", "ya", "yo",
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()

// IsStopword reports whether the lowercase word is an English or Spanish stopword.
func IsStopword(word string) bool {
	_, ok := stopwords[word]
	return ok
}

// Keywords splits text on anything that is not a letter or digit, lowercases
// the tokens and drops stopwords and single-rune tokens. Order of first
// appearance is preserved and duplicates are removed.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(NormalizeText(text)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if len([]rune(field)) < 2 || IsStopword(field) {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, field)
	}
	return out
}
