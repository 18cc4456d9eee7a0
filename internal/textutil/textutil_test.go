package textutil_test

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"castline/internal/textutil"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "  hello \n\t world  ", "hello world"},
		{"composes accents", "cafe\u0301", "caf\u00e9"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := textutil.NormalizeText(tt.in); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Episode 12: Año Nuevo!", "episode-12-ano-nuevo"},
		{"  --  ", "unit"},
		{"Simple", "simple"},
	}
	for _, tt := range tests {
		if got := textutil.Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	long := textutil.Slug("a very long title that keeps going well past any reasonable directory name length")
	if len(long) > 48 {
		t.Errorf("slug too long: %d", len(long))
	}
}

func TestKeywordsDropsStopwords(t *testing.T) {
	got := textutil.Keywords("The history of the Roman roads, and the roads of España")
	want := []string{"history", "roman", "roads", "españa"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Keywords() = %v, want %v", got, want)
	}
	if len(textutil.Keywords("the and of y de la")) != 0 {
		t.Error("expected only stopwords to produce no keywords")
	}
}

func TestProgressLabel(t *testing.T) {
	tests := map[string]string{
		"translate": "Translating",
		"index":     "Indexing",
		"publish":   "Publishing",
		"":          "",
	}
	for in, want := range tests {
		if got := textutil.ProgressLabel(in); got != want {
			t.Errorf("ProgressLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	if got := textutil.SanitizeFileName(` a/b:c?"d" `); got != "a-b-cd" {
		t.Errorf("SanitizeFileName = %q", got)
	}
}

func TestSanitizeFileNameCollapsesAndShortens(t *testing.T) {
	if got := textutil.SanitizeFileName("episode \t 12 ?\x00 final.mp3"); got != "episode 12 final.mp3" {
		t.Errorf("SanitizeFileName = %q", got)
	}
	long := strings.Repeat("é", 150) + ".mp3"
	got := textutil.SanitizeFileName(long)
	if len(got) > 200 || !strings.HasSuffix(got, ".mp3") || !utf8.ValidString(got) {
		t.Errorf("long name not shortened safely: %d bytes %q", len(got), got)
	}
}
