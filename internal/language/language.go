package language

import (
	"strings"

	xlanguage "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

type entry struct {
	code2   string
	code3   string
	alt3    string
	display string
	word    string
}

var languages = []entry{
	{"en", "eng", "", "English", "english"},
	{"es", "spa", "", "Spanish", "spanish"},
	{"fr", "fra", "fre", "French", "french"},
	{"de", "deu", "ger", "German", "german"},
	{"it", "ita", "", "Italian", "italian"},
	{"pt", "por", "", "Portuguese", "portuguese"},
	{"ja", "jpn", "", "Japanese", "japanese"},
	{"ko", "kor", "", "Korean", "korean"},
	{"zh", "zho", "chi", "Chinese", "chinese"},
	{"ru", "rus", "", "Russian", "russian"},
	{"ar", "ara", "", "Arabic", "arabic"},
	{"hi", "hin", "", "Hindi", "hindi"},
	{"nl", "nld", "dut", "Dutch", "dutch"},
	{"pl", "pol", "", "Polish", "polish"},
	{"sv", "swe", "", "Swedish", "swedish"},
	{"ca", "cat", "", "Catalan", "catalan"},
}

var index = func() map[string]*entry {
	m := make(map[string]*entry, len(languages)*4)
	for i := range languages {
		e := &languages[i]
		m[e.code2] = e
		m[e.code3] = e
		m[e.word] = e
		if e.alt3 != "" {
			m[e.alt3] = e
		}
	}
	return m
}()

func lookup(code string) *entry {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	if e, ok := index[code]; ok {
		return e
	}
	// "es-MX" and "es_MX" resolve through their base language.
	if base, _, ok := strings.Cut(strings.ReplaceAll(code, "_", "-"), "-"); ok {
		return index[base]
	}
	return nil
}

// ToISO2 converts a language code, tag or English name to ISO 639-1.
// Unrecognized two-letter codes pass through; anything else returns "".
func ToISO2(code string) string {
	if e := lookup(code); e != nil {
		return e.code2
	}
	code = strings.ToLower(strings.TrimSpace(code))
	if tag, err := xlanguage.Parse(code); err == nil {
		if base, conf := tag.Base(); conf != xlanguage.No && len(base.String()) == 2 {
			return base.String()
		}
	}
	if len(code) == 2 {
		return code
	}
	return ""
}

// DisplayName returns the English name of a language. Empty input gives
// "Unknown"; unrecognized input is returned uppercased.
func DisplayName(code string) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "Unknown"
	}
	if e := lookup(trimmed); e != nil {
		return e.display
	}
	if tag, err := xlanguage.Parse(trimmed); err == nil {
		if name := display.English.Languages().Name(tag); name != "" {
			return name
		}
	}
	return strings.ToUpper(trimmed)
}

// NormalizeRegion returns an uppercase ISO 3166 region code, or "" when
// region is not a known region.
func NormalizeRegion(region string) string {
	region = strings.TrimSpace(region)
	if region == "" {
		return ""
	}
	parsed, err := xlanguage.ParseRegion(region)
	if err != nil {
		return ""
	}
	return parsed.String()
}

// RegionName returns the English name of a region code, or the input when
// the code is unknown.
func RegionName(region string) string {
	normalized := NormalizeRegion(region)
	if normalized == "" {
		return strings.TrimSpace(region)
	}
	parsed, err := xlanguage.ParseRegion(normalized)
	if err != nil {
		return normalized
	}
	if name := display.English.Regions().Name(parsed); name != "" {
		return name
	}
	return normalized
}

// Audience describes a target audience for prompts, for example
// "Spanish (Mexico)".
func Audience(lang, region string) string {
	name := DisplayName(lang)
	if strings.TrimSpace(region) == "" {
		return name
	}
	return name + " (" + RegionName(region) + ")"
}
