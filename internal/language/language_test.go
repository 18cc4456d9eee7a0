package language

import "testing"

func TestToISO2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en", "en"},
		{"EN", "en"},
		{"eng", "en"},
		{"spa", "es"},
		{"fre", "fr"},
		{"ger", "de"},
		{"chi", "zh"},
		{"dut", "nl"},
		{"english", "en"},
		{"Spanish", "es"},
		{"es-MX", "es"},
		{"pt_BR", "pt"},
		{"xx", "xx"},
		{"", ""},
		{"zzzz", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ToISO2(tt.input); got != tt.expected {
				t.Errorf("ToISO2(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en", "English"},
		{"spa", "Spanish"},
		{"fre", "French"},
		{"es-MX", "Spanish"},
		{"english", "English"},
		{"", "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := DisplayName(tt.input); got != tt.expected {
				t.Errorf("DisplayName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRegions(t *testing.T) {
	if got := NormalizeRegion("mx"); got != "MX" {
		t.Fatalf("NormalizeRegion(mx) = %q", got)
	}
	if got := NormalizeRegion("atlantis"); got != "" {
		t.Fatalf("NormalizeRegion(atlantis) = %q", got)
	}
	if got := RegionName("MX"); got != "Mexico" {
		t.Fatalf("RegionName(MX) = %q", got)
	}
	if got := Audience("es", "MX"); got != "Spanish (Mexico)" {
		t.Fatalf("Audience = %q", got)
	}
	if got := Audience("fr", ""); got != "French" {
		t.Fatalf("Audience = %q", got)
	}
}
