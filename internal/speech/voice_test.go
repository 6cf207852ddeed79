package speech

import "testing"

func TestSelectVoice_QualityPreferredWithinLocale(t *testing.T) {
	voices := []Voice{
		{Name: "en-US-Standard-A", Lang: "en-US"},
		{Name: "en-US-Neural-B", Lang: "en-US"},
		{Name: "ru-RU-Standard-A", Lang: "ru-RU"},
	}
	v, ok := SelectVoice(voices, "en", "en")
	if !ok || v.Name != "en-US-Neural-B" {
		t.Fatalf("got %q, want the neural voice", v.Name)
	}
}

func TestSelectVoice_FirstLocaleMatchWithoutQuality(t *testing.T) {
	voices := []Voice{
		{Name: "ru-RU-Standard-A", Lang: "ru-RU"},
		{Name: "ru-RU-Standard-B", Lang: "ru-RU"},
	}
	v, ok := SelectVoice(voices, "ru", "en")
	if !ok || v.Name != "ru-RU-Standard-A" {
		t.Fatalf("got %q, want first locale match", v.Name)
	}
}

func TestSelectVoice_FallsBackToDefaultLanguage(t *testing.T) {
	voices := []Voice{
		{Name: "en-GB-Wavenet-A", Lang: "en-GB"},
		{Name: "en-GB-Standard-A", Lang: "en-GB"},
	}
	// No Japanese voice available; the default language's quality voice wins.
	v, ok := SelectVoice(voices, "ja", "en")
	if !ok || v.Name != "en-GB-Wavenet-A" {
		t.Fatalf("got %q, want quality default-language voice", v.Name)
	}
}

func TestSelectVoice_LastResortFirstVoice(t *testing.T) {
	voices := []Voice{
		{Name: "de-DE-Standard-A", Lang: "de-DE"},
	}
	v, ok := SelectVoice(voices, "ja", "en")
	if !ok || v.Name != "de-DE-Standard-A" {
		t.Fatalf("got %q, want first voice as last resort", v.Name)
	}
}

func TestSelectVoice_EmptyList(t *testing.T) {
	if _, ok := SelectVoice(nil, "en", "en"); ok {
		t.Fatal("expected no voice from empty list")
	}
}

func TestSelectVoice_LocalePrefixCaseInsensitive(t *testing.T) {
	voices := []Voice{{Name: "alloy", Lang: "EN-us"}}
	v, ok := SelectVoice(voices, "en", "en")
	if !ok || v.Name != "alloy" {
		t.Fatalf("got %q, want case-insensitive prefix match", v.Name)
	}
}

func TestIsQuality(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"en-US-Neural-B", true},
		{"Premium-Voice", true},
		{"en-AU-Wavenet-C", true},
		{"Samantha (Enhanced)", true},
		{"en-US-Standard-A", false},
		{"alloy", false},
	}
	for _, tt := range tests {
		if got := isQuality(tt.name); got != tt.want {
			t.Errorf("isQuality(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
