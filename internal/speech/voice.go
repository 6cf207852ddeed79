package speech

import "strings"

// Voice describes one available synthesis voice.
type Voice struct {
	Name string `yaml:"name" json:"name"`
	Lang string `yaml:"lang" json:"lang"` // BCP-47 locale, e.g. "en-US"
}

// qualityMarkers identify voices that are higher quality by name across the
// common synthesis backends.
var qualityMarkers = []string{"natural", "neural", "premium", "enhanced", "wavenet", "studio"}

func isQuality(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range qualityMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// SelectVoice picks a voice for lang: prefer a quality voice whose locale
// prefix matches, then any locale match, then the same for the default
// language, then the first available voice.
func SelectVoice(voices []Voice, lang, defaultLang string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	if v, ok := matchLocale(voices, lang); ok {
		return v, true
	}
	if v, ok := matchLocale(voices, defaultLang); ok {
		return v, true
	}
	return voices[0], true
}

func matchLocale(voices []Voice, lang string) (Voice, bool) {
	if lang == "" {
		return Voice{}, false
	}
	var first *Voice
	for i := range voices {
		if !strings.HasPrefix(strings.ToLower(voices[i].Lang), strings.ToLower(lang)) {
			continue
		}
		if isQuality(voices[i].Name) {
			return voices[i], true
		}
		if first == nil {
			first = &voices[i]
		}
	}
	if first != nil {
		return *first, true
	}
	return Voice{}, false
}
