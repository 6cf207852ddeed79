package speech

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// LanguagePattern pairs a language code with a character-class pattern whose
// match count measures how strongly a text belongs to that script.
type LanguagePattern struct {
	Code    string `yaml:"code"`
	Pattern string `yaml:"pattern"`
	re      *regexp.Regexp
}

// Detector picks the dominant script of a transcript chunk. The default
// language is the fallback and the last tie-break: a non-default language
// wins only when its match count strictly exceeds the default's.
type Detector struct {
	defaultCode string
	patterns    []LanguagePattern
}

// DefaultPatterns covers the scripts the bridge distinguishes out of the box.
// The default language's own pattern must be present in the table.
func DefaultPatterns() []LanguagePattern {
	return []LanguagePattern{
		{Code: "en", Pattern: `[A-Za-z]`},
		{Code: "ru", Pattern: `\p{Cyrillic}`},
		{Code: "zh", Pattern: `\p{Han}`},
		{Code: "ja", Pattern: `[\p{Hiragana}\p{Katakana}]`},
		{Code: "ko", Pattern: `\p{Hangul}`},
		{Code: "ar", Pattern: `\p{Arabic}`},
		{Code: "he", Pattern: `\p{Hebrew}`},
		{Code: "el", Pattern: `\p{Greek}`},
		{Code: "th", Pattern: `\p{Thai}`},
		{Code: "hi", Pattern: `\p{Devanagari}`},
	}
}

// NewDetector compiles a pattern table. defaultCode must appear in patterns.
func NewDetector(defaultCode string, patterns []LanguagePattern) (*Detector, error) {
	if defaultCode == "" {
		defaultCode = "en"
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	hasDefault := false
	for i := range patterns {
		re, err := regexp.Compile(patterns[i].Pattern)
		if err != nil {
			return nil, fmt.Errorf("language pattern %s: %w", patterns[i].Code, err)
		}
		patterns[i].re = re
		if patterns[i].Code == defaultCode {
			hasDefault = true
		}
	}
	if !hasDefault {
		return nil, fmt.Errorf("default language %q has no pattern", defaultCode)
	}
	return &Detector{defaultCode: defaultCode, patterns: patterns}, nil
}

// LoadPatterns reads a YAML language table; an empty path returns defaults.
func LoadPatterns(path string) ([]LanguagePattern, error) {
	if path == "" {
		return DefaultPatterns(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language table %s: %w", path, err)
	}
	var patterns []LanguagePattern
	if err := yaml.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("parse language table %s: %w", path, err)
	}
	return patterns, nil
}

// Default returns the detector's default language code.
func (d *Detector) Default() string { return d.defaultCode }

// Detect counts matches of each language's character class and returns the
// winner. The language with the highest nonzero count wins if and only if
// its count strictly exceeds the default language's count; otherwise, and on
// ties, the default wins.
func (d *Detector) Detect(text string) string {
	defaultCount := 0
	best := ""
	bestCount := 0

	for _, p := range d.patterns {
		n := len(p.re.FindAllStringIndex(text, -1))
		if p.Code == d.defaultCode {
			defaultCount = n
			continue
		}
		if n > bestCount {
			bestCount = n
			best = p.Code
		}
	}

	if best != "" && bestCount > defaultCount {
		return best
	}
	return d.defaultCode
}
