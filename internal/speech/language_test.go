package speech

import (
	"os"
	"path/filepath"
	"testing"
)

func newDefaultDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector("en", nil)
	if err != nil {
		t.Fatalf("detector: %v", err)
	}
	return d
}

func TestDetect_DefaultForPlainEnglish(t *testing.T) {
	d := newDefaultDetector(t)
	if got := d.Detect("The quick brown fox"); got != "en" {
		t.Fatalf("got %q, want en", got)
	}
}

func TestDetect_NonDefaultWinsOnStrictMajority(t *testing.T) {
	d := newDefaultDetector(t)
	if got := d.Detect("Привет, мир"); got != "ru" {
		t.Fatalf("got %q, want ru", got)
	}
	if got := d.Detect("こんにちは世界"); got != "ja" {
		t.Fatalf("got %q, want ja", got)
	}
}

func TestDetect_TieGoesToDefault(t *testing.T) {
	d := newDefaultDetector(t)
	// Equal counts of Latin and Cyrillic characters.
	if got := d.Detect("abc где"); got != "en" {
		t.Fatalf("got %q, want en on a tie", got)
	}
}

func TestDetect_MixedTextMajorityDefault(t *testing.T) {
	d := newDefaultDetector(t)
	// Mostly English with one Cyrillic word: default must hold.
	if got := d.Detect("please translate the word мир for me"); got != "en" {
		t.Fatalf("got %q, want en", got)
	}
}

func TestDetect_EmptyText(t *testing.T) {
	d := newDefaultDetector(t)
	if got := d.Detect(""); got != "en" {
		t.Fatalf("got %q, want default for empty text", got)
	}
}

func TestDetect_DigitsAndPunctuationOnly(t *testing.T) {
	d := newDefaultDetector(t)
	if got := d.Detect("1234 !?"); got != "en" {
		t.Fatalf("got %q, want default", got)
	}
}

func TestNewDetector_DefaultMustHavePattern(t *testing.T) {
	_, err := NewDetector("fr", DefaultPatterns())
	if err == nil {
		t.Fatal("expected error: default language has no pattern")
	}
}

func TestNewDetector_InvalidPattern(t *testing.T) {
	_, err := NewDetector("en", []LanguagePattern{{Code: "en", Pattern: `[unclosed`}})
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestNewDetector_NonDefaultDefault(t *testing.T) {
	d, err := NewDetector("ru", nil)
	if err != nil {
		t.Fatalf("detector: %v", err)
	}
	// Tie resolution now favors Russian.
	if got := d.Detect("abc где"); got != "ru" {
		t.Fatalf("got %q, want ru", got)
	}
}

func TestLoadPatterns_EmptyPath(t *testing.T) {
	patterns, err := LoadPatterns("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(patterns) == 0 {
		t.Fatal("expected default patterns")
	}
}

func TestLoadPatterns_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "languages.yaml")
	content := `- code: en
  pattern: "[A-Za-z]"
- code: uk
  pattern: "[ґєії]"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	patterns, err := LoadPatterns(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(patterns) != 2 || patterns[1].Code != "uk" {
		t.Fatalf("unexpected patterns: %+v", patterns)
	}

	d, err := NewDetector("en", patterns)
	if err != nil {
		t.Fatalf("detector from loaded patterns: %v", err)
	}
	if got := d.Detect("їжак"); got != "uk" {
		t.Fatalf("got %q, want uk", got)
	}
}

func TestLoadPatterns_MissingFile(t *testing.T) {
	if _, err := LoadPatterns("/nonexistent/languages.yaml"); err == nil {
		t.Fatal("expected error")
	}
}
