package browser

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Target names a logical UI element the bridge needs to resolve against the
// live, unversioned DOM of the host page.
type Target string

const (
	TargetInput     Target = "input"
	TargetSend      Target = "send"
	TargetDrop      Target = "drop"
	TargetFileInput Target = "fileInput"
)

// StrategyTable is the ordered selector-fallback table per logical target.
// New strategies are additive; the first selector that resolves to a usable
// element wins. Debug selectors drive the diagnostic dump on a miss.
type StrategyTable struct {
	Input     []string `yaml:"input"`
	Send      []string `yaml:"send"`
	Drop      []string `yaml:"drop"`
	FileInput []string `yaml:"fileInput"`
	Debug     []string `yaml:"debug"`
}

// DefaultStrategies returns the built-in selector chains for the target web
// application's current markup, most specific first. Later entries are
// deliberately broad so the bridge degrades gracefully when the UI ships a
// new build.
func DefaultStrategies() StrategyTable {
	return StrategyTable{
		Input: []string{
			`div[contenteditable="true"].ProseMirror`,
			`div[contenteditable="true"][translate="no"]`,
			`fieldset div[contenteditable="true"]`,
			`div[contenteditable="true"]`,
			`textarea`,
		},
		Send: []string{
			`button[aria-label="Send message"]`,
			`button[aria-label*="Send"]`,
			`button[aria-label*="send"]`,
			`fieldset button:has(svg)`,
			`button[type="submit"]`,
		},
		Drop: []string{
			`fieldset`,
			`form`,
			`main`,
		},
		FileInput: []string{
			`input[type="file"][multiple]`,
			`input[type="file"]`,
		},
		Debug: []string{
			`button`,
			`[contenteditable]`,
			`input`,
			`textarea`,
		},
	}
}

// LoadStrategies reads a YAML strategy table and overlays it on the built-in
// defaults; an empty path returns the defaults unchanged.
func LoadStrategies(path string) (StrategyTable, error) {
	table := DefaultStrategies()
	if path == "" {
		return table, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return table, fmt.Errorf("read selector table %s: %w", path, err)
	}
	var loaded StrategyTable
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return table, fmt.Errorf("parse selector table %s: %w", path, err)
	}
	if len(loaded.Input) > 0 {
		table.Input = loaded.Input
	}
	if len(loaded.Send) > 0 {
		table.Send = loaded.Send
	}
	if len(loaded.Drop) > 0 {
		table.Drop = loaded.Drop
	}
	if len(loaded.FileInput) > 0 {
		table.FileInput = loaded.FileInput
	}
	if len(loaded.Debug) > 0 {
		table.Debug = loaded.Debug
	}
	return table, nil
}

// Chain returns the ordered selector list for a target.
func (t StrategyTable) Chain(target Target) []string {
	switch target {
	case TargetInput:
		return t.Input
	case TargetSend:
		return t.Send
	case TargetDrop:
		return t.Drop
	case TargetFileInput:
		return t.FileInput
	}
	return nil
}

// Query probes a single selector against the document. found reports whether
// a matching element exists, usable whether it is enabled/interactable. A
// returned error (e.g. an unsupported selector feature) is swallowed by
// Resolve and the next strategy is tried.
type Query func(selector string) (found bool, usable bool, err error)

// Resolve tries each strategy in order and returns the first selector whose
// element is found (and usable, where the target requires it). ok is false
// when no strategy matched; callers must treat that as an expected outcome.
func (t StrategyTable) Resolve(target Target, q Query) (selector string, ok bool) {
	requireUsable := target == TargetSend
	for _, sel := range t.Chain(target) {
		found, usable, err := q(sel)
		if err != nil {
			continue
		}
		if !found {
			continue
		}
		if requireUsable && !usable {
			continue
		}
		return sel, true
	}
	return "", false
}
