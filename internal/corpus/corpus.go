// Package corpus loads raw fable records from disk and normalises them into
// the canonical [fable.Fable] form used by the rest of the system.
package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/MrWong99/fabled/pkg/fable"
)

// RawRecord mirrors one entry of the raw corpus JSON file. Fields other than
// title and content are optional; word_count is always recomputed from
// content and never trusted from input.
type RawRecord struct {
	ID        *int64 `json:"id,omitempty"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Moral     string `json:"moral"`
	Language  string `json:"language"`
	WordCount int    `json:"word_count,omitempty"`
}

// ValidationError reports every problem found in a raw batch. Processing
// fails as a whole rather than silently dropping bad records, so a corpus
// with one broken entry never produces a partially seeded collection.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("corpus: %d validation issue(s): %s", len(e.Issues), strings.Join(e.Issues, "; "))
}

// LoadRaw reads the raw corpus JSON file at path. The file may be either a
// top-level array of records or an object with a "fables" key holding one.
func LoadRaw(path string) ([]RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: read %q: %w", path, err)
	}

	var records []RawRecord
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var wrapped struct {
		Fables []RawRecord `json:"fables"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("corpus: parse %q: %w", path, err)
	}
	return wrapped.Fables, nil
}

// Process normalises raw records into fables: text fields are
// whitespace-trimmed, word counts are recomputed from content, and records
// without an explicit id are assigned sequential ids after the highest
// explicit one. Returns a [*ValidationError] listing every violation if any
// record has an empty title or content, or a duplicate id.
func Process(raw []RawRecord) ([]fable.Fable, error) {
	var issues []string

	// Explicit ids win; sequential assignment starts after the highest one.
	nextID := int64(1)
	for _, r := range raw {
		if r.ID != nil && *r.ID >= nextID {
			nextID = *r.ID + 1
		}
	}

	fables := make([]fable.Fable, 0, len(raw))
	seen := make(map[int64]int, len(raw))
	for i, r := range raw {
		f := fable.Fable{
			Title:    strings.TrimSpace(r.Title),
			Content:  strings.TrimSpace(r.Content),
			Moral:    strings.TrimSpace(r.Moral),
			Language: strings.TrimSpace(r.Language),
		}
		if f.Title == "" {
			issues = append(issues, fmt.Sprintf("records[%d]: title is required", i))
		}
		if f.Content == "" {
			issues = append(issues, fmt.Sprintf("records[%d]: content is required", i))
		}

		if r.ID != nil {
			f.ID = *r.ID
		} else {
			f.ID = nextID
			nextID++
		}
		if prev, dup := seen[f.ID]; dup {
			issues = append(issues, fmt.Sprintf("records[%d]: id %d duplicates records[%d]", i, f.ID, prev))
		}
		seen[f.ID] = i

		f.WordCount = fable.CountWords(f.Content)
		fables = append(fables, f)
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return fables, nil
}

// WriteProcessed writes the normalised corpus to path as indented JSON, so a
// later re-seed can use [LoadProcessed] instead of reprocessing.
func WriteProcessed(path string, fables []fable.Fable) error {
	data, err := json.MarshalIndent(fables, "", "  ")
	if err != nil {
		return fmt.Errorf("corpus: marshal processed: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("corpus: write %q: %w", path, err)
	}
	return nil
}

// LoadProcessed reads a file previously written by [WriteProcessed].
func LoadProcessed(path string) ([]fable.Fable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: read %q: %w", path, err)
	}
	var fables []fable.Fable
	if err := json.Unmarshal(data, &fables); err != nil {
		return nil, fmt.Errorf("corpus: parse %q: %w", path, err)
	}
	return fables, nil
}
