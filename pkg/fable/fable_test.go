package fable_test

import (
	"testing"

	"github.com/MrWong99/fabled/pkg/fable"
)

func TestCountWords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"whitespace only", "  \t\n ", 0},
		{"single word", "wolf", 1},
		{"simple sentence", "the boy cried wolf", 4},
		{"irregular spacing", "  the \t boy\n\ncried   wolf  ", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fable.CountWords(tt.text); got != tt.want {
				t.Errorf("CountWords(%q): got %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestSortResults(t *testing.T) {
	results := []fable.SearchResult{
		{Fable: fable.Fable{ID: 3}, Score: 0.7},
		{Fable: fable.Fable{ID: 1}, Score: 0.9},
		{Fable: fable.Fable{ID: 4}, Score: 0.7},
		{Fable: fable.Fable{ID: 2}, Score: 0.9},
	}

	fable.SortResults(results)

	wantOrder := []int64{1, 2, 3, 4}
	for i, want := range wantOrder {
		if results[i].Fable.ID != want {
			t.Errorf("results[%d].Fable.ID: got %d, want %d", i, results[i].Fable.ID, want)
		}
	}
	// Descending scores.
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted descending at index %d: %f > %f", i, results[i].Score, results[i-1].Score)
		}
	}
}
