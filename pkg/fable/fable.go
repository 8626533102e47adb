// Package fable defines the core domain types shared by the retrieval and
// generation layers: the Fable record stored in the vector index and the
// SearchResult pairing a fable with its similarity score.
package fable

import (
	"sort"
	"strings"
)

// Fable is a single story record in the corpus.
//
// Fables are created once at corpus-load time and are immutable afterwards;
// re-seeding the index overwrites records by ID. WordCount is always derived
// from Content (see [CountWords]) and never trusted from input data.
type Fable struct {
	// ID uniquely identifies the fable within the corpus.
	ID int64 `json:"id"`

	// Title is the fable's title, whitespace-normalised and non-empty.
	Title string `json:"title"`

	// Content is the body text of the fable, whitespace-normalised and non-empty.
	Content string `json:"content"`

	// Moral is the lesson of the fable. May be empty.
	Moral string `json:"moral"`

	// Language is a language tag such as "en". May be empty.
	Language string `json:"language"`

	// WordCount is the number of whitespace-separated tokens in Content.
	WordCount int `json:"word_count"`
}

// SearchResult is a fable returned by a similarity search together with its
// similarity score. Scores are model-defined; for cosine similarity over
// normalised embeddings the practical range is [0, 1] with higher meaning
// more similar.
type SearchResult struct {
	Fable Fable   `json:"fable"`
	Score float64 `json:"score"`
}

// CountWords returns the number of whitespace-separated tokens in text.
// This is the single definition of "word count" used across the corpus
// pipeline and the search payload.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// SortResults orders results descending by score, breaking ties by ascending
// fable ID so that repeated searches over identical data return identical
// orderings.
func SortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Fable.ID < results[j].Fable.ID
	})
}
