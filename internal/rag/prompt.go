package rag

import (
	"fmt"
	"strings"

	"github.com/MrWong99/fabled/pkg/fable"
)

// noContextNotice is embedded in the prompt when retrieval returned nothing
// and the empty-context policy is "proceed", so the model knows it is
// answering without supporting material instead of hallucinating sources.
const noContextNotice = "No relevant fables were found for this question."

// BuildPrompt assembles the generation prompt from the query and the
// retrieved fables, highest score first. The output is deterministic for a
// fixed input: same results, same prompt.
func BuildPrompt(query string, results []fable.SearchResult) string {
	var context string
	if len(results) == 0 {
		context = noContextNotice
	} else {
		parts := make([]string, 0, len(results))
		for i, r := range results {
			parts = append(parts, fmt.Sprintf("Fable %d: %s\nContent: %s\nMoral: %s",
				i+1, r.Fable.Title, r.Fable.Content, r.Fable.Moral))
		}
		context = strings.Join(parts, "\n\n")
	}

	return fmt.Sprintf(`Based on the following fables, answer the user's question.

%s

User's question: %s

Please provide a helpful answer based on the fables above. Reference specific fables when relevant.`, context, query)
}
