package ingestworker

import (
	"strings"

	"github.com/kestrel-run/kestrel/internal/tokenutil"
)

// chunkText splits content into token-bounded, overlapping chunks,
// preferring paragraph boundaries (a structure-aware split) over a blind
// character cut, per §4.6's "token-aware strategy preferring a
// structure-aware chunker." Reuses internal/tokenutil's estimator — the
// same token-counting primitive internal/memory's window builder uses,
// applied here at chunk granularity instead of conversation-turn
// granularity.
func chunkText(content string, budget, overlap int) []string {
	paragraphs := strings.Split(strings.TrimSpace(content), "\n\n")
	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		pTokens := tokenutil.EstimateTokens(p)

		if pTokens > budget {
			flush()
			chunks = append(chunks, splitLongParagraph(p, budget)...)
			continue
		}

		if currentTokens+pTokens > budget {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
		currentTokens += pTokens
	}
	flush()

	return withOverlap(chunks, overlap)
}

func splitLongParagraph(p string, budget int) []string {
	words := strings.Fields(p)
	var out []string
	var current strings.Builder
	tokens := 0
	for _, w := range words {
		wTokens := tokenutil.EstimateTokens(w)
		if tokens+wTokens > budget && current.Len() > 0 {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
			tokens = 0
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(w)
		tokens += wTokens
	}
	if current.Len() > 0 {
		out = append(out, strings.TrimSpace(current.String()))
	}
	return out
}

func withOverlap(chunks []string, overlapTokens int) []string {
	if overlapTokens <= 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		tail := tailByTokens(chunks[i-1], overlapTokens)
		if tail == "" {
			out[i] = chunks[i]
			continue
		}
		out[i] = tail + "\n\n" + chunks[i]
	}
	return out
}

func tailByTokens(s string, budget int) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}
	var tail []string
	tokens := 0
	for i := len(words) - 1; i >= 0; i-- {
		wTokens := tokenutil.EstimateTokens(words[i])
		if tokens+wTokens > budget {
			break
		}
		tail = append([]string{words[i]}, tail...)
		tokens += wTokens
	}
	return strings.Join(tail, " ")
}
