package scoringworker

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrel-run/kestrel/internal/llm"
	"github.com/kestrel-run/kestrel/internal/store"
)

// gradingQuestions is the fixed prompt-derived list §4.7 describes for
// grading tasks — every grading run evaluates the same lead-qualification
// dimensions, unlike assessment which is per-bot configurable.
var gradingQuestions = []string{
	"What is the visitor's level of purchase intent?",
	"What products or services is the visitor interested in?",
	"Has the visitor expressed budget or timeline constraints?",
	"How engaged is the visitor across the conversation?",
}

const gradingTopK = 8
const gradingTopN = 4

const gradingSystemPrompt = `You score a sales-chat visitor's lead quality. Respond with ONLY a JSON object:
{"score":<0..1>,"intent_signals":["..."],"engagement_level":"low"|"medium"|"high","key_interests":["..."],"recommended_actions":["..."],"reasoning":"<one paragraph>"}`

func (w *Worker) runGrading(ctx context.Context, task Task, visitor store.Visitor, collectionName string) (ScoringResult, error) {
	var contextBlocks []string
	for _, q := range gradingQuestions {
		ctxText, err := w.retrieveForQuestion(ctx, collectionName, q, gradingTopK, gradingTopN)
		if err != nil {
			continue
		}
		contextBlocks = append(contextBlocks, fmt.Sprintf("Q: %s\n%s", q, ctxText))
	}

	reply, err := w.Brain.Respond(ctx, llm.Request{
		SystemPrompt: gradingSystemPrompt,
		Query:        strings.Join(contextBlocks, "\n\n"),
	})
	if err != nil {
		return ScoringResult{}, fmt.Errorf("grade: %w", err)
	}

	result, err := parseJSON[ScoringResult](extractJSONObject(reply))
	if err != nil {
		return ScoringResult{}, err
	}
	result.Category = w.Thresholds.Categorize(result.Score)

	if err := w.Store.SetLeadScore(ctx, visitor.ID, result.Score, store.LeadCategory(result.Category)); err != nil {
		return result, fmt.Errorf("persist lead score: %w", err)
	}
	return result, nil
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
