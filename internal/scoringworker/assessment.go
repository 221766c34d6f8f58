package scoringworker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestrel-run/kestrel/internal/llm"
	"github.com/kestrel-run/kestrel/internal/store"
)

const assessmentTopK = 8
const assessmentTopN = 4

const summaryQuestion = "Summarize the visitor's overall fit and intent across this conversation."

const assessmentSystemPrompt = `You answer one assessment question about a chat visitor using only the retrieved context. Respond with ONLY a JSON object:
{"answer":"<your answer>","score":<0..1>}`

const assessmentSummarySystemPrompt = `You summarize a visitor's assessment results into lead qualification guidance. Respond with ONLY a JSON object:
{"summary":"<one paragraph>","lead_score":<0..1>}`

// runAssessment answers the bot's configured assessment_questions plus a
// synthetic "summary" question (§4.7), one brain call per question.
func (w *Worker) runAssessment(ctx context.Context, task Task, visitor store.Visitor, collectionName string) (AssessmentResult, error) {
	questions, err := w.assessmentQuestions(task.BotID)
	if err != nil {
		return AssessmentResult{}, err
	}

	result := AssessmentResult{}
	for _, q := range questions {
		ctxText, err := w.retrieveForQuestion(ctx, collectionName, q, assessmentTopK, assessmentTopN)
		if err != nil {
			continue
		}
		reply, err := w.Brain.Respond(ctx, llm.Request{
			SystemPrompt: assessmentSystemPrompt,
			Query:        fmt.Sprintf("Question: %s\n\nContext:\n%s", q, ctxText),
		})
		if err != nil {
			continue
		}
		qr, err := parseJSON[struct {
			Answer string  `json:"answer"`
			Score  float64 `json:"score"`
		}](extractJSONObject(reply))
		if err != nil {
			continue
		}
		result.Results = append(result.Results, QuestionResult{Question: q, Answer: qr.Answer, Score: qr.Score})
	}

	summaryCtx, err := w.retrieveForQuestion(ctx, collectionName, summaryQuestion, assessmentTopK, assessmentTopN)
	if err == nil {
		reply, err := w.Brain.Respond(ctx, llm.Request{
			SystemPrompt: assessmentSummarySystemPrompt,
			Query:        fmt.Sprintf("Question: %s\n\nContext:\n%s\n\nPer-question results: %v", summaryQuestion, summaryCtx, result.Results),
		})
		if err == nil {
			summary, err := parseJSON[struct {
				Summary   string  `json:"summary"`
				LeadScore float64 `json:"lead_score"`
			}](extractJSONObject(reply))
			if err == nil {
				result.Summary = summary.Summary
				result.LeadScore = summary.LeadScore
			}
		}
	}

	payload, err := json.Marshal(result)
	if err == nil {
		_ = w.Store.SetAssessment(ctx, visitor.ID, payload)
	}
	category := store.LeadCategory(w.Thresholds.Categorize(result.LeadScore))
	if err := w.Store.SetLeadScore(ctx, visitor.ID, result.LeadScore, category); err != nil {
		return result, fmt.Errorf("persist lead score: %w", err)
	}
	return result, nil
}

// assessmentQuestions resolves the bot's configured question list. The
// actual source (bot config JSON) lives behind internal/store's provider
// config; the worker depends only on this narrow accessor so callers can
// inject a fixed list in tests.
func (w *Worker) assessmentQuestions(botID string) ([]string, error) {
	if w.AssessmentQuestions != nil {
		return w.AssessmentQuestions(botID)
	}
	return nil, fmt.Errorf("scoringworker: no assessment questions configured for bot %s", botID)
}
