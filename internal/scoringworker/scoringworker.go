// Package scoringworker runs the grading and assessment pipelines (§4.7):
// both task types share the same shape — load context, build a temporary
// per-session vector collection, retrieve/rerank per question, aggregate,
// and ask the brain for a single structured judgment.
package scoringworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-run/kestrel/internal/kv"
	"github.com/kestrel-run/kestrel/internal/llm"
	"github.com/kestrel-run/kestrel/internal/store"
	"github.com/kestrel-run/kestrel/internal/vectorstore"
)

// TaskType names the two scoring routes §4.7 defines.
type TaskType string

const (
	TaskGrading     TaskType = "grading"
	TaskAssessment  TaskType = "assessment"
)

// LockTTL is the idempotency window §4.7 gives a visitor's grade/assessment.
const LockTTL = 5 * time.Minute

// historyLimit bounds ListChatMessages — large enough to cover any session
// a grading/assessment task would realistically score.
const historyLimit = 2000

// Category buckets a lead score per configurable thresholds (§4.7).
type Category string

const (
	CategoryHot  Category = "hot"
	CategoryWarm Category = "warm"
	CategoryCold Category = "cold"
)

// Thresholds holds the hot/warm cutoffs; configuration, not a constant,
// per §4.7 "Thresholds are configuration."
type Thresholds struct {
	Hot  float64
	Warm float64
}

// Categorize buckets score per t.
func (t Thresholds) Categorize(score float64) Category {
	switch {
	case score >= t.Hot:
		return CategoryHot
	case score >= t.Warm:
		return CategoryWarm
	default:
		return CategoryCold
	}
}

// Task is one scoring unit, decoded from the bus envelope.
type Task struct {
	ID        string
	Type      TaskType
	BotID     string
	VisitorID string
	SessionID string
	Force     bool
}

// Embedder produces an embedding vector for one message.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ScoringResult is a grading task's structured output.
type ScoringResult struct {
	Score              float64  `json:"score"`
	Category           Category `json:"category"`
	IntentSignals      []string `json:"intent_signals"`
	EngagementLevel    string   `json:"engagement_level"`
	KeyInterests       []string `json:"key_interests"`
	RecommendedActions []string `json:"recommended_actions"`
	Reasoning          string   `json:"reasoning"`
}

// QuestionResult is one answered assessment question.
type QuestionResult struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Score    float64 `json:"score"`
}

// AssessmentResult is an assessment task's structured output.
type AssessmentResult struct {
	Results   []QuestionResult `json:"results"`
	Summary   string           `json:"summary"`
	LeadScore float64          `json:"lead_score"`
}

// Worker runs grading and assessment pipelines.
type Worker struct {
	Store      *store.Store
	Vectors    *vectorstore.Store
	KV         *kv.Client
	Embedder   Embedder
	Brain      llm.Brain
	Thresholds Thresholds

	// AssessmentQuestions resolves a bot's configured assessment question
	// list (§4.7 "assessment uses the bot's assessment_questions"); the
	// bot-config store this reads from is out of scope (§1).
	AssessmentQuestions func(botID string) ([]string, error)
}

// Run acquires the idempotency lock (unless Force), builds the temp
// collection, runs the pipeline, and always drops the temp collection
// before returning (§4.7 step 4), even on error.
func (w *Worker) Run(ctx context.Context, task Task) (any, error) {
	if w.KV != nil && !task.Force {
		lockKey := kv.GradingLockKey(task.VisitorID)
		if task.Type == TaskAssessment {
			lockKey = kv.AssessmentLockKey(task.VisitorID)
		}
		acquired, err := w.KV.TryAcquireLock(ctx, lockKey, task.ID, LockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if !acquired {
			return nil, fmt.Errorf("scoringworker: a %s is already in progress for this visitor", task.Type)
		}
	}

	visitor, err := w.Store.GetVisitor(ctx, task.VisitorID)
	if err != nil {
		return nil, fmt.Errorf("load visitor: %w", err)
	}
	messages, err := w.Store.ListChatMessages(ctx, task.SessionID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	collectionName := fmt.Sprintf("%s_%s", task.Type, task.SessionID)
	if err := w.buildTempCollection(ctx, collectionName, messages); err != nil {
		return nil, fmt.Errorf("build temp collection: %w", err)
	}
	defer w.Vectors.DropTempCollection(ctx, collectionName)

	switch task.Type {
	case TaskGrading:
		return w.runGrading(ctx, task, visitor, collectionName)
	case TaskAssessment:
		return w.runAssessment(ctx, task, visitor, collectionName)
	default:
		return nil, fmt.Errorf("scoringworker: unknown task type %q", task.Type)
	}
}

func (w *Worker) buildTempCollection(ctx context.Context, name string, messages []store.ChatMessage) error {
	if _, err := w.Vectors.CreateTempCollection(ctx, name); err != nil {
		return err
	}
	chunks := make([]vectorstore.Chunk, 0, len(messages))
	for _, m := range messages {
		embedding, err := w.Embedder.Embed(ctx, m.Query)
		if err != nil {
			continue
		}
		chunks = append(chunks, vectorstore.Chunk{
			ID:         uuid.NewString(),
			DocumentID: m.ID,
			Content:    m.Query,
			Embedding:  embedding,
		})
	}
	if len(chunks) == 0 {
		return nil
	}
	return w.Vectors.InsertIntoTemp(ctx, name, chunks)
}

func (w *Worker) retrieveForQuestion(ctx context.Context, collectionName, question string, topK, topN int) (string, error) {
	embedding, err := w.Embedder.Embed(ctx, question)
	if err != nil {
		return "", err
	}
	hits, err := w.Vectors.SearchTemp(ctx, collectionName, embedding, topK)
	if err != nil {
		return "", err
	}
	if topN < len(hits) {
		hits = hits[:topN]
	}
	var context string
	for _, h := range hits {
		context += h.Content + "\n"
	}
	return context, nil
}

func parseJSON[T any](text string) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return out, fmt.Errorf("parse scoring json: %w", err)
	}
	return out, nil
}
