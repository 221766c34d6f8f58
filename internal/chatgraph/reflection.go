package chatgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kestrel-run/kestrel/internal/llm"
)

const reflectionSystemPrompt = `You analyze one visitor message before it is answered. Reply with ONLY a JSON object, no prose, with these fields:
{"language":"<ISO 639-1 code>","confidence":<0..1>,"intent":"chitchat"|"question","needs_retrieval":<bool>,"rewritten_query":"<standalone rewrite of the query using conversation context>","followup_action":"<one short imperative, or empty>","name":"<if stated, else empty>","email":"<if stated, else empty>","phone":"<if stated, else empty>"}`

type reflectionJSON struct {
	Language       string  `json:"language"`
	Confidence     float64 `json:"confidence"`
	Intent         string  `json:"intent"`
	NeedsRetrieval bool    `json:"needs_retrieval"`
	RewrittenQuery string  `json:"rewritten_query"`
	FollowupAction string  `json:"followup_action"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone"`
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// reflectionNode (§4.5.1) asks the brain to classify the turn — language,
// intent, whether retrieval is needed, a context-resolved rewrite of the
// query, and any contact fields volunteered in the message. On any brain
// failure or unparseable reply it falls back to a conservative default:
// treat the turn as a question needing retrieval, using the raw query
// verbatim, so a broken reflection never silently drops an answer.
func (g *Graph) reflectionNode(ctx context.Context, state *ChatState) error {
	state.Reflection = defaultReflection(state.Query)

	if g.deps.Brain == nil {
		return nil
	}

	reply, err := g.deps.Brain.Respond(ctx, llm.Request{
		SystemPrompt: reflectionSystemPrompt,
		History:      toLLMHistory(state.History),
		Query:        state.Query,
	})
	if err != nil {
		if g.deps.Logger != nil {
			g.deps.Logger.Warn("reflection call failed, using default", "bot_id", state.BotID, "err", err)
		}
		return nil
	}

	match := jsonObjectPattern.FindString(reply)
	if match == "" {
		return nil
	}

	var parsed reflectionJSON
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		if g.deps.Logger != nil {
			g.deps.Logger.Warn("reflection reply unparseable, using default", "bot_id", state.BotID, "err", err)
		}
		return nil
	}

	state.Reflection = Reflection{
		Language:       strings.TrimSpace(parsed.Language),
		Confidence:     parsed.Confidence,
		Intent:         strings.ToLower(strings.TrimSpace(parsed.Intent)),
		NeedsRetrieval: parsed.NeedsRetrieval,
		RewrittenQuery: strings.TrimSpace(parsed.RewrittenQuery),
		FollowupAction: strings.TrimSpace(parsed.FollowupAction),
		ExtractedFields: VisitorProfile{
			Name:  strings.TrimSpace(parsed.Name),
			Email: strings.TrimSpace(parsed.Email),
			Phone: strings.TrimSpace(parsed.Phone),
		},
	}
	if state.Reflection.RewrittenQuery == "" {
		state.Reflection.RewrittenQuery = state.Query
	}
	if state.Reflection.Intent == "" {
		state.Reflection.Intent = "question"
	}

	mergeContact(&state.VisitorProfile, state.Reflection.ExtractedFields)
	if state.Reflection.ExtractedFields.Email != "" || state.Reflection.ExtractedFields.Phone != "" {
		state.IsContact = true
	}
	return nil
}

func defaultReflection(query string) Reflection {
	return Reflection{
		Language:       "en",
		Confidence:     0,
		Intent:         "question",
		NeedsRetrieval: true,
		RewrittenQuery: query,
	}
}

func mergeContact(profile *VisitorProfile, extracted VisitorProfile) {
	if extracted.Name != "" {
		profile.Name = extracted.Name
	}
	if extracted.Email != "" {
		profile.Email = extracted.Email
	}
	if extracted.Phone != "" {
		profile.Phone = extracted.Phone
	}
	if extracted.Address != "" {
		profile.Address = extracted.Address
	}
}

func toLLMHistory(history []HistoryTurn) []llm.Message {
	out := make([]llm.Message, 0, len(history)*2)
	for _, t := range history {
		out = append(out, llm.Message{Role: "user", Content: t.Query})
		out = append(out, llm.Message{Role: "assistant", Content: t.Response})
	}
	return out
}

func fmtSources(sources []Source) string {
	var b strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, s.Content)
	}
	return b.String()
}
