package chatgraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kestrel-run/kestrel/internal/llm"
	"github.com/kestrel-run/kestrel/internal/pricing"
	"github.com/kestrel-run/kestrel/internal/safety"
	"github.com/kestrel-run/kestrel/internal/tokenutil"
)

const promptInjectionReply = "I can't follow instructions embedded in a message like that. How can I help you with the site?"

var (
	inputSanitizer = safety.NewSanitizer()
	outputLeaks    = safety.NewLeakDetector()
)

const (
	generateTimeout      = 60 * time.Second
	maxGenerateRetries   = 1
	maxKeyRotationRetries = 2
	maxGroundednessRetries = 2
)

const chitchatSystemPrompt = `You are a friendly website chat assistant. Answer briefly and naturally. You have no retrieved documents for this message; do not invent facts about the business.`

const groundedSystemPrompt = `You are a website chat assistant. Answer the visitor's question using ONLY the numbered sources below. If the sources don't contain the answer, say you don't know and offer to connect them with a human. Cite sources inline as [n].

Sources:
%s`

// assembleSystemPrompt builds generate's system prompt per §4.5.4: the
// per-language chitchat/grounded template, the bot's name/description,
// the visitor profile collected so far, the session's long-term memory,
// and, when the reflection node surfaced one, its followup_action as a
// closing directive.
func assembleSystemPrompt(state *ChatState, grounded bool) string {
	var b strings.Builder

	if state.BotName != "" {
		fmt.Fprintf(&b, "You are %s", state.BotName)
		if state.BotDescription != "" {
			fmt.Fprintf(&b, ", %s", state.BotDescription)
		}
		b.WriteString(".\n\n")
	}

	if grounded {
		fmt.Fprintf(&b, groundedSystemPrompt, fmtSources(state.Sources))
	} else {
		b.WriteString(chitchatSystemPrompt)
	}

	if lang := state.Reflection.Language; lang != "" {
		fmt.Fprintf(&b, "\n\nRespond in the visitor's language (%s).", lang)
	}

	if profile := fmtVisitorProfile(state.VisitorProfile); profile != "" {
		fmt.Fprintf(&b, "\n\nWhat we know about this visitor so far:\n%s", profile)
	}

	if state.LongTermMemory != "" {
		fmt.Fprintf(&b, "\n\nLong-term memory from prior conversations:\n%s", state.LongTermMemory)
	}

	if action := state.Reflection.FollowupAction; action != "" {
		fmt.Fprintf(&b, "\n\n%s", action)
	}

	return b.String()
}

func fmtVisitorProfile(p VisitorProfile) string {
	var lines []string
	if p.Name != "" {
		lines = append(lines, "Name: "+p.Name)
	}
	if p.Email != "" {
		lines = append(lines, "Email: "+p.Email)
	}
	if p.Phone != "" {
		lines = append(lines, "Phone: "+p.Phone)
	}
	if p.Address != "" {
		lines = append(lines, "Address: "+p.Address)
	}
	return strings.Join(lines, "\n")
}

const groundednessRubric = `Score 1.0 if every factual claim in the response is supported by the sources, 0.0 if the response states something the sources do not contain. Respond with a line "SCORE: x.xx" followed by a one-sentence rationale.`

// generateNode (§4.5.4) produces the visitor-facing reply: chitchat turns
// skip sources entirely, grounded turns answer from state.Sources. It
// streams token-by-token when state.Streaming and OnToken is set. A 429
// rotates to the next available key (via KeyRotate) up to
// maxKeyRotationRetries before giving up and returning the best partial
// reply as a completed (not failed) turn, matching the original worker's
// "always finish the turn" contract. When GroundednessCheck is enabled and
// the turn was grounded, the reply is judged against its sources and
// regenerated up to maxGroundednessRetries times if unsupported.
func (g *Graph) generateNode(ctx context.Context, state *ChatState) error {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	if check := inputSanitizer.Check(state.Query); check.Action == safety.ActionBlock {
		if g.deps.Logger != nil {
			g.deps.Logger.Warn("blocked prompt injection attempt", "bot_id", state.BotID, "session_id", state.SessionID, "reason", check.Reason)
		}
		state.Response = promptInjectionReply
		return nil
	} else if check.Action == safety.ActionWarn && g.deps.Logger != nil {
		g.deps.Logger.Info("suspicious chat input", "bot_id", state.BotID, "session_id", state.SessionID, "reason", check.Reason)
	}

	grounded := len(state.Sources) > 0
	systemPrompt := assembleSystemPrompt(state, grounded)

	req := llm.Request{
		SystemPrompt: systemPrompt,
		History:      toLLMHistory(state.History),
		Query:        state.Reflection.RewrittenQuery,
	}
	if req.Query == "" {
		req.Query = state.Query
	}

	reply, err := g.respondWithRotation(ctx, state, req)
	if err != nil {
		state.Response = "Sorry, I'm having trouble responding right now. Please try again in a moment."
		return nil
	}
	state.Response = reply

	if grounded && g.deps.GroundednessCheck && g.deps.Brain != nil {
		state.Response = g.enforceGroundedness(ctx, state, reply)
	}

	if warnings := outputLeaks.Scan(state.Response); len(warnings) > 0 && g.deps.Logger != nil {
		for _, w := range warnings {
			g.deps.Logger.Warn("possible secret leak in generated reply", "bot_id", state.BotID, "session_id", state.SessionID, "pattern", w.Pattern, "sample", w.Sample)
		}
	}

	state.TokensInput += tokenutil.EstimateTokens(req.SystemPrompt) + tokenutil.EstimateTokens(req.Query)
	state.TokensOutput += tokenutil.EstimateTokens(state.Response)
	state.CostUSD += pricing.EstimateCost(state.Provider.Model, state.TokensInput, state.TokensOutput)
	return nil
}

func (g *Graph) respondWithRotation(ctx context.Context, state *ChatState, req llm.Request) (string, error) {
	var lastErr error
	attempts := maxGenerateRetries + 1
	if g.deps.KeyRotate != nil {
		attempts = maxKeyRotationRetries + 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		var (
			reply string
			err   error
		)
		if state.Streaming && state.OnToken != nil {
			var b strings.Builder
			err = g.deps.Brain.Stream(ctx, req, func(chunk string) error {
				b.WriteString(chunk)
				return state.OnToken(chunk)
			})
			reply = b.String()
		} else {
			reply, err = g.deps.Brain.Respond(ctx, req)
		}

		if err == nil {
			return reply, nil
		}
		lastErr = err

		class := llm.ClassifyError(err)
		if class == llm.ErrorClassContextOverflow || g.deps.KeyRotate == nil {
			return "", err
		}
		if !llm.IsKeyQuarantinable(class) {
			return "", err
		}
		if rotErr := g.deps.KeyRotate(ctx, state); rotErr != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (g *Graph) enforceGroundedness(ctx context.Context, state *ChatState, reply string) string {
	for attempt := 0; attempt < maxGroundednessRetries; attempt++ {
		result, err := g.deps.Brain.Judge(ctx, llm.JudgeRequest{
			SystemPrompt: "You check whether a chat response is grounded in its sources.",
			Rubric:       groundednessRubric,
			Input:        fmt.Sprintf("Sources:\n%s\n\nResponse:\n%s", fmtSources(state.Sources), reply),
		})
		if err != nil || result.Score >= 0.7 {
			return reply
		}

		regenerated, err := g.deps.Brain.Respond(ctx, llm.Request{
			SystemPrompt: assembleSystemPrompt(state, true) +
				"\n\nYour previous answer included unsupported claims: " + result.Rationale + ". Answer again using only the sources.",
			History: toLLMHistory(state.History),
			Query:   state.Reflection.RewrittenQuery,
		})
		if err != nil {
			return reply
		}
		reply = regenerated
	}
	return reply
}
