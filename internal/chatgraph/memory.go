package chatgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrel-run/kestrel/internal/llm"
)

const contactDetectSystemPrompt = `Has the visitor, across this conversation, provided contact information (email or phone) or explicitly asked to be contacted by a human? Reply with only "yes" or "no".`

// maxLTMHistoryMessages bounds how much prior conversation the bullet-notes
// update sees beyond the turn that just completed (§4.5.5 "incremental
// additional bullets from the last 10 messages plus this exchange").
const maxLTMHistoryMessages = 10

const ltmBulletPrompt = `Update the visitor's long-term memory notes below with anything new and durable from the recent conversation: stated facts, preferences, and commitments. Keep it as short markdown bullet points. Preserve every existing bullet unless the exchange contradicts it.

Existing notes:
%s

Recent conversation:
%s

Latest exchange:
Visitor: %s
Assistant: %s`

// memoryNode (§4.5.5) rewrites the session's long-term memory as a bullet
// list and separately sticky-flags contact requests. The contact bullet
// once set is never removed by a summarization pass — mergeContact and the
// sticky "- Contact Requested: Yes" line are the only writers of
// state.IsContact / that bullet.
func (g *Graph) memoryNode(ctx context.Context, state *ChatState) error {
	if g.deps.Summarizer == nil || g.deps.Summarizer.Brain == nil {
		return nil
	}

	prompt := fmt.Sprintf(ltmBulletPrompt, state.LongTermMemory, recentHistoryTranscript(state.History), state.Query, state.Response)
	reply, err := g.deps.Summarizer.Brain.Respond(ctx, llm.Request{
		SystemPrompt: prompt,
		Query:        "Return only the updated bullet list.",
	})
	if err == nil && strings.TrimSpace(reply) != "" {
		state.LongTermMemory = strings.TrimSpace(reply)
	}

	if isContact, ok := g.detectContact(ctx, state); ok {
		state.IsContact = state.IsContact || isContact
	}
	if state.IsContact && !strings.Contains(state.LongTermMemory, "Contact Requested") {
		state.LongTermMemory = strings.TrimSpace(state.LongTermMemory + "\n- Contact Requested: Yes")
	}
	return nil
}

// recentHistoryTranscript renders up to the last maxLTMHistoryMessages
// visitor/assistant messages (prior to this turn's own exchange) as plain
// text for the bullet-notes prompt.
func recentHistoryTranscript(history []HistoryTurn) string {
	type message struct{ role, content string }
	var flat []message
	for _, t := range history {
		flat = append(flat, message{"Visitor", t.Query}, message{"Assistant", t.Response})
	}
	if len(flat) > maxLTMHistoryMessages {
		flat = flat[len(flat)-maxLTMHistoryMessages:]
	}

	var b strings.Builder
	for _, m := range flat {
		fmt.Fprintf(&b, "%s: %s\n", m.role, m.content)
	}
	return strings.TrimSpace(b.String())
}

func (g *Graph) detectContact(ctx context.Context, state *ChatState) (bool, bool) {
	if g.deps.Summarizer == nil || g.deps.Summarizer.Brain == nil {
		return false, false
	}
	var transcript strings.Builder
	for _, t := range state.History {
		transcript.WriteString("Visitor: " + t.Query + "\nAssistant: " + t.Response + "\n")
	}
	transcript.WriteString("Visitor: " + state.Query + "\nAssistant: " + state.Response + "\n")

	reply, err := g.deps.Summarizer.Brain.Respond(ctx, llm.Request{
		SystemPrompt: contactDetectSystemPrompt,
		Query:        transcript.String(),
	})
	if err != nil {
		return false, false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(reply)), "yes"), true
}
