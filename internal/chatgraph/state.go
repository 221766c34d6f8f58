// Package chatgraph schedules one conversational turn as a directed graph
// of nodes over a mutable ChatState (§4.5), grounded on internal/engine's
// step/budget loop shape (loop.go) generalized from a linear agent loop to
// a routed node graph.
package chatgraph

import "time"

// VisitorProfile is the subset of internal/store.Visitor the graph reasons
// about and can incrementally extend.
type VisitorProfile struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// Source is one retrieved chunk surfaced to the visitor as a citation.
type Source struct {
	ChunkID    string
	DocumentID string
	Content    string
	Score      float64
}

// Reflection is the structured output of the reflection node (§4.5.1).
type Reflection struct {
	Language        string
	Confidence      float64
	Intent          string // "chitchat" | "question"
	NeedsRetrieval  bool
	RewrittenQuery  string
	FollowupAction  string
	ExtractedFields VisitorProfile
}

// ChatState is the mutable value every node reads and extends, per §4.5's
// "query, bot_id, session_token, conversation history, visitor profile,
// long-term memory, bot provider config, selected key index, a latency
// breakdown map, and streaming-mode flag."
type ChatState struct {
	Query        string
	BotID        string
	BotName      string
	BotDescription string
	SessionID    string
	SessionToken string

	History        []HistoryTurn
	VisitorProfile VisitorProfile
	LongTermMemory string

	Provider ProviderSelection
	Streaming bool

	Reflection Reflection
	Sources    []Source
	RetrievalStage string

	Response      string
	TokensInput   int
	TokensOutput  int
	CostUSD       float64
	IsContact     bool

	LatencyBreakdown map[string]time.Duration
	CompletedAt      time.Time

	OnToken   func(text string) error
	OnSources func(sources []Source) error
}

// HistoryTurn is a single prior query/response pair, the unit the reflection
// and generate nodes both assemble prompts from.
type HistoryTurn struct {
	Query    string
	Response string
}

// ProviderSelection carries what the key-rotation step picked for this turn:
// the decrypted key, the key's pool index (for reporting a 429 back against
// the same slot), and the provider/model to call.
type ProviderSelection struct {
	Provider  string
	Model     string
	APIKey    string
	KeyIndex  int
}

// NewChatState seeds a ChatState for one turn.
func NewChatState(botID, sessionID, sessionToken, query string) *ChatState {
	return &ChatState{
		BotID:            botID,
		SessionID:        sessionID,
		SessionToken:     sessionToken,
		Query:            query,
		LatencyBreakdown: make(map[string]time.Duration),
	}
}

func (s *ChatState) recordLatency(node string, d time.Duration) {
	if s.LatencyBreakdown == nil {
		s.LatencyBreakdown = make(map[string]time.Duration)
	}
	s.LatencyBreakdown[node] = d
}

// TotalLatency sums every node's recorded latency (§4.5.6 "sums latency
// breakdown").
func (s *ChatState) TotalLatency() time.Duration {
	var total time.Duration
	for _, d := range s.LatencyBreakdown {
		total += d
	}
	return total
}
