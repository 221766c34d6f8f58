package chatgraph

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrel-run/kestrel/internal/bus"
	"github.com/kestrel-run/kestrel/internal/llm"
	"github.com/kestrel-run/kestrel/internal/memory"
	"github.com/kestrel-run/kestrel/internal/retrieval"
)

// NodeName identifies one node in the graph, used both as a map key and as
// the LatencyBreakdown key it records under.
type NodeName string

const (
	NodeReflection NodeName = "reflection"
	NodeRetrieve   NodeName = "retrieve"
	NodeGenerate   NodeName = "generate"
	NodeMemory     NodeName = "memory"
	NodeFinalize   NodeName = "finalize"
)

// NodeFunc is one step of the graph: it mutates state in place and returns
// an error only for failures that should abort the whole turn.
type NodeFunc func(ctx context.Context, state *ChatState) error

// Deps bundles everything the nodes need, generalizing internal/engine's
// LoopRunner (brain, store, bus, logger) from a single linear loop to a
// routed graph with a retriever and a key rotator added.
type Deps struct {
	Brain     llm.Brain
	Retriever *retrieval.Retriever
	Summarizer *memory.LLMSummarizer
	Bus       *bus.Bus
	Logger    *slog.Logger

	// KeyRotate, when set, is invoked on a quarantinable provider error to
	// swap state.Provider (and the Brain it's paired with) for the next
	// available key. Nil disables rotation entirely — a single-key bot.
	KeyRotate func(ctx context.Context, state *ChatState) error

	GroundednessCheck bool // feature flag (§4.5.4 "optional")
}

// Graph runs one chat turn through its fixed node sequence: reflection,
// conditional retrieve, generate, memory, finalize. Routing (§4.5.2) is the
// branch between retrieve/no-retrieve inside Run, not a separate node,
// since every other step is unconditional.
type Graph struct {
	deps  Deps
	nodes map[NodeName]NodeFunc
}

// New builds a Graph wired to deps.
func New(deps Deps) *Graph {
	g := &Graph{deps: deps}
	g.nodes = map[NodeName]NodeFunc{
		NodeReflection: g.reflectionNode,
		NodeRetrieve:   g.retrieveNode,
		NodeGenerate:   g.generateNode,
		NodeMemory:     g.memoryNode,
		NodeFinalize:   g.finalizeNode,
	}
	return g
}

// Run executes one turn end to end over state, timing each node into
// state.LatencyBreakdown and publishing a bus event per node the way
// LoopRunner.Run publishes EventLoopStep per iteration.
func (g *Graph) Run(ctx context.Context, state *ChatState) error {
	run := func(name NodeName) error {
		started := time.Now()
		err := g.nodes[name](ctx, state)
		state.recordLatency(string(name), time.Since(started))
		if g.deps.Bus != nil {
			g.deps.Bus.Publish("chatgraph."+string(name), map[string]any{
				"bot_id":     state.BotID,
				"session_id": state.SessionID,
				"node":       string(name),
				"err":        errString(err),
			})
		}
		return err
	}

	if err := run(NodeReflection); err != nil {
		return err
	}

	// routing (§4.5.2): chitchat or low-confidence-intent turns skip
	// retrieval entirely; everything else retrieves first.
	if state.Reflection.NeedsRetrieval {
		if err := run(NodeRetrieve); err != nil {
			return err
		}
	}

	if err := run(NodeGenerate); err != nil {
		return err
	}
	if err := run(NodeMemory); err != nil {
		return err
	}
	return run(NodeFinalize)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
