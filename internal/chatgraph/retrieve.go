package chatgraph

import "context"

// retrieveNode (§4.5.3) delegates to internal/retrieval, which already
// degrades to an empty result set on timeout or failure rather than
// failing the turn, so this node has nothing left to guard against.
func (g *Graph) retrieveNode(ctx context.Context, state *ChatState) error {
	if g.deps.Retriever == nil {
		return nil
	}

	query := state.Reflection.RewrittenQuery
	if query == "" {
		query = state.Query
	}

	resp := g.deps.Retriever.Retrieve(ctx, state.BotID, query)
	state.RetrievalStage = string(resp.Stage)
	state.Sources = make([]Source, 0, len(resp.Results))
	for _, r := range resp.Results {
		state.Sources = append(state.Sources, Source{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Content:    r.Content,
			Score:      r.Score,
		})
	}

	if state.OnSources != nil && len(state.Sources) > 0 {
		_ = state.OnSources(state.Sources)
	}
	return nil
}
