package chatgraph

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// finalizeNode (§4.5.6) stamps completion time; the total-latency figure it
// logs comes from state.TotalLatency(), summed once every other node has
// recorded its own entry.
func (g *Graph) finalizeNode(ctx context.Context, state *ChatState) error {
	state.CompletedAt = time.Now()
	if g.deps.Logger != nil {
		g.deps.Logger.Info("chat turn completed",
			"bot_id", state.BotID,
			"session_id", state.SessionID,
			"stage", state.RetrievalStage,
			"total_latency_ms", state.TotalLatency().Milliseconds(),
			"tokens_input", state.TokensInput,
			"tokens_output", state.TokensOutput,
			"is_contact", state.IsContact,
		)
	}
	return nil
}

// ChatCompletionPayload is the webhook body delivered after a turn
// completes (§4.5.7): session_token, bot_id, visitor_id, query, response,
// token counts, cost, extracted visitor_info, long_term_memory string,
// is_contact flag, and source list.
type ChatCompletionPayload struct {
	BotID          string         `json:"bot_id"`
	SessionID      string         `json:"session_id"`
	SessionToken   string         `json:"session_token"`
	VisitorID      string         `json:"visitor_id"`
	Query          string         `json:"query"`
	Response       string         `json:"response"`
	TokensInput    int            `json:"tokens_input"`
	TokensOutput   int            `json:"tokens_output"`
	CostUSD        float64        `json:"cost_usd"`
	VisitorInfo    VisitorProfile `json:"visitor_info"`
	LongTermMemory string         `json:"long_term_memory"`
	IsContact      bool           `json:"is_contact"`
	Sources        []Source       `json:"sources"`
	CompletedAt    time.Time      `json:"completed_at"`
}

// PayloadFromState builds the webhook payload from a completed ChatState.
func PayloadFromState(state *ChatState, visitorID string) ChatCompletionPayload {
	return ChatCompletionPayload{
		BotID:          state.BotID,
		SessionID:      state.SessionID,
		SessionToken:   state.SessionToken,
		VisitorID:      visitorID,
		Query:          state.Query,
		Response:       state.Response,
		TokensInput:    state.TokensInput,
		TokensOutput:   state.TokensOutput,
		CostUSD:        state.CostUSD,
		VisitorInfo:    state.VisitorProfile,
		LongTermMemory: state.LongTermMemory,
		IsContact:      state.IsContact,
		Sources:        state.Sources,
		CompletedAt:    state.CompletedAt,
	}
}

// WebhookSender POSTs a ChatCompletionPayload to a bot-configured URL,
// HMAC-signing the body the same way internal/gateway's inbound webhook
// verification expects it on the way in. Delivery failures are logged and
// swallowed: a broken webhook endpoint never fails a completed chat turn
// (§4.5.7).
type WebhookSender struct {
	Client  *http.Client
	URL     string
	Secret  string
	Retries int
}

// NewWebhookSender builds a sender with exponential backoff defaults.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{Client: http.DefaultClient, URL: url, Secret: secret, Retries: 3}
}

// Send delivers payload, retrying with exponential backoff (1s, 2s, 4s...)
// on transport or non-2xx failures. It never returns an error to the
// caller; the last failure is returned purely for logging by the caller.
func (w *WebhookSender) Send(ctx context.Context, payload ChatCompletionPayload) error {
	if w == nil || w.URL == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= w.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", w.sign(body))

		resp, err := w.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return lastErr
}

func (w *WebhookSender) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(w.Secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
