// Package webhookclient is the ingest and scoring workers' half of §6.3's
// worker-to-gateway webhook contract: HMAC-sign a JSON body and POST it to
// the gateway with retry. internal/chatgraph.WebhookSender implements the
// same shape inline (to keep that package's ChatCompletionPayload self
// contained); this is the shared version the other two workers use so the
// signing/retry logic isn't duplicated a third time.
package webhookclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sender POSTs JSON payloads to paths under BaseURL, HMAC-signing each body.
type Sender struct {
	Client  *http.Client
	BaseURL string
	Secret  string
	Retries int
}

// New builds a Sender with exponential backoff defaults.
func New(baseURL, secret string) *Sender {
	return &Sender{
		Client:  http.DefaultClient,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  secret,
		Retries: 3,
	}
}

// Post marshals payload and delivers it to path, retrying transport and
// non-2xx failures with exponential backoff (1s, 2s, 4s...). Like
// chatgraph.WebhookSender.Send, a broken gateway endpoint is logged and
// swallowed by the caller rather than failing an otherwise-completed task.
func (s *Sender) Post(ctx context.Context, path string, payload any) error {
	if s == nil || s.BaseURL == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhookclient: marshal payload: %w", err)
	}

	url := s.BaseURL + path
	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", s.sign(body))

		resp, err := s.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook %s returned status %d", path, resp.StatusCode)
	}
	return lastErr
}

func (s *Sender) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.Secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
