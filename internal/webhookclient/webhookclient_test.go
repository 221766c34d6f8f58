package webhookclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSender_Post_SignsBodyAndDelivers(t *testing.T) {
	var gotSig, gotPath string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := New(srv.URL, "wh-secret")
	err := sender.Post(context.Background(), "/webhooks/file", map[string]any{"task_id": "t1"})
	require.NoError(t, err)

	require.Equal(t, "/webhooks/file", gotPath)

	mac := hmac.New(sha256.New, []byte("wh-secret"))
	mac.Write(gotBody)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	require.Equal(t, "t1", decoded["task_id"])
}

func TestSender_Post_RetriesOnFailureThenGivesUp(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := New(srv.URL, "secret")
	sender.Retries = 1
	err := sender.Post(context.Background(), "/webhooks/file", map[string]any{})
	require.Error(t, err)
	require.Equal(t, 2, attempts)
}

func TestSender_Post_NilBaseURLIsNoop(t *testing.T) {
	sender := New("", "secret")
	err := sender.Post(context.Background(), "/webhooks/file", map[string]any{})
	require.NoError(t, err)
}
