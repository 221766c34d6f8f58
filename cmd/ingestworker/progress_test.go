package main

import (
	"testing"

	"github.com/kestrel-run/kestrel/internal/ingestworker"
	"github.com/stretchr/testify/require"
)

func TestWebhookProgress_PathRoutesByTaskType(t *testing.T) {
	p := &webhookProgress{}

	require.Equal(t, "/webhooks/file", p.path(ingestworker.Task{Type: ingestworker.TaskFileUpload}))
	require.Equal(t, "/webhooks/crawl", p.path(ingestworker.Task{Type: ingestworker.TaskCrawl}))
	require.Equal(t, "/webhooks/crawl", p.path(ingestworker.Task{Type: ingestworker.TaskDeleteDocument}))
	require.Equal(t, "/webhooks/crawl", p.path(ingestworker.Task{Type: ingestworker.TaskRecrawl}))
}
