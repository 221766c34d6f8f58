package main

import (
	"testing"

	"github.com/kestrel-run/kestrel/internal/ingestworker"
	"github.com/kestrel-run/kestrel/internal/queue"
	"github.com/stretchr/testify/require"
)

func TestDecodeTask_FileUploadResolvesScratchPath(t *testing.T) {
	objects := &localObjectStore{Dir: "/data/objects"}
	env, err := queue.NewEnvelope("task_1", queue.TaskFileUpload, "bot_1", queue.FileUploadTask{
		DocumentID: "doc_1", ObjectKey: "bot_1/report.html", Filename: "report.html",
	})
	require.NoError(t, err)

	task, err := decodeTask(env, objects)
	require.NoError(t, err)
	require.Equal(t, ingestworker.TaskFileUpload, task.Type)
	require.Equal(t, "doc_1", task.DocumentID)
	require.Equal(t, objects.ScratchPath("bot_1/report.html"), task.FilePath)
	require.Equal(t, "report.html", task.FileName)
}

func TestDecodeTask_CrawlSetsOriginFromFirstSeed(t *testing.T) {
	env, err := queue.NewEnvelope("task_2", queue.TaskCrawl, "bot_1", queue.CrawlTask{
		SeedURLs: []string{"https://example.com", "https://example.com/about"},
	})
	require.NoError(t, err)

	task, err := decodeTask(env, &localObjectStore{Dir: "/data/objects"})
	require.NoError(t, err)
	require.Equal(t, ingestworker.TaskCrawl, task.Type)
	require.Equal(t, "https://example.com", task.OriginURL)
	require.Len(t, task.SeedURLs, 2)
}

func TestDecodeTask_RecrawlWrapsSingleDocumentID(t *testing.T) {
	env, err := queue.NewEnvelope("task_3", queue.TaskRecrawl, "bot_1", queue.RecrawlTask{
		DocumentID: "doc_9", URL: "https://example.com/page",
	})
	require.NoError(t, err)

	task, err := decodeTask(env, &localObjectStore{Dir: "/data/objects"})
	require.NoError(t, err)
	require.Equal(t, ingestworker.TaskRecrawl, task.Type)
	require.Equal(t, []string{"doc_9"}, task.DocumentIDs)
}

func TestDecodeTask_UnknownTypeErrors(t *testing.T) {
	env := queue.Envelope{TaskID: "task_4", TaskType: queue.TaskChat, BotID: "bot_1", Data: []byte(`{}`)}
	_, err := decodeTask(env, &localObjectStore{Dir: "/data/objects"})
	require.Error(t, err)
}
