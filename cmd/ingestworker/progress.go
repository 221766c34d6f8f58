package main

import (
	"context"

	"github.com/kestrel-run/kestrel/internal/ingestworker"
	"github.com/kestrel-run/kestrel/internal/webhookclient"
)

// webhookProgress posts batch-import progress/completion back to the
// gateway (§4.6, §6.3), routing file_upload tasks to /webhooks/file and
// crawl/recrawl/delete_document tasks to /webhooks/crawl.
type webhookProgress struct {
	Sender *webhookclient.Sender
}

type batchImportPayload struct {
	TaskID       string `json:"task_id"`
	DocumentID   string `json:"document_id"`
	ChunksDone   int    `json:"chunks_done"`
	ChunksTotal  int    `json:"chunks_total"`
	Completed    bool   `json:"completed"`
	Failed       bool   `json:"failed"`
	FailureCause string `json:"failure_cause"`
}

func (p *webhookProgress) path(task ingestworker.Task) string {
	if task.Type == ingestworker.TaskFileUpload {
		return "/webhooks/file"
	}
	return "/webhooks/crawl"
}

func (p *webhookProgress) ReportStart(ctx context.Context, task ingestworker.Task) error {
	return p.Sender.Post(ctx, p.path(task), batchImportPayload{
		TaskID:     task.ID,
		DocumentID: task.DocumentID,
	})
}

func (p *webhookProgress) ReportProgress(ctx context.Context, task ingestworker.Task, processed, total int) error {
	return p.Sender.Post(ctx, p.path(task), batchImportPayload{
		TaskID:      task.ID,
		DocumentID:  task.DocumentID,
		ChunksDone:  processed,
		ChunksTotal: total,
	})
}

func (p *webhookProgress) ReportComplete(ctx context.Context, task ingestworker.Task, stats ingestworker.Stats) error {
	return p.Sender.Post(ctx, p.path(task), batchImportPayload{
		TaskID:      task.ID,
		DocumentID:  task.DocumentID,
		ChunksDone:  stats.ChunksTotal,
		ChunksTotal: stats.ChunksTotal,
		Completed:   stats.Success(),
		Failed:      !stats.Success(),
	})
}
