package queue_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-run/kestrel/internal/queue"
)

func TestNewEnvelope_DecodeChat(t *testing.T) {
	env, err := queue.NewEnvelope("task-1", queue.TaskChat, "bot-1", queue.ChatTask{
		SessionToken: "tok", SessionID: "sess-1", Query: "hello",
	})
	require.NoError(t, err)
	require.True(t, env.TaskType.Valid())

	decoded, err := env.DecodeChat()
	require.NoError(t, err)
	require.Equal(t, "hello", decoded.Query)
	require.Equal(t, "sess-1", decoded.SessionID)
}

func TestTaskType_Valid(t *testing.T) {
	valid := []queue.TaskType{
		queue.TaskFileUpload, queue.TaskCrawl, queue.TaskDeleteDocument,
		queue.TaskRecrawl, queue.TaskChat, queue.TaskGrading,
		queue.TaskAssessment, queue.TaskEmail,
	}
	for _, tt := range valid {
		require.True(t, tt.Valid(), "expected %s to be valid", tt)
	}
	require.False(t, queue.TaskType("unknown_type").Valid())
}

func TestDLQName(t *testing.T) {
	require.Equal(t, "chat_processing_queue_dlq", queue.DLQName("chat_processing_queue"))
}
