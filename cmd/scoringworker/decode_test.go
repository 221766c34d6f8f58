package main

import (
	"testing"

	"github.com/kestrel-run/kestrel/internal/queue"
	"github.com/kestrel-run/kestrel/internal/scoringworker"
	"github.com/stretchr/testify/require"
)

func TestDecodeTask_Grading(t *testing.T) {
	env, err := queue.NewEnvelope("task_1", queue.TaskGrading, "bot_1", queue.GradingTask{VisitorID: "visitor_1"})
	require.NoError(t, err)

	task, err := decodeTask(env)
	require.NoError(t, err)
	require.Equal(t, scoringworker.TaskGrading, task.Type)
	require.Equal(t, "visitor_1", task.VisitorID)
	require.Equal(t, "bot_1", task.BotID)
}

func TestDecodeTask_Assessment(t *testing.T) {
	env, err := queue.NewEnvelope("task_2", queue.TaskAssessment, "bot_1", queue.AssessmentTask{VisitorID: "visitor_2"})
	require.NoError(t, err)

	task, err := decodeTask(env)
	require.NoError(t, err)
	require.Equal(t, scoringworker.TaskAssessment, task.Type)
	require.Equal(t, "visitor_2", task.VisitorID)
}

func TestDecodeTask_UnknownTypeErrors(t *testing.T) {
	env := queue.Envelope{TaskID: "task_3", TaskType: queue.TaskChat, BotID: "bot_1", Data: []byte(`{}`)}
	_, err := decodeTask(env)
	require.Error(t, err)
}
