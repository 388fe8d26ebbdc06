package messaging_test

import (
	"context"
	"encoding/json"
	"testing"

	"headline-backend/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueueTrainTask(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	modelId := uuid.New()
	require.NoError(t, queue.PublishTrainTask(context.Background(), messaging.TrainTaskPayload{ModelId: modelId}))

	task := <-queue.Tasks()
	assert.Equal(t, messaging.TrainQueue, task.Type())

	var payload messaging.TrainTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, modelId, payload.ModelId)
	assert.NoError(t, task.Ack())
}

func TestInMemoryQueueBatchTask(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	jobId := uuid.New()
	require.NoError(t, queue.PublishBatchTask(context.Background(), messaging.BatchTaskPayload{JobId: jobId}))

	task := <-queue.Tasks()
	assert.Equal(t, messaging.BatchQueue, task.Type())

	var payload messaging.BatchTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, jobId, payload.JobId)
}

func TestInMemoryQueueOrdering(t *testing.T) {
	queue := messaging.NewInMemoryQueue()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, queue.PublishTrainTask(context.Background(), messaging.TrainTaskPayload{ModelId: id}))
	}
	tasks := queue.Tasks()
	queue.Close()

	var received []uuid.UUID
	for task := range tasks {
		var payload messaging.TrainTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		received = append(received, payload.ModelId)
	}
	assert.Equal(t, ids, received)
}
