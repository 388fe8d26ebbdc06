package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TrainQueue      = "train_queue"
	BatchQueue      = "batch_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type TrainTaskPayload struct {
	ModelId uuid.UUID
}

type BatchTaskPayload struct {
	JobId uuid.UUID
}

type Publisher interface {
	PublishTrainTask(ctx context.Context, payload TrainTaskPayload) error

	PublishBatchTask(ctx context.Context, payload BatchTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
