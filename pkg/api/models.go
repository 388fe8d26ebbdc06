package api

import (
	"time"

	"github.com/google/uuid"
)

type Model struct {
	Id     uuid.UUID
	Name   string
	Type   string
	Status string

	DatasetPath  string
	ArtifactPath string

	Metrics map[string]float64 `json:"Metrics,omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

type TrainRequest struct {
	ModelName   string
	ModelType   string
	DatasetPath string
}

type TrainResponse struct {
	ModelId uuid.UUID
}

type PrepareDatasetQuery struct {
	Name         string  `schema:"name"`
	TextColumn   string  `schema:"text_column"`
	LabelColumn  string  `schema:"label_column"`
	TestFraction float64 `schema:"test_fraction"`
	Seed         int64   `schema:"seed"`
}

type PrepareDatasetResponse struct {
	DatasetPath string
	TrainCount  int
	TestCount   int
	Dropped     int
}

type Endpoint struct {
	Id      uuid.UUID
	Name    string
	ModelId uuid.UUID
	URL     string
	Status  string

	CreationTime time.Time
}

type DeployRequest struct {
	EndpointName string
	ModelId      uuid.UUID
	URL          string
}

type DeployResponse struct {
	EndpointId uuid.UUID
}

type BatchJob struct {
	Id      uuid.UUID
	ModelId uuid.UUID
	Status  string

	SourceBucket string
	SourceKey    string
	DestBucket   string
	DestKey      string

	TotalCount     int
	SucceededCount int
	FailedCount    int

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

type BatchRequest struct {
	ModelId      uuid.UUID
	SourceBucket string
	SourceKey    string
	DestBucket   string
	DestKey      string
}

type BatchResponse struct {
	JobId uuid.UUID
}

type ListQuery struct {
	Limit  int `schema:"limit"`
	Offset int `schema:"offset"`
}

// PredictRequest and PredictResponse are the wire format of the prediction
// endpoint and the gateway. Field names are fixed by the callers, hence the
// lowercase json tags.

type PredictRequest struct {
	Text       string            `json:"text"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type PredictResponse struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
