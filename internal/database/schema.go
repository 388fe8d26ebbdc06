package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ModelQueued   string = "QUEUED"
	ModelTraining string = "TRAINING"
	ModelTrained  string = "TRAINED"
	ModelFailed   string = "FAILED"
)

type Model struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name         string `gorm:"not null"`
	Type         string `gorm:"size:20;not null"`
	Status       string `gorm:"size:20;not null"`
	DatasetPath  string
	ArtifactPath string

	CreationTime   time.Time
	CompletionTime sql.NullTime

	// Evaluation metrics computed on the held-out split after training,
	// e.g. {"accuracy": 0.91, "train_samples": 1080, "test_samples": 120}.
	Metrics datatypes.JSON

	Endpoints []Endpoint `gorm:"foreignKey:ModelId;constraint:OnDelete:CASCADE"`
	BatchJobs []BatchJob `gorm:"foreignKey:ModelId;constraint:OnDelete:CASCADE"`
}

const (
	EndpointCreating  string = "CREATING"
	EndpointInService string = "IN_SERVICE"
	EndpointDeleted   string = "DELETED"
)

type Endpoint struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string `gorm:"not null;uniqueIndex"`

	ModelId uuid.UUID `gorm:"type:uuid"`
	Model   *Model    `gorm:"foreignKey:ModelId"`

	URL    string
	Status string `gorm:"size:20;not null"`

	CreationTime time.Time
}

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

type BatchJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ModelId uuid.UUID `gorm:"type:uuid"`
	Model   *Model    `gorm:"foreignKey:ModelId"`

	SourceBucket string
	SourceKey    string
	DestBucket   string
	DestKey      string

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	SucceededDocCount int `gorm:"default:0"`
	FailedDocCount    int `gorm:"default:0"`
	TotalDocCount     int `gorm:"default:0"`

	Errors []BatchJobError `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

type BatchJobError struct {
	JobId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}
