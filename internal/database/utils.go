package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateModelStatus(ctx context.Context, txn *gorm.DB, modelId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == ModelTrained || status == ModelFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Model{Id: modelId}).Updates(updates).Error; err != nil {
		slog.Error("error updating model status", "model_id", modelId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateBatchJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobRunning {
		updates["start_time"] = time.Now().UTC()
	}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&BatchJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating batch job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveBatchJobError(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, errorMessage string) {
	jobError := BatchJobError{
		JobId:     jobId,
		ErrorId:   uuid.New(),
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&jobError).Error; err != nil {
		slog.Error("error saving batch job error", "job_id", jobId, "error", err)
	}
}
