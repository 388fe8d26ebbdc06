package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"headline-backend/internal/batch"
	"headline-backend/internal/core"
	"headline-backend/internal/database"
	"headline-backend/internal/dataset"
	"headline-backend/internal/messaging"
	"headline-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TaskProcessor struct {
	db       *gorm.DB
	storage  storage.ObjectStore
	receiver messaging.Receiver

	localModelDir string
	modelBucket   string
	modelLoaders  map[core.ModelType]core.ModelLoader
}

func NewTaskProcessor(db *gorm.DB, store storage.ObjectStore, receiver messaging.Receiver, localModelDir, modelBucket string, modelLoaders map[core.ModelType]core.ModelLoader) *TaskProcessor {
	return &TaskProcessor{
		db:            db,
		storage:       store,
		receiver:      receiver,
		localModelDir: localModelDir,
		modelBucket:   modelBucket,
		modelLoaders:  modelLoaders,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.receiver.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.receiver.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.TrainQueue:
		var payload messaging.TrainTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling train task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processTrainTask(ctx, payload)

	case messaging.BatchQueue:
		var payload messaging.BatchTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling batch task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processBatchTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) getModel(ctx context.Context, modelId uuid.UUID) (database.Model, error) {
	var model database.Model
	if err := proc.db.WithContext(ctx).First(&model, "id = ?", modelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Error("model not found", "model_id", modelId)
			return database.Model{}, fmt.Errorf("model not found: %w", err)
		}
		slog.Error("error getting model", "model_id", modelId, "error", err)
		return database.Model{}, fmt.Errorf("error getting model: %w", err)
	}
	return model, nil
}

func (proc *TaskProcessor) getModelDir(modelId uuid.UUID) string {
	return filepath.Join(proc.localModelDir, modelId.String())
}

func (proc *TaskProcessor) artifactKey(modelId uuid.UUID) string {
	return path.Join(modelId.String(), core.ArtifactName)
}

func (proc *TaskProcessor) processTrainTask(ctx context.Context, payload messaging.TrainTaskPayload) error {
	database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelTraining) //nolint:errcheck

	slog.Info("processing train task", "model_id", payload.ModelId)

	model, err := proc.getModel(ctx, payload.ModelId)
	if err != nil {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed) //nolint:errcheck
		return err
	}

	if core.ParseModelType(model.Type) != core.NaiveBayes {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("model type %s does not support training", model.Type)
	}

	bucket, prefix, err := storage.ParsePath(model.DatasetPath)
	if err != nil {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("invalid dataset path for model %s: %w", payload.ModelId, err)
	}

	trainSamples, err := dataset.ReadSamples(ctx, proc.storage, bucket, prefix, dataset.TrainFile)
	if err != nil {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("error reading train partition: %w", err)
	}

	testSamples, err := dataset.ReadSamples(ctx, proc.storage, bucket, prefix, dataset.TestFile)
	if err != nil {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("error reading test partition: %w", err)
	}

	start := time.Now()
	trained, err := core.TrainNaiveBayes(trainSamples)
	if err != nil {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("error training model: %w", err)
	}
	slog.Info("model trained", "model_id", payload.ModelId, "samples", len(trainSamples), "duration", time.Since(start))

	accuracy, err := evaluate(ctx, trained, testSamples)
	if err != nil {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("error evaluating model: %w", err)
	}

	localDir := proc.getModelDir(payload.ModelId)
	if err := os.MkdirAll(localDir, os.ModePerm); err != nil {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("error creating local model directory: %w", err)
	}

	if err := trained.Save(localDir); err != nil {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("error saving model: %w", err)
	}

	artifactFile := filepath.Join(proc.localModelDir, payload.ModelId.String()+".tar.gz")
	if err := core.PackArtifact(localDir, artifactFile); err != nil {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("error packaging artifact: %w", err)
	}
	defer os.Remove(artifactFile)

	file, err := os.Open(artifactFile)
	if err != nil {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("error opening artifact: %w", err)
	}
	defer file.Close()

	artifactKey := proc.artifactKey(payload.ModelId)
	if err := proc.storage.PutObject(ctx, proc.modelBucket, artifactKey, file); err != nil {
		database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("error uploading artifact: %w", err)
	}

	metrics, err := json.Marshal(map[string]any{
		"accuracy":      accuracy,
		"train_samples": len(trainSamples),
		"test_samples":  len(testSamples),
	})
	if err != nil {
		return fmt.Errorf("error marshalling metrics: %w", err)
	}

	if err := proc.db.WithContext(ctx).
		Model(&database.Model{Id: payload.ModelId}).
		Updates(map[string]any{
			"artifact_path": fmt.Sprintf("s3://%s/%s", proc.modelBucket, artifactKey),
			"metrics":       datatypes.JSON(metrics),
		}).Error; err != nil {
		return fmt.Errorf("error saving artifact path: %w", err)
	}

	if err := database.UpdateModelStatus(ctx, proc.db, payload.ModelId, database.ModelTrained); err != nil {
		return fmt.Errorf("error updating model status after training: %w", err)
	}

	slog.Info("train task completed successfully", "model_id", payload.ModelId, "accuracy", accuracy)

	return nil
}

func evaluate(ctx context.Context, model core.Model, samples []core.Sample) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	correct := 0
	for _, sample := range samples {
		pred, err := model.Predict(ctx, sample.Text)
		if err != nil {
			return 0, err
		}
		if pred.Label == sample.Label {
			correct++
		}
	}
	return float64(correct) / float64(len(samples)), nil
}

func (proc *TaskProcessor) loadModel(ctx context.Context, modelId uuid.UUID) (core.Model, error) {
	localDir := proc.getModelDir(modelId)
	artifactFile := filepath.Join(proc.localModelDir, modelId.String()+".tar.gz")

	if _, err := os.Stat(localDir); os.IsNotExist(err) {
		slog.Info("model not found locally, downloading artifact", "model_id", modelId)

		if err := proc.storage.DownloadObject(ctx, proc.modelBucket, proc.artifactKey(modelId), artifactFile); err != nil {
			return nil, fmt.Errorf("failed to download model artifact: %w", err)
		}
		defer os.Remove(artifactFile)

		return core.LoadModel(artifactFile, localDir, proc.modelLoaders)
	}

	modelType, err := core.ReadArtifactModelType(localDir)
	if err != nil {
		return nil, err
	}
	loader, ok := proc.modelLoaders[modelType]
	if !ok {
		return nil, fmt.Errorf("no loader registered for model type %s", modelType)
	}
	return loader(localDir)
}

func (proc *TaskProcessor) processBatchTask(ctx context.Context, payload messaging.BatchTaskPayload) error {
	slog.Info("processing batch task", "job_id", payload.JobId)

	var job database.BatchJob
	if err := proc.db.WithContext(ctx).First(&job, "id = ?", payload.JobId).Error; err != nil {
		slog.Error("error fetching batch job", "job_id", payload.JobId, "error", err)
		return fmt.Errorf("error getting batch job: %w", err)
	}

	database.UpdateBatchJobStatus(ctx, proc.db, payload.JobId, database.JobRunning) //nolint:errcheck

	results, total, failed, workerErr := proc.runBatchJob(ctx, &job)

	if err := proc.db.WithContext(ctx).
		Model(&database.BatchJob{Id: payload.JobId}).
		Updates(map[string]any{
			"total_doc_count":     total,
			"succeeded_doc_count": len(results),
			"failed_doc_count":    failed,
		}).Error; err != nil {
		slog.Error("unable to update batch job counts", "job_id", payload.JobId, "error", err)
	}

	if workerErr != nil {
		slog.Error("error running batch job", "job_id", payload.JobId, "error", workerErr)
		database.UpdateBatchJobStatus(ctx, proc.db, payload.JobId, database.JobFailed) //nolint:errcheck
		database.SaveBatchJobError(ctx, proc.db, payload.JobId, workerErr.Error())
		return fmt.Errorf("error running batch job: %w", workerErr)
	}

	if err := database.UpdateBatchJobStatus(ctx, proc.db, payload.JobId, database.JobCompleted); err != nil {
		return fmt.Errorf("error updating batch job status to complete: %w", err)
	}

	slog.Info("batch task completed successfully", "job_id", payload.JobId, "documents", total)

	return nil
}

func (proc *TaskProcessor) runBatchJob(ctx context.Context, job *database.BatchJob) ([]batch.Result, int, int, error) {
	model, err := proc.loadModel(ctx, job.ModelId)
	if err != nil {
		return nil, 0, 0, err
	}
	defer model.Release()

	input, err := proc.storage.GetObject(ctx, job.SourceBucket, job.SourceKey)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("error reading batch input: %w", err)
	}
	defer input.Close()

	docs, err := batch.UnpackDocuments(input)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("error unpacking batch input: %w", err)
	}

	results := make([]batch.Result, 0, len(docs))
	failed := 0
	for _, doc := range docs {
		pred, err := model.Predict(ctx, doc.Text)
		if err != nil {
			slog.Error("error predicting batch document", "job_id", job.Id, "doc_id", doc.Id, "error", err)
			failed++
			continue
		}
		results = append(results, batch.Result{
			Id:    doc.Id,
			Text:  doc.Text,
			Label: string(pred.Label),
			Score: pred.Score,
		})
	}

	var out bytes.Buffer
	if err := batch.PackResults(&out, results); err != nil {
		return results, len(docs), failed, fmt.Errorf("error packing batch output: %w", err)
	}

	if err := proc.storage.PutObject(ctx, job.DestBucket, job.DestKey, &out); err != nil {
		return results, len(docs), failed, fmt.Errorf("error uploading batch output: %w", err)
	}

	return results, len(docs), failed, nil
}
