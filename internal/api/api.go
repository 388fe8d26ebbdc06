package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"headline-backend/internal/database"
	"headline-backend/internal/dataset"
	"headline-backend/internal/messaging"
	"headline-backend/internal/storage"
	"headline-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultListLimit = 100

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
	storage   storage.ObjectStore

	datasetBucket string
}

func NewBackendService(db *gorm.DB, publisher messaging.Publisher, store storage.ObjectStore, datasetBucket string) *BackendService {
	return &BackendService{db: db, publisher: publisher, storage: store, datasetBucket: datasetBucket}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/datasets", func(r chi.Router) {
		r.Post("/", RestHandler(s.PrepareDataset))
	})
	r.Route("/models", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitTrainingJob))
		r.Get("/", RestHandler(s.ListModels))
		r.Get("/{model_id}", RestHandler(s.GetModel))
	})
	r.Route("/endpoints", func(r chi.Router) {
		r.Post("/", RestHandler(s.DeployEndpoint))
		r.Get("/", RestHandler(s.ListEndpoints))
		r.Get("/{endpoint_id}", RestHandler(s.GetEndpoint))
		r.Delete("/{endpoint_id}", RestHandler(s.DeleteEndpoint))
	})
	r.Route("/batch", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitBatchJob))
		r.Get("/", RestHandler(s.ListBatchJobs))
		r.Get("/{job_id}", RestHandler(s.GetBatchJob))
	})
}

// PrepareDataset ingests a raw labeled CSV from the request body, cleans and
// splits it, and uploads the partitions to the dataset bucket. Split options
// come from query parameters so the body can stay a plain CSV stream.
func (s *BackendService) PrepareDataset(r *http.Request) (any, error) {
	query, err := ParseRequestQueryParams[api.PrepareDatasetQuery](r)
	if err != nil {
		return nil, err
	}

	name := query.Name
	if name == "" {
		name = uuid.NewString()
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	manifest := dataset.DefaultManifest()
	if query.TextColumn != "" {
		manifest.TextColumn = query.TextColumn
	}
	if query.LabelColumn != "" {
		manifest.LabelColumn = query.LabelColumn
	}
	if query.TestFraction > 0 {
		manifest.TestFraction = query.TestFraction
	}
	if query.Seed != 0 {
		manifest.Seed = query.Seed
	}

	result, err := dataset.Prepare(r.Context(), s.storage, s.datasetBucket, name, r.Body, manifest)
	if err != nil {
		slog.Error("error preparing dataset", "dataset", name, "error", err)
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "failed to prepare dataset: %v", err)
	}

	slog.Info("dataset prepared", "dataset", name, "train", result.TrainCount, "test", result.TestCount, "dropped", result.Dropped)

	return api.PrepareDatasetResponse{
		DatasetPath: result.DatasetPath,
		TrainCount:  result.TrainCount,
		TestCount:   result.TestCount,
		Dropped:     result.Dropped,
	}, nil
}

func (s *BackendService) SubmitTrainingJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.TrainRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.ModelName); err != nil {
		return nil, err
	}

	if _, _, err := storage.ParsePath(req.DatasetPath); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid dataset path: %v", err)
	}

	modelType := req.ModelType
	if modelType == "" {
		modelType = "naive_bayes"
	}

	ctx := r.Context()

	model := &database.Model{
		Id:           uuid.New(),
		Name:         req.ModelName,
		Type:         modelType,
		Status:       database.ModelQueued,
		DatasetPath:  req.DatasetPath,
		CreationTime: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		slog.Error("error creating model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create model entry")
	}

	if err := s.publisher.PublishTrainTask(ctx, messaging.TrainTaskPayload{ModelId: model.Id}); err != nil {
		slog.Error("error publishing training task", "model_id", model.Id, "error", err)
		database.UpdateModelStatus(ctx, s.db, model.Id, database.ModelFailed) //nolint:errcheck
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue training task")
	}

	slog.Info("submitted training job", "model_id", model.Id)
	return api.TrainResponse{ModelId: model.Id}, nil
}

func (s *BackendService) GetModel(r *http.Request) (any, error) {
	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var model database.Model
	if err := s.db.WithContext(ctx).First(&model, "id = ?", modelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		slog.Error("error getting model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}

	return convertModel(model), nil
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	query, err := ParseRequestQueryParams[api.ListQuery](r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var models []database.Model
	if err := s.db.WithContext(ctx).
		Order("creation_time DESC").
		Limit(listLimit(query)).
		Offset(query.Offset).
		Find(&models).Error; err != nil {
		slog.Error("error listing models", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing models")
	}

	out := make([]api.Model, len(models))
	for i, model := range models {
		out[i] = convertModel(model)
	}
	return out, nil
}

func (s *BackendService) DeployEndpoint(r *http.Request) (any, error) {
	req, err := ParseRequest[api.DeployRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.EndpointName); err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "endpoint url is required")
	}

	ctx := r.Context()

	var model database.Model
	if err := s.db.WithContext(ctx).First(&model, "id = ?", req.ModelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		slog.Error("error getting model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}

	if model.Status != database.ModelTrained {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "model is not ready: model has status: %s", model.Status)
	}

	endpoint := &database.Endpoint{
		Id:           uuid.New(),
		Name:         req.EndpointName,
		ModelId:      model.Id,
		URL:          req.URL,
		Status:       database.EndpointInService,
		CreationTime: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&endpoint).Error; err != nil {
		slog.Error("error creating endpoint", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create endpoint entry")
	}

	slog.Info("endpoint deployed", "endpoint_id", endpoint.Id, "model_id", model.Id)
	return api.DeployResponse{EndpointId: endpoint.Id}, nil
}

func (s *BackendService) GetEndpoint(r *http.Request) (any, error) {
	endpointId, err := URLParamUUID(r, "endpoint_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var endpoint database.Endpoint
	if err := s.db.WithContext(ctx).First(&endpoint, "id = ?", endpointId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "endpoint not found")
		}
		slog.Error("error getting endpoint", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving endpoint record")
	}

	return convertEndpoint(endpoint), nil
}

func (s *BackendService) ListEndpoints(r *http.Request) (any, error) {
	query, err := ParseRequestQueryParams[api.ListQuery](r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var endpoints []database.Endpoint
	if err := s.db.WithContext(ctx).
		Where("status <> ?", database.EndpointDeleted).
		Order("creation_time DESC").
		Limit(listLimit(query)).
		Offset(query.Offset).
		Find(&endpoints).Error; err != nil {
		slog.Error("error listing endpoints", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing endpoints")
	}

	out := make([]api.Endpoint, len(endpoints))
	for i, endpoint := range endpoints {
		out[i] = convertEndpoint(endpoint)
	}
	return out, nil
}

func (s *BackendService) DeleteEndpoint(r *http.Request) (any, error) {
	endpointId, err := URLParamUUID(r, "endpoint_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	result := s.db.WithContext(ctx).
		Model(&database.Endpoint{Id: endpointId}).
		Update("status", database.EndpointDeleted)
	if result.Error != nil {
		slog.Error("error deleting endpoint", "endpoint_id", endpointId, "error", result.Error)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting endpoint")
	}
	if result.RowsAffected == 0 {
		return nil, CodedErrorf(http.StatusNotFound, "endpoint not found")
	}

	return nil, nil
}

func (s *BackendService) SubmitBatchJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.BatchRequest](r)
	if err != nil {
		return nil, err
	}

	if req.SourceBucket == "" || req.SourceKey == "" || req.DestBucket == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "missing required fields: model_id, source_bucket, source_key, dest_bucket")
	}

	ctx := r.Context()

	var model database.Model
	if err := s.db.WithContext(ctx).First(&model, "id = ?", req.ModelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		slog.Error("error getting model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}

	if model.Status != database.ModelTrained {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "model is not ready: model has status: %s", model.Status)
	}

	job := database.BatchJob{
		Id:           uuid.New(),
		ModelId:      model.Id,
		SourceBucket: req.SourceBucket,
		SourceKey:    req.SourceKey,
		DestBucket:   req.DestBucket,
		DestKey:      req.DestKey,
		Status:       database.JobQueued,
		CreationTime: time.Now().UTC(),
	}
	if job.DestKey == "" {
		job.DestKey = "results/" + job.Id.String() + ".tar.gz"
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating batch job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create batch job entry")
	}

	if err := s.publisher.PublishBatchTask(ctx, messaging.BatchTaskPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing batch task", "job_id", job.Id, "error", err)
		database.UpdateBatchJobStatus(ctx, s.db, job.Id, database.JobFailed) //nolint:errcheck
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue batch task")
	}

	slog.Info("submitted batch job", "job_id", job.Id, "model_id", model.Id)
	return api.BatchResponse{JobId: job.Id}, nil
}

func (s *BackendService) GetBatchJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var job database.BatchJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "batch job not found")
		}
		slog.Error("error getting batch job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving batch job record")
	}

	return convertBatchJob(job), nil
}

func (s *BackendService) ListBatchJobs(r *http.Request) (any, error) {
	query, err := ParseRequestQueryParams[api.ListQuery](r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var jobs []database.BatchJob
	if err := s.db.WithContext(ctx).
		Order("creation_time DESC").
		Limit(listLimit(query)).
		Offset(query.Offset).
		Find(&jobs).Error; err != nil {
		slog.Error("error listing batch jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing batch jobs")
	}

	out := make([]api.BatchJob, len(jobs))
	for i, job := range jobs {
		out[i] = convertBatchJob(job)
	}
	return out, nil
}

func listLimit(query api.ListQuery) int {
	if query.Limit <= 0 || query.Limit > defaultListLimit {
		return defaultListLimit
	}
	return query.Limit
}

func convertModel(model database.Model) api.Model {
	out := api.Model{
		Id:           model.Id,
		Name:         model.Name,
		Type:         model.Type,
		Status:       model.Status,
		DatasetPath:  model.DatasetPath,
		ArtifactPath: model.ArtifactPath,
		CreationTime: model.CreationTime,
	}
	if model.CompletionTime.Valid {
		out.CompletionTime = &model.CompletionTime.Time
	}
	if len(model.Metrics) > 0 {
		if err := json.Unmarshal(model.Metrics, &out.Metrics); err != nil {
			slog.Error("error parsing model metrics", "model_id", model.Id, "error", err)
		}
	}
	return out
}

func convertEndpoint(endpoint database.Endpoint) api.Endpoint {
	return api.Endpoint{
		Id:           endpoint.Id,
		Name:         endpoint.Name,
		ModelId:      endpoint.ModelId,
		URL:          endpoint.URL,
		Status:       endpoint.Status,
		CreationTime: endpoint.CreationTime,
	}
}

func convertBatchJob(job database.BatchJob) api.BatchJob {
	out := api.BatchJob{
		Id:             job.Id,
		ModelId:        job.ModelId,
		Status:         job.Status,
		SourceBucket:   job.SourceBucket,
		SourceKey:      job.SourceKey,
		DestBucket:     job.DestBucket,
		DestKey:        job.DestKey,
		TotalCount:     job.TotalDocCount,
		SucceededCount: job.SucceededDocCount,
		FailedCount:    job.FailedDocCount,
		CreationTime:   job.CreationTime,
	}
	if job.CompletionTime.Valid {
		out.CompletionTime = &job.CompletionTime.Time
	}
	return out
}
