package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	backend "headline-backend/internal/api"
	"headline-backend/internal/database"
	"headline-backend/internal/messaging"
	"headline-backend/internal/storage"
	"headline-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, entry := range create {
		require.NoError(t, db.Create(entry).Error)
	}
	return db
}

type testBackend struct {
	router chi.Router
	db     *gorm.DB
	queue  *messaging.InMemoryQueue
	store  *storage.LocalObjectStore
}

func createBackend(t *testing.T, create ...any) *testBackend {
	db := createDB(t, create...)
	queue := messaging.NewInMemoryQueue()

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	router := chi.NewRouter()
	backend.NewBackendService(db, queue, store, "datasets").AddRoutes(router)

	return &testBackend{router: router, db: db, queue: queue, store: store}
}

func (b *testBackend) request(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)
	return rec
}

func trainedModel() *database.Model {
	return &database.Model{
		Id:           uuid.New(),
		Name:         "headline-classifier",
		Type:         "naive_bayes",
		Status:       database.ModelTrained,
		DatasetPath:  "s3://datasets/news-v1",
		ArtifactPath: "s3://models/abc/model.tar.gz",
		CreationTime: time.Now().UTC(),
	}
}

func TestHealth(t *testing.T) {
	b := createBackend(t)
	rec := b.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitTrainingJob(t *testing.T) {
	b := createBackend(t)

	rec := b.request(t, http.MethodPost, "/models", api.TrainRequest{
		ModelName:   "headline-classifier",
		DatasetPath: "s3://datasets/news-v1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.TrainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	var model database.Model
	require.NoError(t, b.db.First(&model, "id = ?", resp.ModelId).Error)
	assert.Equal(t, database.ModelQueued, model.Status)
	assert.Equal(t, "naive_bayes", model.Type)
	assert.Equal(t, "s3://datasets/news-v1", model.DatasetPath)

	task := <-b.queue.Tasks()
	assert.Equal(t, messaging.TrainQueue, task.Type())

	var payload messaging.TrainTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, resp.ModelId, payload.ModelId)
}

func TestSubmitTrainingJobValidation(t *testing.T) {
	b := createBackend(t)

	t.Run("bad name", func(t *testing.T) {
		rec := b.request(t, http.MethodPost, "/models", api.TrainRequest{
			ModelName:   "bad name!",
			DatasetPath: "s3://datasets/news-v1",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad dataset path", func(t *testing.T) {
		rec := b.request(t, http.MethodPost, "/models", api.TrainRequest{
			ModelName:   "headline-classifier",
			DatasetPath: "no-key-here",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetModel(t *testing.T) {
	model := trainedModel()
	b := createBackend(t, model)

	rec := b.request(t, http.MethodGet, "/models/"+model.Id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out api.Model
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, model.Id, out.Id)
	assert.Equal(t, database.ModelTrained, out.Status)
	assert.Equal(t, model.ArtifactPath, out.ArtifactPath)

	t.Run("not found", func(t *testing.T) {
		rec := b.request(t, http.MethodGet, "/models/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad uuid", func(t *testing.T) {
		rec := b.request(t, http.MethodGet, "/models/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListModels(t *testing.T) {
	older := trainedModel()
	older.Name = "older"
	older.CreationTime = time.Now().UTC().Add(-time.Hour)
	newer := trainedModel()
	newer.Name = "newer"

	b := createBackend(t, older, newer)

	rec := b.request(t, http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []api.Model
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "newer", out[0].Name)
	assert.Equal(t, "older", out[1].Name)

	t.Run("limit and offset", func(t *testing.T) {
		rec := b.request(t, http.MethodGet, "/models?limit=1&offset=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var page []api.Model
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		require.Len(t, page, 1)
		assert.Equal(t, "older", page[0].Name)
	})
}

func TestDeployEndpoint(t *testing.T) {
	model := trainedModel()
	b := createBackend(t, model)

	rec := b.request(t, http.MethodPost, "/endpoints", api.DeployRequest{
		EndpointName: "headline-endpoint",
		ModelId:      model.Id,
		URL:          "http://endpoint:8080",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.DeployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	var endpoint database.Endpoint
	require.NoError(t, b.db.First(&endpoint, "id = ?", resp.EndpointId).Error)
	assert.Equal(t, database.EndpointInService, endpoint.Status)
	assert.Equal(t, model.Id, endpoint.ModelId)
}

func TestDeployEndpointValidation(t *testing.T) {
	queued := trainedModel()
	queued.Status = database.ModelQueued
	b := createBackend(t, queued)

	t.Run("model not trained", func(t *testing.T) {
		rec := b.request(t, http.MethodPost, "/endpoints", api.DeployRequest{
			EndpointName: "early-endpoint",
			ModelId:      queued.Id,
			URL:          "http://endpoint:8080",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("model not found", func(t *testing.T) {
		rec := b.request(t, http.MethodPost, "/endpoints", api.DeployRequest{
			EndpointName: "orphan-endpoint",
			ModelId:      uuid.New(),
			URL:          "http://endpoint:8080",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing url", func(t *testing.T) {
		rec := b.request(t, http.MethodPost, "/endpoints", api.DeployRequest{
			EndpointName: "no-url-endpoint",
			ModelId:      queued.Id,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListAndDeleteEndpoints(t *testing.T) {
	model := trainedModel()
	endpoint := &database.Endpoint{
		Id:           uuid.New(),
		Name:         "headline-endpoint",
		ModelId:      model.Id,
		URL:          "http://endpoint:8080",
		Status:       database.EndpointInService,
		CreationTime: time.Now().UTC(),
	}
	b := createBackend(t, model, endpoint)

	rec := b.request(t, http.MethodGet, "/endpoints", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []api.Endpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, endpoint.Id, listed[0].Id)

	rec = b.request(t, http.MethodDelete, "/endpoints/"+endpoint.Id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stored database.Endpoint
	require.NoError(t, b.db.First(&stored, "id = ?", endpoint.Id).Error)
	assert.Equal(t, database.EndpointDeleted, stored.Status)

	// Deleted endpoints drop out of listings but stay fetchable by id.
	rec = b.request(t, http.MethodGet, "/endpoints", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed)

	rec = b.request(t, http.MethodGet, "/endpoints/"+endpoint.Id.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("delete missing endpoint", func(t *testing.T) {
		rec := b.request(t, http.MethodDelete, "/endpoints/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSubmitBatchJob(t *testing.T) {
	model := trainedModel()
	b := createBackend(t, model)

	rec := b.request(t, http.MethodPost, "/batch", api.BatchRequest{
		ModelId:      model.Id,
		SourceBucket: "batch",
		SourceKey:    "input/docs.tar.gz",
		DestBucket:   "batch",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	var job database.BatchJob
	require.NoError(t, b.db.First(&job, "id = ?", resp.JobId).Error)
	assert.Equal(t, database.JobQueued, job.Status)
	assert.Equal(t, "results/"+job.Id.String()+".tar.gz", job.DestKey)

	task := <-b.queue.Tasks()
	assert.Equal(t, messaging.BatchQueue, task.Type())

	t.Run("missing fields", func(t *testing.T) {
		rec := b.request(t, http.MethodPost, "/batch", api.BatchRequest{ModelId: model.Id})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("untrained model", func(t *testing.T) {
		queued := trainedModel()
		queued.Status = database.ModelTraining
		require.NoError(t, b.db.Create(queued).Error)

		rec := b.request(t, http.MethodPost, "/batch", api.BatchRequest{
			ModelId:      queued.Id,
			SourceBucket: "batch",
			SourceKey:    "input/docs.tar.gz",
			DestBucket:   "batch",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestGetBatchJob(t *testing.T) {
	model := trainedModel()
	job := &database.BatchJob{
		Id:                uuid.New(),
		ModelId:           model.Id,
		SourceBucket:      "batch",
		SourceKey:         "input/docs.tar.gz",
		DestBucket:        "batch",
		DestKey:           "results/out.tar.gz",
		Status:            database.JobCompleted,
		CreationTime:      time.Now().UTC(),
		TotalDocCount:     10,
		SucceededDocCount: 9,
		FailedDocCount:    1,
	}
	b := createBackend(t, model, job)

	rec := b.request(t, http.MethodGet, "/batch/"+job.Id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out api.BatchJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, job.Id, out.Id)
	assert.Equal(t, 10, out.TotalCount)
	assert.Equal(t, 9, out.SucceededCount)
	assert.Equal(t, 1, out.FailedCount)

	rec = b.request(t, http.MethodGet, "/batch", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []api.BatchJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}

func TestPrepareDataset(t *testing.T) {
	b := createBackend(t)

	csv := strings.Join([]string{
		"text,category",
		"Stocks climb as earnings top forecasts,Business",
		"New processor chip doubles performance,Science&Technology",
		"Blockbuster movie tops box office,Entertainment",
		"New vaccine shows promise against flu,Health",
		"A mislabeled headline,Sports",
	}, "\n")

	req := httptest.NewRequest(http.MethodPost, "/datasets?name=news-v1&test_fraction=0.25", strings.NewReader(csv))
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.PrepareDatasetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "s3://datasets/news-v1", resp.DatasetPath)
	assert.Equal(t, 3, resp.TrainCount)
	assert.Equal(t, 1, resp.TestCount)
	assert.Equal(t, 1, resp.Dropped)

	objects, err := b.store.ListObjects(req.Context(), "datasets", "news-v1/")
	require.NoError(t, err)
	require.Len(t, objects, 3)

	t.Run("bad name", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/datasets?name=bad%20name", strings.NewReader(csv))
		rec := httptest.NewRecorder()
		b.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/datasets?name=empty-set", strings.NewReader(""))
		rec := httptest.NewRecorder()
		b.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}
