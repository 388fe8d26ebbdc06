//go:build integration
// +build integration

package integrationtests

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	backend "headline-backend/internal/api"
	"headline-backend/internal/batch"
	"headline-backend/internal/core"
	"headline-backend/internal/database"
	"headline-backend/internal/worker"
	"headline-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const workflowCSV = `text,category
Stocks climb as quarterly earnings top forecasts,Business
Central bank raises interest rates to curb inflation,Business
Shares rally after merger announcement,Business
Oil prices fall as markets weigh demand,Business
New processor chip doubles machine learning performance,Science&Technology
Astronomers discover distant galaxy using space telescope,Science&Technology
Software update patches critical security vulnerability,Science&Technology
Rocket launch delivers satellites into orbit,Science&Technology
Blockbuster movie tops box office on opening weekend,Entertainment
Pop star announces world tour after album release,Entertainment
Television series finale draws record audience,Entertainment
Film festival premieres award winning documentary,Entertainment
New vaccine shows promise against seasonal flu,Health
Study links regular exercise to lower heart disease risk,Health
Doctors recommend screening for early cancer detection,Health
Hospital trial finds drug reduces blood pressure,Health
`

func waitForStatus(t *testing.T, db *gorm.DB, record any, id uuid.UUID, done, failed string, timeout time.Duration) string {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		require.NoError(t, db.First(record, "id = ?", id).Error)

		status := ""
		switch r := record.(type) {
		case *database.Model:
			status = r.Status
		case *database.BatchJob:
			status = r.Status
		}

		if status == done || status == failed {
			return status
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %T %s to finish", record, id)
	return ""
}

func TestTrainingAndBatchWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db := createDB(t)
	store := setupTestObjectStore(t, ctx)
	publisher, receiver := setupRabbitMQContainer(t, ctx)

	for _, bucket := range []string{"datasets", "models", "batch"} {
		require.NoError(t, store.CreateBucket(ctx, bucket))
	}

	router := chi.NewRouter()
	backend.NewBackendService(db, publisher, store, "datasets").AddRoutes(router)

	processor := worker.NewTaskProcessor(db, store, receiver, t.TempDir(), "models", core.NewModelLoaders())
	go processor.Start()

	// Prepare the dataset from a raw CSV upload.
	req := httptest.NewRequest(http.MethodPost, "/datasets?name=news-v1&test_fraction=0.25", strings.NewReader(workflowCSV))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Submit a training job and wait for the worker to finish it.
	var trainResp api.TrainResponse
	require.NoError(t, httpRequest(router, http.MethodPost, "/models", api.TrainRequest{
		ModelName:   "headline-classifier",
		DatasetPath: "s3://datasets/news-v1",
	}, &trainResp))

	var model database.Model
	status := waitForStatus(t, db, &model, trainResp.ModelId, database.ModelTrained, database.ModelFailed, time.Minute)
	require.Equal(t, database.ModelTrained, status)
	assert.NotEmpty(t, model.ArtifactPath)
	assert.NotEmpty(t, model.Metrics)

	// Upload a batch input archive and run a batch job against the model.
	docs := []batch.Document{
		{Id: "doc-1", Text: "Stocks rally as earnings beat expectations"},
		{Id: "doc-2", Text: "New vaccine reduces heart disease risk"},
	}
	var input bytes.Buffer
	require.NoError(t, batch.PackDocuments(&input, docs))
	require.NoError(t, store.PutObject(ctx, "batch", "input/docs.tar.gz", &input))

	var batchResp api.BatchResponse
	require.NoError(t, httpRequest(router, http.MethodPost, "/batch", api.BatchRequest{
		ModelId:      trainResp.ModelId,
		SourceBucket: "batch",
		SourceKey:    "input/docs.tar.gz",
		DestBucket:   "batch",
	}, &batchResp))

	var job database.BatchJob
	status = waitForStatus(t, db, &job, batchResp.JobId, database.JobCompleted, database.JobFailed, time.Minute)
	require.Equal(t, database.JobCompleted, status)
	assert.Equal(t, 2, job.TotalDocCount)
	assert.Equal(t, 2, job.SucceededDocCount)

	output, err := store.GetObject(ctx, "batch", job.DestKey)
	require.NoError(t, err)
	defer output.Close()

	results, err := batch.UnpackResults(output)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byId := make(map[string]batch.Result)
	for _, res := range results {
		byId[res.Id] = res
	}
	assert.Equal(t, "Business", byId["doc-1"].Label)
	assert.Equal(t, "Health", byId["doc-2"].Label)

	processor.Stop()
}
