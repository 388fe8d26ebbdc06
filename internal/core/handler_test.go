package core_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"headline-backend/internal/core"
	"headline-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	body := []byte(`{"text": "Stocks rally on earnings"}`)

	t.Run("json content type", func(t *testing.T) {
		input, err := core.ParseRequest(body, "application/json")
		require.NoError(t, err)
		assert.Equal(t, "Stocks rally on earnings", input.Text)
	})

	t.Run("json with charset", func(t *testing.T) {
		input, err := core.ParseRequest(body, "application/json; charset=utf-8")
		require.NoError(t, err)
		assert.Equal(t, "Stocks rally on earnings", input.Text)
	})

	t.Run("missing content type defaults to json", func(t *testing.T) {
		input, err := core.ParseRequest(body, "")
		require.NoError(t, err)
		assert.Equal(t, "Stocks rally on earnings", input.Text)
	})

	t.Run("unsupported content type", func(t *testing.T) {
		_, err := core.ParseRequest([]byte("Stocks rally on earnings"), "text/plain")
		assert.ErrorIs(t, err, core.ErrUnsupportedContentType)
	})

	t.Run("malformed content type", func(t *testing.T) {
		_, err := core.ParseRequest(body, "not a media type;;;")
		assert.ErrorIs(t, err, core.ErrUnsupportedContentType)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := core.ParseRequest([]byte("{not json"), "application/json")
		assert.Error(t, err)
	})

	t.Run("empty text", func(t *testing.T) {
		_, err := core.ParseRequest([]byte(`{"text": ""}`), "application/json")
		assert.ErrorIs(t, err, core.ErrEmptyInput)
	})
}

func TestSerializeResponse(t *testing.T) {
	pred := core.Prediction{Label: core.Health, Score: 0.91}

	for _, accept := range []string{"", "application/json", "*/*", "application/*", "application/json, text/plain"} {
		t.Run("accept "+accept, func(t *testing.T) {
			raw, err := core.SerializeResponse(pred, accept)
			require.NoError(t, err)

			var out api.PredictResponse
			require.NoError(t, json.Unmarshal(raw, &out))
			assert.Equal(t, string(core.Health), out.Label)
			assert.InDelta(t, 0.91, out.Score, 1e-9)
		})
	}

	t.Run("unsupported accept type", func(t *testing.T) {
		_, err := core.SerializeResponse(pred, "text/xml")
		assert.ErrorIs(t, err, core.ErrUnsupportedAcceptType)
	})

	t.Run("label outside the category set", func(t *testing.T) {
		_, err := core.SerializeResponse(core.Prediction{Label: "Sports", Score: 0.5}, "application/json")
		assert.ErrorIs(t, err, core.ErrUnknownCategory)
	})
}

func TestLoadModelFromArtifact(t *testing.T) {
	model, err := core.TrainNaiveBayes(trainingCorpus())
	require.NoError(t, err)

	modelDir := t.TempDir()
	require.NoError(t, model.Save(modelDir))

	artifactPath := filepath.Join(t.TempDir(), core.ArtifactName)
	require.NoError(t, core.PackArtifact(modelDir, artifactPath))

	loaded, err := core.LoadModel(artifactPath, t.TempDir(), core.NewModelLoaders())
	require.NoError(t, err)
	defer loaded.Release()

	input, err := core.ParseRequest([]byte(`{"text": "Stocks rally as earnings beat expectations"}`), "application/json")
	require.NoError(t, err)

	pred, err := core.Predict(context.Background(), loaded, input)
	require.NoError(t, err)
	assert.Equal(t, core.Business, pred.Label)
}

func TestLoadModelBadArtifact(t *testing.T) {
	t.Run("missing archive", func(t *testing.T) {
		_, err := core.LoadModel(filepath.Join(t.TempDir(), "absent.tar.gz"), t.TempDir(), core.NewModelLoaders())
		assert.ErrorIs(t, err, core.ErrArtifactLoad)
	})

	t.Run("corrupt archive", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), core.ArtifactName)
		require.NoError(t, os.WriteFile(path, []byte("definitely not a tarball"), 0644))

		_, err := core.LoadModel(path, t.TempDir(), core.NewModelLoaders())
		assert.ErrorIs(t, err, core.ErrArtifactLoad)
	})
}
