package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"headline-backend/pkg/api"
)

// Failure modes of the inference handler. The serving layer maps these to
// HTTP statuses; everything else is an internal error.
var (
	ErrArtifactLoad           = errors.New("failed to load model artifact")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrUnsupportedAcceptType  = errors.New("unsupported accept type")
	ErrEmptyInput             = errors.New("request contains no text")
)

type ParsedInput struct {
	Text       string
	Parameters map[string]string
}

// LoadModel unpacks a model.tar.gz artifact and dispatches to the loader for
// the model type recorded in the artifact's config.
func LoadModel(artifactPath, workDir string, loaders map[ModelType]ModelLoader) (Model, error) {
	if err := UnpackArtifact(artifactPath, workDir); err != nil {
		return nil, err
	}

	modelType, err := ReadArtifactModelType(workDir)
	if err != nil {
		return nil, err
	}

	loader, ok := loaders[modelType]
	if !ok {
		return nil, fmt.Errorf("%w: no loader for model type %q", ErrArtifactLoad, modelType)
	}

	return loader(workDir)
}

// ParseRequest decodes the raw request body. Only JSON bodies with a "text"
// field are recognized; an empty content type defaults to JSON since that is
// what every known caller sends.
func ParseRequest(raw []byte, contentType string) (ParsedInput, error) {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return ParsedInput{}, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
		}
		if mediaType != "application/json" {
			return ParsedInput{}, fmt.Errorf("%w: %q", ErrUnsupportedContentType, mediaType)
		}
	}

	var req api.PredictRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return ParsedInput{}, fmt.Errorf("unable to parse request body: %w", err)
	}

	if strings.TrimSpace(req.Text) == "" {
		return ParsedInput{}, ErrEmptyInput
	}

	return ParsedInput{Text: req.Text, Parameters: req.Parameters}, nil
}

func Predict(ctx context.Context, model Model, input ParsedInput) (Prediction, error) {
	return model.Predict(ctx, input.Text)
}

// SerializeResponse renders a prediction for the requested accept type. It
// also enforces the label-set invariant: a prediction outside the category
// set never reaches the caller.
func SerializeResponse(out Prediction, acceptType string) ([]byte, error) {
	if !acceptsJSON(acceptType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAcceptType, acceptType)
	}

	if _, err := ParseCategory(string(out.Label)); err != nil {
		return nil, fmt.Errorf("model produced label outside the category set: %w", err)
	}

	data, err := json.Marshal(api.PredictResponse{Label: string(out.Label), Score: out.Score})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize prediction: %w", err)
	}
	return data, nil
}

func acceptsJSON(acceptType string) bool {
	if acceptType == "" {
		return true
	}
	for _, part := range strings.Split(acceptType, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if mediaType == "application/json" || mediaType == "*/*" || mediaType == "application/*" {
			return true
		}
	}
	return false
}

// ReadArtifactModelType reads the model type from an unpacked artifact's
// config without loading the model.
func ReadArtifactModelType(dir string) (ModelType, error) {
	data, err := readFileInDir(dir, configFilename)
	if err != nil {
		return "", fmt.Errorf("%w: reading config: %v", ErrArtifactLoad, err)
	}

	var cfg artifactConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("%w: malformed config: %v", ErrArtifactLoad, err)
	}
	return ModelType(cfg.ModelType), nil
}
