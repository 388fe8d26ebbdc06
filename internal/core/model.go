package core

import (
	"context"
	"path/filepath"
)

type ModelType string

const (
	NaiveBayes ModelType = "naive_bayes"
	Onnx       ModelType = "onnx"
)

func ParseModelType(s string) ModelType {
	switch s {
	case string(Onnx):
		return Onnx
	default:
		return NaiveBayes
	}
}

type Prediction struct {
	Label Category
	Score float64
}

type Sample struct {
	Text  string
	Label Category
}

type Model interface {
	Predict(ctx context.Context, text string) (Prediction, error)

	Release()
}

type ModelLoader func(modelDir string) (Model, error)

func NewModelLoaders() map[ModelType]ModelLoader {
	return map[ModelType]ModelLoader{
		NaiveBayes: func(modelDir string) (Model, error) {
			return LoadNaiveBayesModel(modelDir)
		},
		Onnx: func(modelDir string) (Model, error) {
			return LoadOnnxModel(filepath.Clean(modelDir))
		},
	}
}
