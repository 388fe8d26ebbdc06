package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	onnxModelFilename = "model.onnx"
	tokenizerFilename = "tokenizer.json"
)

// InitOnnxRuntime points the onnxruntime bindings at the shared library and
// initializes the runtime environment. Must be called once per process before
// any onnx artifact is loaded.
func InitOnnxRuntime(dylibPath string) error {
	ort.SetSharedLibraryPath(dylibPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initializing onnx runtime: %w", err)
	}
	return nil
}

func ShutdownOnnxRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// OnnxClassifier serves a pre-built transformer classifier exported to ONNX.
// The artifact carries the exported graph and the tokenizer config alongside
// the usual config.json. Training is not supported for this model type; the
// artifact is produced offline.
type OnnxClassifier struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer
}

func LoadOnnxModel(modelDir string) (Model, error) {
	if err := validateArtifactConfig(modelDir, Onnx); err != nil {
		return nil, err
	}

	if !ort.IsInitialized() {
		return nil, fmt.Errorf("%w: onnx runtime not initialized, set ONNX_RUNTIME_DYLIB", ErrArtifactLoad)
	}

	modelPath := filepath.Join(modelDir, onnxModelFilename)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: missing %s: %v", ErrArtifactLoad, onnxModelFilename, err)
	}

	tk, err := tokenizers.FromFile(filepath.Join(modelDir, tokenizerFilename))
	if err != nil {
		return nil, fmt.Errorf("%w: tokenizer load: %v", ErrArtifactLoad, err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input_ids"},
		[]string{"logits"},
		nil,
	)
	if err != nil {
		tk.Close()
		return nil, fmt.Errorf("%w: creating onnx session: %v", ErrArtifactLoad, err)
	}

	return &OnnxClassifier{session: session, tokenizer: tk}, nil
}

func (m *OnnxClassifier) Predict(ctx context.Context, text string) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	enc := m.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAllAttributes())
	if len(enc.IDs) == 0 {
		return Prediction{}, ErrEmptyInput
	}

	ids := make([]int64, len(enc.IDs))
	for i, v := range enc.IDs {
		ids[i] = int64(v)
	}

	numLabels := int64(len(Categories()))

	inT, err := ort.NewTensor(ort.NewShape(1, int64(len(ids))), ids)
	if err != nil {
		return Prediction{}, err
	}
	defer inT.Destroy()

	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, numLabels))
	if err != nil {
		return Prediction{}, err
	}
	defer outT.Destroy()

	if err := m.session.Run([]ort.Value{inT}, []ort.Value{outT}); err != nil {
		return Prediction{}, fmt.Errorf("onnx session run error: %w", err)
	}

	logits := outT.GetData()
	scores := make([]float64, numLabels)
	for i := range scores {
		scores[i] = float64(logits[i])
	}

	best := 0
	for i, score := range scores {
		if score > scores[best] {
			best = i
		}
	}

	return Prediction{
		Label: Categories()[best],
		Score: softmax(scores, best),
	}, nil
}

func (m *OnnxClassifier) Release() {
	m.session.Destroy()
	m.tokenizer.Close()
}
