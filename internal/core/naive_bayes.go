package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

const (
	configFilename  = "config.json"
	weightsFilename = "weights.json"
)

type artifactConfig struct {
	ModelType string   `json:"model_type"`
	Labels    []string `json:"labels"`
}

// NaiveBayesModel is a multinomial naive-Bayes text classifier over the fixed
// category set. All weights are log probabilities, so Predict is a pure
// lookup-and-sum and is deterministic for a given artifact and input.
type NaiveBayesModel struct {
	Priors    map[Category]float64            `json:"priors"`
	TokenLogs map[string]map[Category]float64 `json:"token_logs"`
	Unseen    map[Category]float64            `json:"unseen"`
}

func TrainNaiveBayes(samples []Sample) (*NaiveBayesModel, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot train on empty sample set")
	}

	docCounts := make(map[Category]int)
	tokenCounts := make(map[Category]map[string]int)
	totalTokens := make(map[Category]int)
	vocab := make(map[string]struct{})

	for _, c := range Categories() {
		tokenCounts[c] = make(map[string]int)
	}

	for _, sample := range samples {
		if _, err := ParseCategory(string(sample.Label)); err != nil {
			return nil, fmt.Errorf("invalid training sample: %w", err)
		}
		docCounts[sample.Label]++
		for _, token := range TokenizeText(sample.Text) {
			tokenCounts[sample.Label][token]++
			totalTokens[sample.Label]++
			vocab[token] = struct{}{}
		}
	}

	model := &NaiveBayesModel{
		Priors:    make(map[Category]float64),
		TokenLogs: make(map[string]map[Category]float64),
		Unseen:    make(map[Category]float64),
	}

	vocabSize := float64(len(vocab))
	for _, c := range Categories() {
		// Add-one smoothing on both priors and likelihoods so categories
		// absent from a small training set still get finite log probs.
		model.Priors[c] = math.Log(float64(docCounts[c]+1) / float64(len(samples)+len(Categories())))
		denom := float64(totalTokens[c]) + vocabSize
		model.Unseen[c] = math.Log(1.0 / denom)
	}

	for token := range vocab {
		logs := make(map[Category]float64, len(Categories()))
		for _, c := range Categories() {
			denom := float64(totalTokens[c]) + vocabSize
			logs[c] = math.Log(float64(tokenCounts[c][token]+1) / denom)
		}
		model.TokenLogs[token] = logs
	}

	return model, nil
}

func (m *NaiveBayesModel) Predict(ctx context.Context, text string) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	tokens := TokenizeText(text)

	scores := make([]float64, len(Categories()))
	for i, c := range Categories() {
		score := m.Priors[c]
		for _, token := range tokens {
			if logs, ok := m.TokenLogs[token]; ok {
				score += logs[c]
			} else {
				score += m.Unseen[c]
			}
		}
		scores[i] = score
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

func (m *NaiveBayesModel) Release() {}

// softmax returns the normalized probability of scores[target], shifted by the
// max for numerical stability.
func softmax(scores []float64, target int) float64 {
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}

	var total float64
	for _, s := range scores {
		total += math.Exp(s - maxScore)
	}
	return math.Exp(scores[target]-maxScore) / total
}

// Save writes the artifact layout consumed by LoadModel: a config.json naming
// the model type and label set, and a weights.json with the log probabilities.
func (m *NaiveBayesModel) Save(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create model directory %s: %w", dir, err)
	}

	cfg := artifactConfig{ModelType: string(NaiveBayes)}
	for _, c := range Categories() {
		cfg.Labels = append(cfg.Labels, string(c))
	}

	if err := writeJSONFile(filepath.Join(dir, configFilename), cfg); err != nil {
		return err
	}
	return writeJSONFile(filepath.Join(dir, weightsFilename), m)
}

func LoadNaiveBayesModel(dir string) (Model, error) {
	if err := validateArtifactConfig(dir, NaiveBayes); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, weightsFilename))
	if err != nil {
		return nil, fmt.Errorf("%w: reading weights: %v", ErrArtifactLoad, err)
	}

	var model NaiveBayesModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("%w: malformed weights: %v", ErrArtifactLoad, err)
	}

	if len(model.Priors) != len(Categories()) {
		return nil, fmt.Errorf("%w: weights cover %d labels, expected %d", ErrArtifactLoad, len(model.Priors), len(Categories()))
	}

	return &model, nil
}

func validateArtifactConfig(dir string, expected ModelType) error {
	data, err := os.ReadFile(filepath.Join(dir, configFilename))
	if err != nil {
		return fmt.Errorf("%w: reading config: %v", ErrArtifactLoad, err)
	}

	var cfg artifactConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("%w: malformed config: %v", ErrArtifactLoad, err)
	}

	if cfg.ModelType != string(expected) {
		return fmt.Errorf("%w: artifact is %q, loader expects %q", ErrArtifactLoad, cfg.ModelType, expected)
	}

	if len(cfg.Labels) != len(Categories()) {
		return fmt.Errorf("%w: artifact has %d labels, expected %d", ErrArtifactLoad, len(cfg.Labels), len(Categories()))
	}
	for i, c := range Categories() {
		if cfg.Labels[i] != string(c) {
			return fmt.Errorf("%w: artifact label %q does not match %q", ErrArtifactLoad, cfg.Labels[i], c)
		}
	}

	return nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
