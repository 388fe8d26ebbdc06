// Package dataset turns a raw labeled headline CSV into cleaned train/test
// partitions in object storage. The partition layout written by Prepare is
// what the training worker reads back.
package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path"
	"strings"

	"headline-backend/internal/core"
	"headline-backend/internal/storage"

	"gopkg.in/yaml.v2"
)

const (
	TrainFile    = "train.csv"
	TestFile     = "test.csv"
	ManifestFile = "manifest.yaml"
)

type Manifest struct {
	TextColumn   string  `yaml:"text_column"`
	LabelColumn  string  `yaml:"label_column"`
	TestFraction float64 `yaml:"test_fraction"`
	Seed         int64   `yaml:"seed"`
}

func DefaultManifest() Manifest {
	return Manifest{
		TextColumn:   "text",
		LabelColumn:  "category",
		TestFraction: 0.1,
		Seed:         42,
	}
}

func (m Manifest) validate() error {
	if m.TextColumn == "" || m.LabelColumn == "" {
		return errors.New("manifest must name both a text column and a label column")
	}
	if m.TestFraction < 0 || m.TestFraction >= 1 {
		return fmt.Errorf("test fraction %v must be in [0, 1)", m.TestFraction)
	}
	return nil
}

// ReadRecords parses a raw CSV and returns the usable samples. Rows with an
// empty headline or a label outside the known category set are dropped, not
// treated as errors; the dropped count is reported back to the caller.
func ReadRecords(r io.Reader, manifest Manifest) ([]core.Sample, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read csv header: %w", err)
	}

	textIdx, labelIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case manifest.TextColumn:
			textIdx = i
		case manifest.LabelColumn:
			labelIdx = i
		}
	}
	if textIdx < 0 {
		return nil, 0, fmt.Errorf("csv is missing text column %q", manifest.TextColumn)
	}
	if labelIdx < 0 {
		return nil, 0, fmt.Errorf("csv is missing label column %q", manifest.LabelColumn)
	}

	var samples []core.Sample
	dropped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read csv row: %w", err)
		}
		if textIdx >= len(row) || labelIdx >= len(row) {
			dropped++
			continue
		}

		text := strings.Join(strings.Fields(row[textIdx]), " ")
		if text == "" {
			dropped++
			continue
		}

		label, err := core.ParseCategory(strings.TrimSpace(row[labelIdx]))
		if err != nil {
			dropped++
			continue
		}

		samples = append(samples, core.Sample{Text: text, Label: label})
	}

	return samples, dropped, nil
}

// Split partitions samples into train and test sets. The shuffle is seeded so
// that the same manifest always yields the same partitions.
func Split(samples []core.Sample, manifest Manifest) ([]core.Sample, []core.Sample) {
	shuffled := make([]core.Sample, len(samples))
	copy(shuffled, samples)

	rng := rand.New(rand.NewSource(manifest.Seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	testCount := int(float64(len(shuffled)) * manifest.TestFraction)
	return shuffled[testCount:], shuffled[:testCount]
}

func WriteCSV(w io.Writer, manifest Manifest, samples []core.Sample) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{manifest.TextColumn, manifest.LabelColumn}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, sample := range samples {
		if err := writer.Write([]string{sample.Text, string(sample.Label)}); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

type PrepareResult struct {
	DatasetPath string
	TrainCount  int
	TestCount   int
	Dropped     int
}

// Prepare cleans and splits the raw CSV and uploads train.csv, test.csv and
// the manifest under bucket/prefix. The returned dataset path is what the
// training request references.
func Prepare(ctx context.Context, store storage.ObjectStore, bucket, prefix string, raw io.Reader, manifest Manifest) (PrepareResult, error) {
	if err := manifest.validate(); err != nil {
		return PrepareResult{}, err
	}

	samples, dropped, err := ReadRecords(raw, manifest)
	if err != nil {
		return PrepareResult{}, err
	}
	if len(samples) == 0 {
		return PrepareResult{}, errors.New("no usable samples in dataset")
	}

	train, test := Split(samples, manifest)

	partitions := map[string][]core.Sample{
		TrainFile: train,
		TestFile:  test,
	}
	for name, part := range partitions {
		var buf bytes.Buffer
		if err := WriteCSV(&buf, manifest, part); err != nil {
			return PrepareResult{}, err
		}
		if err := store.PutObject(ctx, bucket, path.Join(prefix, name), &buf); err != nil {
			return PrepareResult{}, err
		}
	}

	manifestData, err := yaml.Marshal(manifest)
	if err != nil {
		return PrepareResult{}, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := store.PutObject(ctx, bucket, path.Join(prefix, ManifestFile), bytes.NewReader(manifestData)); err != nil {
		return PrepareResult{}, err
	}

	return PrepareResult{
		DatasetPath: fmt.Sprintf("s3://%s/%s", bucket, prefix),
		TrainCount:  len(train),
		TestCount:   len(test),
		Dropped:     dropped,
	}, nil
}

// ReadSamples loads a prepared partition back from object storage.
func ReadSamples(ctx context.Context, store storage.ObjectStore, bucket, prefix, name string) ([]core.Sample, error) {
	obj, err := store.GetObject(ctx, bucket, path.Join(prefix, name))
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	manifest, err := ReadManifest(ctx, store, bucket, prefix)
	if err != nil {
		return nil, err
	}

	samples, _, err := ReadRecords(obj, manifest)
	return samples, err
}

func ReadManifest(ctx context.Context, store storage.ObjectStore, bucket, prefix string) (Manifest, error) {
	obj, err := store.GetObject(ctx, bucket, path.Join(prefix, ManifestFile))
	if err != nil {
		return Manifest{}, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	manifest := DefaultManifest()
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return manifest, nil
}
