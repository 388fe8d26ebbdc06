// Package batch defines the archive format exchanged by batch classification
// jobs. An input archive is a gzipped tarball with one JSON document per
// entry; the output archive mirrors it, with each result carrying the id of
// the document it was produced from.
package batch

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
)

type Document struct {
	Id   string `json:"id"`
	Text string `json:"text"`
}

type Result struct {
	Id    string  `json:"id"`
	Text  string  `json:"text"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func writeArchive(w io.Writer, names []string, payloads [][]byte) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for i, name := range names {
		hdr := &tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(payloads[i])),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write archive header for %s: %w", name, err)
		}
		if _, err := tw.Write(payloads[i]); err != nil {
			return fmt.Errorf("failed to write archive entry %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return gz.Close()
}

func PackDocuments(w io.Writer, docs []Document) error {
	names := make([]string, len(docs))
	payloads := make([][]byte, len(docs))
	for i, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal document %s: %w", doc.Id, err)
		}
		names[i] = doc.Id + ".json"
		payloads[i] = data
	}
	return writeArchive(w, names, payloads)
}

func PackResults(w io.Writer, results []Result) error {
	names := make([]string, len(results))
	payloads := make([][]byte, len(results))
	for i, res := range results {
		data, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("failed to marshal result %s: %w", res.Id, err)
		}
		names[i] = res.Id + ".json"
		payloads[i] = data
	}
	return writeArchive(w, names, payloads)
}

func readArchive(r io.Reader, entry func(name string, data []byte) error) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Base(hdr.Name)
		if !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("failed to read archive entry %s: %w", hdr.Name, err)
		}

		if err := entry(name, data); err != nil {
			return err
		}
	}
}

// UnpackDocuments reads an input archive. Documents missing an id take one
// from the entry filename so that results can still be matched back.
func UnpackDocuments(r io.Reader) ([]Document, error) {
	var docs []Document
	err := readArchive(r, func(name string, data []byte) error {
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse document %s: %w", name, err)
		}
		if doc.Id == "" {
			doc.Id = strings.TrimSuffix(name, ".json")
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func UnpackResults(r io.Reader) ([]Result, error) {
	var results []Result
	err := readArchive(r, func(name string, data []byte) error {
		var res Result
		if err := json.Unmarshal(data, &res); err != nil {
			return fmt.Errorf("failed to parse result %s: %w", name, err)
		}
		results = append(results, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
