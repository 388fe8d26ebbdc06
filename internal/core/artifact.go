package core

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactName is the filename of a packaged model in object storage.
const ArtifactName = "model.tar.gz"

// PackArtifact writes every regular file in srcDir into a tar.gz at dest.
// The layout is flat; model directories never nest.
func PackArtifact(srcDir, dest string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("failed to read model directory %s: %w", srcDir, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create artifact %s: %w", dest, err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}

		header := &tar.Header{
			Name: entry.Name(),
			Mode: 0644,
			Size: info.Size(),
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", entry.Name(), err)
		}

		file, err := os.Open(filepath.Join(srcDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", entry.Name(), err)
		}
		if _, err := io.Copy(tw, file); err != nil {
			file.Close()
			return fmt.Errorf("failed to archive %s: %w", entry.Name(), err)
		}
		file.Close()
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize artifact: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize artifact: %w", err)
	}
	return nil
}

// UnpackArtifact extracts a model.tar.gz into destDir. A missing or corrupt
// archive wraps ErrArtifactLoad so the caller can distinguish a bad artifact
// from an infrastructure failure.
func UnpackArtifact(src, destDir string) error {
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrArtifactLoad, src, err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("%w: %s is not a gzip archive: %v", ErrArtifactLoad, src, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", destDir, err)
	}

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: malformed archive %s: %v", ErrArtifactLoad, src, err)
		}

		name := filepath.Base(header.Name)
		if name == "." || name == ".." || strings.Contains(header.Name, "..") {
			return fmt.Errorf("%w: archive entry %q escapes the model directory", ErrArtifactLoad, header.Name)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		out, err := os.Create(filepath.Join(destDir, name))
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("%w: extracting %s: %v", ErrArtifactLoad, name, err)
		}
		out.Close()
	}
}

func readFileInDir(dir, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(dir, name))
}
