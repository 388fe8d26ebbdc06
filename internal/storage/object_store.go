package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

type Object struct {
	Name string
	Size int64
}

type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	DownloadObject(ctx context.Context, bucket, key, filename string) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	DeleteObjects(ctx context.Context, bucket, prefix string) error
}

// ParsePath splits an object path of the form "s3://bucket/key" or
// "bucket/key" into its bucket and key parts.
func ParsePath(path string) (string, string, error) {
	trimmed := strings.TrimPrefix(path, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid object path %q, expected bucket/key", path)
	}
	return parts[0], parts[1], nil
}
