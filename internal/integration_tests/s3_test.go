//go:build integration
// +build integration

package integrationtests

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucketName = "test-bucket"

func TestS3ObjectStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store := setupTestObjectStore(t, ctx)
	require.NoError(t, store.CreateBucket(ctx, bucketName))

	// Creating an existing bucket must be a no-op.
	require.NoError(t, store.CreateBucket(ctx, bucketName))

	t.Run("PutAndGet", func(t *testing.T) {
		require.NoError(t, store.PutObject(ctx, bucketName, "news-v1/train.csv", strings.NewReader("text,category\n")))

		obj, err := store.GetObject(ctx, bucketName, "news-v1/train.csv")
		require.NoError(t, err)
		defer obj.Close()

		data, err := io.ReadAll(obj)
		require.NoError(t, err)
		assert.Equal(t, "text,category\n", string(data))
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetObject(ctx, bucketName, "absent/key")
		assert.Error(t, err)
	})

	t.Run("Download", func(t *testing.T) {
		require.NoError(t, store.PutObject(ctx, bucketName, "artifacts/model.tar.gz", strings.NewReader("artifact bytes")))

		dest := filepath.Join(t.TempDir(), "model.tar.gz")
		require.NoError(t, store.DownloadObject(ctx, bucketName, "artifacts/model.tar.gz", dest))

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "artifact bytes", string(data))
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		for _, key := range []string{"listing/a.json", "listing/b.json", "other/c.json"} {
			require.NoError(t, store.PutObject(ctx, bucketName, key, strings.NewReader("{}")))
		}

		objects, err := store.ListObjects(ctx, bucketName, "listing/")
		require.NoError(t, err)
		require.Len(t, objects, 2)
		assert.Equal(t, "listing/a.json", objects[0].Name)

		require.NoError(t, store.DeleteObjects(ctx, bucketName, "listing/"))

		objects, err = store.ListObjects(ctx, bucketName, "listing/")
		require.NoError(t, err)
		assert.Empty(t, objects)
	})
}
