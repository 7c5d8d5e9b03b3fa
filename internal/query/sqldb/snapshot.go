package sqldb

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/duckmesh/askdb/internal/storage"
)

// FetchSnapshot downloads a database file from the object store into a new
// temporary directory. The returned cleanup removes it.
func FetchSnapshot(ctx context.Context, store storage.ObjectStore, key string) (string, func(), error) {
	if store == nil {
		return "", nil, fmt.Errorf("object store is required")
	}
	if _, err := store.Stat(ctx, key); err != nil {
		return "", nil, fmt.Errorf("stat snapshot %q: %w", key, err)
	}
	dir, err := os.MkdirTemp("", "askdb-snapshot-")
	if err != nil {
		return "", nil, fmt.Errorf("create snapshot temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	localPath, err := storage.Download(ctx, store, key, dir, path.Base(key))
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("download snapshot %q: %w", key, err)
	}
	return localPath, cleanup, nil
}
