package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildSnapshotKey names an uploaded database file, e.g.
// snapshots/northwind/2026-02-19T09-05-00Z.db.
func BuildSnapshotKey(name string, createdAt time.Time) (string, error) {
	if err := validatePathComponent(name, "snapshot name"); err != nil {
		return "", err
	}
	ts := createdAt.UTC()
	return path.Join(
		"snapshots",
		name,
		fmt.Sprintf("%04d-%02d-%02dT%02d-%02d-%02dZ.db", ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second()),
	), nil
}

// ResolveKeys expands keyOrPrefix into object keys. A value ending in "/" is
// treated as a prefix and expanded to every object below it whose key ends
// with suffix, in lexical order.
func ResolveKeys(ctx context.Context, store ObjectStore, keyOrPrefix, suffix string) ([]string, error) {
	keyOrPrefix = strings.TrimSpace(keyOrPrefix)
	if keyOrPrefix == "" {
		return nil, fmt.Errorf("object key is required")
	}
	if !strings.HasSuffix(keyOrPrefix, "/") {
		return []string{keyOrPrefix}, nil
	}
	objects, err := store.List(ctx, keyOrPrefix)
	if err != nil {
		return nil, fmt.Errorf("list prefix %q: %w", keyOrPrefix, err)
	}
	keys := make([]string, 0, len(objects))
	for _, object := range objects {
		if suffix == "" || strings.HasSuffix(object.Key, suffix) {
			keys = append(keys, object.Key)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("prefix %q: %w", keyOrPrefix, ErrObjectNotFound)
	}
	sort.Strings(keys)
	return keys, nil
}

// Download copies the object at key into a new file named name inside dir and
// returns the local path.
func Download(ctx context.Context, store ObjectStore, key, dir, name string) (string, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer func() { _ = reader.Close() }()

	localPath := filepath.Join(dir, sanitizeFileComponent(name))
	if err := writeFile(localPath, reader); err != nil {
		return "", fmt.Errorf("write local copy of %q: %w", key, err)
	}
	return localPath, nil
}

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "object"
	}
	return value
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
