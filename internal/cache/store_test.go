package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	artifact := "com/acme/widget/1.0/widget-1.0.jar"

	modTime := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	payload := []byte("payload")
	if _, err := store.Put(context.Background(), artifact, bytes.NewReader(payload), PutOptions{ModTime: modTime}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), artifact)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "com/acme/missing/1.0/missing-1.0.jar")
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStorePutEmptyBody(t *testing.T) {
	store := newTestStore(t)
	artifact := "com/acme/empty/1.0/empty-1.0.jar"

	entry, err := store.Put(context.Background(), artifact, bytes.NewReader(nil), PutOptions{})
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	if entry.SizeBytes != 0 {
		t.Fatalf("expected zero-length entry, got %d", entry.SizeBytes)
	}

	result, err := store.Get(context.Background(), artifact)
	if err != nil {
		t.Fatalf("zero-length artifact should be a valid hit: %v", err)
	}
	result.Reader.Close()
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	artifact := "com/acme/gone/1.0/gone-1.0.pom"
	if _, err := store.Put(context.Background(), artifact, bytes.NewReader([]byte("data")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), artifact); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), artifact); err == nil || err != ErrNotFound {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	artifact := "com/acme"

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	filePath, err := fs.entryPath(artifact)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filePath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), artifact); err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreRejectsEscapingPath(t *testing.T) {
	store := newTestStore(t)
	for _, artifact := range []string{"", ".", "../../etc/passwd"} {
		if _, err := store.Get(context.Background(), artifact); err == nil || err == ErrNotFound {
			t.Fatalf("path %q should be rejected outright, got %v", artifact, err)
		}
	}
}

func TestStorePutFailureLeavesNoPartialFile(t *testing.T) {
	store := newTestStore(t)
	artifact := "com/acme/broken/1.0/broken-1.0.jar"

	body := io.MultiReader(strings.NewReader("partial"), failingReader{})
	_, err := store.Put(context.Background(), artifact, body, PutOptions{})
	if err == nil {
		t.Fatal("expected put failure")
	}
	// 读侧错误原样透出，不得伪装成磁盘故障。
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		t.Fatalf("reader failure must not be classified as StorageError: %v", err)
	}

	if _, err := store.Get(context.Background(), artifact); err != ErrNotFound {
		t.Fatalf("no entry should be visible after failed put, got %v", err)
	}

	fs := store.(*fileStore)
	dir := filepath.Join(fs.basePath, "com", "acme", "broken", "1.0")
	entries, readErr := os.ReadDir(dir)
	if readErr != nil && !os.IsNotExist(readErr) {
		t.Fatalf("read dir error: %v", readErr)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".mvn-") {
			t.Fatalf("temp file %s should have been cleaned up", entry.Name())
		}
	}
}

func TestStorePutReplacesExistingEntry(t *testing.T) {
	store := newTestStore(t)
	artifact := "com/acme/widget/1.0/widget-1.0.jar"

	if _, err := store.Put(context.Background(), artifact, bytes.NewReader([]byte("v1")), PutOptions{}); err != nil {
		t.Fatalf("first put error: %v", err)
	}
	if _, err := store.Put(context.Background(), artifact, bytes.NewReader([]byte("version-2")), PutOptions{}); err != nil {
		t.Fatalf("second put error: %v", err)
	}

	result, err := store.Get(context.Background(), artifact)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()
	body, _ := io.ReadAll(result.Reader)
	if string(body) != "version-2" {
		t.Fatalf("entry should be replaced wholesale, got %s", string(body))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("upstream interrupted")
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
