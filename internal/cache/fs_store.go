package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一路径并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, artifactPath string) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(artifactPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, newStorageError("stat", err)
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, newStorageError("open", err)
	}

	entry := Entry{
		Path:      artifactPath,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}

	return &ReadResult{
		Entry:  entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, artifactPath string, body io.Reader, opts PutOptions) (*Entry, error) {
	unlock := s.lockEntry(artifactPath)
	defer unlock()

	filePath, err := s.entryPath(artifactPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, newStorageError("mkdir", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".mvn-*")
	if err != nil {
		return nil, newStorageError("create temp", err)
	}
	tempName := tempFile.Name()

	// 写侧错误会被包装为 StorageError，读侧（回源流中断）错误原样透出，
	// 以便上层做正确的失败分类。
	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil && closeErr != nil {
		err = newStorageError("close temp", closeErr)
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, newStorageError("publish", err)
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := os.Chtimes(filePath, modTime, modTime); err != nil {
		return nil, newStorageError("chtimes", err)
	}

	entry := Entry{
		Path:      artifactPath,
		FilePath:  filePath,
		SizeBytes: written,
		ModTime:   modTime,
	}
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, artifactPath string) error {
	unlock := s.lockEntry(artifactPath)
	defer unlock()

	filePath, err := s.entryPath(artifactPath)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return newStorageError("remove", err)
	}
	return nil
}

func (s *fileStore) lockEntry(artifactPath string) func() {
	s.mu.Lock()
	lock := s.locks[artifactPath]
	if lock == nil {
		lock = &entryLock{}
		s.locks[artifactPath] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, artifactPath)
		}
		s.mu.Unlock()
	}
}

// entryPath 是最后一道越界防线；正常情况下 pipeline 已拒绝遍历路径。
func (s *fileStore) entryPath(artifactPath string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+artifactPath), "/")
	if rel == "" || rel == "." {
		return "", errors.New("empty cache path")
	}

	filePath := filepath.Join(s.basePath, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, newStorageError("write temp", wErr)
			}
			if w < n {
				return copied, newStorageError("write temp", io.ErrShortWrite)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
