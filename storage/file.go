package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/heirloomvault/custody-backend/interfaces"
)

// FileBackend implements a blob store on the local file system. Blob paths
// map directly onto files under the base directory; writes go through a
// temp file and rename so a crashed write never leaves a partial blob.
type FileBackend struct {
	baseDir string
	log     *slog.Logger
}

// NewFileBackend creates a file blob store rooted at baseDir, creating the
// directory if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileBackend{baseDir: baseDir, log: log}, nil
}

// resolve maps a blob path onto the filesystem and rejects traversal
// outside the base directory.
func (b *FileBackend) resolve(blobPath string) (string, error) {
	cleaned := filepath.Clean("/" + blobPath)
	full := filepath.Join(b.baseDir, cleaned)
	if !strings.HasPrefix(full, filepath.Clean(b.baseDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid blob path: %s", blobPath)
	}
	return full, nil
}

func (b *FileBackend) Put(ctx context.Context, blobPath string, data []byte) error {
	start := time.Now()
	full, err := b.resolve(blobPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".blob-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to finalize blob: %w", err)
	}

	b.log.Debug("Stored blob",
		slog.String("path", blobPath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (b *FileBackend) Get(ctx context.Context, blobPath string) ([]byte, error) {
	full, err := b.resolve(blobPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (b *FileBackend) Delete(ctx context.Context, blobPath string) error {
	full, err := b.resolve(blobPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (b *FileBackend) Stat(ctx context.Context, blobPath string) (interfaces.BlobInfo, error) {
	full, err := b.resolve(blobPath)
	if err != nil {
		return interfaces.BlobInfo{}, err
	}
	fi, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return interfaces.BlobInfo{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.BlobInfo{}, fmt.Errorf("failed to stat blob: %w", err)
	}
	return interfaces.BlobInfo{
		Path:    blobPath,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}, nil
}

func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	return err == nil
}

func (b *FileBackend) Name() string {
	return fmt.Sprintf("file://%s", b.baseDir)
}
