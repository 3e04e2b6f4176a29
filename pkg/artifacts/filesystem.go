package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// FilesystemStorage stores archives under a local root directory
type FilesystemStorage struct {
	rootDir string
	baseURL string
	logger  *logrus.Logger
}

// NewFilesystemStorage creates a filesystem-backed archive store
func NewFilesystemStorage(rootDir, baseURL string, logger *logrus.Logger) (*FilesystemStorage, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts root: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &FilesystemStorage{
		rootDir: rootDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}, nil
}

// path resolves a key inside the root, rejecting traversal attempts
func (s *FilesystemStorage) path(key string) (string, error) {
	cleaned := filepath.Clean("/" + key)
	full := filepath.Join(s.rootDir, cleaned)
	if !strings.HasPrefix(full, s.rootDir) {
		return "", fmt.Errorf("invalid artifact key: %s", key)
	}
	return full, nil
}

// Store implements Storage
func (s *FilesystemStorage) Store(ctx context.Context, key string, data []byte) (string, error) {
	full, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"key":  key,
		"size": len(data),
	}).Info("artifact stored")

	cleaned := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+key)), "/")
	return s.baseURL + "/" + cleaned, nil
}

// Get implements Storage
func (s *FilesystemStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, nil
}

// Exists implements Storage
func (s *FilesystemStorage) Exists(ctx context.Context, key string) (bool, error) {
	full, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return true, nil
}

// Delete implements Storage
func (s *FilesystemStorage) Delete(ctx context.Context, key string) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	s.logger.WithField("key", key).Info("artifact deleted")
	return nil
}
