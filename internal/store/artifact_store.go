package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrArtifactNotFound      = errors.New("artifact not found")
	ErrInvalidArtifactPath   = errors.New("invalid artifact path")
	ErrArtifactPathTraversal = errors.New("artifact path outside allowed root")
)

// Artifact is an open build output. Callers must Close it.
type Artifact struct {
	io.ReadCloser
	Name string
	Size int64
}

// ArtifactStore opens build outputs named by the CI job's properties file.
type ArtifactStore interface {
	Open(ctx context.Context, path string) (*Artifact, error)
}

// LocalArtifactStore reads artifacts from the filesystem shared with the CI agent.
// With a root directory set, only paths under it may be opened.
type LocalArtifactStore struct {
	rootDir string
}

// NewLocalArtifactStore creates a LocalArtifactStore. An empty rootDir allows any
// absolute path.
func NewLocalArtifactStore(rootDir string) (*LocalArtifactStore, error) {
	if rootDir == "" {
		return &LocalArtifactStore{}, nil
	}
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving artifact root: %w", err)
	}
	return &LocalArtifactStore{rootDir: abs}, nil
}

func (s *LocalArtifactStore) Open(ctx context.Context, path string) (*Artifact, error) {
	fullPath, err := s.validatePath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("opening artifact: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrArtifactNotFound
	}

	return &Artifact{ReadCloser: f, Name: filepath.Base(fullPath), Size: info.Size()}, nil
}

// validatePath returns the cleaned absolute path, or an error when it escapes the root.
func (s *LocalArtifactStore) validatePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrInvalidArtifactPath
	}

	if s.rootDir == "" {
		if !filepath.IsAbs(path) {
			return "", ErrInvalidArtifactPath
		}
		return filepath.Clean(path), nil
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(s.rootDir, path)
	}
	cleaned := filepath.Clean(path)

	rel, err := filepath.Rel(s.rootDir, cleaned)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrArtifactPathTraversal
	}
	return cleaned, nil
}
