// Package storage keeps the raw bytes of submitted reports on disk, addressed by
// their content hash.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"smr/internal/utils"
)

// ErrTooLarge is returned by Stage when the stream exceeds the size limit
var ErrTooLarge = errors.New("file exceeds the maximum upload size")

const stagingDir = ".staging"

// StagedFile is a fully received upload that has not been committed yet
type StagedFile struct {
	TempPath string
	Hash     string
	Size     int64
}

// ArtifactStore persists report files
type ArtifactStore interface {
	// Stage copies r to a temporary file while hashing it. At most maxBytes are accepted.
	Stage(ctx context.Context, r io.Reader, maxBytes int64) (*StagedFile, error)
	// PathFor returns the location a committed file with this hash will have
	PathFor(hash, ext string) string
	// Commit moves a staged file to its content-addressed location and returns that path
	Commit(staged *StagedFile, ext string) (string, error)
	// Discard removes a staged file that will not be committed
	Discard(staged *StagedFile)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
}

// FSStore is an ArtifactStore on the local filesystem
type FSStore struct {
	root string
}

// NewFSStore creates the root and staging directories when missing
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(root, stagingDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Root returns the storage root directory
func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) Stage(ctx context.Context, r io.Reader, maxBytes int64) (*StagedFile, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, stagingDir), "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	hw := utils.NewHashingWriter(tmp)
	_, copyErr := io.Copy(hw, &ctxReader{ctx: ctx, r: io.LimitReader(r, maxBytes+1)})
	closeErr := tmp.Close()

	staged := &StagedFile{TempPath: tmp.Name(), Hash: hw.Sum(), Size: hw.Size()}
	switch {
	case copyErr != nil:
		s.Discard(staged)
		return nil, fmt.Errorf("failed to receive upload: %w", copyErr)
	case closeErr != nil:
		s.Discard(staged)
		return nil, fmt.Errorf("failed to write staging file: %w", closeErr)
	case staged.Size > maxBytes:
		s.Discard(staged)
		return nil, ErrTooLarge
	}
	return staged, nil
}

func (s *FSStore) PathFor(hash, ext string) string {
	prefix := hash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.root, prefix, hash+"."+ext)
}

func (s *FSStore) Commit(staged *StagedFile, ext string) (string, error) {
	dest := s.PathFor(staged.Hash, ext)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.Rename(staged.TempPath, dest); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return dest, nil
}

func (s *FSStore) Discard(staged *StagedFile) {
	if staged == nil {
		return
	}
	_ = os.Remove(staged.TempPath)
}

func (s *FSStore) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (s *FSStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
