package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrObjectNotFound is returned when a storage path does not exist
var ErrObjectNotFound = errors.New("object not found")

// Storage is a read/write blob store holding corpus files
type Storage interface {
	// Download opens the object at storagePath for reading
	Download(ctx context.Context, storagePath string) (io.ReadCloser, error)

	// Upload writes data to storagePath, replacing any existing object
	Upload(ctx context.Context, storagePath string, data io.Reader) error
}

// StorageType represents the storage backend type
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

// StorageConfig holds configuration for storage
type StorageConfig struct {
	Type         StorageType
	LocalPath    string // For local storage
	S3Bucket     string // For S3 storage
	S3Region     string // For S3 storage
	AWSAccessKey string
	AWSSecretKey string
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg StorageConfig) (Storage, error) {
	switch cfg.Type {
	case StorageTypeLocal, "":
		return NewLocalStorage(cfg.LocalPath)
	case StorageTypeS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 storage requires a bucket")
		}
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// cleanStoragePath normalizes a storage path and rejects traversal outside the root
func cleanStoragePath(storagePath string) (string, error) {
	p := strings.ReplaceAll(storagePath, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return "", fmt.Errorf("invalid storage path: %q", storagePath)
	}
	return p, nil
}
