// Package storage keeps rendered draft artifacts in an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrObjectNotFound = errors.New("object not found")

// Storage stores draft artifacts under deterministic keys so a replayed
// upload overwrites the same object
type Storage interface {
	// Put stores an artifact of a draft and returns its storage path
	Put(ctx context.Context, caseID, draftID uuid.UUID, filename string, data io.Reader) (string, error)

	// Get opens an artifact by storage path
	Get(ctx context.Context, storagePath string) (io.ReadCloser, error)

	// Delete removes an artifact by storage path
	Delete(ctx context.Context, storagePath string) error
}

// Type is the storage backend
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
	TypeGCS   Type = "gcs"
)

// Config selects and configures a backend
type Config struct {
	Type         Type
	LocalPath    string
	Bucket       string
	S3Region     string
	AWSAccessKey string
	AWSSecretKey string
}

// New creates the configured backend
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Type {
	case TypeLocal, "":
		if cfg.LocalPath == "" {
			cfg.LocalPath = "./storage/drafts"
		}
		return NewLocalStorage(cfg.LocalPath)
	case TypeS3:
		if cfg.Bucket == "" {
			return nil, errors.New("bucket is required for S3 storage")
		}
		return NewS3Storage(ctx, cfg)
	case TypeGCS:
		if cfg.Bucket == "" {
			return nil, errors.New("bucket is required for GCS storage")
		}
		return NewGCSStorage(ctx, cfg.Bucket)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// ObjectKey returns cases/<case>/drafts/<draft>_<name><ext>
func ObjectKey(caseID, draftID uuid.UUID, filename string) string {
	ext := filepath.Ext(filename)
	baseName := strings.TrimSuffix(filename, ext)
	baseName = strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_").Replace(baseName)
	if baseName == "" {
		baseName = "draft"
	}
	return path.Join("cases", caseID.String(), "drafts", fmt.Sprintf("%s_%s%s", draftID, baseName, ext))
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
