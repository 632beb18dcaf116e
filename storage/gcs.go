package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// GCSStorage keeps artifacts in a Google Cloud Storage bucket
type GCSStorage struct {
	client *gcs.Client
	bucket string
}

// NewGCSStorage uses application default credentials
func NewGCSStorage(ctx context.Context, bucket string) (*GCSStorage, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStorage{client: client, bucket: bucket}, nil
}

// Put uploads an artifact
func (s *GCSStorage) Put(ctx context.Context, caseID, draftID uuid.UUID, filename string, data io.Reader) (string, error) {
	key := ObjectKey(caseID, draftID, filename)

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(filename)
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}
	return key, nil
}

// Get downloads an artifact
func (s *GCSStorage) Get(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(storagePath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, storagePath)
		}
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}
	return r, nil
}

// Delete removes an artifact; missing objects are not an error
func (s *GCSStorage) Delete(ctx context.Context, storagePath string) error {
	err := s.client.Bucket(s.bucket).Object(storagePath).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// Close releases the client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}
