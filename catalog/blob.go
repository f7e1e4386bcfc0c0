package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// ObjectStore is the remote blob storage the catalog's payloads live in.
// Delete and DeleteByPrefix are idempotent: removing something that isn't
// there succeeds with an empty result.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Delete(ctx context.Context, key string) error
	// DeleteByPrefix removes every object under prefix and returns the keys
	// it deleted, for the caller's audit trail.
	DeleteByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// escapeSegment makes an identifier safe to use as one path segment of an
// object key. Some PACS systems emit patient IDs like "D97258/11053"; a raw
// slash would split the segment and break prefix-based deletion.
func escapeSegment(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "/", "_")
}

// InstanceKey derives the deterministic object key for one instance:
// {user}/{patient}/{study}/{series}/{sop}.dcm. Re-uploading the same
// instance always lands on the same key.
func InstanceKey(userID, patientID, studyUID, seriesUID, sopUID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s.dcm",
		escapeSegment(userID),
		escapeSegment(patientID),
		escapeSegment(studyUID),
		escapeSegment(seriesUID),
		escapeSegment(sopUID),
	)
}

// StudyPrefix is the key prefix covering everything stored under one study.
func StudyPrefix(userID, patientID, studyUID string) string {
	return fmt.Sprintf("%s/%s/%s/",
		escapeSegment(userID),
		escapeSegment(patientID),
		escapeSegment(studyUID),
	)
}

// PatientPrefix is the key prefix covering everything stored under one patient.
func PatientPrefix(userID, patientID string) string {
	return fmt.Sprintf("%s/%s/",
		escapeSegment(userID),
		escapeSegment(patientID),
	)
}

// GCSStore implements ObjectStore against a single private GCS bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore wraps an already-constructed storage client. The client is
// injected so callers control credentials and lifetime.
func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket}
}

func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	if err := w.Close(); err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	return nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// DeleteByPrefix lists every object under prefix (the iterator pages through
// results internally, so large studies are fine) and deletes them one by
// one. A per-object delete failure is logged and skipped; the object was
// already removed from the catalog's view and a stranded blob is acceptable.
func (s *GCSStore) DeleteByPrefix(ctx context.Context, prefix string) ([]string, error) {
	bkt := s.client.Bucket(s.bucket)
	it := bkt.Objects(ctx, &storage.Query{Prefix: prefix})

	var deleted []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return deleted, &StorageError{Op: "list", Key: prefix, Err: err}
		}

		if err := bkt.Object(attrs.Name).Delete(ctx); err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				continue
			}
			log.Printf("DeleteByPrefix: delete %s: %v", attrs.Name, err)
			continue
		}
		deleted = append(deleted, attrs.Name)
	}

	return deleted, nil
}
