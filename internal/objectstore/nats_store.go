// Package objectstore keeps uploaded recordings in a NATS JetStream object
// store bucket until a worker has evaluated them.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultRecordingTTL expires recordings whose evaluation request never arrived.
const DefaultRecordingTTL = time.Hour

// ErrKeyEmpty is returned for operations without an object key.
var ErrKeyEmpty = errors.New("object key cannot be empty")

// Config describes the bucket backing a RecordingStore.
type Config struct {
	Bucket string
	TTL    time.Duration
}

// RecordingStore implements core.ObjectStore on a JetStream object store.
type RecordingStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, cfg Config) (*RecordingStore, error) {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultRecordingTTL
	}

	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      cfg.Bucket,
		Description: fmt.Sprintf("Recordings awaiting pronunciation evaluation in %s.", cfg.Bucket),
		TTL:         ttl,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", cfg.Bucket, err)
		}

		store, err = jetstreamContext.ObjectStore(cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", cfg.Bucket, err)
		}
	}

	return &RecordingStore{bucket: cfg.Bucket, store: store}, nil
}

// Bucket returns the bucket name.
func (s *RecordingStore) Bucket() string {
	return s.bucket
}

// NewRecordingKey returns a unique key for a recording with the given file extension.
func NewRecordingKey(ext string) string {
	key := path.Join("recordings", uuid.NewString())
	if ext == "" {
		return key
	}

	return key + ext
}

// Download reads a recording.
func (s *RecordingStore) Download(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	obj, err := s.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload stores a recording under key.
func (s *RecordingStore) Upload(_ context.Context, key string, data []byte) error {
	if key == "" {
		return ErrKeyEmpty
	}

	_, err := s.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// Delete removes a recording. Deleting a missing key is not an error.
func (s *RecordingStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrKeyEmpty
	}

	err := s.store.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}
