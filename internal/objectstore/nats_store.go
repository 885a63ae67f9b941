// Package objectstore provides a NATS-backed implementation of the audio
// cache, for deployments that share generated audio across hosts instead of
// keeping it on local disk.
package objectstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrEmptyFingerprint rejects lookups and stores without a cache key.
var ErrEmptyFingerprint = errors.New("fingerprint cannot be empty")

// AudioStore implements core.AudioCache on a NATS JetStream object store
// bucket. One object per fingerprint; entries are never deleted.
type AudioStore struct {
	store  nats.ObjectStore
	bucket string
}

// New creates the bucket if needed and binds to it.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*AudioStore, error) {
	// Use a "create-first" approach.
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Generated audio cache for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})

	// If the bucket already exists, bind to it.
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			store, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf(
					"failed to bind to existing object store bucket '%s': %w",
					bucketName, err)
			}
		} else {
			return nil, fmt.Errorf(
				"failed to create object store bucket '%s': %w", bucketName, err)
		}
	}

	return &AudioStore{
		store:  store,
		bucket: bucketName,
	}, nil
}

// Lookup fetches the audio stored under a fingerprint. A missing entry is
// not an error.
func (s *AudioStore) Lookup(fingerprint string) ([]byte, bool, error) {
	if fingerprint == "" {
		return nil, false, ErrEmptyFingerprint
	}

	obj, err := s.store.Get(fingerprint)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf(
			"failed to get object '%s' from bucket '%s': %w", fingerprint, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, false, fmt.Errorf("failed to read object '%s': %w", fingerprint, readErr)
	}

	if closeErr != nil {
		return nil, false, fmt.Errorf("failed to close object '%s': %w", fingerprint, closeErr)
	}

	return data, true, nil
}

// Store saves audio under a fingerprint. Object store puts replace whole
// objects, so concurrent writers of the same fingerprint are safe: they
// write identical content.
func (s *AudioStore) Store(fingerprint string, data []byte) error {
	if fingerprint == "" {
		return ErrEmptyFingerprint
	}

	reader := bytes.NewReader(data)

	_, err := s.store.Put(&nats.ObjectMeta{
		Name:        fingerprint,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, reader)
	if err != nil {
		return fmt.Errorf(
			"failed to put object '%s' to bucket '%s': %w", fingerprint, s.bucket, err)
	}

	return nil
}
