// Package cache provides the content-addressed on-disk store for generated
// audio.
//
// Entries are keyed by a fingerprint of the generation inputs, so identical
// chunks across jobs and restarts resolve to the same blob and the external
// TTS service is called at most once per distinct fingerprint. The store is
// append-only: entries are never mutated or evicted.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// File layout constants.
const (
	entryExtension  = ".wav"
	tempFilePattern = "entry-*.tmp"

	dirPermissions  = 0o750
	filePermissions = 0o600
)

// ErrEmptyFingerprint is returned when a cache operation is attempted with
// an empty key.
var ErrEmptyFingerprint = errors.New("fingerprint cannot be empty")

// Fingerprint derives the deterministic cache key for one generation
// request. Chunk text is whitespace-normalized first so that incidental
// formatting differences do not fragment the cache.
func Fingerprint(text, voice, language string, useClone bool) string {
	normalized := strings.Join(strings.Fields(text), " ")
	payload := normalized + "|" + voice + "|" + language + "|" + strconv.FormatBool(useClone)
	sum := sha256.Sum256([]byte(payload))

	return hex.EncodeToString(sum[:])
}

// Store is a directory of one audio blob per fingerprint.
type Store struct {
	dir string
}

// New creates the cache directory if needed and returns a store over it.
func New(dir string) (*Store, error) {
	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	return &Store{dir: dir}, nil
}

// Lookup returns the cached audio for a fingerprint, with found=false when
// no entry exists.
func (s *Store) Lookup(fingerprint string) ([]byte, bool, error) {
	if fingerprint == "" {
		return nil, false, ErrEmptyFingerprint
	}

	data, err := os.ReadFile(s.entryPath(fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to read cache entry '%s': %w", fingerprint, err)
	}

	return data, true, nil
}

// Store persists audio under a fingerprint. The blob is written to a
// temporary file in the same directory and renamed into place, so a
// concurrent reader never observes a partial entry. Fingerprint collisions
// imply identical content, which makes the last rename winning harmless.
func (s *Store) Store(fingerprint string, data []byte) error {
	if fingerprint == "" {
		return ErrEmptyFingerprint
	}

	tempFile, err := os.CreateTemp(s.dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}

	tempPath := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()

	if writeErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("failed to write cache entry '%s': %w", fingerprint, writeErr)
	}

	if closeErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("failed to close temp cache file: %w", closeErr)
	}

	chmodErr := os.Chmod(tempPath, filePermissions)
	if chmodErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("failed to set cache entry permissions: %w", chmodErr)
	}

	renameErr := os.Rename(tempPath, s.entryPath(fingerprint))
	if renameErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("failed to publish cache entry '%s': %w", fingerprint, renameErr)
	}

	return nil
}

func (s *Store) entryPath(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint+entryExtension)
}
