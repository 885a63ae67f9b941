// Package jobstore persists conversion job records in a NATS JetStream
// key-value bucket, one JSON-encoded record per job id.
//
// All mutations are single-record upserts; jobs never require cross-record
// transactions, so concurrent jobs need no shared locking. The store also
// implements core.ProgressReporter for the pipeline.
package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Static errors.
var (
	// ErrJobNotFound is returned when no record exists for a job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrBackwardTransition is returned when a status update would move a
	// job backwards in its lifecycle.
	ErrBackwardTransition = errors.New("job status cannot move backwards")
)

// maxErrorLength bounds the persisted diagnostic for failed jobs.
const maxErrorLength = 500

// statusRank orders the forward path of the job lifecycle. Terminal
// failure/cancellation is reachable from any non-terminal state and is
// handled separately.
var statusRank = map[core.JobStatus]int{
	core.StatusQueued:     0,
	core.StatusExtracting: 1,
	core.StatusGenerating: 2,
	core.StatusAssembling: 3,
	core.StatusCompleted:  4,
}

// Store is a JetStream key-value backed job table.
type Store struct {
	kv     nats.KeyValue
	bucket string
}

// New creates the job bucket if needed, binding to it when it already
// exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*Store, error) {
	kv, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Job records for the %s bucket.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		kv, err = jetstreamContext.KeyValue(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to job bucket '%s': %w", bucketName, err)
		}
	}

	return &Store{
		kv:     kv,
		bucket: bucketName,
	}, nil
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// Create inserts a new queued job record and returns it. A missing ID is
// assigned.
func (s *Store) Create(job core.Job) (*core.Job, error) {
	if job.ID == "" {
		job.ID = NewJobID()
	}

	now := time.Now().UTC()
	job.Status = core.StatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now

	err := s.put(&job)
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// Get fetches one job record by id.
func (s *Store) Get(id string) (*core.Job, error) {
	entry, err := s.kv.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}

		return nil, fmt.Errorf("failed to get job '%s' from bucket '%s': %w", id, s.bucket, err)
	}

	var job core.Job

	err = json.Unmarshal(entry.Value(), &job)
	if err != nil {
		return nil, fmt.Errorf("failed to decode job record '%s': %w", id, err)
	}

	return &job, nil
}

// List returns all job records, newest first.
func (s *Store) List() ([]core.Job, error) {
	keys, err := s.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list job bucket '%s': %w", s.bucket, err)
	}

	jobs := make([]core.Job, 0, len(keys))

	for _, key := range keys {
		job, getErr := s.Get(key)
		if getErr != nil {
			// A record deleted between Keys and Get is not an error.
			if errors.Is(getErr, ErrJobNotFound) {
				continue
			}

			return nil, getErr
		}

		jobs = append(jobs, *job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}

		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs, nil
}

// SetStatus moves a job to a new status. Terminal records are immutable:
// updates against them are silently dropped, so a job that finished while a
// cancellation was requested keeps its first terminal status. errMsg is
// recorded (truncated) only for failures.
func (s *Store) SetStatus(id string, status core.JobStatus, errMsg string) error {
	return s.update(id, func(job *core.Job) error {
		if job.Status.Terminal() {
			return nil
		}

		if !status.Terminal() {
			if statusRank[status] < statusRank[job.Status] {
				return fmt.Errorf(
					"%w: %s -> %s",
					ErrBackwardTransition,
					job.Status,
					status,
				)
			}
		}

		job.Status = status

		switch status {
		case core.StatusFailed:
			job.Error = truncateError(errMsg)
		case core.StatusCompleted:
			now := time.Now().UTC()
			job.CompletedAt = &now
		case core.StatusQueued, core.StatusExtracting,
			core.StatusGenerating, core.StatusAssembling,
			core.StatusCancelled:
		}

		return nil
	})
}

// SetChaptersTotal records the chapter count discovered during extraction.
func (s *Store) SetChaptersTotal(id string, total int) error {
	return s.update(id, func(job *core.Job) error {
		job.ChaptersTotal = total

		return nil
	})
}

// AdvanceChapter records chapter completion and resets the current-chapter
// chunk counters.
func (s *Store) AdvanceChapter(id string, done int) error {
	return s.update(id, func(job *core.Job) error {
		job.ChaptersDone = done
		job.ChunksCurrentDone = 0
		job.ChunksCurrentTotal = 0

		return nil
	})
}

// AdvanceChunk records chunk progress within the current chapter.
func (s *Store) AdvanceChunk(id string, done, total int) error {
	return s.update(id, func(job *core.Job) error {
		job.ChunksCurrentDone = done
		job.ChunksCurrentTotal = total

		return nil
	})
}

// Delete removes a job record.
func (s *Store) Delete(id string) error {
	err := s.kv.Delete(id)
	if err != nil {
		return fmt.Errorf("failed to delete job '%s' from bucket '%s': %w", id, s.bucket, err)
	}

	return nil
}

func (s *Store) update(id string, mutate func(*core.Job) error) error {
	job, err := s.Get(id)
	if err != nil {
		return err
	}

	err = mutate(job)
	if err != nil {
		return err
	}

	job.UpdatedAt = time.Now().UTC()

	return s.put(job)
}

func (s *Store) put(job *core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job record '%s': %w", job.ID, err)
	}

	_, err = s.kv.Put(job.ID, data)
	if err != nil {
		return fmt.Errorf("failed to put job '%s' to bucket '%s': %w", job.ID, s.bucket, err)
	}

	return nil
}

func truncateError(msg string) string {
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}

	return msg
}
