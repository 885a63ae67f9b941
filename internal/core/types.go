// Package core defines the domain types and interfaces for the audiobook
// conversion pipeline.
package core

import "time"

// JobStatus identifies where a conversion job is in its lifecycle.
type JobStatus string

// Job lifecycle statuses. Transitions move forward only, except that
// StatusFailed and StatusCancelled are reachable from any non-terminal state.
const (
	StatusQueued     JobStatus = "queued"
	StatusExtracting JobStatus = "extracting"
	StatusGenerating JobStatus = "generating"
	StatusAssembling JobStatus = "assembling"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a status is final. Terminal statuses are
// immutable once set.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusQueued, StatusExtracting, StatusGenerating, StatusAssembling:
		return false
	default:
		return false
	}
}

// Job is one persistent conversion job record.
//
// Error is only meaningful when Status is StatusFailed; CompletedAt is only
// set when Status is StatusCompleted.
type Job struct {
	ID                 string     `json:"id"`
	Status             JobStatus  `json:"status"`
	Filename           string     `json:"filename"`
	Format             string     `json:"format"`
	Voice              string     `json:"voice"`
	Language           string     `json:"language"`
	UseClone           bool       `json:"use_clone"`
	ChaptersTotal      int        `json:"chapters_total"`
	ChaptersDone       int        `json:"chapters_done"`
	ChunksCurrentTotal int        `json:"chunks_current_total"`
	ChunksCurrentDone  int        `json:"chunks_current_done"`
	Error              string     `json:"error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

const percentScale = 100.0

// Percent derives overall progress from chapter and current-chapter chunk
// counters. Each chapter weighs equally; the chapter in flight contributes
// proportionally by chunks. Returns 0 when no chapters are known yet.
func (j *Job) Percent() float64 {
	if j.ChaptersTotal == 0 {
		return 0
	}

	completedWeight := float64(j.ChaptersDone)
	if j.ChunksCurrentTotal > 0 && j.ChaptersDone < j.ChaptersTotal {
		completedWeight += float64(j.ChunksCurrentDone) / float64(j.ChunksCurrentTotal)
	}

	return completedWeight / float64(j.ChaptersTotal) * percentScale
}

// ETA estimates the remaining duration from elapsed time and current
// progress. The second return value is false while progress is still zero
// and no estimate exists.
func (j *Job) ETA(now time.Time) (time.Duration, bool) {
	percent := j.Percent()
	if percent <= 0 {
		return 0, false
	}

	elapsed := now.Sub(j.CreatedAt)
	remaining := time.Duration(float64(elapsed) * (percentScale - percent) / percent)

	return remaining, true
}

// Chunk is one bounded unit of chapter text sent to the TTS service as a
// single generation request. Immutable once produced by the chunker.
type Chunk struct {
	// Text is the chunk's sentences joined by single spaces.
	Text string

	// ParagraphBreak marks that the chunk ends at a source paragraph
	// boundary, which controls the silence inserted after it.
	ParagraphBreak bool

	// Sentences holds the chunk's sentences in source order, used for
	// synchronized-text timing.
	Sentences []string
}

// ChunkTiming records the sentence list and measured audio duration of one
// resolved chunk.
type ChunkTiming struct {
	Sentences    []string
	DurationSecs float64
}

// ChapterTiming aggregates the chunk timings of one chapter.
type ChapterTiming struct {
	Title  string
	Chunks []ChunkTiming
}

// Chapter is one ordered unit of extracted document text.
type Chapter struct {
	Title string
	Text  string
}

// BookMetadata carries the document-level tags embedded in the final
// artifact.
type BookMetadata struct {
	Title       string
	Author      string
	Year        string
	Description string
}

// ExtractResult is everything an extractor produces from a source document.
type ExtractResult struct {
	Chapters   []Chapter
	Metadata   BookMetadata
	CoverImage []byte
}
