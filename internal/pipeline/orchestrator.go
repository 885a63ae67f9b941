// Package pipeline drives conversion jobs end to end, from document
// extraction through chunked speech generation to final assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/audiobook-service/internal/cache"
	"github.com/book-expert/audiobook-service/internal/chunker"
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/observability"
	"github.com/book-expert/logger"
)

// ErrNoChapters is returned when extraction yields an empty document.
var ErrNoChapters = errors.New("document contains no chapters")

// Request describes one conversion job to run.
type Request struct {
	JobID     string
	InputPath string
	OutputDir string
	Format    string
	Voice     string
	Language  string

	// RefAudio selects cloned-voice mode when non-empty. RefText is the
	// optional transcript of RefAudio; when empty it is derived by
	// transcription before generation starts.
	RefAudio []byte
	RefText  string
}

func (r *Request) useClone() bool {
	return len(r.RefAudio) > 0
}

// Orchestrator composes the extractor, chunker, cache, speech generator and
// assembler into one job run. It owns no job state itself; all progress goes
// through the ProgressReporter.
type Orchestrator struct {
	extractor core.Extractor
	chunker   *chunker.Chunker
	cache     core.AudioCache
	generator core.SpeechGenerator
	assembler core.Assembler
	progress  core.ProgressReporter
	notifier  core.ChunkNotifier
	log       *logger.Logger
}

// New wires an orchestrator. notifier may be nil when no chunk events are
// wanted.
func New(
	extractor core.Extractor,
	textChunker *chunker.Chunker,
	audioCache core.AudioCache,
	generator core.SpeechGenerator,
	assembler core.Assembler,
	progress core.ProgressReporter,
	notifier core.ChunkNotifier,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		extractor: extractor,
		chunker:   textChunker,
		cache:     audioCache,
		generator: generator,
		assembler: assembler,
		progress:  progress,
		notifier:  notifier,
		log:       log,
	}
}

// Run executes one job to a terminal status. The job record must already
// exist. Cancellation of ctx is honored cooperatively at chunk boundaries;
// a generation call already in flight completes and its result is cached.
//
// The returned error reports why the job failed; the job record has been
// moved to its terminal status in every case, so callers typically only log
// it.
func (o *Orchestrator) Run(ctx context.Context, req Request) error {
	err := o.run(ctx, req)

	switch {
	case err == nil:
		observability.RecordJobFinished(string(core.StatusCompleted))

		return nil
	case errors.Is(err, context.Canceled):
		o.log.Info("Job %s cancelled", req.JobID)
		o.setStatus(req.JobID, core.StatusCancelled, "")
		observability.RecordJobFinished(string(core.StatusCancelled))

		return nil
	default:
		o.log.Error("Job %s failed: %v", req.JobID, err)
		o.setStatus(req.JobID, core.StatusFailed, err.Error())
		observability.RecordJobFinished(string(core.StatusFailed))

		return err
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request) error {
	o.setStatus(req.JobID, core.StatusExtracting, "")

	extract, err := o.extractor.Extract(ctx, req.InputPath)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	if len(extract.Chapters) == 0 {
		return ErrNoChapters
	}

	err = ctx.Err()
	if err != nil {
		return err
	}

	refText := req.RefText
	if req.useClone() && refText == "" {
		refText, err = o.generator.Transcribe(detach(ctx), req.RefAudio)
		if err != nil {
			return fmt.Errorf("reference transcription failed: %w", err)
		}

		o.log.Info("Job %s: derived reference transcript (%d characters)",
			req.JobID, len(refText))
	}

	o.setStatus(req.JobID, core.StatusGenerating, "")

	reportErr := o.progress.SetChaptersTotal(req.JobID, len(extract.Chapters))
	if reportErr != nil {
		o.log.Warn("Job %s: progress update failed: %v", req.JobID, reportErr)
	}

	chapterAudio := make([][]byte, 0, len(extract.Chapters))
	timings := make([]core.ChapterTiming, 0, len(extract.Chapters))

	for chapterIndex, chapter := range extract.Chapters {
		audio, timing, chapterErr := o.runChapter(ctx, req, refText, chapter)
		if chapterErr != nil {
			return fmt.Errorf("chapter %d (%s): %w",
				chapterIndex+1, chapter.Title, chapterErr)
		}

		chapterAudio = append(chapterAudio, audio)
		timings = append(timings, timing)

		reportErr = o.progress.AdvanceChapter(req.JobID, chapterIndex+1)
		if reportErr != nil {
			o.log.Warn("Job %s: progress update failed: %v", req.JobID, reportErr)
		}
	}

	err = ctx.Err()
	if err != nil {
		return err
	}

	o.setStatus(req.JobID, core.StatusAssembling, "")

	outputPath, err := o.assembler.AssembleBook(
		detach(ctx), req.OutputDir, chapterAudio, extract, timings, req.Format)
	if err != nil {
		return fmt.Errorf("assembly failed: %w", err)
	}

	o.log.Info("Job %s completed: %s", req.JobID, outputPath)
	o.setStatus(req.JobID, core.StatusCompleted, "")

	return nil
}

// runChapter resolves every chunk of one chapter and concatenates the
// results into the chapter's audio buffer.
func (o *Orchestrator) runChapter(
	ctx context.Context,
	req Request,
	refText string,
	chapter core.Chapter,
) ([]byte, core.ChapterTiming, error) {
	timing := core.ChapterTiming{
		Title:  chapter.Title,
		Chunks: nil,
	}

	chunks := o.chunker.Split(chapter.Text)

	// Publish the chunk total up front so progress consumers see it while
	// the first chunk is still generating.
	reportErr := o.progress.AdvanceChunk(req.JobID, 0, len(chunks))
	if reportErr != nil {
		o.log.Warn("Job %s: progress update failed: %v", req.JobID, reportErr)
	}

	chunkAudio := make([][]byte, 0, len(chunks))
	paragraphBreaks := make([]bool, 0, len(chunks))

	for chunkIndex, chunk := range chunks {
		err := ctx.Err()
		if err != nil {
			return nil, timing, err
		}

		fingerprint := cache.Fingerprint(chunk.Text, req.Voice, req.Language, req.useClone())

		audio, err := o.resolveChunk(ctx, req, refText, chunk, fingerprint)
		if err != nil {
			return nil, timing, fmt.Errorf("chunk %d: %w", chunkIndex+1, err)
		}

		if o.notifier != nil {
			o.notifier.ChunkReady(req.JobID, chunkIndex+1, len(chunks), fingerprint)
		}

		duration, err := o.assembler.ChunkDuration(audio)
		if err != nil {
			return nil, timing, fmt.Errorf("chunk %d: %w", chunkIndex+1, err)
		}

		chunkAudio = append(chunkAudio, audio)
		paragraphBreaks = append(paragraphBreaks, chunk.ParagraphBreak)
		timing.Chunks = append(timing.Chunks, core.ChunkTiming{
			Sentences:    chunk.Sentences,
			DurationSecs: duration,
		})

		reportErr = o.progress.AdvanceChunk(req.JobID, chunkIndex+1, len(chunks))
		if reportErr != nil {
			o.log.Warn("Job %s: progress update failed: %v", req.JobID, reportErr)
		}
	}

	audio, err := o.assembler.AssembleChapter(chunkAudio, paragraphBreaks)
	if err != nil {
		return nil, timing, err
	}

	return audio, timing, nil
}

// resolveChunk returns the chunk's audio from cache, generating and caching
// it on a miss. The generation call runs detached from ctx so cancellation
// never aborts it mid-flight and its result is still cached.
func (o *Orchestrator) resolveChunk(
	ctx context.Context,
	req Request,
	refText string,
	chunk core.Chunk,
	fingerprint string,
) ([]byte, error) {
	cached, found, err := o.cache.Lookup(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}

	if found {
		observability.RecordCacheLookup("hit")

		return cached, nil
	}

	observability.RecordCacheLookup("miss")

	var audio []byte
	if req.useClone() {
		audio, err = o.generator.GenerateClone(
			detach(ctx), chunk.Text, req.RefAudio, refText, req.Language)
	} else {
		audio, err = o.generator.GeneratePreset(
			detach(ctx), chunk.Text, req.Voice, req.Language)
	}

	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	err = o.cache.Store(fingerprint, audio)
	if err != nil {
		return nil, fmt.Errorf("cache store failed: %w", err)
	}

	observability.RecordChunkGenerated()

	return audio, nil
}

func (o *Orchestrator) setStatus(jobID string, status core.JobStatus, errMsg string) {
	err := o.progress.SetStatus(jobID, status, errMsg)
	if err != nil {
		o.log.Warn("Job %s: status update to %s failed: %v", jobID, status, err)
	}
}

// detach strips cancellation from ctx for calls that must run to completion
// once started.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
