package core

import "context"

// Extractor turns a source document into ordered chapters plus metadata.
// Implementations are format specific; the pipeline consumes the result
// opaquely.
type Extractor interface {
	Extract(ctx context.Context, path string) (*ExtractResult, error)
}

// AudioCache is a content-addressed store mapping a generation fingerprint
// to previously produced audio. Entries are append-only and never evicted.
type AudioCache interface {
	Lookup(fingerprint string) ([]byte, bool, error)
	Store(fingerprint string, data []byte) error
}

// SpeechGenerator is the gateway to the external TTS/STT service.
type SpeechGenerator interface {
	// GeneratePreset synthesizes text with a named preset voice.
	GeneratePreset(ctx context.Context, text, voice, language string) ([]byte, error)

	// GenerateClone synthesizes text conditioned on a reference audio
	// sample. refText may be empty when no reference transcript is known.
	GenerateClone(ctx context.Context, text string, refAudio []byte, refText, language string) ([]byte, error)

	// Transcribe derives a transcript from an audio sample.
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Assembler concatenates generated audio into chapter buffers and muxes the
// final output artifact.
type Assembler interface {
	// ChunkDuration measures the playable duration of one audio clip in
	// seconds.
	ChunkDuration(audio []byte) (float64, error)

	// AssembleChapter concatenates chunk clips into one chapter buffer,
	// inserting silence between chunks. paragraphBreaks[i] selects the
	// longer pause after clip i.
	AssembleChapter(chunks [][]byte, paragraphBreaks []bool) ([]byte, error)

	// AssembleBook produces the final container artifact from ordered
	// chapter buffers and returns its path.
	AssembleBook(
		ctx context.Context,
		outputDir string,
		chapterAudio [][]byte,
		extract *ExtractResult,
		timings []ChapterTiming,
		format string,
	) (string, error)
}

// ProgressReporter receives job progress updates from the pipeline. It
// decouples pipeline control flow from the persistence layer.
type ProgressReporter interface {
	SetStatus(id string, status JobStatus, errMsg string) error
	SetChaptersTotal(id string, total int) error
	AdvanceChapter(id string, done int) error
	AdvanceChunk(id string, done, total int) error
}

// ChunkNotifier is told about every chunk whose audio becomes available,
// whether freshly generated or served from cache. Implementations must not
// block the pipeline on failure.
type ChunkNotifier interface {
	ChunkReady(jobID string, chunkIndex, chunkTotal int, audioKey string)
}
