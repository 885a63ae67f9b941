package assemble

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/logger"
)

// Silence inserted between clips, in milliseconds. Paragraph breaks get the
// longer pause. The inter-chapter value must stay in step with
// timesync.InterChapterSilenceSecs or displayed timing drifts from the real
// audio.
const (
	SilenceBetweenChunksMs   = 500
	SilenceParagraphBreakMs  = 1500
	SilenceBetweenChaptersMs = 3000
)

// Output container formats.
const (
	FormatM4B = "m4b"
	FormatMP3 = "mp3"
)

// ErrUnsupportedFormat is returned for output formats other than m4b/mp3.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Assembler implements core.Assembler: PCM concatenation in process, final
// muxing via ffmpeg.
type Assembler struct {
	ffmpegPath string
	log        *logger.Logger
}

// New creates an assembler. ffmpegPath may be empty to use the binary on
// PATH.
func New(ffmpegPath string, log *logger.Logger) *Assembler {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	return &Assembler{
		ffmpegPath: ffmpegPath,
		log:        log,
	}
}

// ChunkDuration measures the playable duration of one clip in seconds.
func (a *Assembler) ChunkDuration(audio []byte) (float64, error) {
	duration, err := DurationSeconds(audio)
	if err != nil {
		return 0, fmt.Errorf("failed to measure chunk duration: %w", err)
	}

	return duration, nil
}

// AssembleChapter concatenates chunk clips into one chapter WAV buffer.
// paragraphBreaks[i] selects the longer pause after clip i.
func (a *Assembler) AssembleChapter(chunks [][]byte, paragraphBreaks []bool) ([]byte, error) {
	silences := make([]int, 0, len(chunks))

	for i := 0; i+1 < len(chunks); i++ {
		pause := SilenceBetweenChunksMs
		if i < len(paragraphBreaks) && paragraphBreaks[i] {
			pause = SilenceParagraphBreakMs
		}

		silences = append(silences, pause)
	}

	chapter, err := concatWAV(chunks, silences)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble chapter audio: %w", err)
	}

	return chapter, nil
}

// AssembleBook produces the final artifact from ordered chapter buffers and
// returns its path.
func (a *Assembler) AssembleBook(
	ctx context.Context,
	outputDir string,
	chapterAudio [][]byte,
	extract *core.ExtractResult,
	timings []core.ChapterTiming,
	format string,
) (string, error) {
	if len(chapterAudio) == 0 {
		return "", ErrNoChunks
	}

	switch format {
	case FormatM4B:
		return a.assembleM4B(ctx, outputDir, chapterAudio, extract, timings)
	case FormatMP3:
		return a.assembleMP3Zip(ctx, outputDir, chapterAudio, extract, timings)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
