package assemble

import (
	"strings"
	"testing"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "assemble-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		closeErr := log.Close()
		require.NoError(t, closeErr)
	})

	return log
}

// testWAV builds a mono 16-bit PCM clip of the given duration at 8kHz.
func testWAV(t *testing.T, durationSecs float64, sample byte) []byte {
	t.Helper()

	info := pcmFormatInfo{
		channels:      1,
		sampleRate:    8000,
		byteRate:      16000,
		blockAlign:    2,
		bitsPerSample: 16,
	}

	samples := make([]byte, int(durationSecs*float64(info.byteRate)))
	for i := range samples {
		samples[i] = sample
	}

	return encodeWAV(info, samples)
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	original := testWAV(t, 0.5, 0x7f)

	info, samples, err := decodeWAV(original)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), info.channels)
	assert.Equal(t, uint32(8000), info.sampleRate)
	assert.Len(t, samples, 8000)

	rebuilt := encodeWAV(info, samples)
	assert.Equal(t, original, rebuilt)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, _, err := decodeWAV([]byte("definitely not a wav file"))
	require.ErrorIs(t, err, ErrNotWAV)
}

func TestDurationSeconds(t *testing.T) {
	t.Parallel()

	clip := testWAV(t, 2.0, 0x10)

	duration, err := DurationSeconds(clip)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, duration, 0.001)
}

func TestConcatInsertsSilence(t *testing.T) {
	t.Parallel()

	first := testWAV(t, 1.0, 0x01)
	second := testWAV(t, 1.0, 0x02)

	joined, err := concatWAV([][]byte{first, second}, []int{500})
	require.NoError(t, err)

	duration, err := DurationSeconds(joined)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, duration, 0.001)
}

func TestConcatRejectsMixedFormats(t *testing.T) {
	t.Parallel()

	mono := testWAV(t, 0.1, 0x01)

	stereoInfo := pcmFormatInfo{
		channels:      2,
		sampleRate:    8000,
		byteRate:      32000,
		blockAlign:    4,
		bitsPerSample: 16,
	}
	stereo := encodeWAV(stereoInfo, make([]byte, 3200))

	_, err := concatWAV([][]byte{mono, stereo}, []int{500})
	require.ErrorIs(t, err, ErrFormatMismatch)
}

func TestAssembleChapterPausesPerParagraph(t *testing.T) {
	t.Parallel()

	asm := New("", testLogger(t))

	chunks := [][]byte{
		testWAV(t, 1.0, 0x01),
		testWAV(t, 1.0, 0x02),
		testWAV(t, 1.0, 0x03),
	}

	// Paragraph break after the first chunk, normal pause after the second.
	chapter, err := asm.AssembleChapter(chunks, []bool{true, false, true})
	require.NoError(t, err)

	duration, err := asm.ChunkDuration(chapter)
	require.NoError(t, err)

	// 3s of speech + 1.5s paragraph pause + 0.5s normal pause.
	assert.InDelta(t, 5.0, duration, 0.001)
}

func TestAssembleChapterEmptyInput(t *testing.T) {
	t.Parallel()

	asm := New("", testLogger(t))

	_, err := asm.AssembleChapter(nil, nil)
	require.ErrorIs(t, err, ErrNoChunks)
}

func TestAssembleBookRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	asm := New("", testLogger(t))

	_, err := asm.AssembleBook(
		t.Context(),
		t.TempDir(),
		[][]byte{testWAV(t, 0.1, 0x01)},
		&core.ExtractResult{},
		nil,
		"ogg",
	)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestBuildFFMetadataChapters(t *testing.T) {
	t.Parallel()

	extract := &core.ExtractResult{
		Chapters: []core.Chapter{
			{Title: "One", Text: "text"},
			{Title: "Two", Text: "text"},
		},
		Metadata: core.BookMetadata{
			Title:  "My Book; Revised",
			Author: "A. Author",
		},
	}

	timings := []core.ChapterTiming{
		{
			Title:  "One",
			Chunks: []core.ChunkTiming{{DurationSecs: 10}},
		},
		{
			Title:  "Two",
			Chunks: []core.ChunkTiming{{DurationSecs: 5}},
		},
	}

	meta := buildFFMetadata(extract, timings, []int64{10000, 5000})

	assert.True(t, strings.HasPrefix(meta, ";FFMETADATA1\n"))
	assert.Contains(t, meta, "title=My Book\\; Revised")
	assert.Contains(t, meta, "artist=A. Author")
	assert.Contains(t, meta, "genre=Audiobook")

	// First chapter spans [0, 10000], second starts after the 3s gap.
	assert.Contains(t, meta, "START=0\nEND=10000\ntitle=One")
	assert.Contains(t, meta, "START=13000\nEND=18000\ntitle=Two")
}

func TestChapterMarkersMatchAssembledAudio(t *testing.T) {
	t.Parallel()

	asm := New("", testLogger(t))

	// Two 1s chunks plus the 0.5s pause between them: the marker must
	// cover the full 2.5s of assembled audio, not just the spoken chunks.
	chapter, err := asm.AssembleChapter(
		[][]byte{testWAV(t, 1.0, 0x01), testWAV(t, 1.0, 0x02)},
		[]bool{false, true},
	)
	require.NoError(t, err)

	durations, err := chapterDurationsMs([][]byte{chapter})
	require.NoError(t, err)
	require.Equal(t, []int64{2500}, durations)

	timings := []core.ChapterTiming{
		{
			Title:  "One",
			Chunks: []core.ChunkTiming{{DurationSecs: 1}, {DurationSecs: 1}},
		},
	}

	meta := buildFFMetadata(&core.ExtractResult{}, timings, durations)
	assert.Contains(t, meta, "START=0\nEND=2500\ntitle=One")
}

func TestSanitizeFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "A-B- C", sanitizeFileName(`A/B: C?`))
	assert.Equal(t, "untitled", sanitizeFileName("***"))
}
