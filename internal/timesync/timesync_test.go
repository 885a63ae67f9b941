// Package timesync_test tests proportional sentence timing and LRC output.
package timesync_test

import (
	"strings"
	"testing"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/timesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateSentenceTimestamps_ProportionalByWordCount(t *testing.T) {
	t.Parallel()

	chunks := []core.ChunkTiming{
		{Sentences: []string{"A B", "C"}, DurationSecs: 10.0},
		{Sentences: []string{"D E F G"}, DurationSecs: 8.0},
	}

	entries := timesync.EstimateSentenceTimestamps(chunks, 0.0)
	require.Len(t, entries, 3)

	assert.InDelta(t, 0.0, entries[0].Seconds, 0.001)
	assert.Equal(t, "A B", entries[0].Text)

	// "A B" holds 2 of the chunk's 3 words: 10.0 * 2/3.
	assert.InDelta(t, 6.667, entries[1].Seconds, 0.001)
	assert.Equal(t, "C", entries[1].Text)

	// Second chunk starts after the first chunk's full duration.
	assert.InDelta(t, 10.0, entries[2].Seconds, 0.001)
}

func TestEstimateSentenceTimestamps_Offset(t *testing.T) {
	t.Parallel()

	chunks := []core.ChunkTiming{
		{Sentences: []string{"one two"}, DurationSecs: 4.0},
	}

	entries := timesync.EstimateSentenceTimestamps(chunks, 120.0)
	require.Len(t, entries, 1)
	assert.InDelta(t, 120.0, entries[0].Seconds, 0.001)
}

func TestEstimateSentenceTimestamps_ZeroWordChunkAdvancesClock(t *testing.T) {
	t.Parallel()

	chunks := []core.ChunkTiming{
		{Sentences: nil, DurationSecs: 5.0},
		{Sentences: []string{"after silence"}, DurationSecs: 2.0},
	}

	entries := timesync.EstimateSentenceTimestamps(chunks, 0.0)
	require.Len(t, entries, 1)
	assert.InDelta(t, 5.0, entries[0].Seconds, 0.001)
}

func TestFormatTimestamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[00:00.00]", timesync.FormatTimestamp(0.0))
	assert.Equal(t, "[00:06.67]", timesync.FormatTimestamp(6.6667))
	assert.Equal(t, "[02:05.50]", timesync.FormatTimestamp(125.5))
	assert.Equal(t, "[61:01.00]", timesync.FormatTimestamp(3661.0))
}

func TestGenerateFullLRC_ChapterOffsets(t *testing.T) {
	t.Parallel()

	chapters := []core.ChapterTiming{
		{
			Title: "Chapter One",
			Chunks: []core.ChunkTiming{
				{Sentences: []string{"first sentence"}, DurationSecs: 10.0},
			},
		},
		{
			Title: "Chapter Two",
			Chunks: []core.ChunkTiming{
				{Sentences: []string{"second sentence"}, DurationSecs: 5.0},
			},
		},
	}

	lrc := timesync.GenerateFullLRC(chapters)
	lines := strings.Split(strings.TrimRight(lrc, "\n"), "\n")
	require.Len(t, lines, 4)

	assert.Equal(t, "[00:00.00] Chapter One", lines[0])
	assert.Equal(t, "[00:00.00] first sentence", lines[1])

	// Second chapter starts after 10 s of audio plus 3 s of silence.
	assert.Equal(t, "[00:13.00] Chapter Two", lines[2])
	assert.Equal(t, "[00:13.00] second sentence", lines[3])
}

func TestGenerateChapterLRC_StartsAtZero(t *testing.T) {
	t.Parallel()

	chapter := core.ChapterTiming{
		Title: "Solo",
		Chunks: []core.ChunkTiming{
			{Sentences: []string{"alpha beta", "gamma delta"}, DurationSecs: 6.0},
		},
	}

	lrc := timesync.GenerateChapterLRC(chapter)
	lines := strings.Split(strings.TrimRight(lrc, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "[00:00.00] Solo", lines[0])
	assert.Equal(t, "[00:03.00] gamma delta", lines[2])
}

func TestGenerateChapterLRC_TruncatesLongSentences(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 60) // ~300 runes

	chapter := core.ChapterTiming{
		Title: "Long",
		Chunks: []core.ChunkTiming{
			{Sentences: []string{strings.TrimSpace(long)}, DurationSecs: 1.0},
		},
	}

	lrc := timesync.GenerateChapterLRC(chapter)
	lines := strings.Split(strings.TrimRight(lrc, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[1], "..."))
	assert.LessOrEqual(t, len([]rune(lines[1])), len("[00:00.00] ")+200+3)
}
