// Package timesync derives sentence-level timestamps from coarse per-chunk
// audio durations and renders them as LRC synchronized text.
//
// Allocation is proportional to each sentence's share of its chunk's word
// count. That is a documented heuristic: word counts only approximate real
// speech duration, but the per-chunk totals are measured, so drift never
// accumulates past a chunk boundary.
package timesync

import (
	"fmt"
	"strings"

	"github.com/book-expert/audiobook-service/internal/core"
)

// Silence the assembler inserts between chapters, in seconds. The chapter
// offset advances by this amount so displayed timing matches the real audio.
const InterChapterSilenceSecs = 3.0

// Display constants.
const (
	maxDisplayRunes = 200
	displayEllipsis = "..."

	secondsPerMinute = 60
)

// Entry is one timestamped line of synchronized text.
type Entry struct {
	Seconds float64
	Text    string
}

// EstimateSentenceTimestamps distributes each chunk's measured duration
// across its sentences proportionally by word count, starting the clock at
// offset. A chunk whose sentences hold no words advances the clock by its
// duration without emitting entries.
func EstimateSentenceTimestamps(chunks []core.ChunkTiming, offset float64) []Entry {
	var entries []Entry

	currentTime := offset

	for _, chunk := range chunks {
		totalWords := 0
		for _, sentence := range chunk.Sentences {
			totalWords += len(strings.Fields(sentence))
		}

		if totalWords == 0 {
			currentTime += chunk.DurationSecs

			continue
		}

		for _, sentence := range chunk.Sentences {
			entries = append(entries, Entry{
				Seconds: currentTime,
				Text:    sentence,
			})

			wordFraction := float64(len(strings.Fields(sentence))) / float64(totalWords)
			currentTime += chunk.DurationSecs * wordFraction
		}
	}

	return entries
}

// ChapterDuration sums a chapter's chunk durations.
func ChapterDuration(chapter core.ChapterTiming) float64 {
	total := 0.0
	for _, chunk := range chapter.Chunks {
		total += chunk.DurationSecs
	}

	return total
}

// FormatTimestamp renders seconds as an LRC [mm:ss.xx] tag.
func FormatTimestamp(secs float64) string {
	minutes := int(secs) / secondsPerMinute
	remainder := secs - float64(minutes*secondsPerMinute)

	return fmt.Sprintf("[%02d:%05.2f]", minutes, remainder)
}

// GenerateFullLRC renders one synchronized-text document covering the whole
// book, with a title marker per chapter. The running offset advances by each
// chapter's duration plus the inter-chapter silence.
func GenerateFullLRC(chapters []core.ChapterTiming) string {
	var builder strings.Builder

	offset := 0.0

	for _, chapter := range chapters {
		writeLine(&builder, offset, chapter.Title)

		for _, entry := range EstimateSentenceTimestamps(chapter.Chunks, offset) {
			writeLine(&builder, entry.Seconds, entry.Text)
		}

		offset += ChapterDuration(chapter) + InterChapterSilenceSecs
	}

	return builder.String()
}

// GenerateChapterLRC renders one chapter's synchronized text starting at
// zero, for per-chapter companion files.
func GenerateChapterLRC(chapter core.ChapterTiming) string {
	var builder strings.Builder

	writeLine(&builder, 0.0, chapter.Title)

	for _, entry := range EstimateSentenceTimestamps(chapter.Chunks, 0.0) {
		writeLine(&builder, entry.Seconds, entry.Text)
	}

	return builder.String()
}

func writeLine(builder *strings.Builder, secs float64, text string) {
	builder.WriteString(FormatTimestamp(secs))
	builder.WriteString(" ")
	builder.WriteString(truncateDisplay(text))
	builder.WriteString("\n")
}

// truncateDisplay shortens very long sentences for display readability.
func truncateDisplay(text string) string {
	runes := []rune(text)
	if len(runes) <= maxDisplayRunes {
		return text
	}

	return string(runes[:maxDisplayRunes]) + displayEllipsis
}
