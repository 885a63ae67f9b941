// Package chunker splits chapter text into bounded, sentence-aligned chunks
// for speech generation.
//
// Chunking must be a deterministic, pure function of its input: the chunk
// text feeds the content-addressed audio cache, and a different split of the
// same chapter would defeat caching across runs.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/audiobook-service/internal/core"
)

// Word budgets per chunk.
const (
	// DefaultTargetWords is the soft accumulation target. Conservative
	// sizing keeps cloned-voice generation within its token budget.
	DefaultTargetWords = 300

	// DefaultMaxWords is the hard ceiling before a single sentence is
	// forced apart on clause punctuation.
	DefaultMaxWords = 400
)

// Boundary patterns.
const (
	sentenceSplitPattern = `[.!?]\s+`
	clauseSplitPattern   = "[,;:—]\\s+"
	paragraphSplitMarker = "\n\n"
)

var (
	sentenceSplitRe = regexp.MustCompile(sentenceSplitPattern)
	clauseSplitRe   = regexp.MustCompile(clauseSplitPattern)
)

// Chunker accumulates sentences into chunks bounded by a target word count.
type Chunker struct {
	targetWords int
	maxWords    int
}

// New creates a chunker with the given word budgets. Non-positive values
// fall back to the defaults.
func New(targetWords, maxWords int) *Chunker {
	if targetWords <= 0 {
		targetWords = DefaultTargetWords
	}

	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}

	return &Chunker{
		targetWords: targetWords,
		maxWords:    maxWords,
	}
}

// sentenceRecord pairs a sentence with whether it closes its paragraph.
type sentenceRecord struct {
	text            string
	lastInParagraph bool
}

// Split divides text into ordered chunks at sentence boundaries.
//
// Paragraphs are separated by blank lines; sentences end at '.', '!' or '?'
// followed by whitespace. Sentences accumulate greedily until adding the
// next one would exceed the target word count. A single sentence over the
// hard ceiling is split on clause punctuation instead. Concatenating the
// sentence lists of the returned chunks reproduces every input sentence
// exactly once, in order.
func (c *Chunker) Split(text string) []core.Chunk {
	records := collectSentences(text)
	if len(records) == 0 {
		return nil
	}

	builder := chunkBuilder{
		targetWords: c.targetWords,
	}

	for _, record := range records {
		wordCount := countWords(record.text)

		if wordCount > c.maxWords {
			// Oversize sentence: flush, then accumulate its clauses
			// under the same greedy rule.
			builder.flush(false)

			for _, clause := range splitAfterMatches(clauseSplitRe, record.text) {
				clause = strings.TrimSpace(clause)
				if clause == "" {
					continue
				}

				builder.add(clause, countWords(clause))
			}

			builder.endsParagraph = record.lastInParagraph

			continue
		}

		builder.add(record.text, wordCount)
		builder.endsParagraph = record.lastInParagraph
	}

	// The final chunk of the input always marks a paragraph break.
	builder.flush(true)

	return builder.chunks
}

// collectSentences splits text into trimmed sentences tagged with paragraph
// membership. Empty paragraphs and sentences are dropped.
func collectSentences(text string) []sentenceRecord {
	var records []sentenceRecord

	for _, paragraph := range strings.Split(text, paragraphSplitMarker) {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		var sentences []string

		for _, sentence := range splitAfterMatches(sentenceSplitRe, paragraph) {
			sentence = strings.TrimSpace(sentence)
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
		}

		for i, sentence := range sentences {
			records = append(records, sentenceRecord{
				text:            sentence,
				lastInParagraph: i == len(sentences)-1,
			})
		}
	}

	return records
}

// splitAfterMatches splits s after each pattern match, keeping the matched
// punctuation with the preceding piece. This mirrors a lookbehind split,
// which Go's regexp does not support directly.
func splitAfterMatches(pattern *regexp.Regexp, s string) []string {
	matches := pattern.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return []string{s}
	}

	pieces := make([]string, 0, len(matches)+1)
	start := 0

	for _, match := range matches {
		// Keep the punctuation rune with the left piece and drop the
		// separating whitespace. The rune may be multi-byte (em-dash).
		_, size := utf8.DecodeRuneInString(s[match[0]:])
		pieces = append(pieces, s[start:match[0]+size])
		start = match[1]
	}

	pieces = append(pieces, s[start:])

	return pieces
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

// chunkBuilder carries the greedy accumulation state.
type chunkBuilder struct {
	targetWords   int
	sentences     []string
	words         int
	endsParagraph bool
	chunks        []core.Chunk
}

// add appends a sentence, flushing first when it would exceed the target and
// the buffer is non-empty.
func (b *chunkBuilder) add(sentence string, wordCount int) {
	if b.words+wordCount > b.targetWords && len(b.sentences) > 0 {
		b.flush(false)
	}

	b.sentences = append(b.sentences, sentence)
	b.words += wordCount
}

// flush emits the buffered sentences as one chunk. forceParagraph overrides
// the tracked paragraph flag for the final chunk of the input.
func (b *chunkBuilder) flush(forceParagraph bool) {
	if len(b.sentences) == 0 {
		return
	}

	paragraphBreak := b.endsParagraph
	if forceParagraph {
		paragraphBreak = true
	}

	sentences := make([]string, len(b.sentences))
	copy(sentences, b.sentences)

	b.chunks = append(b.chunks, core.Chunk{
		Text:           strings.Join(sentences, " "),
		ParagraphBreak: paragraphBreak,
		Sentences:      sentences,
	})

	b.sentences = b.sentences[:0]
	b.words = 0
	b.endsParagraph = false
}
