// Package extract turns source documents into ordered chapters. Only plain
// text is handled here; richer formats arrive through the same interface
// from format-specific extractors.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/book-expert/audiobook-service/internal/core"
)

// ErrEmptyDocument is returned when a source file has no speakable text.
var ErrEmptyDocument = errors.New("document is empty")

// headingPattern matches chapter heading lines: markdown headings and the
// conventional "Chapter N" / "Part N" forms, with arabic or roman numerals.
var headingPattern = regexp.MustCompile(
	`(?i)^(#{1,3}\s+.+|(chapter|part|book|prologue|epilogue)(\s+([0-9]+|[ivxlcdm]+))?(\s*[:.\-].*)?)$`,
)

// metadataPattern matches "Key: value" lines in an optional leading
// metadata block.
var metadataPattern = regexp.MustCompile(`^(Title|Author|Year|Description):\s*(.+)$`)

// TextExtractor implements core.Extractor for plain-text documents.
//
// A document may open with a metadata block of "Title:", "Author:", "Year:"
// and "Description:" lines terminated by a blank line. The body is split
// into chapters at heading lines; a document without headings becomes one
// chapter named after the file.
type TextExtractor struct{}

// NewTextExtractor creates a plain-text extractor.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract reads and chapters the document at path.
func (e *TextExtractor) Extract(ctx context.Context, path string) (*core.ExtractResult, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	metadata, body := splitMetadata(text)
	if metadata.Title == "" {
		metadata.Title = titleFromPath(path)
	}

	chapters := splitChapters(body, metadata.Title)
	if len(chapters) == 0 {
		return nil, ErrEmptyDocument
	}

	return &core.ExtractResult{
		Chapters:   chapters,
		Metadata:   metadata,
		CoverImage: nil,
	}, nil
}

// splitMetadata consumes a leading "Key: value" block, returning the parsed
// tags and the remaining body.
func splitMetadata(text string) (core.BookMetadata, string) {
	var metadata core.BookMetadata

	lines := strings.Split(text, "\n")
	consumed := 0

	for _, line := range lines {
		match := metadataPattern.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			break
		}

		value := strings.TrimSpace(match[2])

		switch match[1] {
		case "Title":
			metadata.Title = value
		case "Author":
			metadata.Author = value
		case "Year":
			metadata.Year = value
		case "Description":
			metadata.Description = value
		}

		consumed++
	}

	if consumed == 0 {
		return metadata, text
	}

	// The block only counts when a blank line separates it from the body.
	if consumed >= len(lines) || strings.TrimSpace(lines[consumed]) != "" {
		return core.BookMetadata{}, text
	}

	return metadata, strings.Join(lines[consumed+1:], "\n")
}

// splitChapters cuts the body at heading lines. Text before the first
// heading, or a body with no headings at all, becomes its own chapter.
func splitChapters(body, fallbackTitle string) []core.Chapter {
	var (
		chapters []core.Chapter
		title    string
		buffer   []string
	)

	flush := func() {
		text := strings.TrimSpace(strings.Join(buffer, "\n"))
		if text == "" {
			return
		}

		chapterTitle := title
		if chapterTitle == "" {
			if len(chapters) == 0 {
				chapterTitle = fallbackTitle
			} else {
				chapterTitle = fmt.Sprintf("Chapter %d", len(chapters)+1)
			}
		}

		chapters = append(chapters, core.Chapter{Title: chapterTitle, Text: text})
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if headingPattern.MatchString(trimmed) {
			flush()

			title = strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
			buffer = buffer[:0]

			continue
		}

		buffer = append(buffer, line)
	}

	flush()

	return chapters
}

func titleFromPath(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}
