package assemble

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/timesync"
)

const (
	outputFileMode   = 0o600
	outputDirMode    = 0o750
	m4bAudioBitrate  = "128k"
	mp3AudioBitrate  = "192k"
	ffmetadataHeader = ";FFMETADATA1\n"
)

// assembleM4B joins all chapters into one WAV, writes an FFMETADATA chapter
// index, and muxes both (plus cover art when present) into an m4b container.
func (a *Assembler) assembleM4B(
	ctx context.Context,
	outputDir string,
	chapterAudio [][]byte,
	extract *core.ExtractResult,
	timings []core.ChapterTiming,
) (string, error) {
	err := os.MkdirAll(outputDir, outputDirMode)
	if err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	silences := make([]int, 0, len(chapterAudio))
	for i := 0; i+1 < len(chapterAudio); i++ {
		silences = append(silences, SilenceBetweenChaptersMs)
	}

	bookAudio, err := concatWAV(chapterAudio, silences)
	if err != nil {
		return "", fmt.Errorf("failed to join chapters: %w", err)
	}

	workDir, err := os.MkdirTemp("", "audiobook-m4b-*")
	if err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() {
		removeErr := os.RemoveAll(workDir)
		if removeErr != nil {
			a.log.Warn("Failed to remove work directory %s: %v", workDir, removeErr)
		}
	}()

	wavPath := filepath.Join(workDir, "book.wav")

	err = os.WriteFile(wavPath, bookAudio, outputFileMode)
	if err != nil {
		return "", fmt.Errorf("failed to write joined audio: %w", err)
	}

	durationsMs, err := chapterDurationsMs(chapterAudio)
	if err != nil {
		return "", err
	}

	metaPath := filepath.Join(workDir, "metadata.txt")

	err = os.WriteFile(metaPath, []byte(buildFFMetadata(extract, timings, durationsMs)), outputFileMode)
	if err != nil {
		return "", fmt.Errorf("failed to write chapter metadata: %w", err)
	}

	outputPath := filepath.Join(outputDir, bookBaseName(extract)+".m4b")

	args := []string{"-y", "-i", wavPath, "-i", metaPath}

	haveCover := extract != nil && len(extract.CoverImage) > 0
	if haveCover {
		coverPath := filepath.Join(workDir, "cover.jpg")

		err = os.WriteFile(coverPath, extract.CoverImage, outputFileMode)
		if err != nil {
			return "", fmt.Errorf("failed to write cover image: %w", err)
		}

		args = append(args, "-i", coverPath)
	}

	args = append(args, "-map_metadata", "1", "-map", "0:a")
	if haveCover {
		args = append(args,
			"-map", "2:v",
			"-c:v", "mjpeg",
			"-disposition:v:0", "attached_pic",
		)
	}

	args = append(args, "-c:a", "aac", "-b:a", m4bAudioBitrate, "-f", "mp4", outputPath)

	err = a.runFFmpeg(ctx, args)
	if err != nil {
		return "", err
	}

	lrcPath := filepath.Join(outputDir, bookBaseName(extract)+".lrc")

	err = os.WriteFile(lrcPath, []byte(timesync.GenerateFullLRC(timings)), outputFileMode)
	if err != nil {
		return "", fmt.Errorf("failed to write lyrics file: %w", err)
	}

	return outputPath, nil
}

// assembleMP3Zip encodes each chapter as its own MP3, pairs it with a
// chapter-local LRC file, and packs everything into a zip archive.
func (a *Assembler) assembleMP3Zip(
	ctx context.Context,
	outputDir string,
	chapterAudio [][]byte,
	extract *core.ExtractResult,
	timings []core.ChapterTiming,
) (string, error) {
	err := os.MkdirAll(outputDir, outputDirMode)
	if err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	workDir, err := os.MkdirTemp("", "audiobook-mp3-*")
	if err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() {
		removeErr := os.RemoveAll(workDir)
		if removeErr != nil {
			a.log.Warn("Failed to remove work directory %s: %v", workDir, removeErr)
		}
	}()

	outputPath := filepath.Join(outputDir, bookBaseName(extract)+".zip")

	archiveFile, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archive := zip.NewWriter(archiveFile)

	for i, audio := range chapterAudio {
		title := chapterTitle(extract, i)
		stem := fmt.Sprintf("%03d - %s", i+1, sanitizeFileName(title))

		wavPath := filepath.Join(workDir, fmt.Sprintf("chapter-%03d.wav", i+1))

		err = os.WriteFile(wavPath, audio, outputFileMode)
		if err != nil {
			return "", closeArchiveOnError(archive, archiveFile,
				fmt.Errorf("failed to write chapter audio: %w", err))
		}

		mp3Path := filepath.Join(workDir, fmt.Sprintf("chapter-%03d.mp3", i+1))

		args := []string{
			"-y", "-i", wavPath,
			"-codec:a", "libmp3lame", "-b:a", mp3AudioBitrate,
			"-metadata", "title=" + title,
			"-metadata", fmt.Sprintf("track=%d/%d", i+1, len(chapterAudio)),
		}
		if extract != nil && extract.Metadata.Author != "" {
			args = append(args, "-metadata", "artist="+extract.Metadata.Author)
		}

		if extract != nil && extract.Metadata.Title != "" {
			args = append(args, "-metadata", "album="+extract.Metadata.Title)
		}

		args = append(args, mp3Path)

		err = a.runFFmpeg(ctx, args)
		if err != nil {
			return "", closeArchiveOnError(archive, archiveFile, err)
		}

		err = addFileToArchive(archive, mp3Path, stem+".mp3")
		if err != nil {
			return "", closeArchiveOnError(archive, archiveFile, err)
		}

		if i < len(timings) {
			lrc := timesync.GenerateChapterLRC(timings[i])

			err = addDataToArchive(archive, stem+".lrc", []byte(lrc))
			if err != nil {
				return "", closeArchiveOnError(archive, archiveFile, err)
			}
		}
	}

	if extract != nil && len(extract.CoverImage) > 0 {
		err = addDataToArchive(archive, "cover.jpg", extract.CoverImage)
		if err != nil {
			return "", closeArchiveOnError(archive, archiveFile, err)
		}
	}

	err = archive.Close()
	if err != nil {
		_ = archiveFile.Close()

		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}

	err = archiveFile.Close()
	if err != nil {
		return "", fmt.Errorf("failed to close archive: %w", err)
	}

	return outputPath, nil
}

func (a *Assembler) runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, a.ffmpegPath, args...)

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	a.log.Info("Running ffmpeg with %d arguments", len(args))

	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return nil
}

// chapterDurationsMs measures each assembled chapter buffer. Chapter markers
// must come from the real audio, which includes inter-chunk silences the
// timing records do not carry.
func chapterDurationsMs(chapterAudio [][]byte) ([]int64, error) {
	durations := make([]int64, len(chapterAudio))

	for i, audio := range chapterAudio {
		secs, err := DurationSeconds(audio)
		if err != nil {
			return nil, fmt.Errorf("failed to measure chapter %d: %w", i+1, err)
		}

		durations[i] = int64(secs * float64(millisecondsPerSecond))
	}

	return durations, nil
}

// buildFFMetadata renders the FFMETADATA1 document carrying book tags and
// chapter markers with millisecond start and end times. durationsMs holds
// the measured length of each assembled chapter.
func buildFFMetadata(
	extract *core.ExtractResult,
	timings []core.ChapterTiming,
	durationsMs []int64,
) string {
	var builder strings.Builder

	builder.WriteString(ffmetadataHeader)

	if extract != nil {
		meta := extract.Metadata
		if meta.Title != "" {
			writeMetaTag(&builder, "title", meta.Title)
			writeMetaTag(&builder, "album", meta.Title)
		}

		if meta.Author != "" {
			writeMetaTag(&builder, "artist", meta.Author)
		}

		if meta.Year != "" {
			writeMetaTag(&builder, "date", meta.Year)
		}

		if meta.Description != "" {
			writeMetaTag(&builder, "description", meta.Description)
		}

		writeMetaTag(&builder, "genre", "Audiobook")
	}

	offsetMs := int64(0)

	for i, durationMs := range durationsMs {
		endMs := offsetMs + durationMs

		title := fmt.Sprintf("Chapter %d", i+1)
		if i < len(timings) {
			title = chapterTitleFromTiming(timings[i], i)
		}

		builder.WriteString("[CHAPTER]\n")
		builder.WriteString("TIMEBASE=1/1000\n")
		fmt.Fprintf(&builder, "START=%d\n", offsetMs)
		fmt.Fprintf(&builder, "END=%d\n", endMs)
		writeMetaTag(&builder, "title", title)

		offsetMs = endMs + int64(SilenceBetweenChaptersMs)
	}

	return builder.String()
}

// writeMetaTag escapes the characters FFMETADATA treats as special.
func writeMetaTag(builder *strings.Builder, key, value string) {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		"=", "\\=",
		";", "\\;",
		"#", "\\#",
		"\n", "\\\n",
	)
	fmt.Fprintf(builder, "%s=%s\n", key, replacer.Replace(value))
}

func bookBaseName(extract *core.ExtractResult) string {
	if extract != nil && extract.Metadata.Title != "" {
		return sanitizeFileName(extract.Metadata.Title)
	}

	return "audiobook"
}

func chapterTitle(extract *core.ExtractResult, index int) string {
	if extract != nil && index < len(extract.Chapters) && extract.Chapters[index].Title != "" {
		return extract.Chapters[index].Title
	}

	return fmt.Sprintf("Chapter %d", index+1)
}

func chapterTitleFromTiming(timing core.ChapterTiming, index int) string {
	if timing.Title != "" {
		return timing.Title
	}

	return fmt.Sprintf("Chapter %d", index+1)
}

// sanitizeFileName strips characters that are unsafe in file names across
// platforms.
func sanitizeFileName(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "",
		"<", "",
		">", "",
		"|", "-",
	)

	cleaned := strings.TrimSpace(replacer.Replace(name))
	if cleaned == "" {
		return "untitled"
	}

	return cleaned
}

func addFileToArchive(archive *zip.Writer, path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	return addDataToArchive(archive, name, data)
}

func addDataToArchive(archive *zip.Writer, name string, data []byte) error {
	writer, err := archive.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", name, err)
	}

	_, err = writer.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", name, err)
	}

	return nil
}

func closeArchiveOnError(archive *zip.Writer, file *os.File, err error) error {
	_ = archive.Close()
	_ = file.Close()

	return err
}
