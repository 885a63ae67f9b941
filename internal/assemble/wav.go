// Package assemble turns generated audio clips into chapter buffers and
// final audiobook artifacts.
//
// Chunk clips arrive as WAV bytes from the TTS service. Concatenation and
// silence insertion happen here on raw PCM; lossy encoding and container
// muxing are delegated to ffmpeg.
package assemble

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV layout constants.
const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	fmtChunkMinSize = 16
	wavHeaderSize   = 44

	pcmFormat = 1

	millisecondsPerSecond = 1000
)

// Static errors.
var (
	ErrNotWAV           = errors.New("data is not a RIFF/WAVE stream")
	ErrNoFormatChunk    = errors.New("WAV stream has no fmt chunk")
	ErrNoDataChunk      = errors.New("WAV stream has no data chunk")
	ErrUnsupportedCodec = errors.New("only PCM WAV audio is supported")
	ErrFormatMismatch   = errors.New("audio clips have mismatched formats")
	ErrNoChunks         = errors.New("no audio chunks to assemble")
	ErrZeroByteRate     = errors.New("WAV stream reports a zero byte rate")
)

// pcmFormatInfo describes the sample format shared by every clip in a
// chapter.
type pcmFormatInfo struct {
	channels      uint16
	sampleRate    uint32
	byteRate      uint32
	blockAlign    uint16
	bitsPerSample uint16
}

// decodeWAV parses a PCM WAV stream into its format and raw sample data.
func decodeWAV(data []byte) (pcmFormatInfo, []byte, error) {
	var info pcmFormatInfo

	if len(data) < riffHeaderSize ||
		string(data[0:4]) != "RIFF" ||
		string(data[8:12]) != "WAVE" {
		return info, nil, ErrNotWAV
	}

	var (
		samples  []byte
		haveFmt  bool
		haveData bool
	)

	offset := riffHeaderSize

	for offset+chunkHeaderSize <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderSize

		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < fmtChunkMinSize {
				return info, nil, ErrNoFormatChunk
			}

			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != pcmFormat {
				return info, nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedCodec, format)
			}

			info.channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			info.sampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			info.byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
			info.blockAlign = binary.LittleEndian.Uint16(data[body+12 : body+14])
			info.bitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			samples = data[body : body+chunkSize]
			haveData = true
		}

		// Chunks are word-aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if !haveFmt {
		return info, nil, ErrNoFormatChunk
	}

	if !haveData {
		return info, nil, ErrNoDataChunk
	}

	return info, samples, nil
}

// encodeWAV wraps raw PCM samples in a canonical 44-byte WAV header.
func encodeWAV(info pcmFormatInfo, samples []byte) []byte {
	out := make([]byte, wavHeaderSize+len(samples))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(wavHeaderSize-chunkHeaderSize+len(samples)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], fmtChunkMinSize)
	binary.LittleEndian.PutUint16(out[20:22], pcmFormat)
	binary.LittleEndian.PutUint16(out[22:24], info.channels)
	binary.LittleEndian.PutUint32(out[24:28], info.sampleRate)
	binary.LittleEndian.PutUint32(out[28:32], info.byteRate)
	binary.LittleEndian.PutUint16(out[32:34], info.blockAlign)
	binary.LittleEndian.PutUint16(out[34:36], info.bitsPerSample)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(samples)))
	copy(out[wavHeaderSize:], samples)

	return out
}

// DurationSeconds measures the playable duration of a PCM WAV clip.
func DurationSeconds(data []byte) (float64, error) {
	info, samples, err := decodeWAV(data)
	if err != nil {
		return 0, err
	}

	if info.byteRate == 0 {
		return 0, ErrZeroByteRate
	}

	return float64(len(samples)) / float64(info.byteRate), nil
}

// silenceSamples produces ms milliseconds of silence in the given format,
// rounded down to a whole sample frame.
func silenceSamples(info pcmFormatInfo, ms int) []byte {
	byteCount := int(info.byteRate) * ms / millisecondsPerSecond
	if info.blockAlign > 0 {
		byteCount -= byteCount % int(info.blockAlign)
	}

	return make([]byte, byteCount)
}

// concatWAV joins clips into one stream, inserting silences[i] milliseconds
// before clip i+1. All clips must share one sample format.
func concatWAV(clips [][]byte, silences []int) ([]byte, error) {
	if len(clips) == 0 {
		return nil, ErrNoChunks
	}

	var (
		first   pcmFormatInfo
		samples []byte
	)

	for i, clip := range clips {
		info, clipSamples, err := decodeWAV(clip)
		if err != nil {
			return nil, fmt.Errorf("clip %d: %w", i+1, err)
		}

		if i == 0 {
			first = info
		} else {
			if info != first {
				return nil, fmt.Errorf("clip %d: %w", i+1, ErrFormatMismatch)
			}

			if i-1 < len(silences) && silences[i-1] > 0 {
				samples = append(samples, silenceSamples(first, silences[i-1])...)
			}
		}

		samples = append(samples, clipSamples...)
	}

	return encodeWAV(first, samples), nil
}
