package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const fmtChunkLength = 16

// ErrNotWAV indicates data without a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// ParseWAVHeader reads the fmt chunk of a WAV stream and returns its format
// and the byte offset where sample data begins.
func ParseWAVHeader(data []byte) (Format, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, 0, ErrNotWAV
	}

	var (
		format Format
		seen   bool
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if body+fmtChunkLength > len(data) {
				return Format{}, 0, fmt.Errorf("%w: truncated fmt chunk", ErrNotWAV)
			}

			format = Format{
				Channels:   int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				SampleRate: int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
				BitDepth:   int(binary.LittleEndian.Uint16(data[body+14 : body+16])),
				Container:  ContainerWAV,
			}
			seen = true
		case "data":
			if !seen {
				return Format{}, 0, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}

			return format, body, nil
		}

		// Chunks are word aligned.
		offset = body + size + size%2
	}

	return Format{}, 0, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
}

// Duration returns the play length of a WAV stream.
func Duration(data []byte) (time.Duration, error) {
	format, offset, err := ParseWAVHeader(data)
	if err != nil {
		return 0, err
	}

	rate := format.BytesPerSecond()
	if rate == 0 {
		return 0, fmt.Errorf("%w: zero byte rate", ErrNotWAV)
	}

	samples := len(data) - offset

	return time.Duration(samples) * time.Second / time.Duration(rate), nil
}
