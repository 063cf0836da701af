// Package audio converts uploaded recordings into the PCM layouts expected by
// the scoring and fluency backends, and provides small WAV helpers.
package audio

import (
	"errors"
	"fmt"
)

// Canonical sample rates.
const (
	ScoringSampleRate = 16000
	FluencySampleRate = 8000
)

// Limits for format validation.
const (
	maxSampleRate = 192000
	maxChannels   = 8
	bitDepth16    = 16
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
	errFmtBitDepth        = "%w: only 16-bit samples are supported, got %d"
)

// ErrInvalidFormat indicates an unusable target format.
var ErrInvalidFormat = errors.New("invalid audio format")

// Container selects how transcoded PCM is wrapped.
type Container string

const (
	// ContainerWAV wraps PCM in a RIFF/WAVE header.
	ContainerWAV Container = "wav"
	// ContainerRaw emits headerless little-endian samples.
	ContainerRaw Container = "s16le"
)

// Format describes a PCM target layout.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Container  Container
}

// ScoringFormat is mono 16-bit 16 kHz WAV, required by the scoring service.
func ScoringFormat() Format {
	return Format{SampleRate: ScoringSampleRate, Channels: 1, BitDepth: bitDepth16, Container: ContainerWAV}
}

// FluencyFormat is mono 16-bit 8 kHz raw PCM, streamed to the fluency service.
func FluencyFormat() Format {
	return Format{SampleRate: FluencySampleRate, Channels: 1, BitDepth: bitDepth16, Container: ContainerRaw}
}

// Validate checks the format against supported limits.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > maxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, maxSampleRate, f.SampleRate)
	}

	if f.Channels <= 0 || f.Channels > maxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, maxChannels, f.Channels)
	}

	if f.BitDepth != bitDepth16 {
		return fmt.Errorf(errFmtBitDepth, ErrInvalidFormat, f.BitDepth)
	}

	if f.Container != ContainerWAV && f.Container != ContainerRaw {
		return fmt.Errorf("%w: unknown container %q", ErrInvalidFormat, f.Container)
	}

	return nil
}

// BytesPerSecond is the PCM data rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}
