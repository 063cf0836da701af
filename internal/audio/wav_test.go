package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/book-expert/pronunciation-service/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeWAV wraps little-endian PCM samples in a canonical 44-byte header.
func encodeWAV(pcm []byte, f audio.Format) []byte {
	blockAlign := f.Channels * f.BitDepth / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(f.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(f.BitDepth))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

func TestParseWAVHeader_OneSecond(t *testing.T) {
	t.Parallel()

	wav := encodeWAV(make([]byte, 32000), audio.ScoringFormat())
	require.Len(t, wav, 44+32000)

	format, offset, err := audio.ParseWAVHeader(wav)
	require.NoError(t, err)
	assert.Equal(t, 44, offset)
	assert.Equal(t, audio.ScoringSampleRate, format.SampleRate)
	assert.Equal(t, 1, format.Channels)
	assert.Equal(t, 16, format.BitDepth)

	duration, err := audio.Duration(wav)
	require.NoError(t, err)
	assert.Equal(t, time.Second, duration)
}

func TestParseWAVHeader_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()

	wav := encodeWAV([]byte{1, 0, 2, 0}, audio.FluencyFormat())

	// Insert a LIST chunk with an odd length between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	withList := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	format, offset, err := audio.ParseWAVHeader(withList)
	require.NoError(t, err)
	assert.Equal(t, audio.FluencySampleRate, format.SampleRate)
	assert.Equal(t, []byte{1, 0, 2, 0}, withList[offset:])
}

func TestParseWAVHeader_Rejects(t *testing.T) {
	t.Parallel()

	_, _, err := audio.ParseWAVHeader([]byte("OggS....."))
	require.ErrorIs(t, err, audio.ErrNotWAV)

	wav := encodeWAV(nil, audio.ScoringFormat())
	_, _, err = audio.ParseWAVHeader(wav[:30])
	require.ErrorIs(t, err, audio.ErrNotWAV)
}

func TestFormat_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, audio.ScoringFormat().Validate())
	require.NoError(t, audio.FluencyFormat().Validate())

	bad := audio.ScoringFormat()
	bad.SampleRate = 0
	require.ErrorIs(t, bad.Validate(), audio.ErrInvalidFormat)

	bad = audio.ScoringFormat()
	bad.Channels = 9
	require.ErrorIs(t, bad.Validate(), audio.ErrInvalidFormat)

	bad = audio.ScoringFormat()
	bad.BitDepth = 24
	require.ErrorIs(t, bad.Validate(), audio.ErrInvalidFormat)

	bad = audio.ScoringFormat()
	bad.Container = "flac"
	require.ErrorIs(t, bad.Validate(), audio.ErrInvalidFormat)
}
