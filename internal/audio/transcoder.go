package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/core"
)

// Defaults for the transcoder.
const (
	DefaultFFmpegPath = "ffmpeg"
	DefaultTimeout    = 30 * time.Second

	workDirPattern  = "transcode-*"
	inputFileName   = "input"
	filePermissions = 0o600
)

const (
	logFmtRemoveWorkDir = "Failed to remove transcode directory '%s': %v"
	logFmtTranscoded    = "Transcoded %d bytes to %d bytes (%s, %d Hz)"
	logFmtTranscodedWAV = "Transcoded %d bytes to %s of %d Hz audio"
)

var (
	// ErrEmptyOutput indicates the transcoder exited cleanly but wrote nothing.
	ErrEmptyOutput = errors.New("transcoder produced no output")
	// ErrFormatMismatch indicates WAV output that does not match the requested format.
	ErrFormatMismatch = errors.New("transcoder output does not match target format")
)

// Options configures a Transcoder.
type Options struct {
	// FFmpegPath is the transcoder executable, looked up on PATH when bare.
	FFmpegPath string
	// TempDir is the parent of the per-call work directories. Empty means os.TempDir().
	TempDir string
	// Timeout bounds a single transcode.
	Timeout time.Duration
}

// Transcoder converts arbitrary recordings with an external ffmpeg process.
// Every call runs in its own temporary directory, so concurrent calls never
// share file names.
type Transcoder struct {
	ffmpegPath string
	tempDir    string
	timeout    time.Duration
	log        *logger.Logger
}

// NewTranscoder creates a Transcoder, filling unset options with defaults.
func NewTranscoder(opts Options, log *logger.Logger) *Transcoder {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = DefaultFFmpegPath
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Transcoder{
		ffmpegPath: opts.FFmpegPath,
		tempDir:    opts.TempDir,
		timeout:    opts.Timeout,
		log:        log,
	}
}

// Normalize converts audio to the scoring format. It implements core.AudioNormalizer.
func (t *Transcoder) Normalize(ctx context.Context, data []byte) ([]byte, error) {
	return t.Convert(ctx, data, ScoringFormat())
}

// Convert transcodes data into the target format. A transcoder that rejects
// the input is reported as *core.ConversionError carrying its diagnostic
// output. A transcoder that cannot be started, is cut off by the deadline or
// writes WAV in the wrong format is reported as a plain error.
func (t *Transcoder) Convert(ctx context.Context, data []byte, target Format) ([]byte, error) {
	if len(data) == 0 {
		return nil, &core.ConversionError{Err: core.ErrAudioEmpty}
	}

	err := target.Validate()
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp(t.tempDir, workDirPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcode directory: %w", err)
	}

	defer func() {
		removeErr := os.RemoveAll(workDir)
		if removeErr != nil {
			t.log.Warn(logFmtRemoveWorkDir, workDir, removeErr)
		}
	}()

	inputPath := filepath.Join(workDir, inputFileName)
	outputPath := filepath.Join(workDir, "output."+string(target.Container))

	err = os.WriteFile(inputPath, data, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to write transcode input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// #nosec G204 -- the argument list is fixed, paths are generated above
	cmd := exec.CommandContext(ctx, t.ffmpegPath, buildArgs(inputPath, outputPath, target)...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return nil, &core.ConversionError{Output: string(output), Err: err}
		}

		return nil, fmt.Errorf("failed to run transcoder %s: %w", t.ffmpegPath, err)
	}

	converted, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, &core.ConversionError{Output: string(output), Err: err}
	}

	if len(converted) == 0 {
		return nil, &core.ConversionError{Output: string(output), Err: ErrEmptyOutput}
	}

	if target.Container != ContainerWAV {
		t.log.Info(logFmtTranscoded, len(data), len(converted), target.Container, target.SampleRate)

		return converted, nil
	}

	err = verifyWAV(converted, target)
	if err != nil {
		return nil, err
	}

	length, err := Duration(converted)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormatMismatch, err)
	}

	t.log.Info(logFmtTranscodedWAV, len(data), length.Round(time.Millisecond), target.SampleRate)

	return converted, nil
}

func verifyWAV(data []byte, target Format) error {
	got, _, err := ParseWAVHeader(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormatMismatch, err)
	}

	if got.SampleRate != target.SampleRate || got.Channels != target.Channels || got.BitDepth != target.BitDepth {
		return fmt.Errorf("%w: got %d Hz, %d channels, %d bit; want %d Hz, %d channels, %d bit",
			ErrFormatMismatch,
			got.SampleRate, got.Channels, got.BitDepth,
			target.SampleRate, target.Channels, target.BitDepth)
	}

	return nil
}

func buildArgs(inputPath, outputPath string, target Format) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-ac", strconv.Itoa(target.Channels),
		"-ar", strconv.Itoa(target.SampleRate),
		"-acodec", "pcm_s16le",
		"-f", string(target.Container),
		outputPath,
	}
}
