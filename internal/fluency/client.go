// Package fluency is the client for the streaming fluency analysis service.
// A session joins with the expected sentence, streams 8 kHz PCM and quits,
// after which the service returns word counts and an annotated transcript.
package fluency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/audio"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/text"
	"github.com/coder/websocket"
)

// Stage names the fluency service in errors and metrics.
const Stage = "fluency"

// DefaultTimeout bounds a whole session.
const DefaultTimeout = 60 * time.Second

const (
	language     = "ko"
	cmdJoin      = "join"
	cmdQuit      = "quit"
	eventReply   = "reply"
	chunkBytes   = 4096 * 2
	readLimit    = 1 << 20
	percentScale = 100
)

const (
	logFmtSession = "Fluency session for %d PCM bytes in %d chunks took %s"
)

var (
	// ErrUnexpectedEvent indicates the service did not acknowledge the join.
	ErrUnexpectedEvent = errors.New("unexpected fluency event")
	// ErrAnalysisFailed indicates the service reported an unsuccessful analysis.
	ErrAnalysisFailed = errors.New("fluency analysis failed")
)

// PCMConverter converts uploaded recordings into raw PCM.
type PCMConverter interface {
	Convert(ctx context.Context, data []byte, target audio.Format) ([]byte, error)
}

// Result is the outcome of one fluency analysis.
type Result struct {
	Success             bool           `json:"success"`
	TotalReadingWords   int            `json:"total_reading_words"`
	TotalCorrectWords   int            `json:"total_correct_words"`
	TotalDuration       float64        `json:"total_duration"`
	ReadingWordsPerUnit float64        `json:"reading_words_per_unit"`
	CorrectWordsPerUnit float64        `json:"correct_words_per_unit"`
	AccuracyRate        float64        `json:"accuracy_rate"`
	Output              string         `json:"output"`
	Analysis            OutputAnalysis `json:"analysis"`
}

type command struct {
	Language string `json:"language"`
	Cmd      string `json:"cmd"`
	Answer   string `json:"answer,omitempty"`
}

type event struct {
	Event string `json:"event"`
}

type analysisMessage struct {
	Success bool `json:"success"`
	Result  struct {
		SpeechproFluency struct {
			TotalReadingWords   int     `json:"total_reading_words"`
			TotalCorrectWords   int     `json:"total_correct_words"`
			TotalDuration       float64 `json:"total_duration"`
			ReadingWordsPerUnit float64 `json:"reading_words_per_unit"`
			CorrectWordsPerUnit float64 `json:"correct_words_per_unit"`
		} `json:"SpeechproFluency"`
		Output string `json:"output"`
	} `json:"result"`
}

// Client runs fluency sessions.
type Client struct {
	wsURL     string
	timeout   time.Duration
	converter PCMConverter
	log       *logger.Logger
}

// NewClient creates a Client for the service at wsURL.
func NewClient(wsURL string, timeout time.Duration, converter PCMConverter, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{wsURL: wsURL, timeout: timeout, converter: converter, log: log}
}

// Analyze converts the recording and runs one session against sentence.
func (c *Client) Analyze(ctx context.Context, sentence string, recording []byte) (*Result, error) {
	sentence = text.NormalizeSpaces(sentence)
	if sentence == "" {
		return nil, &core.ClientInputError{Err: core.ErrTextEmpty}
	}

	if len(recording) == 0 {
		return nil, &core.ClientInputError{Err: core.ErrAudioEmpty}
	}

	pcm, err := c.converter.Convert(ctx, recording, audio.FluencyFormat())
	if err != nil {
		return nil, fmt.Errorf("fluency audio conversion failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	msg, err := c.session(ctx, sentence, pcm)
	if err != nil {
		return nil, &core.RemoteServiceError{Stage: Stage, Err: err}
	}

	c.log.Info(logFmtSession, len(pcm), chunkCount(len(pcm)), time.Since(start).Round(time.Millisecond))

	if !msg.Success {
		return nil, &core.RemoteServiceError{Stage: Stage, Err: ErrAnalysisFailed}
	}

	stats := msg.Result.SpeechproFluency

	return &Result{
		Success:             true,
		TotalReadingWords:   stats.TotalReadingWords,
		TotalCorrectWords:   stats.TotalCorrectWords,
		TotalDuration:       stats.TotalDuration,
		ReadingWordsPerUnit: stats.ReadingWordsPerUnit,
		CorrectWordsPerUnit: stats.CorrectWordsPerUnit,
		AccuracyRate:        AccuracyRate(stats.TotalCorrectWords, stats.TotalReadingWords),
		Output:              msg.Result.Output,
		Analysis:            ParseOutput(msg.Result.Output),
	}, nil
}

func (c *Client) session(ctx context.Context, sentence string, pcm []byte) (*analysisMessage, error) {
	conn, _, err := websocket.Dial(ctx, c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.wsURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "session complete")

	conn.SetReadLimit(readLimit)

	err = writeJSON(ctx, conn, command{Language: language, Cmd: cmdJoin, Answer: sentence})
	if err != nil {
		return nil, fmt.Errorf("failed to send join: %w", err)
	}

	var reply event

	err = readJSON(ctx, conn, &reply)
	if err != nil {
		return nil, fmt.Errorf("failed to read join reply: %w", err)
	}

	if reply.Event != eventReply {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedEvent, reply.Event)
	}

	for offset := 0; offset < len(pcm); offset += chunkBytes {
		end := min(offset+chunkBytes, len(pcm))

		err = conn.Write(ctx, websocket.MessageBinary, pcm[offset:end])
		if err != nil {
			return nil, fmt.Errorf("failed to stream audio chunk at %d: %w", offset, err)
		}
	}

	err = writeJSON(ctx, conn, command{Language: language, Cmd: cmdQuit})
	if err != nil {
		return nil, fmt.Errorf("failed to send quit: %w", err)
	}

	var msg analysisMessage

	err = readJSON(ctx, conn, &msg)
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis: %w", err)
	}

	return &msg, nil
}

// AccuracyRate is correct/reading as a percentage rounded to two decimals.
// A zero reading count is treated as one.
func AccuracyRate(correct, reading int) float64 {
	rate := float64(correct) / float64(max(reading, 1)) * percentScale

	return math.Round(rate*percentScale) / percentScale
}

func chunkCount(size int) int {
	return (size + chunkBytes - 1) / chunkBytes
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return conn.Write(ctx, websocket.MessageText, data)
}

func readJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}
