// Package speechpro is the HTTP client for the remote pronunciation scoring
// service. It exposes the three pipeline stages (grapheme-to-phoneme, model
// build and scoring) as typed calls and hides the service's JSON conventions.
package speechpro

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/resilience"
	"github.com/book-expert/pronunciation-service/internal/text"
	"github.com/google/uuid"
)

// API endpoints.
const (
	apiGTP   = "/gtp"
	apiModel = "/model"
	apiScore = "/scorejson"
)

// Default per-stage timeouts.
const (
	DefaultGTPTimeout   = 15 * time.Second
	DefaultModelTimeout = 20 * time.Second
	DefaultScoreTimeout = 30 * time.Second
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
	maxErrorBodyBytes = 4096
	requestIDLength   = 8
)

const (
	errFmtNonOKStatus = "service returned non-OK status: %s, body: %s"
	logFmtStageCall   = "SpeechPro %s request %s took %s"
	logFmtStageFailed = "SpeechPro %s request %s failed: %v"
)

// Timeouts bounds each stage call.
type Timeouts struct {
	GTP   time.Duration
	Model time.Duration
	Score time.Duration
}

// DefaultTimeouts returns 15s / 20s / 30s.
func DefaultTimeouts() Timeouts {
	return Timeouts{GTP: DefaultGTPTimeout, Model: DefaultModelTimeout, Score: DefaultScoreTimeout}
}

func (t Timeouts) withDefaults() Timeouts {
	defaults := DefaultTimeouts()

	if t.GTP <= 0 {
		t.GTP = defaults.GTP
	}

	if t.Model <= 0 {
		t.Model = defaults.Model
	}

	if t.Score <= 0 {
		t.Score = defaults.Score
	}

	return t
}

// Client calls the scoring service. It implements core.PhonemeConverter,
// core.ModelBuilder and core.Scorer.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeouts   Timeouts
	breaker    *resilience.Breaker
	log        *logger.Logger
}

// NewClient creates a client for the service at baseURL. breaker may be nil.
func NewClient(baseURL string, timeouts Timeouts, breaker *resilience.Breaker, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeouts:   timeouts.withDefaults(),
		breaker:    breaker,
		log:        log,
	}
}

// BaseURL returns the configured service address.
func (c *Client) BaseURL() string { return c.baseURL }

// Timeouts returns the effective per-stage timeouts.
func (c *Client) Timeouts() Timeouts { return c.timeouts }

// BreakerState reports the circuit breaker state, closed when none is configured.
func (c *Client) BreakerState() resilience.State {
	if c.breaker == nil {
		return resilience.StateClosed
	}

	return c.breaker.State()
}

// NewRequestID returns a stage-prefixed correlation id such as "gtp_1a2b3c4d".
func NewRequestID(stage string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")

	return stage + "_" + id[:requestIDLength]
}

// ConvertPhonemes runs the grapheme-to-phoneme stage. A nonzero ErrorCode in
// the result is left for the caller to act on.
func (c *Client) ConvertPhonemes(ctx context.Context, sentence, requestID string) (*core.PhonemeResult, error) {
	sentence = text.NormalizeSpaces(sentence)
	if sentence == "" {
		return nil, &core.ValidationError{Stage: core.StagePhoneme, Field: "text"}
	}

	if requestID == "" {
		requestID = NewRequestID(core.StagePhoneme)
	}

	var resp gtpResponse

	err := c.post(ctx, core.StagePhoneme, apiGTP, requestID, c.timeouts.GTP, gtpRequest{ID: requestID, Text: sentence}, &resp)
	if err != nil {
		return nil, err
	}

	return &core.PhonemeResult{
		RequestID:        requestID,
		Text:             firstNonEmpty(resp.Text, sentence),
		SyllableLetters:  resp.SyllLtrs,
		SyllablePhonemes: resp.SyllPhns,
		ErrorCode:        resp.ErrorCode,
	}, nil
}

// BuildModel runs the model building stage.
func (c *Client) BuildModel(ctx context.Context, in core.ModelInput) (*core.ModelResult, error) {
	in.Text = text.NormalizeSpaces(in.Text)

	err := requireFields(core.StageModel, map[string]string{
		"text":      in.Text,
		"syll_ltrs": in.SyllableLetters,
		"syll_phns": in.SyllablePhonemes,
	})
	if err != nil {
		return nil, err
	}

	if in.RequestID == "" {
		in.RequestID = NewRequestID(core.StageModel)
	}

	payload := modelRequest{ID: in.RequestID, Text: in.Text, SyllLtrs: in.SyllableLetters, SyllPhns: in.SyllablePhonemes}

	var resp modelResponse

	err = c.post(ctx, core.StageModel, apiModel, in.RequestID, c.timeouts.Model, payload, &resp)
	if err != nil {
		return nil, err
	}

	return &core.ModelResult{
		RequestID:        in.RequestID,
		Text:             firstNonEmpty(resp.Text, in.Text),
		SyllableLetters:  firstNonEmpty(resp.SyllLtrs, in.SyllableLetters),
		SyllablePhonemes: firstNonEmpty(resp.SyllPhns, in.SyllablePhonemes),
		ModelBlob:        resp.FST,
		ErrorCode:        resp.ErrorCode,
	}, nil
}

// Score runs the scoring stage. The returned Score is derived from the
// sentence breakdown when the service omits it.
func (c *Client) Score(ctx context.Context, in core.ScoreInput) (*core.ScoreResult, error) {
	in.Text = text.NormalizeSpaces(in.Text)

	err := requireFields(core.StageScore, map[string]string{
		"text":      in.Text,
		"syll_ltrs": in.SyllableLetters,
		"syll_phns": in.SyllablePhonemes,
		"fst":       in.ModelBlob,
	})
	if err != nil {
		return nil, err
	}

	if len(in.Audio) == 0 {
		return nil, &core.ValidationError{Stage: core.StageScore, Field: "audio"}
	}

	if in.RequestID == "" {
		in.RequestID = NewRequestID(core.StageScore)
	}

	payload := scoreRequest{
		ID:       in.RequestID,
		Text:     in.Text,
		SyllLtrs: in.SyllableLetters,
		SyllPhns: in.SyllablePhonemes,
		FST:      in.ModelBlob,
		WavUsr:   base64.StdEncoding.EncodeToString(in.Audio),
	}

	var resp scoreResponse

	err = c.post(ctx, core.StageScore, apiScore, in.RequestID, c.timeouts.Score, payload, &resp)
	if err != nil {
		return nil, err
	}

	score, details := resolveScore(&resp)

	return &core.ScoreResult{Score: score, Details: details, ErrorCode: resp.ErrorCode}, nil
}

// post sends one JSON request through the breaker. Every failure is returned
// as *core.RemoteServiceError.
func (c *Client) post(
	ctx context.Context,
	stage, path, requestID string,
	timeout time.Duration,
	payload, out any,
) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", stage, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	var statusCode int

	exchange := func() error {
		code, exchangeErr := c.exchange(ctx, path, body, out)
		statusCode = code

		return exchangeErr
	}

	if c.breaker != nil {
		err = c.breaker.Execute(exchange)
	} else {
		err = exchange()
	}

	if err != nil {
		c.log.Error(logFmtStageFailed, stage, requestID, err)

		return &core.RemoteServiceError{Stage: stage, StatusCode: statusCode, Err: err}
	}

	c.log.Info(logFmtStageCall, stage, requestID, time.Since(start).Round(time.Millisecond))

	return nil
}

func (c *Client) exchange(ctx context.Context, path string, body []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, parseErrorResponse(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}

	return resp.StatusCode, nil
}

// errorResponse is the structured error body some deployments return.
type errorResponse struct {
	Detail string `json:"detail"`
}

func parseErrorResponse(resp *http.Response) error {
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if readErr != nil {
		return fmt.Errorf("failed to read error response (status %d): %w", resp.StatusCode, readErr)
	}

	var structured errorResponse
	if json.Unmarshal(raw, &structured) == nil && structured.Detail != "" {
		return errors.New(structured.Detail)
	}

	return fmt.Errorf(errFmtNonOKStatus, resp.Status, strings.TrimSpace(string(raw)))
}

func requireFields(stage string, fields map[string]string) error {
	// Fixed order so the reported field is deterministic.
	for _, name := range []string{"text", "syll_ltrs", "syll_phns", "fst"} {
		value, present := fields[name]
		if present && value == "" {
			return &core.ValidationError{Stage: stage, Field: name}
		}
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
