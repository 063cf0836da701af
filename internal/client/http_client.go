// Package client talks to a running pronunciation service over HTTP or NATS.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/pronunciation-service/internal/audio"
	"github.com/book-expert/pronunciation-service/internal/core"
)

// API paths.
const (
	apiEvaluate  = "/api/speechpro/evaluate"
	apiSentences = "/api/speechpro/sentences"
	apiHealth    = "/health"
)

const (
	headerContentType = "Content-Type"
	maxErrorBody      = 4096
)

// Error messages.
const (
	errFmtOpenAudio      = "failed to open audio file: %w"
	errFmtBuildForm      = "failed to build multipart form: %w"
	errFmtCreateRequest  = "failed to create request: %w"
	errFmtSendRequest    = "failed to send request to %s: %w"
	errFmtDecodeResponse = "failed to decode response: %w"
)

var (
	// ErrEvaluationFailed is returned with the failed result when the service
	// rejects or cannot complete an evaluation.
	ErrEvaluationFailed = errors.New("evaluation failed")
	// ErrUnhealthy indicates a non-OK health check.
	ErrUnhealthy = errors.New("service is not healthy")
)

// EvaluateRequest is one recording to evaluate.
type EvaluateRequest struct {
	Text        string
	AudioPath   string
	UserID      string
	Precomputed *core.Precomputed
}

// HTTPClient calls the service REST API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Evaluate uploads a recording and returns the evaluation. On a non-OK
// response the decoded failure result is returned with ErrEvaluationFailed.
func (c *HTTPClient) Evaluate(ctx context.Context, req EvaluateRequest) (*core.EvaluationResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, core.ErrTextEmpty
	}

	body, contentType, err := buildEvaluateForm(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiEvaluate, body)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateRequest, err)
	}

	httpReq.Header.Set(headerContentType, contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(errFmtSendRequest, c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result core.EvaluationResult

	decodeErr := json.Unmarshal(data, &result)

	if resp.StatusCode != http.StatusOK {
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: status %s: %s", ErrEvaluationFailed, resp.Status, truncate(data))
		}

		return &result, fmt.Errorf("%w: status %s: %s", ErrEvaluationFailed, resp.Status, result.Error)
	}

	if decodeErr != nil {
		return nil, fmt.Errorf(errFmtDecodeResponse, decodeErr)
	}

	return &result, nil
}

// Sentences lists the service's precomputed sentences.
func (c *HTTPClient) Sentences(ctx context.Context) ([]core.PrecomputedSentence, error) {
	var payload struct {
		Sentences []core.PrecomputedSentence `json:"sentences"`
	}

	err := c.getJSON(ctx, apiSentences, &payload)
	if err != nil {
		return nil, err
	}

	return payload.Sentences, nil
}

// HealthCheck verifies that the service is up.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	var payload struct {
		Status string `json:"status"`
	}

	err := c.getJSON(ctx, apiHealth, &payload)
	if err != nil {
		return err
	}

	if payload.Status != "ok" {
		return fmt.Errorf("%w: status %q", ErrUnhealthy, payload.Status)
	}

	return nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf(errFmtCreateRequest, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(errFmtSendRequest, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return fmt.Errorf("%w: %s returned %s: %s", ErrUnhealthy, path, resp.Status, data)
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf(errFmtDecodeResponse, err)
	}

	return nil
}

func buildEvaluateForm(req EvaluateRequest) (*bytes.Buffer, string, error) {
	file, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, "", fmt.Errorf(errFmtOpenAudio, err)
	}
	defer file.Close()

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	fields := map[string]string{"text": req.Text, "user_id": req.UserID}
	if req.Precomputed != nil {
		fields["syll_ltrs"] = req.Precomputed.SyllableLetters
		fields["syll_phns"] = req.Precomputed.SyllablePhonemes
		fields["fst"] = req.Precomputed.ModelBlob
	}

	for name, value := range fields {
		if value == "" {
			continue
		}

		err = writer.WriteField(name, value)
		if err != nil {
			return nil, "", fmt.Errorf(errFmtBuildForm, err)
		}
	}

	name := filepath.Base(req.AudioPath)

	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, name))
	partHeader.Set(headerContentType, audio.ContentTypeFor(name))

	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return nil, "", fmt.Errorf(errFmtBuildForm, err)
	}

	_, err = io.Copy(part, file)
	if err != nil {
		return nil, "", fmt.Errorf(errFmtBuildForm, err)
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf(errFmtBuildForm, err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func truncate(data []byte) string {
	if len(data) > maxErrorBody {
		data = data[:maxErrorBody]
	}

	return string(data)
}
