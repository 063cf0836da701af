package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/client"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/objectstore"
	"github.com/book-expert/pronunciation-service/internal/worker"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecording(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("recording-bytes"), 0o600))

	return path
}

func TestHTTPClient_Evaluate(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/speechpro/evaluate", r.URL.Path)

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		assert.Equal(t, "안녕하세요", r.FormValue("text"))
		assert.Equal(t, "learner-1", r.FormValue("user_id"))
		assert.Equal(t, "blob", r.FormValue("fst"))

		file, header, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()

		assert.Equal(t, "audio/webm", header.Header.Get("Content-Type"))

		data, _ := io.ReadAll(file)
		assert.Equal(t, "recording-bytes", string(data))

		_ = json.NewEncoder(w).Encode(core.EvaluationResult{Success: true, OverallScore: 91.25, Source: core.SourceLive})
	}))
	t.Cleanup(server.Close)

	c := client.NewHTTPClient(server.URL+"/", 5*time.Second)

	result, err := c.Evaluate(context.Background(), client.EvaluateRequest{
		Text:        "안녕하세요",
		AudioPath:   writeRecording(t, "take.webm"),
		UserID:      "learner-1",
		Precomputed: &core.Precomputed{ModelBlob: "blob"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.InDelta(t, 91.25, result.OverallScore, 0.001)
}

func TestHTTPClient_EvaluateFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(core.EvaluationResult{Success: false, Error: "score service call failed", FailedStage: "score"})
	}))
	t.Cleanup(server.Close)

	c := client.NewHTTPClient(server.URL, 5*time.Second)

	result, err := c.Evaluate(context.Background(), client.EvaluateRequest{
		Text:      "안녕하세요",
		AudioPath: writeRecording(t, "take.wav"),
	})
	require.ErrorIs(t, err, client.ErrEvaluationFailed)
	require.NotNil(t, result)
	assert.Equal(t, "score", result.FailedStage)
}

func TestHTTPClient_EvaluateValidation(t *testing.T) {
	t.Parallel()

	c := client.NewHTTPClient("http://127.0.0.1:1", time.Second)

	_, err := c.Evaluate(context.Background(), client.EvaluateRequest{Text: " ", AudioPath: "x.wav"})
	require.ErrorIs(t, err, core.ErrTextEmpty)

	_, err = c.Evaluate(context.Background(), client.EvaluateRequest{Text: "안녕", AudioPath: filepath.Join(t.TempDir(), "missing.wav")})
	require.Error(t, err)
}

func TestHTTPClient_SentencesAndHealth(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","precomputed_sentences":1}`))
	})
	mux.HandleFunc("/api/speechpro/sentences", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"count":1,"sentences":[{"id":7,"order":1,"sentenceKr":"감사합니다","syll_ltrs":"감 사","syll_phns":"g a","fst":"f","source":"precomputed"}]}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	c := client.NewHTTPClient(server.URL, 5*time.Second)

	require.NoError(t, c.HealthCheck(context.Background()))

	list, err := c.Sentences(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 7, list[0].ID)
	assert.Equal(t, "감사합니다", list[0].Text)
}

func TestHTTPClient_Unhealthy(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	err := client.NewHTTPClient(server.URL, time.Second).HealthCheck(context.Background())
	require.ErrorIs(t, err, client.ErrUnhealthy)
}

type recordingEvaluator struct {
	mu    sync.Mutex
	audio []byte
	fail  bool
}

func (e *recordingEvaluator) Evaluate(_ context.Context, req core.EvaluationRequest) (*core.EvaluationResult, error) {
	e.mu.Lock()
	e.audio = req.Audio
	e.mu.Unlock()

	if e.fail {
		err := errors.New("phoneme stage returned error code 2")

		return &core.EvaluationResult{Success: false, Error: err.Error(), FailedStage: "gtp"}, err
	}

	return &core.EvaluationResult{Success: true, OverallScore: 64, Source: core.SourcePrecomputed}, nil
}

func startNATSPipeline(t *testing.T, evaluator worker.Evaluator) (*client.NATSSubmitter, *objectstore.RecordingStore) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, objectstore.Config{Bucket: "submit-test"})
	require.NoError(t, err)

	log, err := logger.New(t.TempDir(), "client.log")
	require.NoError(t, err)

	w := worker.NewNatsWorker(natsConnection, "client.evaluate", store, evaluator, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Wait until the worker's subscription is visible to the client connection.
	require.Eventually(t, func() bool {
		_, reqErr := natsConnection.Request("client.evaluate", []byte("{}"), time.Second)

		return !errors.Is(reqErr, nats.ErrNoResponders)
	}, 5*time.Second, 20*time.Millisecond)

	return client.NewNATSSubmitter(natsConnection, "client.evaluate", store), store
}

func TestNATSSubmitter_Evaluate(t *testing.T) {
	t.Parallel()

	evaluator := &recordingEvaluator{}
	submitter, _ := startNATSPipeline(t, evaluator)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := submitter.Evaluate(ctx, client.EvaluateRequest{
		Text:      "감사합니다",
		AudioPath: writeRecording(t, "take.ogg"),
		UserID:    "learner-9",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, core.SourcePrecomputed, result.Source)

	evaluator.mu.Lock()
	assert.Equal(t, []byte("recording-bytes"), evaluator.audio)
	evaluator.mu.Unlock()
}

func TestNATSSubmitter_Failure(t *testing.T) {
	t.Parallel()

	submitter, _ := startNATSPipeline(t, &recordingEvaluator{fail: true})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := submitter.Evaluate(ctx, client.EvaluateRequest{
		Text:      "감사합니다",
		AudioPath: writeRecording(t, "take.wav"),
	})
	require.ErrorIs(t, err, client.ErrEvaluationFailed)
	require.NotNil(t, result)
	assert.Equal(t, "gtp", result.FailedStage)
}
