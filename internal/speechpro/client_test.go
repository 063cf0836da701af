package speechpro_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/resilience"
	"github.com/book-expert/pronunciation-service/internal/speechpro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "speechpro-test.log")
	require.NoError(t, err)

	return log
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()

	var body map[string]any
	assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

	return body
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestConvertPhonemes_Success(t *testing.T) {
	t.Parallel()

	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gtp", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		received = decodeBody(t, r)

		writeJSON(w, map[string]any{
			"id":         received["id"],
			"text":       received["text"],
			"syll ltrs":  "안_녕_하_세_요",
			"syll phns":  "a n_n jv ng_h a_s e_j o",
			"error code": 0,
		})
	}))
	defer server.Close()

	client := speechpro.NewClient(server.URL, speechpro.DefaultTimeouts(), nil, newTestLogger(t))

	result, err := client.ConvertPhonemes(context.Background(), " 안녕하세요 ", "")
	require.NoError(t, err)

	assert.Equal(t, "안녕하세요", received["text"], "text must be normalized before sending")
	assert.True(t, strings.HasPrefix(result.RequestID, "gtp_"))
	assert.Len(t, result.RequestID, len("gtp_")+8)
	assert.Equal(t, result.RequestID, received["id"])
	assert.Equal(t, "안_녕_하_세_요", result.SyllableLetters)
	assert.Equal(t, "a n_n jv ng_h a_s e_j o", result.SyllablePhonemes)
	assert.Zero(t, result.ErrorCode)
}

func TestConvertPhonemes_KeepsCallerRequestID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "gtp_custom", body["id"])
		writeJSON(w, map[string]any{"syll ltrs": "a", "syll phns": "b", "error code": 4})
	}))
	defer server.Close()

	client := speechpro.NewClient(server.URL, speechpro.DefaultTimeouts(), nil, newTestLogger(t))

	result, err := client.ConvertPhonemes(context.Background(), "가", "gtp_custom")
	require.NoError(t, err)
	assert.Equal(t, 4, result.ErrorCode, "domain error codes are returned, not raised")
	assert.Equal(t, "가", result.Text)
}

func TestStageValidation_NoNetworkCall(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := speechpro.NewClient(server.URL, speechpro.DefaultTimeouts(), nil, newTestLogger(t))
	ctx := context.Background()

	var validationErr *core.ValidationError

	_, err := client.ConvertPhonemes(ctx, " \t ", "")
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "text", validationErr.Field)

	_, err = client.BuildModel(ctx, core.ModelInput{Text: "가", SyllableLetters: "가"})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, core.StageModel, validationErr.Stage)
	assert.Equal(t, "syll_phns", validationErr.Field)

	_, err = client.Score(ctx, core.ScoreInput{Text: "가", SyllableLetters: "a", SyllablePhonemes: "b"})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "fst", validationErr.Field)

	_, err = client.Score(ctx, core.ScoreInput{Text: "가", SyllableLetters: "a", SyllablePhonemes: "b", ModelBlob: "c"})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "audio", validationErr.Field)

	assert.Equal(t, core.ClassClient, core.ClassOf(err))
	assert.Zero(t, hits.Load())
}

func TestBuildModel_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/model", r.URL.Path)

		body := decodeBody(t, r)
		assert.Equal(t, "가_나", body["syll ltrs"])
		assert.Equal(t, "g a_n a", body["syll phns"])
		assert.True(t, strings.HasPrefix(body["id"].(string), "model_"))

		writeJSON(w, map[string]any{"id": body["id"], "text": body["text"], "fst": "FSTBLOB==", "error code": 0})
	}))
	defer server.Close()

	client := speechpro.NewClient(server.URL, speechpro.DefaultTimeouts(), nil, newTestLogger(t))

	result, err := client.BuildModel(context.Background(), core.ModelInput{
		Text: "가나", SyllableLetters: "가_나", SyllablePhonemes: "g a_n a",
	})
	require.NoError(t, err)
	assert.Equal(t, "FSTBLOB==", result.ModelBlob)
	assert.Equal(t, "가_나", result.SyllableLetters, "inputs fill fields the service omits")
	assert.Equal(t, "g a_n a", result.SyllablePhonemes)
}

func TestScore_Responses(t *testing.T) {
	t.Parallel()

	audio := []byte("RIFF-fake-wav")

	tests := []struct {
		name     string
		response string
		want     float64
	}{
		{name: "top-level score", response: `{"score": 88.5, "details": {"quality": {}}, "error code": 0}`, want: 88.5},
		{
			name: "derived from details",
			response: `{"details": {"quality": {"sentences": [
				{"text":"!SIL","score":0},{"text":"a","score":80},{"text":"b","score":0},{"text":"c","score":60}]}}}`,
			want: 70.0,
		},
		{
			name:     "derived from result",
			response: `{"result": {"quality": {"sentences": [{"text":"a","score":90}]}, "fluency": {}}}`,
			want:     90.0,
		},
		{name: "nothing usable", response: `{"result": {}}`, want: 0.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/scorejson", r.URL.Path)

				body := decodeBody(t, r)
				decoded, err := base64.StdEncoding.DecodeString(body["wav usr"].(string))
				assert.NoError(t, err)
				assert.Equal(t, audio, decoded)
				assert.Equal(t, "FST", body["fst"])

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.response))
			}))
			defer server.Close()

			client := speechpro.NewClient(server.URL, speechpro.DefaultTimeouts(), nil, newTestLogger(t))

			result, err := client.Score(context.Background(), core.ScoreInput{
				Text: "가", SyllableLetters: "a", SyllablePhonemes: "b", ModelBlob: "FST", Audio: audio,
			})
			require.NoError(t, err)
			assert.InDelta(t, tc.want, result.Score, 1e-9)
			assert.NotNil(t, result.Details)
		})
	}
}

func TestRemoteFailures(t *testing.T) {
	t.Parallel()

	t.Run("non-2xx status", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "engine overloaded", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := speechpro.NewClient(server.URL, speechpro.DefaultTimeouts(), nil, newTestLogger(t))

		_, err := client.ConvertPhonemes(context.Background(), "가", "")

		var remoteErr *core.RemoteServiceError
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, http.StatusServiceUnavailable, remoteErr.StatusCode)
		assert.Equal(t, core.StagePhoneme, remoteErr.Stage)
		assert.Contains(t, err.Error(), "engine overloaded")
		assert.Equal(t, core.ClassService, core.ClassOf(err))
	})

	t.Run("structured error detail", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"detail": "text too long"})
		}))
		defer server.Close()

		client := speechpro.NewClient(server.URL, speechpro.DefaultTimeouts(), nil, newTestLogger(t))

		_, err := client.ConvertPhonemes(context.Background(), "가", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "text too long")
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		timeouts := speechpro.Timeouts{GTP: 50 * time.Millisecond}
		client := speechpro.NewClient(server.URL, timeouts, nil, newTestLogger(t))

		start := time.Now()
		_, err := client.ConvertPhonemes(context.Background(), "가", "")

		var remoteErr *core.RemoteServiceError
		require.ErrorAs(t, err, &remoteErr)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("connection refused", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		client := speechpro.NewClient(url, speechpro.DefaultTimeouts(), nil, newTestLogger(t))

		_, err := client.ConvertPhonemes(context.Background(), "가", "")

		var remoteErr *core.RemoteServiceError
		require.ErrorAs(t, err, &remoteErr)
	})
}

func TestClient_BreakerFailsFast(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{Name: "speechpro", MaxFailures: 2, ResetTimeout: time.Hour}, nil)
	client := speechpro.NewClient(server.URL, speechpro.DefaultTimeouts(), breaker, newTestLogger(t))

	for range 2 {
		_, err := client.ConvertPhonemes(context.Background(), "가", "")
		require.Error(t, err)
	}

	assert.Equal(t, resilience.StateOpen, client.BreakerState())

	_, err := client.ConvertPhonemes(context.Background(), "가", "")

	var remoteErr *core.RemoteServiceError
	require.ErrorAs(t, err, &remoteErr)
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestNewRequestID(t *testing.T) {
	t.Parallel()

	first := speechpro.NewRequestID(core.StageScore)
	second := speechpro.NewRequestID(core.StageScore)

	assert.True(t, strings.HasPrefix(first, "score_"))
	assert.Len(t, first, len("score_")+8)
	assert.NotEqual(t, first, second)
}

func TestClient_Accessors(t *testing.T) {
	t.Parallel()

	client := speechpro.NewClient("http://speechpro.local/", speechpro.Timeouts{Score: time.Minute}, nil, newTestLogger(t))

	assert.Equal(t, "http://speechpro.local", client.BaseURL())
	assert.Equal(t, speechpro.DefaultGTPTimeout, client.Timeouts().GTP)
	assert.Equal(t, time.Minute, client.Timeouts().Score)
	assert.Equal(t, resilience.StateClosed, client.BreakerState())
}
