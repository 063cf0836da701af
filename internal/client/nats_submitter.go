package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/pronunciation-service/internal/audio"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/objectstore"
	"github.com/book-expert/pronunciation-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSSubmitter uploads a recording to the object store and requests an
// evaluation from the worker.
type NATSSubmitter struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
}

// NewNATSSubmitter creates a submitter for subject.
func NewNATSSubmitter(natsConnection *nats.Conn, subject string, store core.ObjectStore) *NATSSubmitter {
	return &NATSSubmitter{natsConnection: natsConnection, subject: subject, store: store}
}

// Evaluate uploads req.AudioPath and waits for the worker's reply. The
// recording is removed by the worker once evaluated.
func (s *NATSSubmitter) Evaluate(ctx context.Context, req EvaluateRequest) (*core.EvaluationResult, error) {
	recording, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf(errFmtOpenAudio, err)
	}

	name := filepath.Base(req.AudioPath)
	key := objectstore.NewRecordingKey(audio.ExtensionFor(audio.ContentTypeFor(name), name))

	err = s.store.Upload(ctx, key, recording)
	if err != nil {
		return nil, fmt.Errorf("failed to upload recording: %w", err)
	}

	event := worker.EvaluationRequestedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     req.UserID,
		},
		Text:     req.Text,
		AudioKey: key,
	}

	if req.Precomputed != nil {
		event.SyllableLetters = req.Precomputed.SyllableLetters
		event.SyllablePhonemes = req.Precomputed.SyllablePhonemes
		event.ModelBlob = req.Precomputed.ModelBlob
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evaluation request: %w", err)
	}

	msg, err := s.natsConnection.RequestWithContext(ctx, s.subject, data)
	if err != nil {
		return nil, fmt.Errorf("evaluation request on %s failed: %w", s.subject, err)
	}

	var reply worker.EvaluationCompletedEvent

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return nil, fmt.Errorf(errFmtDecodeResponse, err)
	}

	if reply.Result == nil {
		return nil, fmt.Errorf("%w: empty reply", ErrEvaluationFailed)
	}

	if !reply.Result.Success {
		return reply.Result, fmt.Errorf("%w: %s", ErrEvaluationFailed, reply.Result.Error)
	}

	return reply.Result, nil
}
