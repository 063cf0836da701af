// Package worker evaluates recordings submitted over NATS request/reply.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/progress"
	"github.com/nats-io/nats.go"
)

// QueueGroup lets several service instances share one subject.
const QueueGroup = "pronunciation-workers"

const handleMessageTimeout = 2 * time.Minute

var (
	// ErrAudioKeyEmpty indicates that the request names no recording.
	ErrAudioKeyEmpty = errors.New("audio key cannot be empty")
	// ErrTextEmpty indicates that the request has no reference sentence.
	ErrTextEmpty = errors.New("text cannot be empty")
)

// EvaluationRequestedEvent asks for one recording to be scored. The
// recording lives in the object store under AudioKey. The syllable and
// model fields are optional precomputed artifacts.
type EvaluationRequestedEvent struct {
	Header           events.EventHeader `json:"header"`
	Text             string             `json:"text"`
	AudioKey         string             `json:"audio_key"`
	SyllableLetters  string             `json:"syll_ltrs,omitempty"`
	SyllablePhonemes string             `json:"syll_phns,omitempty"`
	ModelBlob        string             `json:"fst,omitempty"`
}

// EvaluationCompletedEvent is the reply to an EvaluationRequestedEvent.
type EvaluationCompletedEvent struct {
	Header events.EventHeader     `json:"header"`
	Result *core.EvaluationResult `json:"result"`
}

// Evaluator runs the pronunciation pipeline.
type Evaluator interface {
	Evaluate(ctx context.Context, req core.EvaluationRequest) (*core.EvaluationResult, error)
}

// PracticeRecorder stores successful attempts for a user.
type PracticeRecorder interface {
	RecordPronunciation(ctx context.Context, userID string, score float64) (*progress.Daily, error)
}

// NatsWorker listens for evaluation requests on a NATS subject.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	evaluator      Evaluator
	practice       PracticeRecorder
	log            *logger.Logger
}

// NewNatsWorker creates a worker. practice may be nil.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	evaluator Evaluator,
	practice PracticeRecorder,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		evaluator:      evaluator,
		practice:       practice,
		log:            log,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subject, QueueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for evaluation requests on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		w.reply(msg, events.EventHeader{}, failure(err))

		return
	}

	result := w.evaluate(ctx, event)

	w.reply(msg, event.Header, result)
}

// evaluate downloads the recording, scores it and removes it from the store.
func (w *NatsWorker) evaluate(ctx context.Context, event *EvaluationRequestedEvent) *core.EvaluationResult {
	recording, err := w.store.Download(ctx, event.AudioKey)
	if err != nil {
		w.log.Error("Failed to download recording for workflow %s: %v", event.Header.WorkflowID, err)

		return failure(fmt.Errorf("failed to download recording '%s': %w", event.AudioKey, err))
	}

	defer func() {
		deleteErr := w.store.Delete(ctx, event.AudioKey)
		if deleteErr != nil {
			w.log.Warn("Failed to delete recording %s: %v", event.AudioKey, deleteErr)
		}
	}()

	result, err := w.evaluator.Evaluate(ctx, core.EvaluationRequest{
		RequestID: event.Header.EventID,
		Text:      event.Text,
		Audio:     recording,
		Precomputed: &core.Precomputed{
			SyllableLetters:  event.SyllableLetters,
			SyllablePhonemes: event.SyllablePhonemes,
			ModelBlob:        event.ModelBlob,
		},
	})
	if err != nil {
		w.log.Error("Evaluation failed for workflow %s: %v", event.Header.WorkflowID, err)

		return result
	}

	if w.practice != nil && event.Header.UserID != "" {
		_, recordErr := w.practice.RecordPronunciation(ctx, event.Header.UserID, result.OverallScore)
		if recordErr != nil {
			w.log.Warn("Failed to record practice for user %s: %v", event.Header.UserID, recordErr)
		}
	}

	return result
}

// reply marshals and responds with the EvaluationCompletedEvent.
func (w *NatsWorker) reply(msg *nats.Msg, header events.EventHeader, result *core.EvaluationResult) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(&EvaluationCompletedEvent{Header: header, Result: result})
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", header.WorkflowID, err)
	}
}

func parseAndValidateEvent(msg *nats.Msg) (*EvaluationRequestedEvent, error) {
	var event EvaluationRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.AudioKey == "" {
		return nil, ErrAudioKeyEmpty
	}

	if event.Text == "" {
		return nil, ErrTextEmpty
	}

	return &event, nil
}

func failure(err error) *core.EvaluationResult {
	return &core.EvaluationResult{Success: false, Error: err.Error()}
}
