// Package evaluation sequences the pronunciation pipeline: input checks, audio
// and text normalization, precomputed artifact lookup, the remote phoneme,
// model and score stages, result assembly and optional coaching feedback.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/observe"
	"github.com/book-expert/pronunciation-service/internal/text"
	"github.com/google/uuid"
)

// DefaultFeedbackTimeout bounds the optional feedback stage.
const DefaultFeedbackTimeout = 20 * time.Second

const (
	correlationIDLength = 8
	normalizeStage      = "normalize"
	feedbackStage       = "feedback"
)

const (
	logFmtTransition   = "Evaluation %s: %s -> %s"
	logFmtAborted      = "Evaluation %s aborted in %s: %v"
	logFmtFinished     = "Evaluation %s finished: source=%s score=%.2f"
	logFmtFeedbackFail = "Evaluation %s: feedback skipped: %v"
	logFmtCacheHit     = "Evaluation %s: using %s artifacts for sentence id %d"
)

// ErrMissingDependency indicates an Orchestrator built without a required stage.
var ErrMissingDependency = errors.New("evaluation dependency is required")

// Dependencies wires the stages into an Orchestrator. Cache, Feedback and
// Metrics are optional.
type Dependencies struct {
	Audio    core.AudioNormalizer
	Phonemes core.PhonemeConverter
	Models   core.ModelBuilder
	Scorer   core.Scorer
	Cache    core.SentenceLookup
	Feedback core.FeedbackGenerator
	Metrics  *observe.Metrics

	// FeedbackTimeout bounds the feedback stage. Zero means DefaultFeedbackTimeout.
	FeedbackTimeout time.Duration
}

// Orchestrator runs evaluations. It holds no per-request state and is safe
// for concurrent use.
type Orchestrator struct {
	deps Dependencies
	log  *logger.Logger
}

// New validates deps and creates an Orchestrator.
func New(deps Dependencies, log *logger.Logger) (*Orchestrator, error) {
	required := []struct {
		name    string
		present bool
	}{
		{"audio normalizer", deps.Audio != nil},
		{"phoneme converter", deps.Phonemes != nil},
		{"model builder", deps.Models != nil},
		{"scorer", deps.Scorer != nil},
	}

	for _, dep := range required {
		if !dep.present {
			return nil, fmt.Errorf("%w: %s", ErrMissingDependency, dep.name)
		}
	}

	if deps.FeedbackTimeout <= 0 {
		deps.FeedbackTimeout = DefaultFeedbackTimeout
	}

	return &Orchestrator{deps: deps, log: log}, nil
}

// run is the state of one evaluation.
type run struct {
	id     string
	state  State
	source core.Source
	log    *logger.Logger
}

func (r *run) advance(next State) {
	if !CanTransition(r.state, next) {
		// Programming error; keep going so the caller still gets a result.
		r.log.Error("Evaluation %s: illegal transition %s -> %s", r.id, r.state, next)
	}

	r.log.Info(logFmtTransition, r.id, r.state, next)
	r.state = next
}

// artifacts are the phoneme and model outputs the scorer needs.
type artifacts struct {
	phoneme *core.PhonemeResult
	model   *core.ModelResult
}

// Evaluate runs one evaluation. The returned result is never nil: on failure
// it carries Success false, an error message and a zero OverallScore, and the
// typed error is returned alongside it.
//
// Remote calls are detached from ctx cancellation so a disconnecting client
// does not cut a stage short; each stage is bounded by its own timeout.
func (o *Orchestrator) Evaluate(ctx context.Context, req core.EvaluationRequest) (*core.EvaluationResult, error) {
	defer o.deps.Metrics.TrackInFlight(ctx)()

	work := context.WithoutCancel(ctx)

	r := &run{id: correlationID(req.RequestID), state: StateStart, log: o.log}

	result, err := o.execute(work, r, req)
	if err != nil {
		failed := r.state

		r.advance(StateAborted)
		o.log.Error(logFmtAborted, r.id, failed, err)
		o.deps.Metrics.RecordEvaluation(ctx, string(r.source), false)

		return &core.EvaluationResult{
			RequestID:    r.id,
			Success:      false,
			OverallScore: 0,
			Source:       r.source,
			Error:        err.Error(),
			FailedStage:  failed.String(),
		}, err
	}

	r.advance(StateDone)
	o.deps.Metrics.RecordEvaluation(ctx, string(result.Source), true)
	o.log.Info(logFmtFinished, r.id, result.Source, result.OverallScore)

	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, req core.EvaluationRequest) (*core.EvaluationResult, error) {
	sentence := text.NormalizeSpaces(req.Text)
	if sentence == "" {
		return nil, &core.ClientInputError{Err: core.ErrTextEmpty}
	}

	if len(req.Audio) == 0 {
		return nil, &core.ClientInputError{Err: core.ErrAudioEmpty}
	}

	r.advance(StateNormalize)

	audio, err := o.normalizeAudio(ctx, req.Audio)
	if err != nil {
		return nil, err
	}

	r.advance(StateCacheCheck)

	found, source := o.lookupArtifacts(r, sentence, req.Precomputed)
	r.source = source

	if found == nil {
		found, err = o.runLiveStages(ctx, r, sentence)
		if err != nil {
			return nil, err
		}
	} else {
		r.advance(StateScore)
	}

	score, err := o.score(ctx, r, found, audio)
	if err != nil {
		return nil, err
	}

	r.advance(StateAssemble)

	result := &core.EvaluationResult{
		RequestID:    r.id,
		Phoneme:      found.phoneme,
		Model:        found.model,
		Score:        score,
		OverallScore: score.Score,
		Success:      true,
		Source:       source,
	}

	if o.deps.Feedback != nil {
		r.advance(StateFeedback)

		if coaching, ok := o.feedback(ctx, r, sentence, score); ok {
			result.Feedback = coaching
		}
	}

	return result, nil
}

func (o *Orchestrator) normalizeAudio(ctx context.Context, raw []byte) ([]byte, error) {
	start := time.Now()
	audio, err := o.deps.Audio.Normalize(ctx, raw)
	o.deps.Metrics.RecordStage(ctx, normalizeStage, time.Since(start), err)

	if err != nil {
		return nil, fmt.Errorf("audio normalization failed: %w", err)
	}

	return audio, nil
}

// lookupArtifacts resolves precomputed artifacts: a complete caller-supplied
// triple first, then the dataset. Returns nil on a miss.
func (o *Orchestrator) lookupArtifacts(r *run, sentence string, supplied *core.Precomputed) (*artifacts, core.Source) {
	if supplied.Complete() {
		return standIns(r.id, sentence, supplied), core.SourceClientPrecomputed
	}

	if o.deps.Cache == nil {
		return nil, core.SourceLive
	}

	entry, ok := o.deps.Cache.Lookup(sentence)
	if !ok {
		return nil, core.SourceLive
	}

	cached := &core.Precomputed{
		SyllableLetters:  entry.SyllableLetters,
		SyllablePhonemes: entry.SyllablePhonemes,
		ModelBlob:        entry.ModelBlob,
	}
	if !cached.Complete() {
		return nil, core.SourceLive
	}

	o.log.Info(logFmtCacheHit, r.id, core.SourcePrecomputed, entry.ID)

	return standIns(r.id, sentence, cached), core.SourcePrecomputed
}

// standIns synthesizes successful stage results from precomputed artifacts.
func standIns(id, sentence string, p *core.Precomputed) *artifacts {
	return &artifacts{
		phoneme: &core.PhonemeResult{
			RequestID:        StageRequestID(core.StagePhoneme, id),
			Text:             sentence,
			SyllableLetters:  p.SyllableLetters,
			SyllablePhonemes: p.SyllablePhonemes,
		},
		model: &core.ModelResult{
			RequestID:        StageRequestID(core.StageModel, id),
			Text:             sentence,
			SyllableLetters:  p.SyllableLetters,
			SyllablePhonemes: p.SyllablePhonemes,
			ModelBlob:        p.ModelBlob,
		},
	}
}

func (o *Orchestrator) runLiveStages(ctx context.Context, r *run, sentence string) (*artifacts, error) {
	r.advance(StatePhoneme)

	start := time.Now()
	phoneme, err := o.deps.Phonemes.ConvertPhonemes(ctx, sentence, StageRequestID(core.StagePhoneme, r.id))

	if err == nil {
		err = core.CheckErrorCode(core.StagePhoneme, phoneme.ErrorCode)
	}

	o.deps.Metrics.RecordStage(ctx, core.StagePhoneme, time.Since(start), err)

	if err != nil {
		return nil, fmt.Errorf("phoneme conversion failed: %w", err)
	}

	r.advance(StateModel)

	start = time.Now()
	model, err := o.deps.Models.BuildModel(ctx, core.ModelInput{
		RequestID:        StageRequestID(core.StageModel, r.id),
		Text:             sentence,
		SyllableLetters:  phoneme.SyllableLetters,
		SyllablePhonemes: phoneme.SyllablePhonemes,
	})

	if err == nil {
		err = core.CheckErrorCode(core.StageModel, model.ErrorCode)
	}

	o.deps.Metrics.RecordStage(ctx, core.StageModel, time.Since(start), err)

	if err != nil {
		return nil, fmt.Errorf("model build failed: %w", err)
	}

	r.advance(StateScore)

	return &artifacts{phoneme: phoneme, model: model}, nil
}

func (o *Orchestrator) score(ctx context.Context, r *run, found *artifacts, audio []byte) (*core.ScoreResult, error) {
	start := time.Now()
	score, err := o.deps.Scorer.Score(ctx, core.ScoreInput{
		RequestID:        StageRequestID(core.StageScore, r.id),
		Text:             found.model.Text,
		SyllableLetters:  found.model.SyllableLetters,
		SyllablePhonemes: found.model.SyllablePhonemes,
		ModelBlob:        found.model.ModelBlob,
		Audio:            audio,
	})

	if err == nil {
		err = core.CheckErrorCode(core.StageScore, score.ErrorCode)
	}

	o.deps.Metrics.RecordStage(ctx, core.StageScore, time.Since(start), err)

	if err != nil {
		return nil, fmt.Errorf("scoring failed: %w", err)
	}

	return score, nil
}

// feedback is a non-fatal sub-operation: any failure yields ("", false).
func (o *Orchestrator) feedback(ctx context.Context, r *run, sentence string, score *core.ScoreResult) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, o.deps.FeedbackTimeout)
	defer cancel()

	start := time.Now()
	coaching, err := o.deps.Feedback.Generate(ctx, sentence, score)
	o.deps.Metrics.RecordStage(ctx, feedbackStage, time.Since(start), err)

	if err != nil {
		o.deps.Metrics.RecordFeedbackFailure(ctx)
		o.log.Warn(logFmtFeedbackFail, r.id, err)

		return "", false
	}

	coaching = strings.TrimSpace(coaching)

	return coaching, coaching != ""
}

// StageRequestID derives the id sent to one stage from the evaluation id.
func StageRequestID(stage, id string) string {
	return stage + "_" + id
}

func correlationID(supplied string) string {
	if supplied != "" {
		return supplied
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")

	return id[:correlationIDLength]
}
