package precompute

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/sentences"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds in-flight sentences.
const DefaultConcurrency = 4

// SourcePrecomputed marks dataset rows produced by this package.
const SourcePrecomputed = "precomputed"

const (
	logFmtBuilt  = "Precomputed sentence %d in %s"
	logFmtFailed = "Skipping sentence %d (%q): %v"
	logFmtDone   = "Precompute finished: %d built, %d failed"
)

// Failure records a sentence that could not be precomputed.
type Failure struct {
	ID    int    `json:"id"`
	Text  string `json:"text"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// Report is the outcome of a Build.
type Report struct {
	Sentences []core.PrecomputedSentence
	Failures  []Failure
}

// Builder runs the phoneme and model stages for manifest entries.
type Builder struct {
	phonemes    core.PhonemeConverter
	models      core.ModelBuilder
	concurrency int
	log         *logger.Logger
}

// NewBuilder creates a Builder. A concurrency below one uses DefaultConcurrency.
func NewBuilder(phonemes core.PhonemeConverter, models core.ModelBuilder, concurrency int, log *logger.Logger) *Builder {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	return &Builder{phonemes: phonemes, models: models, concurrency: concurrency, log: log}
}

// Build precomputes every entry. A failing sentence is reported and skipped;
// only cancellation of ctx fails the whole build.
func (b *Builder) Build(ctx context.Context, entries []Entry) (*Report, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(b.concurrency)

	var (
		mu     sync.Mutex
		report Report
	)

	for _, entry := range entries {
		group.Go(func() error {
			err := groupCtx.Err()
			if err != nil {
				return err
			}

			start := time.Now()

			sentence, failure := b.buildOne(groupCtx, entry)

			mu.Lock()
			defer mu.Unlock()

			if failure != nil {
				b.log.Warn(logFmtFailed, entry.ID, entry.Text, failure.Error)
				report.Failures = append(report.Failures, *failure)

				return nil
			}

			b.log.Info(logFmtBuilt, entry.ID, time.Since(start).Round(time.Millisecond))
			report.Sentences = append(report.Sentences, *sentence)

			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("precompute cancelled: %w", err)
	}

	slices.SortFunc(report.Sentences, func(a, b core.PrecomputedSentence) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}

		return a.ID - b.ID
	})
	slices.SortFunc(report.Failures, func(a, b Failure) int { return a.ID - b.ID })

	b.log.Info(logFmtDone, len(report.Sentences), len(report.Failures))

	return &report, nil
}

func (b *Builder) buildOne(ctx context.Context, entry Entry) (*core.PrecomputedSentence, *Failure) {
	fail := func(stage string, err error) *Failure {
		return &Failure{ID: entry.ID, Text: entry.Text, Stage: stage, Error: err.Error()}
	}

	phonemes, err := b.phonemes.ConvertPhonemes(ctx, entry.Text, "")
	if err == nil {
		err = core.CheckErrorCode(core.StagePhoneme, phonemes.ErrorCode)
	}

	if err != nil {
		return nil, fail(core.StagePhoneme, err)
	}

	model, err := b.models.BuildModel(ctx, core.ModelInput{
		Text:             entry.Text,
		SyllableLetters:  phonemes.SyllableLetters,
		SyllablePhonemes: phonemes.SyllablePhonemes,
	})
	if err == nil {
		err = core.CheckErrorCode(core.StageModel, model.ErrorCode)
	}

	if err != nil {
		return nil, fail(core.StageModel, err)
	}

	if model.ModelBlob == "" {
		return nil, fail(core.StageModel, &core.ValidationError{Stage: core.StageModel, Field: "fst"})
	}

	return &core.PrecomputedSentence{
		ID:               entry.ID,
		Order:            entry.Order,
		Level:            entry.Level,
		Text:             entry.Text,
		SyllableLetters:  phonemes.SyllableLetters,
		SyllablePhonemes: phonemes.SyllablePhonemes,
		ModelBlob:        model.ModelBlob,
		Source:           SourcePrecomputed,
	}, nil
}

// WriteDataset writes the built sentences in the dataset CSV format.
func (r *Report) WriteDataset(w io.Writer) error {
	return sentences.WriteCSV(w, r.Sentences)
}
