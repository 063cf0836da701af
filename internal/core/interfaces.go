package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// PhonemeConverter turns normalized Korean text into syllable letters and phonemes.
type PhonemeConverter interface {
	ConvertPhonemes(ctx context.Context, text, requestID string) (*PhonemeResult, error)
}

// ModelBuilder turns a phoneme representation into a scoring model blob.
type ModelBuilder interface {
	BuildModel(ctx context.Context, in ModelInput) (*ModelResult, error)
}

// Scorer scores normalized audio against a model blob.
type Scorer interface {
	Score(ctx context.Context, in ScoreInput) (*ScoreResult, error)
}

// AudioNormalizer converts arbitrary uploaded audio into the scoring format.
type AudioNormalizer interface {
	Normalize(ctx context.Context, audio []byte) ([]byte, error)
}

// SentenceLookup finds precomputed artifacts by normalized sentence text.
type SentenceLookup interface {
	Lookup(text string) (*PrecomputedSentence, bool)
}

// FeedbackGenerator writes coaching text from a score breakdown.
type FeedbackGenerator interface {
	Generate(ctx context.Context, text string, score *ScoreResult) (string, error)
}
