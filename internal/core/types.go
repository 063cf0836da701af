// Package core defines the domain types, stage interfaces and error taxonomy
// shared by the pronunciation evaluation pipeline.
package core

// Stage names identify the three remote pipeline stages. They double as the
// request id prefixes sent to the scoring service.
const (
	StagePhoneme = "gtp"
	StageModel   = "model"
	StageScore   = "score"
)

// Source tells where the phoneme and model artifacts of an evaluation came from.
type Source string

const (
	SourceLive              Source = "live"
	SourcePrecomputed       Source = "precomputed"
	SourceClientPrecomputed Source = "client-precomputed"
)

// Precomputed carries phoneme and model artifacts computed ahead of time.
type Precomputed struct {
	SyllableLetters  string
	SyllablePhonemes string
	ModelBlob        string
}

// Complete reports whether all three artifacts are present.
func (p *Precomputed) Complete() bool {
	return p != nil && p.SyllableLetters != "" && p.SyllablePhonemes != "" && p.ModelBlob != ""
}

// EvaluationRequest is a single pronunciation evaluation submitted by a learner.
type EvaluationRequest struct {
	// RequestID correlates the three stage calls. Generated when empty.
	RequestID   string
	Text        string
	Audio       []byte
	Precomputed *Precomputed
}

// PhonemeResult is the output of the grapheme-to-phoneme stage.
type PhonemeResult struct {
	RequestID        string `json:"id"`
	Text             string `json:"text"`
	SyllableLetters  string `json:"syll_ltrs"`
	SyllablePhonemes string `json:"syll_phns"`
	ErrorCode        int    `json:"error_code"`
}

// ModelResult is the output of the model building stage. ModelBlob is opaque
// and must reach the scorer unmodified.
type ModelResult struct {
	RequestID        string `json:"id"`
	Text             string `json:"text"`
	SyllableLetters  string `json:"syll_ltrs"`
	SyllablePhonemes string `json:"syll_phns"`
	ModelBlob        string `json:"fst"`
	ErrorCode        int    `json:"error_code"`
}

// ScoreResult is the output of the scoring stage. Score is always populated,
// derived from the sentence sub-scores when the service omits it.
type ScoreResult struct {
	Score     float64        `json:"score"`
	Details   map[string]any `json:"details"`
	ErrorCode int            `json:"error_code"`
}

// ModelInput is the payload of the model building stage.
type ModelInput struct {
	RequestID        string
	Text             string
	SyllableLetters  string
	SyllablePhonemes string
}

// ScoreInput is the payload of the scoring stage. Audio must already be
// normalized to the scoring format.
type ScoreInput struct {
	RequestID        string
	Text             string
	SyllableLetters  string
	SyllablePhonemes string
	ModelBlob        string
	Audio            []byte
}

// PrecomputedSentence is one row of the offline sentence dataset.
type PrecomputedSentence struct {
	ID               int    `json:"id"`
	Order            int    `json:"order"`
	Level            string `json:"level,omitempty"`
	Text             string `json:"sentenceKr"`
	SyllableLetters  string `json:"syll_ltrs"`
	SyllablePhonemes string `json:"syll_phns"`
	ModelBlob        string `json:"fst"`
	Source           string `json:"source"`
}

// EvaluationResult is the assembled outcome of one evaluation. Success, Error
// and OverallScore are always present so clients can render a score even on
// failure.
type EvaluationResult struct {
	RequestID    string         `json:"request_id,omitempty"`
	Phoneme      *PhonemeResult `json:"gtp,omitempty"`
	Model        *ModelResult   `json:"model,omitempty"`
	Score        *ScoreResult   `json:"score,omitempty"`
	OverallScore float64        `json:"overall_score"`
	Success      bool           `json:"success"`
	Source       Source         `json:"source,omitempty"`
	Feedback     string         `json:"ai_feedback,omitempty"`
	Error        string         `json:"error,omitempty"`
	FailedStage  string         `json:"failed_stage,omitempty"`
}
