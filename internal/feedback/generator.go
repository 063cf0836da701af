// Package feedback turns a pronunciation score breakdown into short coaching
// text with a chat completion model.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/core"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// Defaults for the generator.
const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 20 * time.Second

	temperature = 0.4
	maxTokens   = 400
	maxWords    = 20
)

const systemPrompt = `You are a friendly Korean pronunciation coach. ` +
	`Given a learner's sentence and the scoring breakdown, write 2-4 short sentences in Korean: ` +
	`one thing they did well, the syllables or words that need practice, and one concrete tip. ` +
	`Do not repeat the raw numbers.`

var (
	// ErrAPIKeyEmpty indicates a generator configured without credentials.
	ErrAPIKeyEmpty = errors.New("feedback api key cannot be empty")
	// ErrEmptyCompletion indicates the model returned no text.
	ErrEmptyCompletion = errors.New("feedback model returned no content")
)

// Config configures a Generator.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Generator implements core.FeedbackGenerator with the OpenAI chat API or any
// compatible endpoint.
type Generator struct {
	client oai.Client
	model  string
	log    *logger.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(cfg Config, log *logger.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyEmpty
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(0),
	}

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Generator{
		client: oai.NewClient(opts...),
		model:  cfg.Model,
		log:    log,
	}, nil
}

// Generate writes coaching text for sentence given its score.
func (g *Generator) Generate(ctx context.Context, sentence string, score *core.ScoreResult) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(BuildPrompt(sentence, score)),
		},
		Temperature:         param.NewOpt(temperature),
		MaxCompletionTokens: param.NewOpt(int64(maxTokens)),
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("feedback completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}

	g.log.Info("Generated %d characters of feedback with %s", len(content), g.model)

	return content, nil
}

// BuildPrompt renders the user message for a score breakdown. Word scores are
// listed lowest first so the model focuses on what needs work.
func BuildPrompt(sentence string, score *core.ScoreResult) string {
	var builder strings.Builder

	fmt.Fprintf(&builder, "Sentence: %s\n", sentence)

	if score == nil {
		builder.WriteString("Overall score: unavailable\n")

		return builder.String()
	}

	fmt.Fprintf(&builder, "Overall score: %.1f / 100\n", score.Score)

	words := wordScores(score.Details)
	if len(words) == 0 {
		return builder.String()
	}

	builder.WriteString("Word scores (lowest first):\n")

	for _, w := range words {
		fmt.Fprintf(&builder, "- %s: %.1f\n", w.text, w.score)
	}

	return builder.String()
}

type wordScore struct {
	text  string
	score float64
}

// wordScores extracts quality.sentences[].words[] entries, skipping silence.
func wordScores(details map[string]any) []wordScore {
	quality, _ := details["quality"].(map[string]any)
	sentences, _ := quality["sentences"].([]any)

	var words []wordScore

	for _, rawSentence := range sentences {
		sentence, _ := rawSentence.(map[string]any)
		entries, _ := sentence["words"].([]any)

		for _, rawWord := range entries {
			word, _ := rawWord.(map[string]any)

			text, _ := word["text"].(string)
			value, ok := word["score"].(float64)

			if !ok || text == "" || text == "!SIL" {
				continue
			}

			words = append(words, wordScore{text: text, score: value})
		}
	}

	sort.SliceStable(words, func(i, j int) bool { return words[i].score < words[j].score })

	if len(words) > maxWords {
		words = words[:maxWords]
	}

	return words
}
