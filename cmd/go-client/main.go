package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/client"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/objectstore"
	"github.com/nats-io/nats.go"
)

// Flag names.
const (
	flagText      = "text"
	flagAudio     = "audio"
	flagServer    = "server"
	flagSentences = "sentences"
	flagHealth    = "health"
	flagUser      = "user"
	flagNATS      = "nats"
	flagSubject   = "subject"
	flagBucket    = "bucket"
	flagTimeout   = "timeout"
)

// Flag descriptions.
const (
	flagTextDesc      = "Korean sentence that was read aloud"
	flagAudioDesc     = "Recording to evaluate (wav, mp3, webm, ogg, m4a)"
	flagServerDesc    = "Pronunciation service base URL"
	flagSentencesDesc = "List the precomputed sentences and exit"
	flagHealthDesc    = "Check service health and exit"
	flagUserDesc      = "User id to record practice progress for"
	flagNATSDesc      = "Submit through NATS at this URL instead of HTTP"
	flagSubjectDesc   = "NATS subject of the evaluation worker"
	flagBucketDesc    = "JetStream object store bucket for recordings"
	flagTimeoutDesc   = "Request timeout"
)

// Defaults.
const (
	defaultServer  = "http://localhost:8080"
	defaultSubject = "pronunciation.evaluate"
	defaultBucket  = "PRONUNCIATION_RECORDINGS"
	defaultTimeout = 2 * time.Minute
	logFileName    = "pronunciation-client.log"
)

// Messages.
const (
	errTextAndAudioRequired = "--text and --audio are required"
	msgServiceHealthy       = "Pronunciation service is healthy"
	msgServiceNotHealthy    = "Pronunciation service is not healthy: %v\n"
	msgSentence             = "%4d  %-12s %s\n"
	msgScore                = "Score: %.2f (source: %s)\n"
	msgFailedStage          = "Evaluation failed in %s: %s\n"
	msgFeedback             = "Feedback: %s\n"
)

var errMissingInput = errors.New(errTextAndAudioRequired)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text      string
	audio     string
	server    string
	user      string
	natsURL   string
	subject   string
	bucket    string
	timeout   time.Duration
	sentences bool
	health    bool
}

// evaluator is satisfied by both the HTTP client and the NATS submitter.
type evaluator interface {
	Evaluate(ctx context.Context, req client.EvaluateRequest) (*core.EvaluationResult, error)
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer clientLog.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	httpClient := client.NewHTTPClient(flags.server, flags.timeout)

	switch {
	case flags.health:
		return handleHealthCheck(ctx, httpClient, clientLog, os.Stdout)
	case flags.sentences:
		return listSentences(ctx, httpClient, os.Stdout)
	}

	err = validateFlags(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	if flags.natsURL == "" {
		return evaluate(ctx, httpClient, flags, clientLog, os.Stdout)
	}

	natsConnection, err := nats.Connect(flags.natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, objectstore.Config{Bucket: flags.bucket})
	if err != nil {
		return err
	}

	return evaluate(ctx, client.NewNATSSubmitter(natsConnection, flags.subject, store), flags, clientLog, os.Stdout)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(fs *flag.FlagSet, args []string) (appFlags, error) {
	var flags appFlags

	fs.StringVar(&flags.text, flagText, "", flagTextDesc)
	fs.StringVar(&flags.audio, flagAudio, "", flagAudioDesc)
	fs.StringVar(&flags.server, flagServer, defaultServer, flagServerDesc)
	fs.StringVar(&flags.user, flagUser, "", flagUserDesc)
	fs.StringVar(&flags.natsURL, flagNATS, "", flagNATSDesc)
	fs.StringVar(&flags.subject, flagSubject, defaultSubject, flagSubjectDesc)
	fs.StringVar(&flags.bucket, flagBucket, defaultBucket, flagBucketDesc)
	fs.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	fs.BoolVar(&flags.sentences, flagSentences, false, flagSentencesDesc)
	fs.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := fs.Parse(args)

	return flags, err
}

func validateFlags(flags appFlags) error {
	if flags.text == "" || flags.audio == "" {
		return errMissingInput
	}

	return nil
}

// handleHealthCheck performs a service health check and prints the result.
func handleHealthCheck(ctx context.Context, c *client.HTTPClient, clientLog *logger.Logger, out io.Writer) error {
	err := c.HealthCheck(ctx)
	if err != nil {
		clientLog.Error("Health check failed: %v", err)
		fmt.Fprintf(out, msgServiceNotHealthy, err)

		return err
	}

	fmt.Fprintln(out, msgServiceHealthy)

	return nil
}

func listSentences(ctx context.Context, c *client.HTTPClient, out io.Writer) error {
	list, err := c.Sentences(ctx)
	if err != nil {
		return err
	}

	for _, sentence := range list {
		fmt.Fprintf(out, msgSentence, sentence.ID, sentence.Level, sentence.Text)
	}

	return nil
}

func evaluate(ctx context.Context, e evaluator, flags appFlags, clientLog *logger.Logger, out io.Writer) error {
	clientLog.Info("Evaluating %s against %q", flags.audio, flags.text)

	result, err := e.Evaluate(ctx, client.EvaluateRequest{
		Text:      flags.text,
		AudioPath: flags.audio,
		UserID:    flags.user,
	})
	if err != nil {
		if result != nil {
			fmt.Fprintf(out, msgFailedStage, result.FailedStage, result.Error)
		}

		clientLog.Error("Evaluation failed: %v", err)

		return err
	}

	fmt.Fprintf(out, msgScore, result.OverallScore, result.Source)

	if result.Feedback != "" {
		fmt.Fprintf(out, msgFeedback, result.Feedback)
	}

	return nil
}
