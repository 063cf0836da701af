// Command precompute builds the precomputed sentence dataset from a manifest.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/config"
	"github.com/book-expert/pronunciation-service/internal/precompute"
	"github.com/book-expert/pronunciation-service/internal/resilience"
	"github.com/book-expert/pronunciation-service/internal/speechpro"
)

// Flag names and descriptions.
const (
	flagManifest     = "manifest"
	flagOutput       = "output"
	flagConcurrency  = "concurrency"
	flagManifestDesc = "TOML manifest listing the sentences to precompute"
	flagOutputDesc   = "Dataset CSV to write (defaults to dataset.path from the configuration)"
	flagConcDesc     = "Number of sentences processed in parallel"
	logFileName      = "precompute.log"
)

var errNothingBuilt = errors.New("no sentence could be precomputed")

type appFlags struct {
	manifest    string
	output      string
	concurrency int
}

func parseFlags(fs *flag.FlagSet, args []string) (appFlags, error) {
	var flags appFlags

	fs.StringVar(&flags.manifest, flagManifest, "", flagManifestDesc)
	fs.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	fs.IntVar(&flags.concurrency, flagConcurrency, precompute.DefaultConcurrency, flagConcDesc)

	err := fs.Parse(args)
	if err != nil {
		return flags, err
	}

	if flags.manifest == "" {
		return flags, fmt.Errorf("--%s is required", flagManifest)
	}

	return flags, nil
}

func run() error {
	flags, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		flag.Usage()

		return err
	}

	bootstrapLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer bootstrapLog.Close()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	output := flags.output
	if output == "" {
		output = cfg.Dataset.Path
	}

	manifest, err := precompute.LoadManifest(flags.manifest)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:         "speechpro",
		MaxFailures:  cfg.SpeechPro.BreakerMaxFailures,
		ResetTimeout: config.Seconds(cfg.SpeechPro.BreakerResetSeconds),
	}, bootstrapLog)

	client := speechpro.NewClient(cfg.SpeechPro.URL, speechpro.Timeouts{
		GTP:   config.Seconds(cfg.SpeechPro.GTPTimeoutSeconds),
		Model: config.Seconds(cfg.SpeechPro.ModelTimeoutSeconds),
	}, breaker, bootstrapLog)

	builder := precompute.NewBuilder(client, client, flags.concurrency, bootstrapLog)

	report, err := builder.Build(ctx, manifest.Sentences)
	if err != nil {
		return err
	}

	for _, failure := range report.Failures {
		fmt.Fprintf(os.Stderr, "FAILED %d (%s stage): %s: %s\n", failure.ID, failure.Stage, failure.Text, failure.Error)
	}

	if len(report.Sentences) == 0 {
		return errNothingBuilt
	}

	err = writeDataset(output, report)
	if err != nil {
		return err
	}

	fmt.Printf("Wrote %d sentences to %s (%d failed)\n", len(report.Sentences), output, len(report.Failures))

	return nil
}

// writeDataset replaces path atomically so a running service never reads a
// partial file.
func writeDataset(path string, report *precompute.Report) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create dataset directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary dataset: %w", err)
	}

	defer os.Remove(tmp.Name())

	err = report.WriteDataset(tmp)
	if err != nil {
		_ = tmp.Close()

		return err
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("failed to close temporary dataset: %w", err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return fmt.Errorf("failed to replace dataset: %w", err)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}
