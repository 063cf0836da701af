// main package for the pronunciation-service
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/api"
	"github.com/book-expert/pronunciation-service/internal/audio"
	"github.com/book-expert/pronunciation-service/internal/config"
	"github.com/book-expert/pronunciation-service/internal/evaluation"
	"github.com/book-expert/pronunciation-service/internal/feedback"
	"github.com/book-expert/pronunciation-service/internal/fluency"
	"github.com/book-expert/pronunciation-service/internal/objectstore"
	"github.com/book-expert/pronunciation-service/internal/observe"
	"github.com/book-expert/pronunciation-service/internal/progress"
	"github.com/book-expert/pronunciation-service/internal/resilience"
	"github.com/book-expert/pronunciation-service/internal/sentences"
	"github.com/book-expert/pronunciation-service/internal/speechpro"
	"github.com/book-expert/pronunciation-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	bootstrapLogFile  = "pronunciation-service-bootstrap.log"
	serviceLogFile    = "pronunciation-service.log"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// components holds everything built from the configuration.
type components struct {
	router   *gin.Engine
	progress *progress.Store
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer reportClose(os.Stderr, "final logger", log.Close)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	built, orchestrator, err := build(cfg, log)
	if err != nil {
		log.Error("Failed to initialize service: %v", err)

		return err
	}

	if built.progress != nil {
		defer reportClose(os.Stderr, "progress store", built.progress.Close)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return serveHTTP(groupCtx, cfg.Server.ListenAddr, built.router, log)
	})

	if cfg.NATS.URL != "" {
		group.Go(func() error {
			return runWorker(groupCtx, cfg, orchestrator, built.progress, log)
		})
	}

	log.System("Pronunciation service listening on %s", cfg.Server.ListenAddr)

	err = group.Wait()
	if err != nil {
		log.Error("Service stopped with error: %v", err)

		return err
	}

	log.System("Pronunciation service stopped.")

	return nil
}

// build wires the pipeline and the HTTP router from the configuration.
func build(cfg *config.Config, log *logger.Logger) (*components, *evaluation.Orchestrator, error) {
	transcoder := audio.NewTranscoder(audio.Options{
		FFmpegPath: cfg.Audio.FFmpegPath,
		TempDir:    cfg.Audio.TempDir,
		Timeout:    config.Seconds(cfg.Audio.TimeoutSeconds),
	}, log)

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:         "speechpro",
		MaxFailures:  cfg.SpeechPro.BreakerMaxFailures,
		ResetTimeout: config.Seconds(cfg.SpeechPro.BreakerResetSeconds),
	}, log)

	scoring := speechpro.NewClient(cfg.SpeechPro.URL, speechpro.Timeouts{
		GTP:   config.Seconds(cfg.SpeechPro.GTPTimeoutSeconds),
		Model: config.Seconds(cfg.SpeechPro.ModelTimeoutSeconds),
		Score: config.Seconds(cfg.SpeechPro.ScoreTimeoutSeconds),
	}, breaker, log)

	cache := sentences.NewCache(cfg.Dataset.Path, log)

	err := cache.EnsureLoaded()
	if err != nil {
		log.Warn("Precomputed sentences unavailable, every evaluation runs all stages: %v", err)
	}

	metrics, err := observe.NewDefaultMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	deps := evaluation.Dependencies{
		Audio:           transcoder,
		Phonemes:        scoring,
		Models:          scoring,
		Scorer:          scoring,
		Cache:           cache,
		Metrics:         metrics,
		FeedbackTimeout: config.Seconds(cfg.Feedback.TimeoutSeconds),
	}

	if cfg.Feedback.Enabled {
		generator, genErr := feedback.NewGenerator(feedback.Config{
			APIKey:  cfg.Feedback.APIKey,
			Model:   cfg.Feedback.Model,
			BaseURL: cfg.Feedback.BaseURL,
			Timeout: config.Seconds(cfg.Feedback.TimeoutSeconds),
		}, log)
		if genErr != nil {
			return nil, nil, fmt.Errorf("failed to create feedback generator: %w", genErr)
		}

		deps.Feedback = generator
	}

	orchestrator, err := evaluation.New(deps, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	routes := api.Dependencies{
		Phonemes:       scoring,
		Models:         scoring,
		Scorer:         scoring,
		Audio:          transcoder,
		Evaluator:      orchestrator,
		Sentences:      cache,
		Backend:        scoring,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}

	if cfg.FluencyPro.WSURL != "" {
		routes.Fluency = fluency.NewClient(cfg.FluencyPro.WSURL, config.Seconds(cfg.FluencyPro.TimeoutSeconds), transcoder, log)
	}

	built := &components{}

	if cfg.Progress.DBPath != "" {
		built.progress, err = progress.NewStore(cfg.Progress.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open progress store: %w", err)
		}

		routes.Progress = built.progress
	}

	gin.SetMode(gin.ReleaseMode)
	built.router = api.NewRouter(routes, log)

	return built, orchestrator, nil
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, log *logger.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)

	go func() {
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	err = <-errChan
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

func runWorker(
	ctx context.Context,
	cfg *config.Config,
	evaluator worker.Evaluator,
	store *progress.Store,
	log *logger.Logger,
) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	recordings, err := objectstore.New(jetstreamContext, objectstore.Config{Bucket: cfg.NATS.AudioObjectStoreBucket})
	if err != nil {
		return err
	}

	var practice worker.PracticeRecorder
	if store != nil {
		practice = store
	}

	natsWorker := worker.NewNatsWorker(natsConnection, cfg.NATS.EvaluateSubject, recordings, evaluator, practice, log)

	return natsWorker.Run(ctx)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

// reportClose runs closeFn and writes any failure to w, since the logger may
// already be closed.
func reportClose(w io.Writer, name string, closeFn func() error) {
	err := closeFn()
	if err != nil {
		_, _ = fmt.Fprintf(w, "error closing %s: %v\n", name, err)
	}
}
