// Package api exposes the pronunciation pipeline, fluency analysis and
// practice progress over HTTP.
package api

import (
	"context"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/audio"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/fluency"
	"github.com/book-expert/pronunciation-service/internal/progress"
	"github.com/book-expert/pronunciation-service/internal/resilience"
	"github.com/book-expert/pronunciation-service/internal/speechpro"
	"github.com/gin-gonic/gin"
)

const logFmtRequest = "%s %s -> %d in %s"

// Evaluator runs the full pronunciation pipeline.
type Evaluator interface {
	Evaluate(ctx context.Context, req core.EvaluationRequest) (*core.EvaluationResult, error)
}

// SentenceLister lists the precomputed sentence dataset.
type SentenceLister interface {
	List() []core.PrecomputedSentence
	Len() int
}

// FluencyAnalyzer runs a fluency session.
type FluencyAnalyzer interface {
	Analyze(ctx context.Context, sentence string, recording []byte) (*fluency.Result, error)
}

// ProgressStore records and reports practice statistics.
type ProgressStore interface {
	RecordPronunciation(ctx context.Context, userID string, score float64) (*progress.Daily, error)
	RecordFluency(ctx context.Context, userID string) (*progress.Daily, error)
	Today(ctx context.Context, userID string) (*progress.Daily, error)
	Stats(ctx context.Context, userID string) (*progress.Stats, error)
}

// BackendInfo describes the scoring service connection.
type BackendInfo interface {
	BaseURL() string
	Timeouts() speechpro.Timeouts
	BreakerState() resilience.State
}

// Dependencies wires the handlers. Fluency, Progress and Backend are optional;
// their routes answer 503 when absent.
type Dependencies struct {
	Phonemes  core.PhonemeConverter
	Models    core.ModelBuilder
	Scorer    core.Scorer
	Audio     core.AudioNormalizer
	Evaluator Evaluator
	Sentences SentenceLister
	Fluency   FluencyAnalyzer
	Progress  ProgressStore
	Backend   BackendInfo

	// MaxUploadBytes caps recordings. Zero means audio.DefaultMaxUploadBytes.
	MaxUploadBytes int64
}

type handler struct {
	deps Dependencies
	log  *logger.Logger
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(deps Dependencies, log *logger.Logger) *gin.Engine {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = audio.DefaultMaxUploadBytes
	}

	h := &handler{deps: deps, log: log}

	router := gin.New()
	router.MaxMultipartMemory = deps.MaxUploadBytes
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/health", h.health)

	speechproRoutes := router.Group("/api/speechpro")
	{
		speechproRoutes.POST("/gtp", h.convertPhonemes)
		speechproRoutes.POST("/model", h.buildModel)
		speechproRoutes.POST("/score", h.score)
		speechproRoutes.POST("/evaluate", h.evaluate)
		speechproRoutes.GET("/sentences", h.listSentences)
		speechproRoutes.GET("/config", h.backendConfig)
	}

	router.POST("/api/fluency/analyze", h.analyzeFluency)
	router.GET("/api/progress/:user_id", h.userProgress)

	return router
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Info(logFmtRequest, c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
