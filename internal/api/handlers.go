package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/book-expert/pronunciation-service/internal/audio"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/gin-gonic/gin"
)

const (
	fieldAudio    = "audio"
	fieldText     = "text"
	fieldSyllLtrs = "syll_ltrs"
	fieldSyllPhns = "syll_phns"
	fieldFST      = "fst"
	fieldUserID   = "user_id"
)

type phonemeRequest struct {
	Text string `json:"text"`
}

type modelRequest struct {
	Text             string `json:"text"`
	SyllableLetters  string `json:"syll_ltrs"`
	SyllablePhonemes string `json:"syll_phns"`
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                "ok",
		"precomputed_sentences": h.deps.Sentences.Len(),
	})
}

func (h *handler) convertPhonemes(c *gin.Context) {
	var req phonemeRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		writeError(c, &core.ClientInputError{Err: err})

		return
	}

	if strings.TrimSpace(req.Text) == "" {
		writeError(c, &core.ClientInputError{Err: core.ErrTextEmpty})

		return
	}

	result, err := h.deps.Phonemes.ConvertPhonemes(c.Request.Context(), req.Text, "")
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *handler) buildModel(c *gin.Context) {
	var req modelRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		writeError(c, &core.ClientInputError{Err: err})

		return
	}

	result, err := h.deps.Models.BuildModel(c.Request.Context(), core.ModelInput{
		Text:             req.Text,
		SyllableLetters:  req.SyllableLetters,
		SyllablePhonemes: req.SyllablePhonemes,
	})
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *handler) score(c *gin.Context) {
	recording, err := h.readRecording(c)
	if err != nil {
		writeError(c, err)

		return
	}

	ctx := c.Request.Context()

	normalized, err := h.deps.Audio.Normalize(ctx, recording)
	if err != nil {
		writeError(c, err)

		return
	}

	result, err := h.deps.Scorer.Score(ctx, core.ScoreInput{
		Text:             c.PostForm(fieldText),
		SyllableLetters:  c.PostForm(fieldSyllLtrs),
		SyllablePhonemes: c.PostForm(fieldSyllPhns),
		ModelBlob:        c.PostForm(fieldFST),
		Audio:            normalized,
	})
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *handler) evaluate(c *gin.Context) {
	recording, err := h.readRecording(c)
	if err != nil {
		c.JSON(statusFor(err), &core.EvaluationResult{Success: false, Error: err.Error()})

		return
	}

	ctx := c.Request.Context()

	result, err := h.deps.Evaluator.Evaluate(ctx, core.EvaluationRequest{
		Text:  c.PostForm(fieldText),
		Audio: recording,
		Precomputed: &core.Precomputed{
			SyllableLetters:  c.PostForm(fieldSyllLtrs),
			SyllablePhonemes: c.PostForm(fieldSyllPhns),
			ModelBlob:        c.PostForm(fieldFST),
		},
	})
	if err != nil {
		c.JSON(statusFor(err), result)

		return
	}

	userID := c.PostForm(fieldUserID)
	if userID != "" && h.deps.Progress != nil {
		_, recordErr := h.deps.Progress.RecordPronunciation(ctx, userID, result.OverallScore)
		if recordErr != nil {
			h.log.Warn("Failed to record pronunciation practice for %s: %v", userID, recordErr)
		}
	}

	c.JSON(http.StatusOK, result)
}

func (h *handler) listSentences(c *gin.Context) {
	sentences := h.deps.Sentences.List()

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"count":     len(sentences),
		"sentences": sentences,
	})
}

func (h *handler) backendConfig(c *gin.Context) {
	if h.deps.Backend == nil {
		writeError(c, ErrUnavailable)

		return
	}

	timeouts := h.deps.Backend.Timeouts()

	c.JSON(http.StatusOK, gin.H{
		"url": h.deps.Backend.BaseURL(),
		"timeouts": gin.H{
			core.StagePhoneme: timeouts.GTP.Seconds(),
			core.StageModel:   timeouts.Model.Seconds(),
			core.StageScore:   timeouts.Score.Seconds(),
		},
		"breaker": h.deps.Backend.BreakerState().String(),
	})
}

func (h *handler) analyzeFluency(c *gin.Context) {
	if h.deps.Fluency == nil {
		writeError(c, ErrUnavailable)

		return
	}

	recording, err := h.readRecording(c)
	if err != nil {
		writeError(c, err)

		return
	}

	ctx := c.Request.Context()

	result, err := h.deps.Fluency.Analyze(ctx, c.PostForm(fieldText), recording)
	if err != nil {
		writeError(c, err)

		return
	}

	userID := c.PostForm(fieldUserID)
	if userID != "" && h.deps.Progress != nil {
		_, recordErr := h.deps.Progress.RecordFluency(ctx, userID)
		if recordErr != nil {
			h.log.Warn("Failed to record fluency test for %s: %v", userID, recordErr)
		}
	}

	c.JSON(http.StatusOK, result)
}

func (h *handler) userProgress(c *gin.Context) {
	if h.deps.Progress == nil {
		writeError(c, ErrUnavailable)

		return
	}

	userID := c.Param(fieldUserID)
	ctx := c.Request.Context()

	today, err := h.deps.Progress.Today(ctx, userID)
	if err != nil {
		writeError(c, err)

		return
	}

	stats, err := h.deps.Progress.Stats(ctx, userID)
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "today": today, "stats": stats})
}

// readRecording reads the "audio" form file after checking its declared
// type and size.
func (h *handler) readRecording(c *gin.Context) ([]byte, error) {
	header, err := c.FormFile(fieldAudio)
	if err != nil {
		return nil, &core.ClientInputError{Err: fmt.Errorf("%w: %w", core.ErrAudioEmpty, err)}
	}

	err = audio.CheckUpload(header.Header.Get("Content-Type"), header.Size, h.deps.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded audio: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.deps.MaxUploadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded audio: %w", err)
	}

	return data, nil
}
