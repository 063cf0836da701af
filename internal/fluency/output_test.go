package fluency_test

import (
	"testing"

	"github.com/book-expert/pronunciation-service/internal/fluency"
	"github.com/stretchr/testify/assert"
)

func TestParseOutput(t *testing.T) {
	t.Parallel()

	got := fluency.ParseOutput("한국에서 <0.09> 대중교통을 R교통카드를  Y사용하면 <1.25> 편리합니다")

	assert.Equal(t, []float64{0.09, 1.25}, got.Pauses)
	assert.Equal(t, []string{"교통카드를"}, got.OmittedWords)
	assert.Equal(t, []string{"사용하면"}, got.ErrorWords)
	assert.Equal(t, "한국에서 대중교통을 교통카드를 사용하면 편리합니다", got.RecognizedText)
	assert.Equal(t, 2, got.TotalPauses)
	assert.Equal(t, 1, got.TotalOmissions)
	assert.Equal(t, 1, got.TotalErrors)
}

func TestParseOutput_Empty(t *testing.T) {
	t.Parallel()

	got := fluency.ParseOutput("")

	assert.Empty(t, got.RecognizedText)
	assert.NotNil(t, got.Pauses)
	assert.NotNil(t, got.OmittedWords)
	assert.NotNil(t, got.ErrorWords)
	assert.Zero(t, got.TotalPauses)
}

func TestParseOutput_LeadingTag(t *testing.T) {
	t.Parallel()

	got := fluency.ParseOutput("R안녕하세요 반갑습니다")

	assert.Equal(t, []string{"안녕하세요"}, got.OmittedWords)
	assert.Equal(t, "안녕하세요 반갑습니다", got.RecognizedText)
}

func TestAccuracyRate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name             string
		correct, reading int
		want             float64
	}{
		{name: "perfect", correct: 5, reading: 5, want: 100},
		{name: "rounded", correct: 2, reading: 3, want: 66.67},
		{name: "zero reading", correct: 0, reading: 0, want: 0},
		{name: "zero reading treated as one", correct: 1, reading: 0, want: 100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tc.want, fluency.AccuracyRate(tc.correct, tc.reading), 0.001)
		})
	}
}
