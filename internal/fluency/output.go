package fluency

import (
	"regexp"
	"strconv"
	"strings"
)

// Tag patterns in the recognizer output, e.g. "한국에서 <0.09> 대중교통을 R교통카드를 Y사용하면".
const (
	pausePattern   = `<(\d+\.\d+)>`
	omittedPattern = `(?:^|\s)R(\S+)`
	errorPattern   = `(?:^|\s)Y(\S+)`
	tagPattern     = `(^|\s)[RY]`
)

var (
	pauseTag   = regexp.MustCompile(pausePattern)
	omittedTag = regexp.MustCompile(omittedPattern)
	errorTag   = regexp.MustCompile(errorPattern)
	wordTag    = regexp.MustCompile(tagPattern)
)

// OutputAnalysis is the parsed form of the recognizer output.
type OutputAnalysis struct {
	RecognizedText string    `json:"recognized_text"`
	Pauses         []float64 `json:"pauses"`
	OmittedWords   []string  `json:"omitted_words"`
	ErrorWords     []string  `json:"error_words"`
	TotalPauses    int       `json:"total_pauses"`
	TotalOmissions int       `json:"total_omissions"`
	TotalErrors    int       `json:"total_errors"`
}

// ParseOutput extracts pause lengths, omitted words (R prefix) and misread
// words (Y prefix) and returns the text with all tags removed.
func ParseOutput(output string) OutputAnalysis {
	analysis := OutputAnalysis{
		Pauses:       []float64{},
		OmittedWords: submatches(omittedTag, output),
		ErrorWords:   submatches(errorTag, output),
	}

	for _, match := range pauseTag.FindAllStringSubmatch(output, -1) {
		seconds, err := strconv.ParseFloat(match[1], 64)
		if err == nil {
			analysis.Pauses = append(analysis.Pauses, seconds)
		}
	}

	clean := pauseTag.ReplaceAllString(output, "")
	clean = wordTag.ReplaceAllString(clean, "$1")
	analysis.RecognizedText = strings.Join(strings.Fields(clean), " ")

	analysis.TotalPauses = len(analysis.Pauses)
	analysis.TotalOmissions = len(analysis.OmittedWords)
	analysis.TotalErrors = len(analysis.ErrorWords)

	return analysis
}

func submatches(pattern *regexp.Regexp, s string) []string {
	out := []string{}

	for _, match := range pattern.FindAllStringSubmatch(s, -1) {
		out = append(out, match[1])
	}

	return out
}
