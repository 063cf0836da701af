package speechpro

// silenceMarker labels non-speech segments in the sentence breakdown.
const silenceMarker = "!SIL"

// DeriveScore computes an overall score from a detail object of the form
// {"quality": {"sentences": [{"text": ..., "score": ...}, ...]}}.
//
// The result is the mean of sentence scores that are present, positive and not
// silence. A score of exactly zero is treated as unscored, which also drops
// genuinely zero-scored speech. Returns 0 when nothing qualifies.
func DeriveScore(details map[string]any) float64 {
	quality, ok := details["quality"].(map[string]any)
	if !ok {
		return 0
	}

	sentences, ok := quality["sentences"].([]any)
	if !ok {
		return 0
	}

	var (
		sum   float64
		count int
	)

	for _, entry := range sentences {
		sentence, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		if text, hasText := sentence["text"].(string); hasText && (text == silenceMarker || text == "") {
			continue
		}

		score, ok := asFloat(sentence["score"])
		if !ok || score <= 0 {
			continue
		}

		sum += score
		count++
	}

	if count == 0 {
		return 0
	}

	return sum / float64(count)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// resolveScore picks the detail object and overall score from a raw response.
func resolveScore(resp *scoreResponse) (float64, map[string]any) {
	details := resp.Details
	if len(details) == 0 {
		details = resp.Result
	}

	if details == nil {
		details = map[string]any{}
	}

	if resp.Score != nil {
		return *resp.Score, details
	}

	return DeriveScore(details), details
}
